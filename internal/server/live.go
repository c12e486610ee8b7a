package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/MrWong99/goftar/internal/device"
	"github.com/MrWong99/goftar/internal/observe"
	"github.com/MrWong99/goftar/internal/recognition"
	"github.com/MrWong99/goftar/pkg/types"
)

const (
	liveReadLimit    = 1 << 20
	liveWriteTimeout = 5 * time.Second
	liveQueue        = 64
)

// Live message types.
const (
	MsgReady = "ready"
	MsgView  = "view"
	MsgError = "error"

	CmdStart = "start"
	CmdStop  = "stop"
	CmdEdit  = "edit"
)

// LiveReady is the first message of every live session.
type LiveReady struct {
	Type    string         `json:"type"`
	Session string         `json:"session"`
	Profile device.Profile `json:"profile"`
}

// LiveView carries the transcript after every change.
type LiveView struct {
	Type string `json:"type"`
	recognition.View
}

// LiveError reports a surfaced recognition error.
type LiveError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// LiveCommand is a text frame sent by the client.
type LiveCommand struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// liveSession connects one websocket to one recognition controller. Views
// and errors produced on controller goroutines are queued and written by a
// single writer. The writer drains the queue until done is closed, even
// after the connection fails, so send never blocks a controller callback.
type liveSession struct {
	id    string
	log   *slog.Logger
	write func(ctx context.Context, v any) error

	out  chan any
	done chan struct{}
	wg   sync.WaitGroup
}

func (l *liveSession) send(v any) {
	select {
	case l.out <- v:
	case <-l.done:
	}
}

func (l *liveSession) writeLoop(ctx context.Context) {
	defer l.wg.Done()
	broken := false
	write := func(v any) {
		if broken {
			return
		}
		wctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
		defer cancel()
		if err := l.write(wctx, v); err != nil {
			l.log.Debug("live: write failed, discarding further messages", "err", err)
			broken = true
		}
	}
	for {
		select {
		case v := <-l.out:
			write(v)
		case <-l.done:
			for {
				select {
				case v := <-l.out:
					write(v)
				default:
					return
				}
			}
		}
	}
}

// handleLive runs a recognition session over a websocket. Binary frames are
// 16-bit PCM at the configured stream rate; text frames are LiveCommands.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.streams == nil {
		writeError(w, http.StatusNotImplemented, "live recognition is not configured", types.KindUnsupported)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Debug("live: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(liveReadLimit)

	ctx := r.Context()
	profile := device.Resolve(device.SignalsFromRequest(r))
	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = s.liveLanguage
	}

	sess := &liveSession{
		id: uuid.NewString(),
		write: func(ctx context.Context, v any) error {
			return wsjson.Write(ctx, conn, v)
		},
		out:  make(chan any, liveQueue),
		done: make(chan struct{}),
	}
	sess.log = observe.Logger(ctx).With("live_session", sess.id, "platform", profile.Platform)

	s.metrics.LiveSessions.Add(ctx, 1)
	defer s.metrics.LiveSessions.Add(context.WithoutCancel(ctx), -1)

	engine := recognition.NewStreamEngine(s.streams,
		recognition.WithBaseContext(ctx),
		recognition.WithStreamConfig(s.streamCfg),
	)
	ctl := recognition.NewController(engine, profile,
		recognition.WithLanguage(lang),
		recognition.WithClock(s.clock),
		recognition.WithLogger(sess.log),
		recognition.WithViewHandler(func(v recognition.View) {
			sess.send(LiveView{Type: MsgView, View: v})
		}),
		recognition.WithErrorHandler(func(err error) {
			sess.send(liveError(err))
		}),
	)

	sess.wg.Add(1)
	go sess.writeLoop(ctx)
	sess.send(LiveReady{Type: MsgReady, Session: sess.id, Profile: profile})

	closeCode, reason := websocket.StatusNormalClosure, "session ended"
	if err := ctl.Start(ctx); err != nil {
		sess.log.Warn("live: start failed", "err", err)
		sess.send(liveError(err))
		closeCode, reason = websocket.StatusInternalError, "recognition unavailable"
	} else {
		sess.log.Info("live session started", "language", lang)
		s.readLoop(ctx, conn, sess, ctl, engine)
		sess.log.Info("live session ended", "handles", ctl.HandlesCreated())
	}

	ctl.Stop()
	close(sess.done)
	sess.wg.Wait()
	_ = conn.Close(closeCode, reason)
}

// readLoop dispatches client frames until the client stops the session or
// the connection fails.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *liveSession, ctl *recognition.Controller, engine *recognition.StreamEngine) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				sess.log.Debug("live: read ended", "err", err)
			}
			return
		}

		if typ == websocket.MessageBinary {
			// Audio between handles has nowhere to go and is dropped.
			if err := engine.SendAudio(data); err != nil {
				sess.log.Debug("live: audio dropped", "bytes", len(data), "err", err)
			}
			continue
		}

		var cmd LiveCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			sess.send(LiveError{Type: MsgError, Error: "malformed command", Kind: string(types.KindInvalidInput)})
			continue
		}
		switch cmd.Type {
		case CmdStop:
			return
		case CmdEdit:
			ctl.EditManually(cmd.Text)
		case CmdStart:
			if err := ctl.Start(ctx); err != nil {
				sess.send(liveError(err))
			}
		default:
			sess.send(LiveError{Type: MsgError, Error: "unknown command " + cmd.Type, Kind: string(types.KindInvalidInput)})
		}
	}
}

func liveError(err error) LiveError {
	msg := types.ErrorMessage(err)
	if errors.Is(err, context.Canceled) {
		msg = "session cancelled"
	}
	return LiveError{Type: MsgError, Error: msg, Kind: string(types.KindOf(err))}
}
