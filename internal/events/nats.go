package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	// Servers lists the NATS URLs to connect to.
	Servers []string

	// Name identifies the connection on the server. Default: "goftar".
	Name string

	// Token authenticates with a server token. Optional.
	Token string

	// Username and Password authenticate with user credentials. Optional.
	Username string
	Password string

	// ConnectTimeout bounds the initial dial. Default: 2s.
	ConnectTimeout time.Duration

	// SubjectPrefix is prepended to ".completed" and ".failed".
	SubjectPrefix string
}

// NATS publishes events as JSON messages on a NATS connection.
type NATS struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

var _ Publisher = (*NATS)(nil)

// ConnectNATS dials the configured servers.
func ConnectNATS(cfg NATSConfig, log *slog.Logger) (*NATS, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("events: no NATS servers configured")
	}
	if log == nil {
		log = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "goftar"
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("events: disconnected from NATS", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("events: reconnected to NATS", "url", c.ConnectedUrl())
		}),
	}
	if cfg.Username != "" || cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: connect to nats: %w", err)
	}

	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	log.Info("events: connected to NATS", "servers", url, "prefix", prefix)
	return &NATS{conn: conn, prefix: prefix, log: log}, nil
}

// Subject returns the subject ev is published on.
func (n *NATS) Subject(ev Transcription) string {
	if ev.Failed() {
		return n.prefix + ".failed"
	}
	return n.prefix + ".completed"
}

// Publish implements Publisher.
func (n *NATS) Publish(ctx context.Context, ev Transcription) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	if err := n.conn.Publish(n.Subject(ev), data); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}

// Healthy reports whether the connection is up.
func (n *NATS) Healthy() bool {
	return n != nil && n.conn != nil && n.conn.Status() == nats.CONNECTED
}

// Close flushes pending messages and closes the connection.
func (n *NATS) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	n.log.Info("events: closing NATS connection")
	err := n.conn.Drain()
	if errors.Is(err, nats.ErrConnectionClosed) {
		err = nil
	}
	return err
}
