package events

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedConfig configures an in-process NATS server for single-binary
// deployments.
type EmbeddedConfig struct {
	Host string

	// Port to listen on. -1 picks a random free port.
	Port int
}

// Embedded is an in-process NATS server.
type Embedded struct {
	ns  *server.Server
	log *slog.Logger
}

// StartEmbedded starts a NATS server and waits until it accepts
// connections.
func StartEmbedded(cfg EmbeddedConfig, log *slog.Logger) (*Embedded, error) {
	if log == nil {
		log = slog.Default()
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}

	ns, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   cfg.Port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("events: create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("events: embedded NATS server failed to start within 5 seconds")
	}

	log.Info("events: embedded NATS server started", "url", ns.ClientURL())
	return &Embedded{ns: ns, log: log}, nil
}

// ClientURL returns the URL clients connect to.
func (e *Embedded) ClientURL() string { return e.ns.ClientURL() }

// Shutdown stops the server and waits for it to exit.
func (e *Embedded) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("events: shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
