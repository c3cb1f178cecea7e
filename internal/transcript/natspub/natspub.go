// Package natspub mirrors appended transcript turns onto NATS so other
// services can follow interviews live.
//
// Each turn is published as a JSON [transcript.Event] on
// "<prefix>.<session id>", e.g. "intervox.transcript.3f2a...".
package natspub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/intervox/internal/transcript"
)

// DefaultSubjectPrefix is used when Config.SubjectPrefix is empty.
const DefaultSubjectPrefix = "intervox.transcript"

var _ transcript.Publisher = (*Publisher)(nil)

// Config holds the NATS connection settings.
type Config struct {
	Servers        []string
	SubjectPrefix  string
	Token          string
	ConnectTimeout time.Duration
}

// Conn is the subset of *nats.Conn used by the publisher.
type Conn interface {
	Publish(subject string, data []byte) error
	Status() nats.Status
	Drain() error
}

// Publisher publishes turn events to NATS.
type Publisher struct {
	conn   Conn
	prefix string
}

// Connect dials the configured servers and returns a Publisher.
func Connect(cfg Config) (*Publisher, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("natspub: no NATS servers configured")
	}
	opts := []nats.Option{nats.Name("intervox")}
	if cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnectTimeout))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("natspub: connect to %s: %w", url, err)
	}
	slog.Info("connected to NATS", "servers", url)
	return New(conn, cfg.SubjectPrefix), nil
}

// New wraps an existing connection.
func New(conn Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject used for sessionID.
func (p *Publisher) Subject(sessionID string) string {
	return p.prefix + "." + sessionID
}

// Publish implements transcript.Publisher.
func (p *Publisher) Publish(ctx context.Context, ev transcript.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("natspub: encode event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev.SessionID), data); err != nil {
		return fmt.Errorf("natspub: publish: %w", err)
	}
	return nil
}

// Check reports whether the connection is up. It matches health.Checker.
func (p *Publisher) Check(context.Context) error {
	if s := p.conn.Status(); s != nats.CONNECTED {
		return fmt.Errorf("natspub: connection %s", s)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}
