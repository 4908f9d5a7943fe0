// Package events publishes intake outcomes for downstream consumers.
//
// Every committed quote is published to {prefix}.processed and every
// duplicate to {prefix}.duplicate as a JSON Event. Publishing is fire and
// forget: a failed publish is reported to the caller, which logs it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/quoted/internal/config"
	"github.com/fyrsmithlabs/quoted/internal/logging"
)

// Kind is the event type, also the last subject token.
type Kind string

const (
	KindProcessed Kind = "processed"
	KindDuplicate Kind = "duplicate"
)

// Event describes one intake outcome.
type Event struct {
	Kind          Kind      `json:"kind"`
	Ref           string    `json:"ref,omitempty"`
	ExistingRef   string    `json:"existing_ref,omitempty"`
	Channel       string    `json:"channel"`
	Source        string    `json:"source,omitempty"`
	ContentSHA256 string    `json:"content_sha256"`
	MessageID     string    `json:"message_id,omitempty"`
	Quality       float64   `json:"quality_score,omitempty"`
	ClientID      string    `json:"client_id,omitempty"`
	ClientMethod  string    `json:"client_method,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// New returns a NATS publisher, or a no-op one when events are disabled.
func New(cfg config.EventsConfig, logger *logging.Logger) (Publisher, error) {
	if !cfg.Enabled {
		return NoOp{}, nil
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("quoted"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return NewNATS(nc, cfg.SubjectPrefix, logger), nil
}

// NATS publishes over a core NATS connection it owns.
type NATS struct {
	conn   *nats.Conn
	prefix string
	logger *logging.Logger
}

// NewNATS wraps an established connection. Close closes it.
func NewNATS(nc *nats.Conn, prefix string, logger *logging.Logger) *NATS {
	if prefix == "" {
		prefix = "quotes"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NATS{conn: nc, prefix: prefix, logger: logger.Named("events")}
}

// Subject returns the subject an event of kind is published on.
func (p *NATS) Subject(kind Kind) string {
	return p.prefix + "." + string(kind)
}

func (p *NATS) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(e.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Kind, err)
	}
	p.logger.Trace(ctx, "event published", zap.String("subject", subject), zap.String("ref", e.Ref))
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATS) Close() error {
	return p.conn.Drain()
}

// NoOp discards events.
type NoOp struct{}

func (NoOp) Publish(context.Context, Event) error { return nil }

func (NoOp) Close() error { return nil }
