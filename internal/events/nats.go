package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubject carries training progress events.
const DefaultSubject = "kryptictrack.training.progress"

// Config holds NATS configuration.
type Config struct {
	URL     string        `yaml:"url"`     // NATS server URL (empty disables publishing)
	Subject string        `yaml:"subject"` // default kryptictrack.training.progress
	Timeout time.Duration `yaml:"timeout"` // connection timeout (default 10s)
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	Drain() error
}

// Publisher writes JSON events to a NATS subject.
type Publisher struct {
	conn    Conn
	subject string
	log     *zap.Logger
}

// NewPublisher connects to NATS and returns a publisher for cfg.Subject.
func NewPublisher(cfg Config, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("kryptictrack"),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info("connected to nats", zap.String("url", cfg.URL), zap.String("subject", subjectOr(cfg.Subject)))
	return NewPublisherWithConn(nc, cfg.Subject, log), nil
}

// NewPublisherWithConn wraps an existing connection.
func NewPublisherWithConn(conn Conn, subject string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{conn: conn, subject: subjectOr(subject), log: log}
}

// Subject returns the subject events are published on.
func (p *Publisher) Subject() string {
	return p.subject
}

// PublishJSON marshals v and publishes it. Core NATS publishes are
// fire-and-forget, so ctx only guards against publishing after cancellation.
func (p *Publisher) PublishJSON(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", p.subject, err)
	}
	return nil
}

// Health reports whether the connection is up.
func (p *Publisher) Health() error {
	if !p.conn.IsConnected() {
		return errors.New("NATS is not connected")
	}
	return nil
}

// Close flushes pending events and closes the connection.
func (p *Publisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}
	p.log.Info("closed nats connection")
	return nil
}

func subjectOr(s string) string {
	if s == "" {
		return DefaultSubject
	}
	return s
}
