// Package events publishes orchestrator state transitions.
//
// Transitions go to <prefix>.<tenant> as JSON, for example
// knowledged.ops.acme-dental. Subscribers use knowledged.ops.> to watch
// every tenant.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/logging"
)

// Transition is one state change of an operation.
type Transition struct {
	OperationID string    `json:"operation_id"`
	TenantID    string    `json:"tenant_id"`
	Kind        string    `json:"kind"`
	State       string    `json:"state"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher delivers transitions. Publishing is best effort; callers log
// errors rather than fail the operation.
type Publisher interface {
	Publish(ctx context.Context, t Transition) error
	Close() error
}

// NATSPublisher publishes over a NATS connection.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *logging.Logger
}

// Connect dials url and returns a publisher for subjects under prefix.
func Connect(url, prefix string, logger *logging.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("knowledged"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return NewNATSPublisher(nc, prefix, logger), nil
}

// NewNATSPublisher wraps an existing connection. The publisher owns it.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = "knowledged.ops"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NATSPublisher{conn: nc, prefix: prefix, logger: logger.Named("events")}
}

// Subject returns the subject transitions for tenantID go to.
func (p *NATSPublisher) Subject(tenantID string) string {
	return p.prefix + "." + tenantID
}

// Publish sends t as JSON.
func (p *NATSPublisher) Publish(ctx context.Context, t Transition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}
	if err := p.conn.Publish(p.Subject(t.TenantID), data); err != nil {
		return fmt.Errorf("publish transition: %w", err)
	}
	p.logger.Trace(ctx, "transition published", zap.String("subject", p.Subject(t.TenantID)), zap.String("state", t.State))
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}

// Nop discards transitions.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Transition) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
