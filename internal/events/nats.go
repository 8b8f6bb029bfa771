package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/anstrom/bifrost/internal/actions"
	"github.com/anstrom/bifrost/internal/logging"
)

// Subject suffixes appended to the configured prefix.
const (
	SubjectAction  = "action"
	SubjectStatus  = "status"
	SubjectFinding = "finding"
)

const (
	maxReconnects = 10
	reconnectWait = 2 * time.Second
)

// conn is the part of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	Close()
}

// NATS publishes JSON events to subjects under a common prefix.
type NATS struct {
	conn   conn
	prefix string
	logger *logging.Logger
}

var _ Publisher = (*NATS)(nil)

// Connect dials the server at url. The connection keeps retrying in the
// background if the server is not up yet.
func Connect(url, prefix string, logger *logging.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("bifrost"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	if logger == nil {
		logger = logging.Default()
	}
	logger.Info("Connected to NATS", "url", url, "subject_prefix", prefix)
	return newNATS(nc, prefix, logger), nil
}

func newNATS(c conn, prefix string, logger *logging.Logger) *NATS {
	if prefix == "" {
		prefix = "bifrost"
	}
	return &NATS{conn: c, prefix: prefix, logger: logger.WithComponent("events")}
}

// Subject returns the full subject for suffix.
func (p *NATS) Subject(suffix string) string {
	return p.prefix + "." + suffix
}

// PublishAction implements Publisher.
func (p *NATS) PublishAction(_ context.Context, ev ActionEvent) error {
	return p.publish(SubjectAction, ev)
}

// PublishStatus implements Publisher.
func (p *NATS) PublishStatus(_ context.Context, ev StatusEvent) error {
	return p.publish(SubjectStatus, ev)
}

// Record implements actions.FindingSink. Failures are logged.
func (p *NATS) Record(_ context.Context, f actions.Finding) {
	if err := p.publish(SubjectFinding, f); err != nil {
		p.logger.Warn("Failed to publish finding", "action", f.Action, "target", f.IP, "error", err)
	}
}

// IsConnected reports whether the underlying connection is up.
func (p *NATS) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close implements Publisher.
func (p *NATS) Close() {
	if p.conn != nil {
		p.conn.Close()
		p.logger.Info("Disconnected from NATS")
	}
}

func (p *NATS) publish(suffix string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", suffix, err)
	}
	if err := p.conn.Publish(p.Subject(suffix), data); err != nil {
		return fmt.Errorf("publish %s event: %w", suffix, err)
	}
	return nil
}
