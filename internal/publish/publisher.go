package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
)

const (
	StreamName     = "LEADS"
	DefaultSubject = "leads.finalized"
)

// LeadFinalized is handed to offline fulfillment once a session is sealed.
type LeadFinalized struct {
	SessionID     string          `json:"session_id"`
	QueryID       string          `json:"query_id,omitempty"`
	Email         string          `json:"email,omitempty"`
	OriginalQuery string          `json:"original_query"`
	ThesisVersion int             `json:"thesis_version"`
	Thesis        json.RawMessage `json:"thesis"`
	FinalizedAt   time.Time       `json:"finalized_at"`
}

type Publisher interface {
	PublishFinalized(ctx context.Context, lead LeadFinalized) error
	Close()
}

// NATSPublisher writes finalized leads to a JetStream stream.
type NATSPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
	logger  *logrus.Logger
}

func NewNATSPublisher(url, subject string, logger *logrus.Logger) (*NATSPublisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	nc, err := nats.Connect(url,
		nats.Name("intake"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"leads.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		logger.WithError(err).WithField("stream", StreamName).Warn("Failed to ensure JetStream stream")
	}

	return &NATSPublisher{nc: nc, js: js, subject: subject, logger: logger}, nil
}

func (p *NATSPublisher) PublishFinalized(ctx context.Context, lead LeadFinalized) error {
	data, err := json.Marshal(lead)
	if err != nil {
		return fmt.Errorf("failed to marshal lead: %w", err)
	}

	// Dedup window on the broker drops a republish of the same version.
	msgID := fmt.Sprintf("%s:v%d", lead.SessionID, lead.ThesisVersion)
	ack, err := p.js.Publish(ctx, p.subject, data, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("failed to publish lead to %s: %w", p.subject, err)
	}

	p.logger.WithFields(logrus.Fields{
		"session_id": lead.SessionID,
		"stream":     ack.Stream,
		"sequence":   ack.Sequence,
	}).Debug("Lead published")
	return nil
}

// Connected is used by the health checker.
func (p *NATSPublisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishFinalized(ctx context.Context, lead LeadFinalized) error { return nil }

func (NopPublisher) Close() {}
