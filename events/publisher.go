// Package events publishes classification and issue changes to NATS so
// downstream catalog consumers can react without polling.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opencatalog/piiguard/govstore"
)

// Subjects for engine events.
const (
	SubjectClassifications = "piiguard.classifications"
	SubjectIssues          = "piiguard.issues"
)

// ClassificationEvent is published after a classification commit.
type ClassificationEvent struct {
	ScanID     string    `json:"scan_id,omitempty"`
	ColumnKey  string    `json:"column_key"`
	RuleID     string    `json:"rule_id,omitempty"`
	PIIType    string    `json:"pii_type,omitempty"`
	Source     string    `json:"source,omitempty"`
	Confidence int       `json:"confidence,omitempty"`
	Cleared    bool      `json:"cleared"`
	Timestamp  time.Time `json:"timestamp"`
}

// IssueEvent is published after an issue opens or resolves.
type IssueEvent struct {
	Issue     govstore.Issue `json:"issue"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher emits engine events. A nil Publisher or one created without
// a connection is safe to call and drops everything, so event delivery
// can never block a classification commit.
type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewPublisher connects to NATS. An empty URL returns a no-op publisher.
func NewPublisher(natsURL string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if natsURL == "" {
		logger.Info("NATS disabled, events will not be published")
		return &Publisher{logger: logger}, nil
	}

	conn, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("connected to NATS", "url", natsURL)
	return &Publisher{conn: conn, logger: logger}, nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}

// PublishClassification emits a classification change.
func (p *Publisher) PublishClassification(event ClassificationEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	eventType := "classified"
	if event.Cleared {
		eventType = "cleared"
	}
	p.publish(SubjectClassifications, eventType, event.ColumnKey, event)
}

// PublishIssue emits an issue transition.
func (p *Publisher) PublishIssue(event IssueEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	p.publish(SubjectIssues, string(event.Issue.Status), event.Issue.ColumnKey, event)
}

func (p *Publisher) publish(subject, eventType, columnKey string, payload interface{}) {
	if p == nil || p.conn == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("failed to marshal event", "subject", subject, "error", err)
		return
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("x-event-type", eventType)
	msg.Header.Set("x-column-key", columnKey)
	msg.Header.Set("x-timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	if err := p.conn.PublishMsg(msg); err != nil {
		// Event delivery is best effort; the commit already happened.
		p.logger.Error("failed to publish event", "subject", subject, "error", err)
	}
}
