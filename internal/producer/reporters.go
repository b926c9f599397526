package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/ooi-harvest-request/internal/harvest"
	"github.com/JakeFAU/ooi-harvest-request/internal/metrics"
	"github.com/JakeFAU/ooi-harvest-request/internal/storage/postgres"
)

// MetricsReporter records outcome counters and pushes them when a gateway is configured.
type MetricsReporter struct {
	pusher *metrics.Pusher
}

// NewMetricsReporter returns a MetricsReporter. pusher may be nil.
func NewMetricsReporter(pusher *metrics.Pusher) *MetricsReporter {
	return &MetricsReporter{pusher: pusher}
}

// Report implements Reporter.
func (r *MetricsReporter) Report(ctx context.Context, o Outcome) error {
	metrics.ObserveOutcome(string(o.Mode), o.StatusLabel())
	if o.Elapsed > 0 {
		metrics.ObserveElapsed(o.TableName, o.Elapsed)
	}
	return r.pusher.Push(ctx, o.TableName)
}

// StatusEvent is the payload published whenever a status record is written.
type StatusEvent struct {
	RunID       string `json:"run_id"`
	TableName   string `json:"table_name"`
	Mode        string `json:"mode"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	DataReady   bool   `json:"data_ready"`
	LastRequest string `json:"last_request,omitempty"`
	Message     string `json:"message,omitempty"`
}

// NewStatusEvent builds the event for an outcome.
func NewStatusEvent(o Outcome) StatusEvent {
	ev := StatusEvent{
		RunID:     o.RunID,
		TableName: o.TableName,
		Mode:      string(o.Mode),
		Kind:      o.Kind,
		Status:    o.StatusLabel(),
		DataReady: o.Record.DataReady,
		Message:   o.Message,
	}
	if !o.Record.LastRequest.IsZero() {
		ev.LastRequest = harvest.FormatTime(o.Record.LastRequest)
	}
	return ev
}

// PublishReporter announces persisted status changes on a topic.
type PublishReporter struct {
	publisher harvest.Publisher
	topic     string
}

// NewPublishReporter returns a PublishReporter. An empty topic defers to the
// publisher's default.
func NewPublishReporter(publisher harvest.Publisher, topic string) *PublishReporter {
	return &PublishReporter{publisher: publisher, topic: topic}
}

// Report implements Reporter. Outcomes that wrote nothing are not published.
func (r *PublishReporter) Report(ctx context.Context, o Outcome) error {
	if !o.Persisted {
		return nil
	}
	if r.publisher == nil {
		return errors.New("publish reporter has no publisher")
	}
	if _, err := r.publisher.Publish(ctx, r.topic, NewStatusEvent(o)); err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	return nil
}

// Ledger appends invocation history rows.
type Ledger interface {
	Append(ctx context.Context, e postgres.Entry) error
}

// LedgerReporter writes one history row per invocation that has a status record.
type LedgerReporter struct {
	ledger Ledger
	clock  harvest.Clock
}

// NewLedgerReporter returns a LedgerReporter.
func NewLedgerReporter(ledger Ledger, clock harvest.Clock) *LedgerReporter {
	return &LedgerReporter{ledger: ledger, clock: clock}
}

// Report implements Reporter.
func (r *LedgerReporter) Report(ctx context.Context, o Outcome) error {
	if o.Record.Status == "" {
		return nil
	}
	var last *time.Time
	if !o.Record.LastRequest.IsZero() {
		t := o.Record.LastRequest
		last = &t
	}
	recorded := time.Now().UTC()
	if r.clock != nil {
		recorded = r.clock.Now().UTC()
	}
	err := r.ledger.Append(ctx, postgres.Entry{
		RunID:       o.RunID,
		TableName:   o.TableName,
		Mode:        string(o.Mode),
		Kind:        o.Kind,
		Status:      string(o.Record.Status),
		DataReady:   o.Record.DataReady,
		LastRequest: last,
		Message:     o.Message,
		RecordedAt:  recorded,
	})
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}
