package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/auditcore/pkg/observability"
)

// Sink receives a copy of every persisted event, for example an append-only
// file shipped to a SIEM
type Sink interface {
	Write(ctx context.Context, event *AuditEvent) error
	Close() error
}

// TeeStore writes to a primary Store and mirrors successful saves to sinks.
// Reads are served by the primary only.
type TeeStore struct {
	Store
	sinks  []Sink
	logger *observability.Logger
}

// NewTeeStore creates a store that mirrors saves from primary to sinks
func NewTeeStore(primary Store, logger *observability.Logger, sinks ...Sink) *TeeStore {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &TeeStore{
		Store:  primary,
		sinks:  sinks,
		logger: logger.WithField("component", "audit_tee"),
	}
}

// Save persists to the primary store, then writes the saved event to every sink.
// A failing sink is logged and does not fail the save or stop the other sinks.
func (t *TeeStore) Save(ctx context.Context, event *AuditEvent) (*AuditEvent, error) {
	saved, err := t.Store.Save(ctx, event)
	if err != nil {
		return nil, err
	}
	mirrored := saved
	if mirrored == nil {
		mirrored = event
	}
	for i, sink := range t.sinks {
		if err := sink.Write(ctx, mirrored); err != nil {
			t.logger.WithError(err).WithFields(map[string]interface{}{
				"sink":     i,
				"event_id": mirrored.ID,
			}).Warn("failed to mirror audit event")
		}
	}
	return saved, nil
}

// Close closes every sink
func (t *TeeStore) Close() error {
	var errs []error
	for _, sink := range t.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sink: %w", err))
		}
	}
	return errors.Join(errs...)
}
