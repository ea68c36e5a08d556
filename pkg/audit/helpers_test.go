package audit_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/auditcore/pkg/audit"
	"github.com/platinummonkey/auditcore/pkg/audit/memory"
	"github.com/platinummonkey/auditcore/pkg/observability"
)

var errStoreDown = errors.New("store down")

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

// failingStore fails writes and searches while delegating everything else
type failingStore struct {
	*memory.Store
	panicOnSave bool
}

func (f *failingStore) Save(ctx context.Context, e *audit.AuditEvent) (*audit.AuditEvent, error) {
	if f.panicOnSave {
		panic("boom")
	}
	return nil, errStoreDown
}

func (f *failingStore) Search(ctx context.Context, c audit.Criteria) ([]*audit.AuditEvent, int64, error) {
	return nil, 0, errStoreDown
}

func (f *failingStore) Count(ctx context.Context, c audit.Criteria) (int64, error) {
	return 0, errStoreDown
}

func syncConfig() audit.Config {
	cfg := audit.DefaultConfig()
	cfg.ServiceName = "test-service"
	cfg.AsyncEnabled = false
	return cfg
}

func newService(t *testing.T, store audit.Store, cfg audit.Config, opts ...audit.Option) (*audit.Service, *bytes.Buffer) {
	t.Helper()
	logs := &bytes.Buffer{}
	opts = append([]audit.Option{
		audit.WithLogger(observability.NewLogger(observability.DebugLevel, logs)),
		audit.WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	svc := audit.NewService(store, cfg, opts...)
	t.Cleanup(func() { _ = svc.Close(time.Second) })
	return svc, logs
}

func allEvents(t *testing.T, store audit.Store) []*audit.AuditEvent {
	t.Helper()
	events, _, err := store.Search(context.Background(), audit.Criteria{Size: audit.Unpaged, SortField: "timestamp", SortDirection: audit.SortAsc})
	require.NoError(t, err)
	return events
}

// seed saves events directly, bypassing enrichment
func seed(t *testing.T, store audit.Store, events ...*audit.AuditEvent) {
	t.Helper()
	for i, e := range events {
		if e.ID == "" {
			e.ID = fmt.Sprintf("seed-%d-%d", time.Now().UnixNano(), i)
		}
		if e.ServiceName == "" {
			e.ServiceName = "seeded"
		}
		if e.RetentionDays == 0 {
			e.RetentionDays = audit.DefaultRetentionDays
		}
		_, err := store.Save(context.Background(), e)
		require.NoError(t, err)
	}
}

func newEventAt(action audit.Action, ts time.Time) *audit.AuditEvent {
	e := audit.NewEvent(action)
	e.Timestamp = ts
	return e
}
