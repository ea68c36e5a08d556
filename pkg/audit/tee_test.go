package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/auditcore/pkg/audit"
	"github.com/platinummonkey/auditcore/pkg/audit/memory"
	"github.com/platinummonkey/auditcore/pkg/observability"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
	err    error
	closed bool
}

func (s *recordingSink) Write(ctx context.Context, e *audit.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return s.err
}

func TestTeeStore_MirrorsSaves(t *testing.T) {
	primary := memory.NewStore()
	broken := &recordingSink{err: errors.New("disk full")}
	healthy := &recordingSink{}
	tee := audit.NewTeeStore(primary, observability.NewLogger(observability.ErrorLevel, &nopWriter{}), broken, healthy)

	svc, _ := newService(t, tee, syncConfig())
	svc.Audit(context.Background(), audit.NewEvent(audit.ActionCreate))

	assert.Equal(t, 1, primary.Len())
	require.Len(t, healthy.events, 1)
	assert.Equal(t, audit.ActionCreate, healthy.events[0].Action)

	n, err := tee.Count(context.Background(), audit.Criteria{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	err = tee.Close()
	assert.ErrorContains(t, err, "disk full")
	assert.True(t, broken.closed)
	assert.True(t, healthy.closed)
}

func TestTeeStore_PrimaryFailureSkipsSinks(t *testing.T) {
	sink := &recordingSink{}
	tee := audit.NewTeeStore(&failingStore{Store: memory.NewStore()}, nil, sink)

	_, err := tee.Save(context.Background(), audit.NewEvent(audit.ActionCreate))
	assert.ErrorIs(t, err, errStoreDown)
	assert.Empty(t, sink.events)
}

func TestTeeStore_WithFileSink(t *testing.T) {
	sink, err := audit.NewFileSink(audit.FileSinkConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	tee := audit.NewTeeStore(memory.NewStore(), nil, sink)
	defer tee.Close()

	svc, _ := newService(t, tee, syncConfig())
	svc.AuditSecurity(context.Background(), audit.ActionLogin, "u1", "10.0.0.1", "ua", true, "")

	events, err := sink.ReadEvents(0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "u1", events[0].UserID)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
