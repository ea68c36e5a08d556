package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/auditcore/pkg/audit"
	"github.com/platinummonkey/auditcore/pkg/audit/memory"
)

var base = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func event(id string, action audit.Action, userID string, ts time.Time, success bool) *audit.AuditEvent {
	e := audit.NewEvent(action)
	e.ID = id
	e.ServiceName = "billing"
	e.UserID = userID
	e.Timestamp = ts
	e.Success = success
	return e
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	events := []*audit.AuditEvent{
		event("e1", audit.ActionRead, "u1", base, true).SetDuration(100).SetComplianceFlag(audit.RegulationGDPR, true),
		event("e2", audit.ActionRead, "u1", base.Add(time.Hour), false).SetDuration(300),
		event("e3", audit.ActionLogin, "u2", base.Add(25*time.Hour), true).SetComplianceFlag(audit.RegulationGDPR, true),
		event("e4", audit.ActionRead, "u3", base.Add(-time.Hour), true),
	}
	for _, e := range events {
		_, err := store.Save(context.Background(), e)
		require.NoError(t, err)
	}
	return store
}

func ids(events []*audit.AuditEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestStore_SaveCancelled(t *testing.T) {
	store := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Save(ctx, audit.NewEvent(audit.ActionRead))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.Len())
}

func TestStore_SearchPagesAndIsolates(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	criteria, err := audit.Criteria{Size: 2}.Normalize()
	require.NoError(t, err)

	events, total, err := store.Search(ctx, criteria)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Equal(t, []string{"e3", "e2"}, ids(events))

	events[0].SetTag("mutated", "yes")
	again, _, err := store.Search(ctx, criteria)
	require.NoError(t, err)
	assert.Empty(t, again[0].Tags["mutated"])
}

func TestStore_Aggregates(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	end := base.Add(48 * time.Hour)

	byAction, err := store.CountBy(ctx, audit.GroupByAction, base, end)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"READ": 2, "LOGIN": 1}, byAction)

	top, err := store.TopUsers(ctx, base, end, 1)
	require.NoError(t, err)
	assert.Equal(t, []audit.UserCount{{UserID: "u1", Count: 2}}, top)

	byHour, err := store.CountByHour(ctx, base, end)
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{10: 1, 11: 2}, byHour)

	byDay, err := store.CountByDay(ctx, base, end)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"2024-03-04": 2, "2024-03-05": 1}, byDay)

	avg, err := store.AverageDuration(ctx, base, end)
	require.NoError(t, err)
	assert.Equal(t, 200.0, avg)

	rate, err := store.SuccessRate(ctx, base, end)
	require.NoError(t, err)
	assert.InDelta(t, 66.67, rate, 0.01)

	empty, err := store.SuccessRate(ctx, end, end.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func TestStore_FindByComplianceFlag(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	end := base.Add(48 * time.Hour)

	all, err := store.FindByComplianceFlag(ctx, audit.RegulationGDPR, base, end, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e3"}, ids(all))

	scoped, err := store.FindByComplianceFlag(ctx, audit.RegulationGDPR, base, end, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"e3"}, ids(scoped))

	none, err := store.FindByComplianceFlag(ctx, audit.RegulationSOX, base, end, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_Retention(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	moved, err := store.ArchiveBefore(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)
	assert.Equal(t, 3, store.Len())
	assert.Equal(t, 1, store.ArchivedLen())

	deleted, err := store.DeleteBefore(ctx, base.Add(24*time.Hour), base.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted, "e1 and e2 live plus the archived e4")
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 0, store.ArchivedLen())
}

func TestStore_DeleteHonorsRetentionDays(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	now := base.AddDate(0, 0, 40)

	long := event("gdpr", audit.ActionRead, "u1", base, true).SetComplianceFlag(audit.RegulationGDPR, true)
	long.RetentionDays = audit.DefaultRetentionDays
	short := event("short", audit.ActionRead, "u1", base, true)
	short.RetentionDays = 30
	for _, e := range []*audit.AuditEvent{long, short} {
		_, err := store.Save(ctx, e)
		require.NoError(t, err)
	}

	deleted, err := store.DeleteBefore(ctx, now.AddDate(0, 0, -30), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	left, _, err := store.Search(ctx, audit.Criteria{Size: audit.Unpaged})
	require.NoError(t, err)
	assert.Equal(t, []string{"gdpr"}, ids(left))
}
