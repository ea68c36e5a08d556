package exports

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/auditcore/pkg/audit"
	"github.com/platinummonkey/auditcore/pkg/audit/memory"
)

// setupRegistry creates a miniredis instance and a registry connected to it
func setupRegistry(t *testing.T, now time.Time) (*RedisRegistry, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	registry, err := NewRedisRegistry(context.Background(), RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	registry.now = func() time.Time { return now }
	t.Cleanup(func() { _ = registry.Close() })

	return registry, mr
}

func sampleExport(created time.Time) *audit.ExportResult {
	return &audit.ExportResult{
		ExportID:    "exp-1",
		Format:      audit.ExportFormatCSV,
		FileName:    "audit-export-20240601-093000-abcd1234.csv",
		SizeBytes:   128,
		DownloadURL: "https://audit.example.com/exports/audit-export-20240601-093000-abcd1234.csv",
		RecordCount: 3,
		CreatedAt:   created,
		ExpiresAt:   created.AddDate(0, 0, audit.ExportTTLDays),
	}
}

func TestRedisRegistry_PutGet(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	registry, mr := setupRegistry(t, now)
	ctx := context.Background()

	export := sampleExport(now)
	require.NoError(t, registry.Put(ctx, export))

	assert.True(t, mr.Exists("audit:export:exp-1"))
	assert.Equal(t, 7*24*time.Hour, mr.TTL("audit:export:exp-1"))

	got, err := registry.Get(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, export.FileName, got.FileName)
	assert.Equal(t, export.RecordCount, got.RecordCount)
	assert.True(t, export.ExpiresAt.Equal(got.ExpiresAt))
}

func TestRedisRegistry_NotFound(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	registry, mr := setupRegistry(t, now)
	ctx := context.Background()

	_, err := registry.Get(ctx, "missing")
	assert.ErrorIs(t, err, audit.ErrExportNotFound)

	require.NoError(t, registry.Put(ctx, sampleExport(now)))
	mr.FastForward(8 * 24 * time.Hour)
	_, err = registry.Get(ctx, "exp-1")
	assert.ErrorIs(t, err, audit.ErrExportNotFound)
}

func TestRedisRegistry_SkipsExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	registry, mr := setupRegistry(t, now)

	require.NoError(t, registry.Put(context.Background(), sampleExport(now.AddDate(0, 0, -8))))
	assert.False(t, mr.Exists("audit:export:exp-1"))
}

func TestRedisRegistry_ExpiredByClock(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	registry, _ := setupRegistry(t, now)
	ctx := context.Background()

	require.NoError(t, registry.Put(ctx, sampleExport(now)))
	registry.now = func() time.Time { return now.AddDate(0, 0, audit.ExportTTLDays) }

	_, err := registry.Get(ctx, "exp-1")
	assert.ErrorIs(t, err, audit.ErrExportNotFound)
}

func TestRedisRegistry_CorruptEntry(t *testing.T) {
	registry, mr := setupRegistry(t, time.Now())
	require.NoError(t, mr.Set("audit:export:bad", "{not json"))

	_, err := registry.Get(context.Background(), "bad")
	assert.ErrorContains(t, err, "failed to unmarshal export")
	assert.False(t, mr.Exists("audit:export:bad"), "corrupt entries are deleted")
}

func TestRedisRegistry_ConnectionErrors(t *testing.T) {
	_, err := NewRedisRegistry(context.Background(), RedisConfig{URL: "not-a-url"})
	assert.ErrorContains(t, err, "invalid redis URL")

	mr := miniredis.RunT(t)
	registry, err := NewRedisRegistry(context.Background(), RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, registry.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, registry.HealthCheck(context.Background()))
	_, err = registry.Get(context.Background(), "exp-1")
	assert.ErrorContains(t, err, "redis get failed")
}

func TestRedisRegistry_ServesServiceExports(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	registry, mr := setupRegistry(t, now)
	ctx := context.Background()

	svc := audit.NewService(memory.NewStore(), audit.DefaultConfig(),
		audit.WithExportRegistry(registry),
		audit.WithClock(func() time.Time { return now }),
	)
	defer svc.Close(time.Second)

	result, err := svc.ExportAuditEvents(ctx, audit.Criteria{}, audit.ExportFormatJSON).Wait(ctx)
	require.NoError(t, err)
	assert.True(t, mr.Exists("audit:export:"+result.ExportID))

	got, err := svc.GetExport(ctx, result.ExportID)
	require.NoError(t, err)
	assert.Equal(t, result.FileName, got.FileName)
}
