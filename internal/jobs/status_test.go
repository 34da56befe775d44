package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yourusername/import-export-admin/internal/models"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestStatusKey(t *testing.T) {
	assert.Equal(t, "import_job_status_7", StatusKey(models.DirectionImport, 7))
	assert.Equal(t, "export_job_status_12", StatusKey(models.DirectionExport, 12))
}

func TestStatusCacheStatus(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		cached    *string
		persisted string
		want      string
	}{
		{name: "cache hit wins over persisted", cached: strPtr("3/5 Importing"), persisted: "1/5 Import job started", want: "3/5 Importing"},
		{name: "cache hit with empty persisted", cached: strPtr("2/5 Exporting"), persisted: "", want: "2/5 Exporting"},
		{name: "cache miss falls back to persisted", persisted: "5/5 Import job finished", want: "5/5 Import job finished"},
		{name: "cache miss and nothing persisted", persisted: "", want: ""},
		{name: "empty cached value is a miss", cached: strPtr(""), persisted: "persisted", want: "persisted"},
	}

	for _, direction := range []models.Direction{models.DirectionImport, models.DirectionExport} {
		for _, tt := range tests {
			t.Run(string(direction)+"/"+tt.name, func(t *testing.T) {
				mr, rdb := setupRedis(t)
				cache := NewStatusCache(rdb, time.Minute, zaptest.NewLogger(t))

				var job models.Job
				if direction == models.DirectionImport {
					job = &models.ImportJob{ID: 42, JobStatus: tt.persisted}
				} else {
					job = &models.ExportJob{ID: 42, JobStatus: tt.persisted}
				}
				if tt.cached != nil {
					require.NoError(t, mr.Set(StatusKey(direction, 42), *tt.cached))
				}

				assert.Equal(t, tt.want, cache.Status(ctx, job))
			})
		}
	}
}

func TestStatusCacheDoesNotMixDirections(t *testing.T) {
	mr, rdb := setupRedis(t)
	cache := NewStatusCache(rdb, time.Minute, zaptest.NewLogger(t))
	require.NoError(t, mr.Set(StatusKey(models.DirectionExport, 1), "export status"))

	got := cache.Status(context.Background(), &models.ImportJob{ID: 1, JobStatus: "import status"})
	assert.Equal(t, "import status", got)
}

func TestStatusCacheFallsBackWhenRedisIsDown(t *testing.T) {
	mr, rdb := setupRedis(t)
	cache := NewStatusCache(rdb, time.Minute, zaptest.NewLogger(t))
	mr.Close()

	got := cache.Status(context.Background(), &models.ExportJob{ID: 3, JobStatus: "persisted"})
	assert.Equal(t, "persisted", got)
}

func TestStatusCachePublishAndClear(t *testing.T) {
	mr, rdb := setupRedis(t)
	cache := NewStatusCache(rdb, 10*time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, cache.Publish(ctx, models.DirectionImport, 5, "2/5 Reading import file"))
	value, err := mr.Get("import_job_status_5")
	require.NoError(t, err)
	assert.Equal(t, "2/5 Reading import file", value)
	assert.Equal(t, 10*time.Minute, mr.TTL("import_job_status_5"))

	require.NoError(t, cache.Clear(ctx, models.DirectionImport, 5))
	assert.False(t, mr.Exists("import_job_status_5"))
}

func strPtr(s string) *string { return &s }
