package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/import-export-admin/internal/models"
)

// StatusKey はワーカーが進捗を書き込むキャッシュキーを返します。
func StatusKey(direction models.Direction, id uint) string {
	return fmt.Sprintf("%s_job_status_%d", direction, id)
}

// StatusCache はワーカーが書き込む一時的なジョブステータスを扱います。
type StatusCache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewStatusCache は StatusCache を作成します。
func NewStatusCache(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *StatusCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusCache{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "status_cache")),
	}
}

// Status はキャッシュに新しいステータスがあればそれを、なければ永続化されたステータスを返します。
// キャッシュの障害は警告ログだけ出してキャッシュミスとして扱います。
func (c *StatusCache) Status(ctx context.Context, job models.Job) string {
	if job == nil {
		return ""
	}
	key := StatusKey(job.JobDirection(), job.JobID())
	value, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil && value != "":
		return value
	case err != nil && !errors.Is(err, redis.Nil):
		c.logger.Warn("failed to read job status from cache", zap.String("key", key), zap.Error(err))
	}
	return job.PersistedStatus()
}

// Publish はステータスをキャッシュに書き込みます。ワーカーだけが呼び出します。
func (c *StatusCache) Publish(ctx context.Context, direction models.Direction, id uint, status string) error {
	return c.rdb.Set(ctx, StatusKey(direction, id), status, c.ttl).Err()
}

// Clear はキャッシュ上のステータスを削除します。
func (c *StatusCache) Clear(ctx context.Context, direction models.Direction, id uint) error {
	return c.rdb.Del(ctx, StatusKey(direction, id)).Err()
}
