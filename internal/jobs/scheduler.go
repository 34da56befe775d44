package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/import-export-admin/internal/metrics"
	"github.com/yourusername/import-export-admin/internal/models"
)

// Enqueuer はジョブをキューに投入します。Manager が実装します。
type Enqueuer interface {
	EnqueueImport(ctx context.Context, id uint, dryRun bool) (string, error)
	EnqueueExport(ctx context.Context, id uint) (string, error)
}

// Scheduler はジョブレコードの保存とキュー投入をつなぎます。
// 投入に失敗した場合はジョブのステータスに失敗を記録します。
type Scheduler struct {
	store       *Store
	queue       Enqueuer
	dryRunFirst bool
	logger      *zap.Logger
	now         func() time.Time
}

// NewScheduler は Scheduler を作成します。
// dryRunFirst が true の場合、作成直後のインポートはドライランで投入されます。
func NewScheduler(store *Store, queue Enqueuer, dryRunFirst bool, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:       store,
		queue:       queue,
		dryRunFirst: dryRunFirst,
		logger:      logger.With(zap.String("component", "scheduler")),
		now:         time.Now,
	}
}

// ImportCreated は作成されたインポートジョブを投入します。
func (s *Scheduler) ImportCreated(ctx context.Context, job *models.ImportJob) error {
	metrics.JobsCreated.WithLabelValues(string(models.DirectionImport)).Inc()
	ok, err := s.store.MarkProcessingInitiated(ctx, models.DirectionImport, job.ID, s.now())
	if err != nil || !ok {
		return err
	}
	return s.enqueueImport(ctx, job.ID, s.dryRunFirst)
}

// ExportSaved はリソースが決まっていて未投入のエクスポートジョブを投入します。
func (s *Scheduler) ExportSaved(ctx context.Context, job *models.ExportJob, created bool) error {
	if created {
		metrics.JobsCreated.WithLabelValues(string(models.DirectionExport)).Inc()
	}
	if job.Resource == "" || job.ProcessingInitiated != nil {
		return nil
	}
	ok, err := s.store.MarkProcessingInitiated(ctx, models.DirectionExport, job.ID, s.now())
	if err != nil || !ok {
		return err
	}
	return s.enqueueExport(ctx, job.ID)
}

// RunImport は一覧画面のアクションからインポートを再投入します。
func (s *Scheduler) RunImport(ctx context.Context, id uint, dryRun bool) error {
	if err := s.touch(ctx, models.DirectionImport, id); err != nil {
		return err
	}
	return s.enqueueImport(ctx, id, dryRun)
}

// RunExport は一覧画面のアクションからエクスポートを再投入します。
func (s *Scheduler) RunExport(ctx context.Context, id uint) error {
	if err := s.touch(ctx, models.DirectionExport, id); err != nil {
		return err
	}
	return s.enqueueExport(ctx, id)
}

func (s *Scheduler) touch(ctx context.Context, direction models.Direction, id uint) error {
	return s.store.UpdateFields(ctx, direction, id, map[string]interface{}{
		"processing_initiated": s.now(),
	})
}

func (s *Scheduler) enqueueImport(ctx context.Context, id uint, dryRun bool) error {
	if _, err := s.queue.EnqueueImport(ctx, id, dryRun); err != nil {
		return s.enqueueFailed(ctx, models.DirectionImport, id, err)
	}
	return nil
}

func (s *Scheduler) enqueueExport(ctx context.Context, id uint) error {
	if _, err := s.queue.EnqueueExport(ctx, id); err != nil {
		return s.enqueueFailed(ctx, models.DirectionExport, id, err)
	}
	return nil
}

func (s *Scheduler) enqueueFailed(ctx context.Context, direction models.Direction, id uint, cause error) error {
	s.logger.Error("failed to enqueue job",
		zap.String("direction", string(direction)),
		zap.Uint("job_id", id),
		zap.Error(cause),
	)
	fields := map[string]interface{}{
		"job_status":           failedStatus(direction, cause),
		"processing_initiated": nil,
	}
	if err := s.store.UpdateFields(ctx, direction, id, fields); err != nil {
		return fmt.Errorf("failed to record enqueue failure: %w", err)
	}
	return cause
}
