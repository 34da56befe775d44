package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/yourusername/import-export-admin/internal/config"
	"github.com/yourusername/import-export-admin/internal/metrics"
	"github.com/yourusername/import-export-admin/internal/models"
)

// Runner はキューから取り出したジョブを実行します。
type Runner interface {
	RunImport(ctx context.Context, id uint, dryRun bool) error
	RunExport(ctx context.Context, id uint) error
}

// Manager はジョブの投入とワーカーサーバーを管理します。
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	runner Runner
	logger *zap.Logger
}

// NewManager は Manager を初期化します。runner が nil の場合は投入専用になります。
func NewManager(cfg *config.Config, runner Runner, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	manager := &Manager{
		client: asynq.NewClient(opt),
		runner: runner,
		logger: logger.With(zap.String("component", "jobs")),
	}
	if runner != nil {
		manager.server = asynq.NewServer(
			opt,
			asynq.Config{
				Concurrency: cfg.WorkerConcurrency,
				Queues: map[string]int{
					QueueName: 1,
				},
			},
		)
		manager.mux = asynq.NewServeMux()
		manager.mux.HandleFunc(TaskTypeImport, manager.handleImportTask)
		manager.mux.HandleFunc(TaskTypeExport, manager.handleExportTask)
	}
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	if m.server == nil {
		return
	}
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("asynq server stopped with error", zap.Error(err))
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.server != nil {
		m.server.Shutdown()
	}
	return m.client.Close()
}

// EnqueueImport はインポートジョブを投入し、タスク ID を返します。
func (m *Manager) EnqueueImport(ctx context.Context, id uint, dryRun bool) (string, error) {
	return m.enqueue(ctx, TaskTypeImport, models.DirectionImport, TaskPayload{JobID: id, DryRun: dryRun})
}

// EnqueueExport はエクスポートジョブを投入し、タスク ID を返します。
func (m *Manager) EnqueueExport(ctx context.Context, id uint) (string, error) {
	return m.enqueue(ctx, TaskTypeExport, models.DirectionExport, TaskPayload{JobID: id})
}

func (m *Manager) enqueue(ctx context.Context, taskType string, direction models.Direction, payload TaskPayload) (string, error) {
	task, err := newTask(taskType, payload)
	if err != nil {
		return "", err
	}
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(1))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s job %d: %w", direction, payload.JobID, err)
	}
	metrics.RecordEnqueued(string(direction), payload.DryRun)
	m.logger.Info("job enqueued",
		zap.String("direction", string(direction)),
		zap.Uint("job_id", payload.JobID),
		zap.Bool("dry_run", payload.DryRun),
		zap.String("task_id", info.ID),
	)
	return info.ID, nil
}

func newTask(taskType string, payload TaskPayload) (*asynq.Task, error) {
	if payload.JobID == 0 {
		return nil, fmt.Errorf("payload.JobID is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueName)), nil
}

func (m *Manager) handleImportTask(ctx context.Context, task *asynq.Task) error {
	payload, err := decodePayload(task)
	if err != nil {
		return err
	}
	return m.result(models.DirectionImport, payload, m.runner.RunImport(ctx, payload.JobID, payload.DryRun))
}

func (m *Manager) handleExportTask(ctx context.Context, task *asynq.Task) error {
	payload, err := decodePayload(task)
	if err != nil {
		return err
	}
	return m.result(models.DirectionExport, payload, m.runner.RunExport(ctx, payload.JobID))
}

// result はジョブの失敗をログに残します。
// 失敗はジョブレコードに記録済みのため再試行はしない。
func (m *Manager) result(direction models.Direction, payload TaskPayload, err error) error {
	if err == nil {
		return nil
	}
	m.logger.Error("job failed",
		zap.String("direction", string(direction)),
		zap.Uint("job_id", payload.JobID),
		zap.Error(err),
	)
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}

func decodePayload(task *asynq.Task) (TaskPayload, error) {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == 0 {
		return payload, fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}
	return payload, nil
}
