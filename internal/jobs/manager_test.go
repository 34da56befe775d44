package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yourusername/import-export-admin/internal/config"
)

type recordingRunner struct {
	imports []TaskPayload
	exports []uint
	err     error
}

func (r *recordingRunner) RunImport(ctx context.Context, id uint, dryRun bool) error {
	r.imports = append(r.imports, TaskPayload{JobID: id, DryRun: dryRun})
	return r.err
}

func (r *recordingRunner) RunExport(ctx context.Context, id uint) error {
	r.exports = append(r.exports, id)
	return r.err
}

func task(t *testing.T, taskType string, payload interface{}) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(taskType, body)
}

func TestManagerDispatchesTasks(t *testing.T) {
	runner := &recordingRunner{}
	m := &Manager{runner: runner, logger: zaptest.NewLogger(t)}
	ctx := context.Background()

	require.NoError(t, m.handleImportTask(ctx, task(t, TaskTypeImport, TaskPayload{JobID: 4, DryRun: true})))
	require.NoError(t, m.handleExportTask(ctx, task(t, TaskTypeExport, TaskPayload{JobID: 9})))

	assert.Equal(t, []TaskPayload{{JobID: 4, DryRun: true}}, runner.imports)
	assert.Equal(t, []uint{9}, runner.exports)
}

func TestManagerDoesNotRetryFailedJobs(t *testing.T) {
	runner := &recordingRunner{err: errors.New("boom")}
	m := &Manager{runner: runner, logger: zaptest.NewLogger(t)}
	ctx := context.Background()

	err := m.handleExportTask(ctx, task(t, TaskTypeExport, TaskPayload{JobID: 9}))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = m.handleImportTask(ctx, asynq.NewTask(TaskTypeImport, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	err = m.handleImportTask(ctx, task(t, TaskTypeImport, map[string]int{}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, runner.imports)
}

func TestNewTaskRequiresJobID(t *testing.T) {
	_, err := newTask(TaskTypeImport, TaskPayload{})
	assert.Error(t, err)

	tk, err := newTask(TaskTypeExport, TaskPayload{JobID: 3})
	require.NoError(t, err)
	assert.Equal(t, TaskTypeExport, tk.Type())
	assert.JSONEq(t, `{"jobId":3}`, string(tk.Payload()))
}

func TestNewManagerRejectsBadRedisURL(t *testing.T) {
	_, err := NewManager(&config.Config{QueueRedisURL: "://bad", WorkerConcurrency: 1}, nil, nil)
	assert.Error(t, err)

	_, err = NewManager(nil, nil, nil)
	assert.Error(t, err)
}
