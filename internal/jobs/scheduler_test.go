package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yourusername/import-export-admin/internal/models"
)

type enqueued struct {
	direction models.Direction
	id        uint
	dryRun    bool
}

type fakeQueue struct {
	calls []enqueued
	err   error
}

func (q *fakeQueue) EnqueueImport(ctx context.Context, id uint, dryRun bool) (string, error) {
	q.calls = append(q.calls, enqueued{models.DirectionImport, id, dryRun})
	return "task", q.err
}

func (q *fakeQueue) EnqueueExport(ctx context.Context, id uint) (string, error) {
	q.calls = append(q.calls, enqueued{models.DirectionExport, id, false})
	return "task", q.err
}

func newSchedulerEnv(t *testing.T, dryRunFirst bool) (*Scheduler, *Store, *fakeQueue) {
	t.Helper()
	store := NewStore(openTestDB(t))
	require.NoError(t, store.Migrate(context.Background()))
	queue := &fakeQueue{}
	return NewScheduler(store, queue, dryRunFirst, zaptest.NewLogger(t)), store, queue
}

func TestSchedulerImportCreated(t *testing.T) {
	for _, dryRunFirst := range []bool{true, false} {
		sched, store, queue := newSchedulerEnv(t, dryRunFirst)
		ctx := context.Background()
		job := &models.ImportJob{Model: "Winner", Format: "text/csv"}
		require.NoError(t, store.CreateImport(ctx, job))

		require.NoError(t, sched.ImportCreated(ctx, job))
		require.NoError(t, sched.ImportCreated(ctx, job), "second call is a no-op")

		assert.Equal(t, []enqueued{{models.DirectionImport, job.ID, dryRunFirst}}, queue.calls)
		got, err := store.GetImport(ctx, job.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.ProcessingInitiated)
	}
}

func TestSchedulerExportSaved(t *testing.T) {
	sched, store, queue := newSchedulerEnv(t, true)
	ctx := context.Background()

	noResource := &models.ExportJob{AppLabel: "winners", Model: "winner", Format: "text/csv"}
	require.NoError(t, store.CreateExport(ctx, noResource))
	require.NoError(t, sched.ExportSaved(ctx, noResource, true))
	assert.Empty(t, queue.calls, "jobs without a resource wait for one to be chosen")

	job := &models.ExportJob{AppLabel: "winners", Model: "winner", Resource: "full", Format: "text/csv"}
	require.NoError(t, store.CreateExport(ctx, job))
	require.NoError(t, sched.ExportSaved(ctx, job, true))
	require.NoError(t, sched.ExportSaved(ctx, job, false))
	assert.Equal(t, []enqueued{{models.DirectionExport, job.ID, false}}, queue.calls)
}

func TestSchedulerRecordsEnqueueFailure(t *testing.T) {
	sched, store, queue := newSchedulerEnv(t, false)
	queue.err = errors.New("redis unavailable")
	ctx := context.Background()

	job := &models.ExportJob{AppLabel: "winners", Model: "winner", Resource: "full", Format: "text/csv"}
	require.NoError(t, store.CreateExport(ctx, job))

	err := sched.ExportSaved(ctx, job, true)
	require.ErrorIs(t, err, queue.err)

	got, err := store.GetExport(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.JobStatus, "export job failed:"), got.JobStatus)
	assert.Nil(t, got.ProcessingInitiated)
}

func TestSchedulerRunActions(t *testing.T) {
	sched, store, queue := newSchedulerEnv(t, false)
	ctx := context.Background()
	job := &models.ImportJob{Model: "Winner", Format: "text/csv"}
	require.NoError(t, store.CreateImport(ctx, job))

	require.NoError(t, sched.RunImport(ctx, job.ID, true))
	require.NoError(t, sched.RunImport(ctx, job.ID, false))
	assert.Equal(t, []enqueued{
		{models.DirectionImport, job.ID, true},
		{models.DirectionImport, job.ID, false},
	}, queue.calls)

	assert.ErrorIs(t, sched.RunExport(ctx, 404), ErrNotFound)
}
