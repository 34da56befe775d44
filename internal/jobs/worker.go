// Package jobs はジョブレコードの保存、ステータス参照、非同期実行を提供します。
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/import-export-admin/internal/dataio"
	"github.com/yourusername/import-export-admin/internal/metrics"
	"github.com/yourusername/import-export-admin/internal/models"
	"github.com/yourusername/import-export-admin/internal/query"
	"github.com/yourusername/import-export-admin/internal/registry"
	"github.com/yourusername/import-export-admin/internal/storage"
)

const (
	summaryPrefix = "summaries"
	exportPrefix  = "exports"
)

// Worker はジョブを実行し、進捗をステータスキャッシュとジョブレコードに書き込みます。
type Worker struct {
	store    *Store
	status   *StatusCache
	files    *storage.Local
	registry *registry.Registry
	logger   *zap.Logger
	now      func() time.Time
}

// NewWorker は Worker を作成します。
func NewWorker(store *Store, status *StatusCache, files *storage.Local, reg *registry.Registry, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:    store,
		status:   status,
		files:    files,
		registry: reg,
		logger:   logger.With(zap.String("component", "worker")),
		now:      time.Now,
	}
}

// RunImport はインポートジョブを実行します。
// ドライランでは結果をロールバックし、processing_initiated を戻して本実行できる状態にします。
func (w *Worker) RunImport(ctx context.Context, id uint, dryRun bool) (err error) {
	started := w.now()
	defer func() { w.finished(models.DirectionImport, started, err) }()

	w.publish(ctx, models.DirectionImport, id, statusMessage(models.DirectionImport, stepStarted, "Import job started", dryRun))

	job, err := w.store.GetImport(ctx, id)
	if err != nil {
		return err
	}
	settings, ok := w.registry.ByName(job.Model)
	if !ok {
		return w.failImport(ctx, id, fmt.Errorf("model %q is not configured for import", job.Model))
	}
	format, ok := registry.FormatByContentType(job.Format)
	if !ok || !format.CanImport {
		return w.failImport(ctx, id, fmt.Errorf("unsupported import format %q", job.Format))
	}
	resource, ok := settings.ImportShape()
	if !ok {
		if resource, err = dataio.DefaultResource(w.store.DB(), settings.Table); err != nil {
			return w.failImport(ctx, id, err)
		}
	}

	w.publish(ctx, models.DirectionImport, id, statusMessage(models.DirectionImport, stepReading, "Reading import file", dryRun))
	file, err := w.files.Open(job.File)
	if err != nil {
		return w.failImport(ctx, id, fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	progress := func(done int) {
		w.publish(ctx, models.DirectionImport, id,
			statusMessage(models.DirectionImport, stepRunning, fmt.Sprintf("Importing rows (%d done)", done), dryRun))
	}
	summary, err := dataio.Import(ctx, w.store.DB(), settings.Table, resource, format, file, dryRun, progress)
	if err != nil {
		return w.failImport(ctx, id, err)
	}

	w.publish(ctx, models.DirectionImport, id, statusMessage(models.DirectionImport, stepWriting, "Writing change summary", dryRun))
	body, err := json.Marshal(summary)
	if err != nil {
		return w.failImport(ctx, id, err)
	}
	summaryKey, err := w.files.Save(ctx, summaryPrefix, fmt.Sprintf("import-%d-summary.json", id), bytes.NewReader(body))
	if err != nil {
		return w.failImport(ctx, id, err)
	}
	if job.ChangeSummary != "" {
		if err := w.files.Delete(job.ChangeSummary); err != nil {
			w.logger.Warn("failed to delete old change summary", zap.String("key", job.ChangeSummary), zap.Error(err))
		}
	}

	message := "Import job finished"
	if summary.HasErrors() {
		message = fmt.Sprintf("Import job finished with %d errors", len(summary.Errors))
	}
	status := statusMessage(models.DirectionImport, stepFinished, message, dryRun)
	fields := map[string]interface{}{
		"job_status":     status,
		"change_summary": summaryKey,
		"errors":         rowErrorsText(summary.Errors),
	}
	if summary.Committed {
		fields["imported"] = w.now()
	}
	if dryRun {
		fields["processing_initiated"] = nil
	}
	if err := w.store.UpdateFields(ctx, models.DirectionImport, id, fields); err != nil {
		return err
	}
	w.publish(ctx, models.DirectionImport, id, status)
	if summary.HasErrors() {
		return fmt.Errorf("import finished with %d row errors", len(summary.Errors))
	}
	return nil
}

// RunExport はエクスポートジョブを実行し、成果物をストレージに保存します。
func (w *Worker) RunExport(ctx context.Context, id uint) (err error) {
	started := w.now()
	defer func() { w.finished(models.DirectionExport, started, err) }()

	w.publish(ctx, models.DirectionExport, id, statusMessage(models.DirectionExport, stepStarted, "Export job started", false))

	job, err := w.store.GetExport(ctx, id)
	if err != nil {
		return err
	}
	settings, ok := w.registry.Lookup(job.AppLabel, job.Model)
	if !ok {
		return w.failExport(ctx, id, fmt.Errorf("model %s.%s is not registered", job.AppLabel, job.Model))
	}
	format, ok := registry.FormatByContentType(job.Format)
	if !ok || !format.CanExport {
		return w.failExport(ctx, id, fmt.Errorf("unsupported export format %q", job.Format))
	}

	w.publish(ctx, models.DirectionExport, id, statusMessage(models.DirectionExport, stepReading, "Reading query", false))
	resource, desc, err := w.exportPlan(job, settings)
	if err != nil {
		return w.failExport(ctx, id, err)
	}

	progress := func(done int) {
		w.publish(ctx, models.DirectionExport, id,
			statusMessage(models.DirectionExport, stepRunning, fmt.Sprintf("Exporting rows (%d done)", done), false))
	}
	pr, pw := io.Pipe()
	go func() {
		_, err := dataio.Export(ctx, w.store.DB(), settings.Table, resource, desc, format, pw, progress)
		pw.CloseWithError(err)
	}()

	name := fmt.Sprintf("%s-%s.%s", strings.ToLower(job.Model), w.now().UTC().Format("2006-01-02-150405"), format.Extension)
	key, err := w.files.Save(ctx, exportPrefix, name, pr)
	_ = pr.Close()
	if err != nil {
		return w.failExport(ctx, id, err)
	}

	w.publish(ctx, models.DirectionExport, id, statusMessage(models.DirectionExport, stepWriting, "Saving export file", false))
	if job.File != "" {
		if err := w.files.Delete(job.File); err != nil {
			w.logger.Warn("failed to delete old export file", zap.String("key", job.File), zap.Error(err))
		}
	}
	status := statusMessage(models.DirectionExport, stepFinished, "Export job finished", false)
	if err := w.store.UpdateFields(ctx, models.DirectionExport, id, map[string]interface{}{
		"file":       key,
		"job_status": status,
	}); err != nil {
		return err
	}
	w.publish(ctx, models.DirectionExport, id, status)
	return nil
}

// exportPlan は保存されたクエリを復元し、対象リソースと列を照合します。
func (w *Worker) exportPlan(job *models.ExportJob, settings registry.ModelSettings) (registry.Resource, query.Descriptor, error) {
	var payload models.QueryPayload
	if err := json.Unmarshal([]byte(job.QuerySet), &payload); err != nil {
		return registry.Resource{}, query.Descriptor{}, fmt.Errorf("invalid queryset payload: %w", err)
	}
	desc, err := query.DecodeBase64(payload.Query)
	if err != nil {
		return registry.Resource{}, query.Descriptor{}, err
	}

	var resource registry.Resource
	if job.Resource == "" {
		resource, err = dataio.DefaultResource(w.store.DB(), settings.Table)
		if err != nil {
			return registry.Resource{}, query.Descriptor{}, err
		}
	} else {
		var ok bool
		if resource, ok = settings.Resource(job.Resource); !ok {
			return registry.Resource{}, query.Descriptor{}, fmt.Errorf("resource %q is not registered for %s", job.Resource, settings.Model)
		}
	}

	allowed := func(field string) bool {
		return resource.HasField(field) || settings.AllowsField(field)
	}
	if err := desc.Validate(allowed); err != nil {
		return registry.Resource{}, query.Descriptor{}, err
	}
	return resource, desc, nil
}

func (w *Worker) failImport(ctx context.Context, id uint, cause error) error {
	return w.fail(ctx, models.DirectionImport, id, cause, map[string]interface{}{"errors": cause.Error()})
}

func (w *Worker) failExport(ctx context.Context, id uint, cause error) error {
	return w.fail(ctx, models.DirectionExport, id, cause, map[string]interface{}{})
}

func (w *Worker) fail(ctx context.Context, direction models.Direction, id uint, cause error, fields map[string]interface{}) error {
	status := failedStatus(direction, cause)
	fields["job_status"] = status
	if err := w.store.UpdateFields(ctx, direction, id, fields); err != nil {
		return errors.Join(cause, err)
	}
	w.publish(ctx, direction, id, status)
	return cause
}

// publish はステータスをキャッシュに書き込みます。失敗しても処理は続ける。
func (w *Worker) publish(ctx context.Context, direction models.Direction, id uint, status string) {
	if w.status == nil {
		return
	}
	if err := w.status.Publish(ctx, direction, id, status); err != nil {
		w.logger.Warn("failed to publish job status",
			zap.String("direction", string(direction)),
			zap.Uint("job_id", id),
			zap.Error(err),
		)
	}
}

func (w *Worker) finished(direction models.Direction, started time.Time, err error) {
	outcome := metrics.OutcomeSucceeded
	if err != nil {
		outcome = metrics.OutcomeFailed
	}
	metrics.JobsFinished.WithLabelValues(string(direction), outcome).Inc()
	metrics.JobDuration.WithLabelValues(string(direction)).Observe(w.now().Sub(started).Seconds())
}

func rowErrorsText(rowErrors []dataio.RowError) string {
	if len(rowErrors) == 0 {
		return ""
	}
	lines := make([]string, 0, len(rowErrors))
	for _, e := range rowErrors {
		lines = append(lines, fmt.Sprintf("row %d: %s", e.Row, e.Message))
	}
	return strings.Join(lines, "\n")
}

