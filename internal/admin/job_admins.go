package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/import-export-admin/internal/auth"
	"github.com/yourusername/import-export-admin/internal/jobs"
	"github.com/yourusername/import-export-admin/internal/models"
	"github.com/yourusername/import-export-admin/internal/query"
	"github.com/yourusername/import-export-admin/internal/registry"
	"github.com/yourusername/import-export-admin/internal/storage"
)

const (
	importJobModel = "importjob"
	exportJobModel = "exportjob"

	importPrefix    = "imports"
	maxMultipartMem = 32 << 20
)

// StatusLookup はジョブの最新ステータスを返します。
type StatusLookup interface {
	Status(ctx context.Context, job models.Job) string
}

// JobScheduler はジョブの保存後の投入と一括操作からの再投入を行います。
type JobScheduler interface {
	ImportCreated(ctx context.Context, job *models.ImportJob) error
	ExportSaved(ctx context.Context, job *models.ExportJob, created bool) error
	RunImport(ctx context.Context, id uint, dryRun bool) error
	RunExport(ctx context.Context, id uint) error
}

// FileStore はジョブのファイルを保存します。
type FileStore interface {
	Save(ctx context.Context, prefix, name string, r io.Reader) (string, error)
	Open(key string) (*os.File, error)
	Delete(key string) error
}

// JobDeps はジョブ管理画面が使うコンポーネントです。
type JobDeps struct {
	Store       *jobs.Store
	Status      StatusLookup
	Scheduler   JobScheduler
	Files       FileStore
	Registry    *registry.Registry
	MaxFileSize int64
	Logger      *zap.Logger
}

func (d JobDeps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger.With(zap.String("component", "admin"))
}

// ImportJobAdmin はインポートジョブの管理画面です。
type ImportJobAdmin struct {
	deps          JobDeps
	modelSettings map[string]registry.ModelSettings
	logger        *zap.Logger
}

// NewImportJobAdmin は ImportJobAdmin を作成します。
// modelSettings のキーがインポート先として選べるモデル名です。
func NewImportJobAdmin(deps JobDeps, modelSettings map[string]registry.ModelSettings) *ImportJobAdmin {
	return &ImportJobAdmin{deps: deps, modelSettings: modelSettings, logger: deps.logger()}
}

func (a *ImportJobAdmin) AppLabel() string       { return models.AppLabel }
func (a *ImportJobAdmin) ModelName() string      { return importJobModel }
func (a *ImportJobAdmin) HasAddPermission() bool { return true }

func (a *ImportJobAdmin) Options() Options {
	return Options{
		ListDisplay:    []string{"model", fieldJobStatusInfo, "file", "change_summary", "imported", "author", "updated_by"},
		ReadonlyFields: []string{fieldJobStatusInfo, "change_summary", "imported", "errors", "author", "updated_by", "processing_initiated"},
		Exclude:        []string{"job_status"},
		ListFilter:     []string{"model", "imported"},
	}
}

func (a *ImportJobAdmin) Actions() []Action {
	return []Action{
		{Name: "run_import_job", Description: "インポートを実行", Run: a.runImport(false)},
		{Name: "run_import_job_dry", Description: "インポートをドライランで実行", Run: a.runImport(true)},
	}
}

func (a *ImportJobAdmin) AllowsField(field string) bool {
	switch field {
	case "id", "model", "format", "imported", "author", "updated_by", "processing_initiated", "created_at", "updated_at":
		return true
	}
	return false
}

func (a *ImportJobAdmin) List(ctx context.Context, desc query.Descriptor, limit, offset int) ([]map[string]interface{}, int64, error) {
	items, count, err := a.deps.Store.ListImports(ctx, desc, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	rows := make([]map[string]interface{}, 0, len(items))
	for i := range items {
		job := &items[i]
		rows = append(rows, map[string]interface{}{
			"id":               job.ID,
			"model":            job.Model,
			fieldJobStatusInfo: a.deps.Status.Status(ctx, job),
			"file":             job.File,
			"change_summary":   job.ChangeSummary,
			"imported":         job.Imported,
			"author":           job.Author,
			"updated_by":       job.UpdatedBy,
		})
	}
	return rows, count, nil
}

func (a *ImportJobAdmin) Form(ctx context.Context, obj interface{}) *Form {
	job, _ := obj.(*models.ImportJob)
	f := NewImportJobForm(a.modelSettings, job)
	if job != nil {
		if field, ok := f.Field(fieldJobStatusInfo); ok {
			field.Value = a.deps.Status.Status(ctx, job)
		}
	}
	return f
}

func (a *ImportJobAdmin) Get(ctx context.Context, id uint) (interface{}, error) {
	return a.deps.Store.GetImport(ctx, id)
}

// Create はアップロードされたファイルを保存してインポートジョブを作成し、キューに投入します。
// 投入に失敗してもジョブは作成済みとして扱い、失敗はジョブのステータスに残ります。
func (a *ImportJobAdmin) Create(c *gin.Context) (uint, error) {
	ctx := c.Request.Context()
	values, files, err := parseMultipart(c, a.deps.MaxFileSize)
	if err != nil {
		return 0, err
	}

	errs := ValidationErrors{}
	if err := NewImportJobForm(a.modelSettings, nil).Validate(values); err != nil {
		errs = err.(ValidationErrors)
	}
	headers := files["file"]
	if len(headers) == 0 {
		errs.Add("file", "この項目は必須です。")
	}
	if len(errs) > 0 {
		return 0, errs
	}
	format, _ := registry.FormatByContentType(values.Get("format"))

	key, err := a.saveUpload(ctx, headers[0], format)
	if err != nil {
		return 0, err
	}
	user := auth.CurrentUser(c)
	job := &models.ImportJob{
		Model:     values.Get("model"),
		Format:    format.ContentType,
		File:      key,
		Author:    user,
		UpdatedBy: user,
	}
	if err := a.deps.Store.CreateImport(ctx, job); err != nil {
		a.removeFile(key)
		return 0, fmt.Errorf("failed to create import job: %w", err)
	}
	if err := a.deps.Scheduler.ImportCreated(ctx, job); err != nil {
		a.logger.Error("failed to schedule import job", zap.Uint("job_id", job.ID), zap.Error(err))
	}
	return job.ID, nil
}

// Update は形式とファイルを更新します。インポート先モデルは変更できません。
func (a *ImportJobAdmin) Update(c *gin.Context, id uint) error {
	ctx := c.Request.Context()
	job, err := a.deps.Store.GetImport(ctx, id)
	if err != nil {
		return err
	}
	values, files, err := parseMultipart(c, a.deps.MaxFileSize)
	if err != nil {
		return err
	}
	if err := NewImportJobForm(a.modelSettings, job).Validate(values); err != nil {
		return err
	}
	format, _ := registry.FormatByContentType(values.Get("format"))

	oldFile := ""
	if headers := files["file"]; len(headers) > 0 {
		key, err := a.saveUpload(ctx, headers[0], format)
		if err != nil {
			return err
		}
		oldFile, job.File = job.File, key
	}
	job.Format = format.ContentType
	job.UpdatedBy = auth.CurrentUser(c)
	if err := a.deps.Store.SaveImport(ctx, job); err != nil {
		return fmt.Errorf("failed to update import job: %w", err)
	}
	a.removeFile(oldFile)
	return nil
}

func (a *ImportJobAdmin) Delete(ctx context.Context, id uint) error {
	job, err := a.deps.Store.GetImport(ctx, id)
	if err != nil {
		return err
	}
	if err := a.deps.Store.Delete(ctx, models.DirectionImport, id); err != nil {
		return err
	}
	a.removeFile(job.File)
	a.removeFile(job.ChangeSummary)
	return nil
}

func (a *ImportJobAdmin) OpenFile(ctx context.Context, id uint, field string) (io.ReadCloser, string, error) {
	job, err := a.deps.Store.GetImport(ctx, id)
	if err != nil {
		return nil, "", err
	}
	switch field {
	case "file":
		return openJobFile(a.deps.Files, job.File)
	case "change_summary":
		return openJobFile(a.deps.Files, job.ChangeSummary)
	default:
		return nil, "", invalidInput(fmt.Sprintf("ファイル項目ではありません: %q", field))
	}
}

func (a *ImportJobAdmin) runImport(dryRun bool) func(c *gin.Context, sel Selection) error {
	return func(c *gin.Context, sel Selection) error {
		ctx := c.Request.Context()
		items, _, err := a.deps.Store.ListImports(ctx, sel.Query, 0, 0)
		if err != nil {
			return err
		}
		for _, job := range items {
			if err := a.deps.Scheduler.RunImport(ctx, job.ID, dryRun); err != nil {
				return err
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"message": fmt.Sprintf("%d 件のインポートジョブを投入しました。", len(items)),
			"count":   len(items),
		})
		return nil
	}
}

func (a *ImportJobAdmin) saveUpload(ctx context.Context, header *multipart.FileHeader, format registry.Format) (string, error) {
	file, err := openUpload(header, format, a.deps.MaxFileSize)
	if err != nil {
		return "", err
	}
	defer file.Close()
	key, err := a.deps.Files.Save(ctx, importPrefix, header.Filename, file)
	if err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	return key, nil
}

func (a *ImportJobAdmin) removeFile(key string) {
	removeFile(a.deps.Files, a.logger, key)
}

// ExportJobAdmin はエクスポートジョブの管理画面です。
// エクスポートジョブは一覧画面のバックグラウンドエクスポートからのみ作成されます。
type ExportJobAdmin struct {
	deps   JobDeps
	logger *zap.Logger
}

// NewExportJobAdmin は ExportJobAdmin を作成します。
func NewExportJobAdmin(deps JobDeps) *ExportJobAdmin {
	return &ExportJobAdmin{deps: deps, logger: deps.logger()}
}

func (a *ExportJobAdmin) AppLabel() string       { return models.AppLabel }
func (a *ExportJobAdmin) ModelName() string      { return exportJobModel }
func (a *ExportJobAdmin) HasAddPermission() bool { return false }

func (a *ExportJobAdmin) Options() Options {
	return Options{
		ListDisplay:    []string{"model", "app_label", "file", fieldJobStatusInfo, "author", "updated_by"},
		ReadonlyFields: []string{fieldJobStatusInfo, "author", "updated_by", "app_label", "model", "file", "processing_initiated"},
		Exclude:        []string{"job_status"},
		ListFilter:     []string{"model"},
	}
}

func (a *ExportJobAdmin) Actions() []Action {
	return []Action{
		{Name: "run_export_job", Description: "エクスポートを実行", Run: a.runExport},
	}
}

func (a *ExportJobAdmin) AllowsField(field string) bool {
	switch field {
	case "id", "app_label", "model", "resource", "format", "author", "updated_by", "processing_initiated", "created_at", "updated_at":
		return true
	}
	return false
}

func (a *ExportJobAdmin) List(ctx context.Context, desc query.Descriptor, limit, offset int) ([]map[string]interface{}, int64, error) {
	items, count, err := a.deps.Store.ListExports(ctx, desc, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	rows := make([]map[string]interface{}, 0, len(items))
	for i := range items {
		job := &items[i]
		rows = append(rows, map[string]interface{}{
			"id":               job.ID,
			"model":            job.Model,
			"app_label":        job.AppLabel,
			"file":             job.File,
			fieldJobStatusInfo: a.deps.Status.Status(ctx, job),
			"author":           job.Author,
			"updated_by":       job.UpdatedBy,
		})
	}
	return rows, count, nil
}

func (a *ExportJobAdmin) Form(ctx context.Context, obj interface{}) *Form {
	job, _ := obj.(*models.ExportJob)
	if job == nil {
		return NewExportJobForm(nil)
	}
	a.attachSettings(job)
	f := NewExportJobForm(job)
	if field, ok := f.Field(fieldJobStatusInfo); ok {
		field.Value = a.deps.Status.Status(ctx, job)
	}
	return f
}

func (a *ExportJobAdmin) Get(ctx context.Context, id uint) (interface{}, error) {
	return a.deps.Store.GetExport(ctx, id)
}

func (a *ExportJobAdmin) Create(c *gin.Context) (uint, error) {
	return 0, forbidden("エクスポートジョブは一覧画面のエクスポートから作成してください。")
}

// Update はリソースと形式を更新し、リソースが決まっていれば投入します。
func (a *ExportJobAdmin) Update(c *gin.Context, id uint) error {
	ctx := c.Request.Context()
	job, err := a.deps.Store.GetExport(ctx, id)
	if err != nil {
		return err
	}
	values, _, err := parseMultipart(c, a.deps.MaxFileSize)
	if err != nil {
		return err
	}
	a.attachSettings(job)
	f := NewExportJobForm(job)
	if err := f.Validate(values); err != nil {
		return err
	}
	if field, _ := f.Field("resource"); !field.ReadOnly {
		job.Resource = values.Get("resource")
	}
	if field, _ := f.Field("format"); !field.ReadOnly {
		job.Format = values.Get("format")
	}
	job.UpdatedBy = auth.CurrentUser(c)
	if err := a.deps.Store.SaveExport(ctx, job); err != nil {
		return fmt.Errorf("failed to update export job: %w", err)
	}
	if err := a.deps.Scheduler.ExportSaved(ctx, job, false); err != nil {
		a.logger.Error("failed to schedule export job", zap.Uint("job_id", job.ID), zap.Error(err))
	}
	return nil
}

func (a *ExportJobAdmin) Delete(ctx context.Context, id uint) error {
	job, err := a.deps.Store.GetExport(ctx, id)
	if err != nil {
		return err
	}
	if err := a.deps.Store.Delete(ctx, models.DirectionExport, id); err != nil {
		return err
	}
	removeFile(a.deps.Files, a.logger, job.File)
	return nil
}

func (a *ExportJobAdmin) OpenFile(ctx context.Context, id uint, field string) (io.ReadCloser, string, error) {
	job, err := a.deps.Store.GetExport(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if field != "file" {
		return nil, "", invalidInput(fmt.Sprintf("ファイル項目ではありません: %q", field))
	}
	return openJobFile(a.deps.Files, job.File)
}

func (a *ExportJobAdmin) runExport(c *gin.Context, sel Selection) error {
	ctx := c.Request.Context()
	items, _, err := a.deps.Store.ListExports(ctx, sel.Query, 0, 0)
	if err != nil {
		return err
	}
	for _, job := range items {
		if err := a.deps.Scheduler.RunExport(ctx, job.ID); err != nil {
			return err
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("%d 件のエクスポートジョブを投入しました。", len(items)),
		"count":   len(items),
	})
	return nil
}

// attachSettings はフォームの選択肢を作るために対象モデルの設定を紐づけます。
func (a *ExportJobAdmin) attachSettings(job *models.ExportJob) {
	if a.deps.Registry == nil {
		return
	}
	if settings, ok := a.deps.Registry.Lookup(job.AppLabel, job.Model); ok {
		job.Settings = &settings
	}
}

// parseMultipart は multipart/form-data と application/x-www-form-urlencoded の両方を受け付けます。
func parseMultipart(c *gin.Context, maxFileSize int64) (url.Values, map[string][]*multipart.FileHeader, error) {
	if maxFileSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFileSize+maxMultipartMem)
	}
	err := c.Request.ParseMultipartForm(maxMultipartMem)
	switch {
	case err == nil:
		return c.Request.PostForm, c.Request.MultipartForm.File, nil
	case errors.Is(err, http.ErrNotMultipart):
		if err := c.Request.ParseForm(); err != nil {
			return nil, nil, invalidInput("フォームを読み取れませんでした。")
		}
		return c.Request.PostForm, nil, nil
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, &Error{Status: http.StatusRequestEntityTooLarge, Code: "LIMIT_EXCEEDED", Message: "アップロードサイズが上限を超えています。"}
		}
		return nil, nil, invalidInput("multipart/form-data でフォームを送信してください。")
	}
}

func openJobFile(files FileStore, key string) (io.ReadCloser, string, error) {
	if key == "" {
		return nil, "", notFound("ファイルがまだありません。")
	}
	f, err := files.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrInvalidKey) {
			return nil, "", notFound("ファイルが見つかりません。")
		}
		return nil, "", err
	}
	return f, storage.Name(key), nil
}

func removeFile(files FileStore, logger *zap.Logger, key string) {
	if key == "" {
		return
	}
	if err := files.Delete(key); err != nil {
		logger.Warn("failed to delete job file", zap.String("key", key), zap.Error(err))
	}
}
