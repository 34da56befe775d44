package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourusername/import-export-admin/internal/auth"
	"github.com/yourusername/import-export-admin/internal/dataio"
	"github.com/yourusername/import-export-admin/internal/jobs"
	"github.com/yourusername/import-export-admin/internal/models"
	"github.com/yourusername/import-export-admin/internal/query"
	"github.com/yourusername/import-export-admin/internal/registry"
)

// ExportForm は一覧画面のエクスポート操作で送信される値です。
type ExportForm struct {
	Format        string   `form:"format"`
	Resource      string   `form:"resource"`
	ExportFields  []string `form:"export_fields"`
	BackgroundJob string   `form:"background_job"`
}

// Background は「バックグラウンドで実行」がチェックされているかを返します。
func (f ExportForm) Background() bool {
	return checkbox(f.BackgroundJob)
}

// ExportScheduler は作成したエクスポートジョブをキューに投入します。
type ExportScheduler interface {
	ExportSaved(ctx context.Context, job *models.ExportJob, created bool) error
}

// ExportDeps はエクスポート操作が使うコンポーネントです。
type ExportDeps struct {
	DB        *gorm.DB
	Registry  *registry.Registry
	Store     *jobs.Store
	Scheduler ExportScheduler
	Logger    *zap.Logger
}

// ExportAction は1モデル分のエクスポート操作です。
type ExportAction struct {
	settings registry.ModelSettings
	deps     ExportDeps
	logger   *zap.Logger
	now      func() time.Time
}

// NewExportAction は ExportAction を作成します。
func NewExportAction(settings registry.ModelSettings, deps ExportDeps) *ExportAction {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportAction{
		settings: settings,
		deps:     deps,
		logger:   logger.With(zap.String("component", "admin"), zap.String("model", settings.Model)),
		now:      time.Now,
	}
}

// SubmitOrDefer はチェックボックスがなければその場でファイルを返し、
// あればエクスポートジョブを作成してその変更画面へリダイレクトします。
func (a *ExportAction) SubmitOrDefer(c *gin.Context, form ExportForm, qs query.Descriptor, format registry.Format) error {
	if !form.Background() {
		return a.export(c, form, qs, format)
	}
	return a.createJob(c, form, qs, format)
}

func (a *ExportAction) export(c *gin.Context, form ExportForm, qs query.Descriptor, format registry.Format) error {
	resource, err := a.resource(form.Resource)
	if err != nil {
		return err
	}
	if len(form.ExportFields) > 0 {
		resource = narrow(resource, form.ExportFields)
		if len(resource.Fields) == 0 {
			return ValidationErrors{"export_fields": {"出力する列を1つ以上選択してください。"}}
		}
	}

	var buf bytes.Buffer
	rows, err := dataio.Export(c.Request.Context(), a.deps.DB, a.settings.Table, resource, qs, format, &buf, nil)
	if err != nil {
		return fmt.Errorf("failed to export %s: %w", a.settings.Model, err)
	}
	a.logger.Info("exported rows", zap.Int("rows", rows), zap.String("format", format.Name))

	filename := fmt.Sprintf("%s-%s.%s", a.settings.Model, a.now().Format("2006-01-02"), format.Extension)
	c.Header("Content-Disposition", attachment(filename))
	c.Data(http.StatusOK, format.ContentType, buf.Bytes())
	return nil
}

func (a *ExportAction) createJob(c *gin.Context, form ExportForm, qs query.Descriptor, format registry.Format) error {
	ctx := c.Request.Context()
	encoded, err := qs.EncodeBase64()
	if err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}
	payload, err := json.Marshal(models.QueryPayload{
		QueryString:      c.Request.URL.RawQuery,
		FrameworkVersion: gin.Version,
		Query:            encoded,
	})
	if err != nil {
		return fmt.Errorf("failed to encode query payload: %w", err)
	}

	resourceName := form.Resource
	if resourceName == "" {
		if resources := a.settings.ExportResources(); len(resources) > 0 {
			resourceName = resources[0].Name
		}
	}
	user := auth.CurrentUser(c)
	job := &models.ExportJob{
		AppLabel:     a.settings.AppLabel,
		Model:        a.settings.Model,
		Resource:     a.deps.Registry.ResolveResourceKey(a.settings.AppLabel, a.settings.Model, resourceName),
		Format:       format.ContentType,
		QuerySet:     string(payload),
		SiteOfOrigin: siteOfOrigin(c.Request),
		Author:       user,
		UpdatedBy:    user,
	}
	if err := a.deps.Store.CreateExport(ctx, job); err != nil {
		return fmt.Errorf("failed to create export job: %w", err)
	}
	a.logger.Info("export job created",
		zap.Uint("job_id", job.ID),
		zap.String("resource", job.Resource),
		zap.String("format", format.Name),
	)
	if err := a.deps.Scheduler.ExportSaved(ctx, job, true); err != nil {
		a.logger.Error("failed to schedule export job", zap.Uint("job_id", job.ID), zap.Error(err))
	}

	c.Redirect(http.StatusFound, ChangeURL(models.AppLabel, exportJobModel, job.ID))
	return nil
}

// resource は管理画面用リソースを名前で探します。名前が空なら先頭、登録がなければテーブルの全列です。
func (a *ExportAction) resource(name string) (registry.Resource, error) {
	if name != "" {
		r, ok := a.settings.ExportResource(name)
		if !ok {
			return registry.Resource{}, ValidationErrors{"resource": {fmt.Sprintf("正しく選択してください。%s は候補にありません。", name)}}
		}
		return r, nil
	}
	if resources := a.settings.ExportResources(); len(resources) > 0 {
		return resources[0], nil
	}
	return dataio.DefaultResource(a.deps.DB, a.settings.Table)
}

// narrow はリソースの列を fields に含まれるものだけに絞ります。列の順序はリソースのままです。
func narrow(r registry.Resource, fields []string) registry.Resource {
	keep := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		keep[f] = struct{}{}
	}
	out := registry.Resource{Name: r.Name, Label: r.Label}
	for _, f := range r.Fields {
		if _, ok := keep[f]; ok {
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}

// siteOfOrigin はリクエストの scheme://host を返します。
func siteOfOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	} else if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
