package admin

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/import-export-admin/internal/dataio"
	"github.com/yourusername/import-export-admin/internal/query"
	"github.com/yourusername/import-export-admin/internal/registry"
)

// TableAdmin は登録済みモデルのテーブルを一覧表示し、エクスポート操作を提供します。
type TableAdmin struct {
	settings registry.ModelSettings
	deps     ExportDeps
	export   *ExportAction
}

// NewTableAdmin は TableAdmin を作成します。
func NewTableAdmin(settings registry.ModelSettings, deps ExportDeps) *TableAdmin {
	return &TableAdmin{
		settings: settings,
		deps:     deps,
		export:   NewExportAction(settings, deps),
	}
}

func (a *TableAdmin) AppLabel() string  { return a.settings.AppLabel }
func (a *TableAdmin) ModelName() string { return a.settings.Model }

func (a *TableAdmin) Options() Options {
	return Options{
		ListDisplay: a.listDisplay(context.Background()),
		ListFilter:  a.settings.Filterable,
	}
}

func (a *TableAdmin) Actions() []Action {
	return []Action{
		{Name: "export", Description: "選択したレコードをエクスポート", Run: a.runExport},
	}
}

func (a *TableAdmin) AllowsField(field string) bool {
	return a.settings.AllowsField(field)
}

func (a *TableAdmin) List(ctx context.Context, desc query.Descriptor, limit, offset int) ([]map[string]interface{}, int64, error) {
	fields := a.listDisplay(ctx)
	if len(fields) == 0 {
		r, err := dataio.DefaultResource(a.deps.DB.WithContext(ctx), a.settings.Table)
		if err != nil {
			return nil, 0, err
		}
		fields = r.Fields
	}
	// id 列のないテーブルは既定の id 昇順が使えないので先頭の列で並べる
	if len(desc.Ordering) == 0 && !a.hasID(ctx) {
		desc.Ordering = []string{fields[0]}
	}
	return dataio.List(ctx, a.deps.DB, a.settings.Table, fields, desc, limit, offset)
}

// ExportForm は一覧画面に表示するエクスポートフォームです。
func (a *TableAdmin) ExportForm() *Form {
	resources := a.settings.ExportResources()
	resourceChoices := make([]registry.Choice, 0, len(resources))
	fieldChoices := []registry.Choice{}
	seen := map[string]struct{}{}
	for _, r := range resources {
		label := r.Label
		if label == "" {
			label = r.Name
		}
		resourceChoices = append(resourceChoices, registry.Choice{Value: r.Name, Label: label})
		for _, f := range r.Fields {
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			fieldChoices = append(fieldChoices, registry.Choice{Value: f, Label: f})
		}
	}
	return &Form{Fields: []Field{
		{Name: "format", Label: "形式", Type: FieldSelect, Choices: registry.FormatChoices(registry.ExportFormats()), Required: true},
		{Name: "resource", Label: "リソース", Type: FieldSelect, Choices: resourceChoices},
		{Name: "export_fields", Label: "出力する列", Type: FieldMultiple, Choices: fieldChoices},
		{Name: "background_job", Label: "バックグラウンドで実行", Type: FieldCheckbox},
	}}
}

func (a *TableAdmin) runExport(c *gin.Context, sel Selection) error {
	var form ExportForm
	if err := decodeForm(&form, c.Request.PostForm); err != nil {
		return err
	}
	format, err := exportFormat(form.Format)
	if err != nil {
		return err
	}
	if form.Resource != "" {
		if _, ok := a.settings.ExportResource(form.Resource); !ok {
			return ValidationErrors{"resource": {fmt.Sprintf("正しく選択してください。%s は候補にありません。", form.Resource)}}
		}
	}
	return a.export.SubmitOrDefer(c, form, sel.Query, format)
}

// listDisplay は先頭の管理画面用リソースの列を返します。テーブルに id 列があれば先頭に置きます。
func (a *TableAdmin) listDisplay(ctx context.Context) []string {
	resources := a.settings.ExportResources()
	if len(resources) == 0 {
		return nil
	}
	fields := make([]string, 0, len(resources[0].Fields)+1)
	if a.hasID(ctx) {
		fields = append(fields, "id")
	}
	for _, f := range resources[0].Fields {
		if f != "id" {
			fields = append(fields, f)
		}
	}
	return fields
}

// hasID は対象テーブルに id 列があるかを返します。
func (a *TableAdmin) hasID(ctx context.Context) bool {
	for _, r := range a.settings.ExportResources() {
		if r.HasField("id") {
			return true
		}
	}
	if a.deps.DB == nil {
		return false
	}
	return a.deps.DB.WithContext(ctx).Migrator().HasColumn(a.settings.Table, "id")
}

// exportFormat は Content-Type か短縮名でエクスポート形式を探します。
func exportFormat(value string) (registry.Format, error) {
	if value == "" {
		return registry.Format{}, ValidationErrors{"format": {"この項目は必須です。"}}
	}
	format, ok := registry.FormatByContentType(value)
	if !ok {
		format, ok = registry.FormatByName(value)
	}
	if !ok || !format.CanExport {
		return registry.Format{}, ValidationErrors{"format": {fmt.Sprintf("正しく選択してください。%s は候補にありません。", value)}}
	}
	return format, nil
}
