package admin

import (
	"sort"

	"github.com/yourusername/import-export-admin/internal/models"
	"github.com/yourusername/import-export-admin/internal/registry"
)

const fieldJobStatusInfo = "job_status_info"

// NewImportJobForm はインポートジョブのフォームを作成します。
// モデルの選択肢は modelSettings のキーだけで、空なら選択肢も空になります。
func NewImportJobForm(modelSettings map[string]registry.ModelSettings, job *models.ImportJob) *Form {
	if job == nil {
		job = &models.ImportJob{}
	}
	names := make([]string, 0, len(modelSettings))
	for name := range modelSettings {
		names = append(names, name)
	}
	sort.Strings(names)
	modelChoices := make([]registry.Choice, 0, len(names))
	for _, name := range names {
		modelChoices = append(modelChoices, registry.Choice{Value: name, Label: name})
	}

	saved := job.ID != 0
	return &Form{Fields: []Field{
		{Name: "model", Label: "インポート先のモデル名", Type: FieldSelect, Choices: modelChoices, Required: true, ReadOnly: saved, Value: job.Model},
		{Name: "format", Label: "形式", Type: FieldSelect, Choices: job.FormatChoices(), Required: true, Value: job.Format},
		{Name: "file", Label: "ファイル", Type: FieldFile, Required: !saved, Value: job.File},
		statusInfo(),
		readonly("change_summary", "変更の概要", job.ChangeSummary),
		readonly("imported", "インポート日時", job.Imported),
		readonly("errors", "エラー", job.Errors),
		readonly("author", "作成者", job.Author),
		readonly("updated_by", "更新者", job.UpdatedBy),
		readonly("processing_initiated", "処理開始日時", job.ProcessingInitiated),
	}}
}

// NewExportJobForm はエクスポートジョブのフォームを作成します。
// リソースは未設定かつ処理開始前のときだけ、形式は処理開始前のときだけ変更できます。
func NewExportJobForm(job *models.ExportJob) *Form {
	if job == nil {
		job = &models.ExportJob{}
	}
	started := job.ProcessingInitiated != nil
	return &Form{Fields: []Field{
		readonly("app_label", "アプリ", job.AppLabel),
		readonly("model", "モデル", job.Model),
		{Name: "resource", Label: "リソース", Type: FieldSelect, Choices: job.ResourceChoices(), ReadOnly: job.Resource != "" || started, Value: job.Resource},
		{Name: "format", Label: "形式", Type: FieldSelect, Choices: job.FormatChoices(), Required: true, ReadOnly: started, Value: job.Format},
		readonly("queryset", "クエリ", job.QuerySet),
		readonly("file", "ファイル", job.File),
		statusInfo(),
		readonly("processing_initiated", "処理開始日時", job.ProcessingInitiated),
		readonly("author", "作成者", job.Author),
		readonly("updated_by", "更新者", job.UpdatedBy),
	}}
}

// statusInfo はキャッシュ優先のジョブ状態を表示する欄です。値は Form で埋めます。
func statusInfo() Field {
	f := readonly(fieldJobStatusInfo, "ジョブの状態", nil)
	f.Computed = true
	return f
}

func readonly(name, label string, value interface{}) Field {
	return Field{Name: name, Label: label, Type: FieldText, ReadOnly: true, Value: value}
}
