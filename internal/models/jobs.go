// Package models はインポート/エクスポートジョブの永続化モデルを定義します。
package models

import (
	"time"

	"github.com/yourusername/import-export-admin/internal/registry"
)

// Direction はジョブの方向 (import / export) です。
type Direction string

const (
	DirectionImport Direction = "import"
	DirectionExport Direction = "export"
)

// AppLabel はジョブモデルが管理画面に登録される app_label です。
const AppLabel = "jobs"

// Job は両方向のジョブに共通する操作です。
type Job interface {
	JobID() uint
	JobDirection() Direction
	PersistedStatus() string
	FormatChoices() []registry.Choice
}

// ImportJob はインポートジョブです。
type ImportJob struct {
	ID                  uint       `json:"id" gorm:"primaryKey"`
	Model               string     `json:"model" gorm:"size:255;not null;index"`
	Format              string     `json:"format" gorm:"size:255;not null"`
	File                string     `json:"file" gorm:"type:text"`
	JobStatus           string     `json:"job_status" gorm:"size:160"`
	ChangeSummary       string     `json:"change_summary" gorm:"type:text"`
	Errors              string     `json:"errors" gorm:"type:text"`
	Imported            *time.Time `json:"imported"`
	ProcessingInitiated *time.Time `json:"processing_initiated"`
	Author              string     `json:"author" gorm:"size:150"`
	UpdatedBy           string     `json:"updated_by" gorm:"size:150"`
	CreatedAt           time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// TableName は gorm のテーブル名です。
func (ImportJob) TableName() string { return "import_jobs" }

func (j *ImportJob) JobID() uint { return j.ID }
func (j *ImportJob) JobDirection() Direction { return DirectionImport }
func (j *ImportJob) PersistedStatus() string { return j.JobStatus }

// FormatChoices はインポート可能な形式を返します。
func (j *ImportJob) FormatChoices() []registry.Choice {
	return registry.FormatChoices(registry.ImportFormats())
}

// ExportJob はエクスポートジョブです。
type ExportJob struct {
	ID                  uint       `json:"id" gorm:"primaryKey"`
	AppLabel            string     `json:"app_label" gorm:"size:160;not null"`
	Model               string     `json:"model" gorm:"size:160;not null;index"`
	Resource            string     `json:"resource" gorm:"size:255"`
	Format              string     `json:"format" gorm:"size:255;not null"`
	QuerySet            string     `json:"queryset" gorm:"column:queryset;type:text"`
	SiteOfOrigin        string     `json:"site_of_origin" gorm:"size:255"`
	File                string     `json:"file" gorm:"type:text"`
	JobStatus           string     `json:"job_status" gorm:"size:160"`
	ProcessingInitiated *time.Time `json:"processing_initiated"`
	Author              string     `json:"author" gorm:"size:150"`
	UpdatedBy           string     `json:"updated_by" gorm:"size:150"`
	CreatedAt           time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt           time.Time  `json:"updated_at"`

	// 対象モデルの設定。保存はされず、フォームの選択肢を作るために使う
	Settings *registry.ModelSettings `json:"-" gorm:"-"`
}

// TableName は gorm のテーブル名です。
func (ExportJob) TableName() string { return "export_jobs" }

func (j *ExportJob) JobID() uint { return j.ID }
func (j *ExportJob) JobDirection() Direction { return DirectionExport }
func (j *ExportJob) PersistedStatus() string { return j.JobStatus }

// FormatChoices はエクスポート可能な形式を返します。
func (j *ExportJob) FormatChoices() []registry.Choice {
	return registry.FormatChoices(registry.ExportFormats())
}

// ResourceChoices は対象モデルに登録されたリソースの選択肢を返します。
func (j *ExportJob) ResourceChoices() []registry.Choice {
	if j.Settings == nil {
		return []registry.Choice{}
	}
	return j.Settings.ResourceChoices()
}

// QueryPayload は ExportJob.QuerySet に保存する JSON です。
// キー名はワーカー側と共有する形式なので変えないでください。
type QueryPayload struct {
	QueryString      string `json:"queryString"`
	FrameworkVersion string `json:"djangoVersion"`
	Query            string `json:"query"`
}
