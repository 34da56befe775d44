package jobs

import (
	"fmt"

	"github.com/yourusername/import-export-admin/internal/models"
)

const (
	// TaskTypeImport はインポートジョブのタスク種別です。
	TaskTypeImport = "import:run"
	// TaskTypeExport はエクスポートジョブのタスク種別です。
	TaskTypeExport = "export:run"
	// QueueName はジョブを投入する Asynq のキュー名です。
	QueueName = "import_export"
)

// TaskPayload はジョブタスクのペイロードです。
type TaskPayload struct {
	JobID  uint `json:"jobId"`
	DryRun bool `json:"dryRun,omitempty"`
}

// ステータスは "<段階>/<全段階> <メッセージ>" 形式で保存する
const totalSteps = 5

const (
	stepStarted  = 1
	stepReading  = 2
	stepRunning  = 3
	stepWriting  = 4
	stepFinished = 5
)

const dryRunPrefix = "[Dry run] "

// statusMessage はワーカーが書き込むステータス文字列を作ります。
func statusMessage(direction models.Direction, step int, message string, dryRun bool) string {
	s := fmt.Sprintf("%d/%d %s", step, totalSteps, message)
	if dryRun && direction == models.DirectionImport {
		return dryRunPrefix + s
	}
	return s
}

// failedStatus は失敗時のステータス文字列を返します。
func failedStatus(direction models.Direction, err error) string {
	s := fmt.Sprintf("%s job failed: %v", direction, err)
	// job_status カラムの長さに収める
	if r := []rune(s); len(r) > 160 {
		s = string(r[:157]) + "..."
	}
	return s
}
