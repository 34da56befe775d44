// Package metrics はジョブ処理の Prometheus メトリクスを定義します。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

var (
	JobsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_jobs_created_total",
			Help: "Total number of job records created from the admin",
		},
		[]string{"direction"},
	)

	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_jobs_enqueued_total",
			Help: "Total number of jobs enqueued for the worker",
		},
		[]string{"direction", "dry_run"},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_jobs_finished_total",
			Help: "Total number of jobs finished by the worker",
		},
		[]string{"direction", "outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "admin_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"direction"},
	)
)

// RecordEnqueued は投入件数を加算します。
func RecordEnqueued(direction string, dryRun bool) {
	JobsEnqueued.WithLabelValues(direction, strconv.FormatBool(dryRun)).Inc()
}

// Handler は /metrics 用のハンドラーを返します。
func Handler() http.Handler {
	return promhttp.Handler()
}
