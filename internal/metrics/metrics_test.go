package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEnqueuedAndHandler(t *testing.T) {
	before := testutil.ToFloat64(JobsEnqueued.WithLabelValues("import", "true"))
	RecordEnqueued("import", true)
	assert.Equal(t, before+1, testutil.ToFloat64(JobsEnqueued.WithLabelValues("import", "true")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "admin_jobs_enqueued_total"))
}
