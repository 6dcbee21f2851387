package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/lapclock/internal/domain"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_Jobs(t *testing.T) {
	m := New()

	m.JobSubmitted(domain.RenderModeFramePipe)
	m.JobSubmitted(domain.RenderModeFramePipe)
	m.JobFinished(domain.RenderModeFramePipe, domain.JobStatusError, domain.ErrorKindCancelled, 0)
	m.JobFinished(domain.RenderModeFramePipe, domain.JobStatusComplete, domain.ErrorKindNone, 12*time.Second)
	m.SetQueueDepth(2, 5)

	body := scrape(t, m)
	assert.Contains(t, body, `lapclock_jobs_submitted_total{mode="framepipe"} 2`)
	assert.Contains(t, body, `lapclock_jobs_finished_total{kind="cancelled",status="error"} 1`)
	assert.Contains(t, body, `lapclock_jobs_finished_total{kind="none",status="complete"} 1`)
	assert.Contains(t, body, "lapclock_active_renders 2")
	assert.Contains(t, body, "lapclock_queued_renders 5")
	assert.Contains(t, body, `lapclock_render_duration_seconds_count{mode="framepipe"} 1`)
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	handler := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing") {
			http.NotFound(w, r)
			return
		}
		_, ok := w.(http.Flusher)
		assert.True(t, ok, "wrapper keeps http.Flusher")
		w.WriteHeader(http.StatusNoContent)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jobs", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))

	body := scrape(t, m)
	assert.Contains(t, body, "lapclock_http_requests_total 2")
	assert.Contains(t, body, "lapclock_http_errors_total 1")
}
