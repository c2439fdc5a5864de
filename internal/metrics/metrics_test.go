package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposure(t *testing.T) {
	ObserveBackendCall("notes/show", time.Now().Add(-120*time.Millisecond), 200, false)
	ObserveBackendCall("notes/show", time.Now(), 429, true)
	IncAPIRetry("notes/show")
	ObserveOperation("thread", time.Now().Add(-1500*time.Millisecond), nil)
	ObserveOperation("timeline", time.Now(), errors.New("boom"))
	SetEmojiEntries("misskey.example", 12)
	IncEmojiPopulation("ok")
	IncCommandRun("thread")
	IncCommandError("thread")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, m := range []string{
		"threadlens_backend_calls_total",
		`threadlens_backend_errors_total{endpoint="notes/show",status="429"}`,
		"threadlens_backend_duration_seconds",
		"threadlens_api_retries_total",
		`threadlens_operation_duration_seconds_count{operation="timeline",outcome="error"}`,
		`threadlens_emoji_cache_entries{host="misskey.example"} 12`,
		"threadlens_emoji_populations_total",
		"threadlens_command_runs_total",
		"threadlens_command_errors_total",
	} {
		if !strings.Contains(body, m) {
			t.Fatalf("expected metric %s in body", m)
		}
	}
}
