package observability

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/x", "200", time.Millisecond)
	m.ObserveAnalysisStage("sampling", "ok", time.Second)
	m.ObserveAnalysisRun("success", 3, 2)
	m.ObserveJob("video_analyze", "succeeded", time.Second)
	m.APIInflightInc()
	m.APIInflightDec()

	rec := httptest.NewRecorder()
	m.WriteHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 503 {
		t.Fatalf("nil metrics status = %d, want 503", rec.Code)
	}
}

func TestMetricsExposition(t *testing.T) {
	m := newMetrics()
	m.ObserveAPI("GET", "/api/videos", "200", 20*time.Millisecond)
	m.ObserveAPI("GET", "/api/videos", "500", time.Second)
	m.ObserveAnalysisStage("objects", "error", 2*time.Second)
	var events int64 = 4
	m.ObserveAnalysisRun("success", 12, events)
	m.ObserveJob("video_analyze", "failed", time.Minute)

	if got := m.apiRequests.Value("GET", "/api/videos", "500"); got != 1 {
		t.Fatalf("500 requests = %v, want 1", got)
	}
	if got := m.apiReqError.Value(); got != 1 {
		t.Fatalf("error requests = %v, want 1", got)
	}
	if got := m.workerError.Value(); got != 1 {
		t.Fatalf("worker errors = %v, want 1", got)
	}

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`vr_api_requests_total{method="GET",route="/api/videos",status="200"} 1`,
		`vr_analysis_stage_total{stage="objects",status="error"} 1`,
		`vr_analysis_stage_duration_seconds_bucket{stage="objects",status="error",le="5"} 1`,
		`vr_analysis_runs_total{status="success"} 1`,
		`vr_analysis_frames_total 12`,
		`vr_analysis_events_total 4`,
		"# TYPE vr_job_duration_seconds histogram",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestLabelEscaping(t *testing.T) {
	got := labelString([]string{"route"}, []string{`a"b\c`})
	if got != `{route="a\"b\\c"}` {
		t.Fatalf("labelString = %s", got)
	}
	if got := withLe("", "+Inf"); got != `{le="+Inf"}` {
		t.Fatalf("withLe = %s", got)
	}
}

func TestOtelSampleRatioClamped(t *testing.T) {
	t.Setenv("OTEL_SAMPLER_RATIO", "4")
	if got := otelSampleRatio(); got != 1 {
		t.Fatalf("ratio = %v, want 1", got)
	}
	t.Setenv("OTEL_SAMPLER_RATIO", "-1")
	if got := otelSampleRatio(); got != 0 {
		t.Fatalf("ratio = %v, want 0", got)
	}
}

func TestOtelHeadersParse(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "api-key=abc, bad ,x=")
	h := otelHeaders()
	if len(h) != 1 || h["api-key"] != "abc" {
		t.Fatalf("headers = %v", h)
	}
}
