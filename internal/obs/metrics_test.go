package obs

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.Probe("full")
	m.Probe("full")
	m.Probe("secured")
	m.Round()
	m.Refresh("ok")
	m.Skipped("duplicate")
	m.SetSecured(1)
	m.ObserveRequest("list", time.Now().Add(-20*time.Millisecond))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`coursegrab_probe_total{outcome="full"} 2`,
		`coursegrab_probe_total{outcome="secured"} 1`,
		`coursegrab_rounds_total 1`,
		`coursegrab_token_refresh_total{result="ok"} 1`,
		`coursegrab_skipped_total{reason="duplicate"} 1`,
		`coursegrab_secured_courses 1`,
		`coursegrab_request_latency_ms_count{endpoint="list"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in metrics output", want)
		}
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Probe("full")
	m.Round()
	m.Refresh("fail")
	m.Skipped("time_slot")
	m.SetSecured(2)
	m.ObserveRequest("claim", time.Now())
}

func TestNewMetrics_Twice(t *testing.T) {
	// private registries: no duplicate registration panic
	_ = NewMetrics()
	_ = NewMetrics()
}
