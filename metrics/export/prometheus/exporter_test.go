package prometheus

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goIdentity "github.com/MrEthical07/goIdentity"
)

type fakeSource struct {
	snapshot goIdentity.MetricsSnapshot
	dropped  uint64
	mail     uint64
}

func (f fakeSource) MetricsSnapshot() goIdentity.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }
func (f fakeSource) MailDropped() uint64                         { return f.mail }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := New(fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters:   map[goIdentity.MetricID]uint64{},
			Histograms: map[goIdentity.MetricID][]uint64{},
		},
		dropped: 0,
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterAndHistogram(t *testing.T) {
	exp := New(fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters: map[goIdentity.MetricID]uint64{
				goIdentity.MetricLoginSuccess: 7,
			},
			Histograms: map[goIdentity.MetricID][]uint64{
				goIdentity.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
		mail:    5,
	})

	out := exp.Render()
	if !strings.Contains(out, "identity_login_success_total 7") {
		t.Fatalf("expected login_success counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "identity_validate_latency_seconds_bucket{le=\"0.005\"} 1") {
		t.Fatalf("expected first histogram bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "identity_validate_latency_seconds_bucket{le=\"+Inf\"} 36") {
		t.Fatalf("expected +Inf cumulative bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "identity_audit_dropped_total 2") {
		t.Fatalf("expected audit dropped counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "identity_mail_queue_dropped_total 5") {
		t.Fatalf("expected mail dropped counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "identity_login_latency_seconds_count 0") {
		t.Fatalf("expected empty login histogram in output, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := New(fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters:   map[goIdentity.MetricID]uint64{goIdentity.MetricLoginSuccess: 1},
			Histograms: map[goIdentity.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

type failingWriter struct{ writes int }

func (f *failingWriter) Write(p []byte) (int, error) {
	f.writes++
	return 0, errors.New("disk full")
}

func TestWriteToStopsAtFirstError(t *testing.T) {
	exp := New(fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters: map[goIdentity.MetricID]uint64{goIdentity.MetricLoginSuccess: 1},
		},
	})
	w := &failingWriter{}
	if _, err := exp.WriteTo(w); err == nil {
		t.Fatal("expected write error")
	}
	if w.writes != 1 {
		t.Fatalf("expected writes to stop after the first failure, got %d", w.writes)
	}
}

func TestHelpEscaping(t *testing.T) {
	var sb strings.Builder
	counter(&sb, "x_total", "a\\b\nc", 1)
	if !strings.Contains(sb.String(), `# HELP x_total a\\b\nc`) {
		t.Fatalf("unexpected help line:\n%s", sb.String())
	}
}

func BenchmarkRender(b *testing.B) {
	exp := New(fakeSource{
		snapshot: goIdentity.MetricsSnapshot{
			Counters: map[goIdentity.MetricID]uint64{
				goIdentity.MetricLoginSuccess:         1000,
				goIdentity.MetricLoginFailure:         40,
				goIdentity.MetricTwoFactorRequired:    300,
				goIdentity.MetricTwoFactorSuccess:     290,
				goIdentity.MetricCredentialIssued:     1290,
				goIdentity.MetricCodeSent:             350,
				goIdentity.MetricPasswordResetFailure: 3,
			},
			Histograms: map[goIdentity.MetricID][]uint64{
				goIdentity.MetricLoginLatency:    {5, 10, 40, 300, 600, 100, 20, 5},
				goIdentity.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
		dropped: 0,
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
