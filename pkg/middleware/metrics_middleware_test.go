package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestPrometheusMiddleware_RecordsRequests(t *testing.T) {
	config := defaultMetricsConfig()
	WithRegistry(prometheus.NewRegistry())(&config)
	m := initHTTPMetrics(config)

	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			m.requestDuration.WithLabelValues(r.URL.Path).Observe(0)
			m.requestsTotal.WithLabelValues(r.URL.Path, "200").Inc()
		})
	}

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))

	if got := metricCounterValue(t, m.requestsTotal.WithLabelValues("/healthz", "200")); got != 1 {
		t.Fatalf("requests_total = %v, want 1", got)
	}
	if got := metricHistogramCount(t, m.requestDuration.WithLabelValues("/healthz")); got != 1 {
		t.Fatalf("duration sample count = %v, want 1", got)
	}
}

func TestPrometheusMiddleware_EndToEnd(t *testing.T) {
	reg := prometheus.NewRegistry()
	handler := Prometheus(WithRegistry(reg))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/missing", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/missing", nil))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	var sawRequests bool
	for _, fam := range families {
		if fam.GetName() != "boardstream_http_requests_total" {
			continue
		}
		sawRequests = true
		for _, metric := range fam.GetMetric() {
			if metric.GetCounter().GetValue() != 2 {
				t.Fatalf("requests_total = %v, want 2", metric.GetCounter().GetValue())
			}
			var status string
			for _, label := range metric.GetLabel() {
				if label.GetName() == "status" {
					status = label.GetValue()
				}
			}
			if status != "404" {
				t.Fatalf("status label = %q, want 404", status)
			}
		}
	}
	if !sawRequests {
		t.Fatal("boardstream_http_requests_total not registered")
	}
}

func TestPrometheusMiddleware_SkipsDurationForUpgradeRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	handler := Prometheus(WithRegistry(reg))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/ws", nil))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == "boardstream_http_request_duration_seconds" && len(fam.GetMetric()) > 0 {
			t.Fatal("duration histogram should not observe /ws")
		}
	}
}

func TestMetricsConfigOptions(t *testing.T) {
	config := defaultMetricsConfig()
	if config.Namespace != "boardstream" {
		t.Errorf("Namespace = %q, want %q", config.Namespace, "boardstream")
	}
	if config.Subsystem != "http" {
		t.Errorf("Subsystem = %q, want %q", config.Subsystem, "http")
	}
	if !config.SkipDuration["/ws"] {
		t.Error("SkipDuration should include /ws by default")
	}

	WithNamespace("myapp")(&config)
	WithSubsystem("api")(&config)
	WithBuckets([]float64{0.1, 0.5, 1.0})(&config)
	WithSkipDuration("/stream")(&config)

	if config.Namespace != "myapp" {
		t.Errorf("Namespace = %q, want %q", config.Namespace, "myapp")
	}
	if config.Subsystem != "api" {
		t.Errorf("Subsystem = %q, want %q", config.Subsystem, "api")
	}
	if len(config.Buckets) != 3 {
		t.Errorf("len(Buckets) = %d, want 3", len(config.Buckets))
	}
	if config.SkipDuration["/ws"] {
		t.Error("WithSkipDuration should replace the default set")
	}
	if !config.SkipDuration["/stream"] {
		t.Error("SkipDuration should include /stream")
	}
}
