package observe

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumInt64(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: unexpected data type %T", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecordAttempt(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAttempt(ctx, "lesson", 66, 2, 3)
	m.RecordAttempt(ctx, "coach", 100, 4, 4)

	rm := collect(t, reader)
	attempts := findMetric(rm, "sotaque.attempts")
	if attempts == nil {
		t.Fatal("sotaque.attempts not found")
	}
	if got := sumInt64(t, attempts); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	words := findMetric(rm, "sotaque.words.scored")
	if words == nil {
		t.Fatal("sotaque.words.scored not found")
	}
	if got := sumInt64(t, words); got != 7 {
		t.Fatalf("words scored = %d, want 7", got)
	}
	if findMetric(rm, "sotaque.attempt.score") == nil {
		t.Fatal("sotaque.attempt.score not found")
	}
}

func TestRecordStoreErrorAndRecognition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStoreError(ctx, "record_outcomes")
	m.RecordRecognition(ctx, 300*time.Millisecond, "")
	m.RecordRecognition(ctx, 10*time.Millisecond, "malformed")

	rm := collect(t, reader)
	if got := sumInt64(t, findMetric(rm, "sotaque.store.errors")); got != 1 {
		t.Fatalf("store errors = %d, want 1", got)
	}
	if got := sumInt64(t, findMetric(rm, "sotaque.recognition.errors")); got != 1 {
		t.Fatalf("recognition errors = %d, want 1", got)
	}
	hist := findMetric(rm, "sotaque.recognition.duration")
	if hist == nil {
		t.Fatal("sotaque.recognition.duration not found")
	}
	data, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok || len(data.DataPoints) != 1 || data.DataPoints[0].Count != 2 {
		t.Fatalf("unexpected histogram data %+v", hist.Data)
	}
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	m, reader := newTestMetrics(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := mux.NewRouter()
	r.Use(Middleware(m, logger))
	r.HandleFunc("/exams/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/exams/abc", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rr.Code)
	}

	rm := collect(t, reader)
	hist := findMetric(rm, "sotaque.http.request.duration")
	if hist == nil {
		t.Fatal("http duration not recorded")
	}
	data := hist.Data.(metricdata.Histogram[float64])
	route, _ := data.DataPoints[0].Attributes.Value("route")
	if route.AsString() != "/exams/{id}" {
		t.Fatalf("route = %q", route.AsString())
	}
}

func TestProviderHandlerServesMetrics(t *testing.T) {
	p, err := InitProvider()
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(p.MeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.ExamsCompleted.Add(context.Background(), 1)

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if body := rr.Body.String(); !strings.Contains(body, "exams") || !strings.Contains(body, "completed") {
		t.Fatalf("metrics output missing exam counter:\n%s", rr.Body.String())
	}
}
