package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// serveOnce runs one request through Middleware wrapping h and returns the
// recorder together with collected metrics and finished spans.
func serveOnce(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, metricdata.ResourceMetrics, tracetest.SpanStubs) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})

	rec := httptest.NewRecorder()
	Middleware(m)(h).ServeHTTP(rec, req)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rec, rm, exp.GetSpans()
}

func attrValue(dp metricdata.HistogramDataPoint[float64], key string) string {
	v, _ := dp.Attributes.Value(attribute.Key(key))
	return v.AsString()
}

func TestMiddleware_CorrelationID(t *testing.T) {
	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{name: "new trace"},
		{
			name:        "continues incoming trace",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			want:        "4bf92f3577b34da6a3ce929d0e0e4736",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = CorrelationID(r.Context())
			})
			req := httptest.NewRequest(http.MethodGet, "/stats", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec, _, _ := serveOnce(t, h, req)

			if len(seen) != 32 {
				t.Fatalf("correlation ID = %q, want 32 hex chars", seen)
			}
			if tt.want != "" && seen != tt.want {
				t.Errorf("correlation ID = %q, want %q", seen, tt.want)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != seen {
				t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
			}
		})
	}
}

func TestMiddleware_RouteFromServeMux(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /utterances/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec, rm, spans := serveOnce(t, mux, httptest.NewRequest(http.MethodGet, "/utterances/42", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}

	met := findMetric(rm, "voxrelay.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("data points = %+v", hist.DataPoints)
	}
	dp := hist.DataPoints[0]
	if got := attrValue(dp, "route"); got != "GET /utterances/{id}" {
		t.Errorf("route = %q, want the mux pattern", got)
	}
	if got := attrValue(dp, "method"); got != http.MethodGet {
		t.Errorf("method = %q", got)
	}

	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /utterances/{id}" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusTeapot {
		t.Errorf("span status attribute = %d", status)
	}
}

func TestMiddleware_UnroutedPathKeepsRawPath(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
	_, rm, spans := serveOnce(t, h, httptest.NewRequest(http.MethodGet, "/plain", nil))

	hist := findMetric(rm, "voxrelay.http.request.duration").Data.(metricdata.Histogram[float64])
	if got := attrValue(hist.DataPoints[0], "route"); got != "/plain" {
		t.Errorf("route = %q, want /plain", got)
	}
	if spans[0].Name != "HTTP GET /plain" {
		t.Errorf("span name = %q", spans[0].Name)
	}
}

func TestMiddleware_ProbesLoggedAtDebug(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})

	serveOnce(t, h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if strings.Contains(buf.String(), "request completed") {
		t.Errorf("probe logged at info: %s", buf.String())
	}

	serveOnce(t, h, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if !strings.Contains(buf.String(), "path=/stats") {
		t.Errorf("expected info log for /stats, got: %s", buf.String())
	}
}
