package observe

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)
	tp, exp := newTestTracerProvider(t)
	useGlobalTracer(t, tp)
	return m, reader, exp
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func status(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	})
}

func TestMiddleware_TraceIDHeader(t *testing.T) {
	m, _, _ := testSetup(t)

	var seen string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	}))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if !hexTraceID.MatchString(seen) {
		t.Fatalf("handler trace ID = %q", seen)
	}
	if got := rec.Header().Get(TraceIDHeader); got != seen {
		t.Errorf("%s = %q, want %q", TraceIDHeader, got, seen)
	}
	if rec.Header().Get("traceparent") == "" {
		t.Error("traceparent not injected into response")
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	m, _, _ := testSetup(t)
	const incoming = "4bf92f3577b34da6a3ce929d0e0e4736"

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-"+incoming+"-00f067aa0ba902b7-01")
	rec := serve(Middleware(m)(status(http.StatusOK)), req)

	if got := rec.Header().Get(TraceIDHeader); got != incoming {
		t.Errorf("%s = %q, want %q", TraceIDHeader, got, incoming)
	}
}

func TestMiddleware_Span(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		wantError bool
	}{
		{name: "ok", code: http.StatusOK},
		{name: "not found", code: http.StatusNotFound},
		{name: "unavailable", code: http.StatusServiceUnavailable, wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, exp := testSetup(t)
			serve(Middleware(m)(status(tt.code)), httptest.NewRequest(http.MethodGet, "/readyz", nil))

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			span := spans[0]
			if span.Name != "GET /readyz" {
				t.Errorf("span name = %q, want %q", span.Name, "GET /readyz")
			}
			found := false
			for _, a := range span.Attributes {
				if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == int64(tt.code) {
					found = true
				}
			}
			if !found {
				t.Errorf("span missing status code %d", tt.code)
			}
			if got := span.Status.Code == codes.Error; got != tt.wantError {
				t.Errorf("span error status = %v, want %v", got, tt.wantError)
			}
		})
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	m, reader, _ := testSetup(t)
	serve(Middleware(m)(status(http.StatusTeapot)), httptest.NewRequest(http.MethodPost, "/debug", nil))

	met := findMetric(collect(t, reader), "easyvoice.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want histogram", met.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("data points = %+v, want one sample", hist.DataPoints)
	}

	want := map[string]string{"method": "POST", "path": "/debug", "status": "418"}
	for _, kv := range hist.DataPoints[0].Attributes.ToSlice() {
		if w, ok := want[string(kv.Key)]; ok && kv.Value.AsString() == w {
			delete(want, string(kv.Key))
		}
	}
	if len(want) != 0 {
		t.Errorf("missing attributes %v", want)
	}
}

func TestMiddleware_ProbeLogLevel(t *testing.T) {
	tests := []struct {
		path    string
		wantLog bool
	}{
		{path: "/healthz", wantLog: false},
		{path: "/readyz", wantLog: false},
		{path: "/metrics", wantLog: false},
		{path: "/debug/session", wantLog: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			m, _, _ := testSetup(t)
			buf := captureLogs(t, slog.LevelInfo)

			serve(Middleware(m)(status(http.StatusOK)), httptest.NewRequest(http.MethodGet, tt.path, nil))

			got := bytes.Contains(buf.Bytes(), []byte("request completed"))
			if got != tt.wantLog {
				t.Errorf("logged at info = %v, want %v (%s)", got, tt.wantLog, buf)
			}
		})
	}
}
