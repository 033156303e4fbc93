package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCanonicalPath(t *testing.T) {
	const id = "5b1f3c9e-8d0a-4c1e-9b7f-2a6d4e8f0c11"
	cases := []struct {
		in, want string
	}{
		{"", "/"},
		{"/metrics", "/metrics"},
		{"/api/v1/admin/roles/" + id + "/permissions", "/api/v1/admin/roles/:id/permissions"},
		{"/api/v1/admin/roles/" + id + "/permissions/" + id, "/api/v1/admin/roles/:id/permissions/:id"},
		{"/api/v1/admin/clients/not-an-id", "/api/v1/admin/clients/not-an-id"},
		{"/api/v1/auth/token?grant=1", "/api/v1/auth/token"},
	}
	for _, tc := range cases {
		if got := CanonicalPath(tc.in); got != tc.want {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRecordIssueFailureLabels(t *testing.T) {
	before := counterValue(t, tokenIssueFailures.WithLabelValues("bad_secret"))
	RecordIssueFailure("bad_secret")
	RecordIssueFailure("")
	if got := counterValue(t, tokenIssueFailures.WithLabelValues("bad_secret")); got != before+1 {
		t.Fatalf("expected counter to increase by 1, got %v -> %v", before, got)
	}
	if got := counterValue(t, tokenIssueFailures.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("expected empty reason recorded as unknown, got %v", got)
	}
}

func TestInstrumentUsesCanonicalPath(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	path := "/api/v1/admin/clients/5b1f3c9e-8d0a-4c1e-9b7f-2a6d4e8f0c11/roles"
	before := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/admin/clients/:id/roles", "201"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, path, nil))
	after := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/admin/clients/:id/roles", "201"))
	if after != before+1 {
		t.Fatalf("expected canonical label to be counted, got %v -> %v", before, after)
	}
}

func TestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	Logger().Info("hello", "component", "test")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%s)", err, buf.String())
	}
	for _, key := range []string{"ts", "level", "msg", "component"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in %v", key, entry)
		}
	}
	if entry["level"] != "info" || !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()
	defer SetLevel("info")

	SetLevel("warn")
	Logger().Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %s", buf.String())
	}
	SetLevel("debug")
	Logger().Debug("loud")
	if buf.Len() == 0 {
		t.Fatal("expected debug line after lowering level")
	}
}
