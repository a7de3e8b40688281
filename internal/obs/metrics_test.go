package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/metrics":                "/metrics",
		"/v1/defects/12":          "/v1/defects/:id",
		"/v1/defects/12/comments": "/v1/defects/:id/comments",
		"/v1/projects/3/history":  "/v1/projects/:id/history",
		"/v1/defects?status=new":  "/v1/defects",
		"/v1/users/7/history?x=1": "/v1/users/:id/history",
		"/v1/defects/abc":         "/v1/defects/abc",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestRecordHistoryCounts(t *testing.T) {
	before := testutil.ToFloat64(historyEntriesTotal.WithLabelValues("defect_created"))
	RecordHistory("defect_created")
	RecordHistory("defect_created")
	after := testutil.ToFloat64(historyEntriesTotal.WithLabelValues("defect_created"))
	if after-before != 2 {
		t.Fatalf("expected counter to grow by 2, got %v", after-before)
	}
}

func TestInstrumentRecordsStatus(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/defects/42", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/defects/:id", "418"))
	if got < 1 {
		t.Fatalf("expected request to be counted, got %v", got)
	}
}

func TestLogWritesJSONLine(t *testing.T) {
	l := Logger()
	original := l.Writer()
	var buf bytes.Buffer
	l.SetOutput(&buf)
	defer l.SetOutput(original)

	Info("store_hydrated", map[string]any{"defects": 6})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["level"] != "info" || entry["msg"] != "store_hydrated" || entry["defects"] != float64(6) {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatal("expected ts field")
	}
}
