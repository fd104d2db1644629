package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestResponseWriterCapturesStatus(t *testing.T) {
	w := httptest.NewRecorder()
	rw := wrapResponseWriter(w)

	if rw.status != http.StatusOK {
		t.Errorf("initial status = %d, want %d", rw.status, http.StatusOK)
	}

	rw.WriteHeader(http.StatusNotFound)
	if rw.status != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rw.status, http.StatusNotFound)
	}

	// A second WriteHeader must not override the first.
	rw.WriteHeader(http.StatusInternalServerError)
	if rw.status != http.StatusNotFound {
		t.Errorf("status changed to %d after second WriteHeader", rw.status)
	}
}

func TestHTTPMiddlewareRecordsRequests(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("GET", "/api/v1/quota", "503")); got != 1 {
		t.Errorf("api_requests{GET,/api/v1/quota,503} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.APIErrorsTotal.WithLabelValues("server_error")); got != 1 {
		t.Errorf("api_errors{server_error} = %v, want 1", got)
	}
}

func TestNormalizePathMasksRecipientIDs(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/uids/0f8fad5b-d9cb-469f-a165-70867728950e", nil)
	if got := normalizePath(req); got != "/api/v1/uids/{id}" {
		t.Errorf("normalizePath = %q, want /api/v1/uids/{id}", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/uids", nil)
	if got := normalizePath(req); got != "/api/v1/uids" {
		t.Errorf("normalizePath = %q, want /api/v1/uids", got)
	}
}

func TestCategorizeStatus(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{500, "server_error"},
		{503, "server_error"},
		{401, "auth_error"},
		{403, "auth_error"},
		{404, "not_found"},
		{400, "bad_request"},
		{422, "client_error"},
	}
	for _, tt := range tests {
		if got := categorizeStatus(tt.status); got != tt.want {
			t.Errorf("categorizeStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
