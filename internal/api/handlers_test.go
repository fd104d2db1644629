package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/mkrv/messengerq/internal/automation"
	"github.com/mkrv/messengerq/internal/classify"
	"github.com/mkrv/messengerq/internal/config"
	"github.com/mkrv/messengerq/internal/engine"
	"github.com/mkrv/messengerq/internal/quota"
	"github.com/mkrv/messengerq/internal/store"
)

// idleSender never gets called in these tests; the engine stays idle.
type idleSender struct{}

func (idleSender) Send(ctx context.Context, key, message string) classify.Result {
	return classify.Result{Disposition: classify.Success}
}

type fixedPicker struct{}

func (fixedPicker) Pick() string { return "hello" }

type testServer struct {
	server  *Server
	store   *store.Store
	profile *store.Profile
	sandbox *automation.Sandbox
}

func setupTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	profile, err := s.EnsureDefaultProfile(store.ProfileDefaults{
		Nickname:   "Test",
		DailyLimit: 30,
		Timezone:   "UTC",
	})
	if err != nil {
		t.Fatalf("failed to create profile: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker := quota.New(s, quota.PolicyTerminal)

	eng := engine.New(s, tracker, idleSender{}, fixedPicker{}, engine.Config{
		ProfileID: profile.ID,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	sandbox := automation.NewSandbox(logger)
	cfg := &config.APIConfig{ListenAddr: ":8080", APIKey: apiKey}
	server := NewServer(s, tracker, eng, sandbox, cfg, logger)

	return &testServer{server: server, store: s, profile: profile, sandbox: sandbox}
}

func (ts *testServer) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t, "")

	w := ts.request(t, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want %q", resp.Status, "ok")
	}
	if resp.Engine != engine.StateIdle {
		t.Errorf("Engine = %q, want %q", resp.Engine, engine.StateIdle)
	}
}

func TestImportEndpoint(t *testing.T) {
	ts := setupTestServer(t, "")

	body := `{"lines": ["100044455566677", "https://facebook.com/profile.php?id=200044455566677", "bogus input", "100044455566677"]}`
	w := ts.request(t, "POST", "/api/v1/uids/import", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var report store.ImportReport
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if report.Added != 2 {
		t.Errorf("Added = %d, want 2", report.Added)
	}
	if report.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", report.Duplicates)
	}
	if len(report.Invalid) != 1 {
		t.Errorf("Invalid = %d, want 1", len(report.Invalid))
	}
}

func TestImportEndpointValidation(t *testing.T) {
	ts := setupTestServer(t, "")

	tests := []struct {
		name string
		body string
	}{
		{"empty lines", `{"lines": []}`},
		{"missing lines", `{}`},
		{"invalid json", `{invalid}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.request(t, "POST", "/api/v1/uids/import", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestUIDListAndGet(t *testing.T) {
	ts := setupTestServer(t, "")

	report, err := ts.store.AddRecipients(ts.profile.ID, []string{"100011122233344", "100011122233355"})
	if err != nil {
		t.Fatalf("failed to seed recipients: %v", err)
	}
	if report.Added != 2 {
		t.Fatalf("seed added = %d, want 2", report.Added)
	}

	w := ts.request(t, "GET", "/api/v1/uids?status=FRESH", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var list UIDListResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(list.Recipients) != 2 {
		t.Fatalf("Recipients = %d, want 2", len(list.Recipients))
	}
	if list.Stats[store.StatusFresh] != 2 {
		t.Errorf("Stats[FRESH] = %d, want 2", list.Stats[store.StatusFresh])
	}

	w = ts.request(t, "GET", "/api/v1/uids/"+list.Recipients[0].ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("detail status = %d, want %d", w.Code, http.StatusOK)
	}

	var detail UIDDetailResponse
	if err := json.NewDecoder(w.Body).Decode(&detail); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if detail.Recipient.NormalizedKey == "" {
		t.Error("Recipient.NormalizedKey is empty")
	}
	if len(detail.Events) == 0 {
		t.Error("Events is empty, want at least the queue event")
	}
}

func TestUIDGetNotFound(t *testing.T) {
	ts := setupTestServer(t, "")

	w := ts.request(t, "GET", "/api/v1/uids/no-such-id", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestUIDRetryRequiresFailedState(t *testing.T) {
	ts := setupTestServer(t, "")

	if _, err := ts.store.AddRecipients(ts.profile.ID, []string{"100099988877766"}); err != nil {
		t.Fatalf("failed to seed recipient: %v", err)
	}
	rcpt, err := ts.store.GetByKey(ts.profile.ID, "100099988877766")
	if err != nil || rcpt == nil {
		t.Fatalf("failed to load recipient: %v", err)
	}

	// Fresh recipients are not retryable.
	w := ts.request(t, "POST", "/api/v1/uids/"+rcpt.ID+"/retry", "")
	if w.Code != http.StatusConflict {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestUIDExport(t *testing.T) {
	ts := setupTestServer(t, "")

	if _, err := ts.store.AddRecipients(ts.profile.ID, []string{"100012345678901"}); err != nil {
		t.Fatalf("failed to seed recipient: %v", err)
	}

	w := ts.request(t, "GET", "/api/v1/uids/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("100012345678901")) {
		t.Error("export body does not contain the recipient key")
	}
}

func TestQuotaEndpoint(t *testing.T) {
	ts := setupTestServer(t, "")

	w := ts.request(t, "GET", "/api/v1/quota", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var qs quota.Status
	if err := json.NewDecoder(w.Body).Decode(&qs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if qs.Limit != 30 {
		t.Errorf("Limit = %d, want 30", qs.Limit)
	}
	if qs.Remaining != 30 {
		t.Errorf("Remaining = %d, want 30", qs.Remaining)
	}
}

func TestEngineLifecycleEndpoints(t *testing.T) {
	ts := setupTestServer(t, "")

	// Pausing an idle engine is an invalid transition.
	w := ts.request(t, "POST", "/api/v1/engine/pause", "")
	if w.Code != http.StatusConflict {
		t.Errorf("pause while idle: Status = %d, want %d", w.Code, http.StatusConflict)
	}

	w = ts.request(t, "POST", "/api/v1/engine/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("start: Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	w = ts.request(t, "POST", "/api/v1/engine/stop", "")
	if w.Code != http.StatusOK {
		t.Errorf("stop: Status = %d, want %d", w.Code, http.StatusOK)
	}

	w = ts.request(t, "GET", "/api/v1/engine", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: Status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp EngineStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.State != engine.StateStopped {
		t.Errorf("State = %q, want %q", resp.State, engine.StateStopped)
	}
	if resp.Quota == nil {
		t.Error("Quota is nil")
	}
}

func TestEngineSwitchProfileEndpoint(t *testing.T) {
	ts := setupTestServer(t, "")

	second, err := ts.store.CreateProfile("Second", 10, "UTC")
	if err != nil {
		t.Fatalf("failed to create profile: %v", err)
	}

	w := ts.request(t, "POST", "/api/v1/engine/profile", fmt.Sprintf(`{"profile_id": %d}`, second.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	w = ts.request(t, "GET", "/api/v1/engine", "")
	var resp EngineStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.ProfileID != second.ID {
		t.Errorf("ProfileID = %d, want %d", resp.ProfileID, second.ID)
	}

	w = ts.request(t, "POST", "/api/v1/engine/profile", `{"profile_id": 9999}`)
	if w.Code != http.StatusConflict {
		t.Errorf("unknown profile: Status = %d, want %d", w.Code, http.StatusConflict)
	}

	w = ts.request(t, "POST", "/api/v1/engine/profile", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing profile_id: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestProfileEndpoints(t *testing.T) {
	ts := setupTestServer(t, "")

	w := ts.request(t, "POST", "/api/v1/profiles", `{"nickname": "Alt", "daily_limit": 5, "timezone": "Europe/Berlin"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: Status = %d, want %d. Body: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	var created store.Profile
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	w = ts.request(t, "PUT", fmt.Sprintf("/api/v1/profiles/%d", created.ID), `{"nickname": "Alt2", "daily_limit": 7}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: Status = %d, want %d. Body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	w = ts.request(t, "GET", "/api/v1/profiles", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: Status = %d, want %d", w.Code, http.StatusOK)
	}
	var profiles []*store.Profile
	if err := json.NewDecoder(w.Body).Decode(&profiles); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(profiles) != 2 {
		t.Errorf("profiles = %d, want 2", len(profiles))
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := setupTestServer(t, "secret-key")

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"no auth", nil, http.StatusUnauthorized},
		{"wrong key", map[string]string{"Authorization": "Bearer wrong-key"}, http.StatusUnauthorized},
		{"bearer key", map[string]string{"Authorization": "Bearer secret-key"}, http.StatusOK},
		{"plain authorization", map[string]string{"Authorization": "secret-key"}, http.StatusOK},
		{"x-api-key header", map[string]string{"X-API-Key": "secret-key"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/quota", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			ts.server.Router().ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("Status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	// Health stays open without a key.
	w := ts.request(t, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health: Status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSandboxEndpoints(t *testing.T) {
	ts := setupTestServer(t, "")

	ctx := context.Background()
	if _, err := ts.sandbox.Navigate(ctx, "https://www.facebook.com/messages/t/100012345678901"); err != nil {
		t.Fatalf("sandbox navigate failed: %v", err)
	}
	if _, err := ts.sandbox.ComposeAndSend(ctx, "hi there"); err != nil {
		t.Fatalf("sandbox send failed: %v", err)
	}

	w := ts.request(t, "GET", "/api/v1/sandbox/sends", "")
	if w.Code != http.StatusOK {
		t.Fatalf("sends: Status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("Total = %d, want 1", resp.Total)
	}

	w = ts.request(t, "POST", "/api/v1/sandbox/errors", `{"enabled": true, "probability": 1.5}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad probability: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = ts.request(t, "POST", "/api/v1/sandbox/script", `{"fragment": "12345", "reason": "account_restricted"}`)
	if w.Code != http.StatusOK {
		t.Errorf("script: Status = %d, want %d", w.Code, http.StatusOK)
	}

	w = ts.request(t, "DELETE", "/api/v1/sandbox/sends", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("clear: Status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if len(ts.sandbox.Sends()) != 0 {
		t.Error("sandbox sends not cleared")
	}
}
