package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"exifquarter/ledger/pkg/config"
	"exifquarter/ledger/pkg/quota"
	"exifquarter/ledger/pkg/quota/abuse"
	"exifquarter/ledger/pkg/quota/storage"
)

func newTestServer(t *testing.T, mutate func(*Options)) *Server {
	t.Helper()

	store := storage.NewMemoryAdapter()
	opts := Options{
		Ledger: quota.NewLedger(store, quota.Config{}),
		Store:  store,
	}
	if mutate != nil {
		mutate(&opts)
	}

	cfg := config.ServerConfig{}
	var root config.Config
	config.ApplyDefaults(&root)
	cfg = root.Server
	cfg.WebhookToken = "hook-secret"

	return NewServer(&cfg, opts)
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.10:54321"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBalance(t *testing.T, rec *httptest.ResponseRecorder) balanceResponse {
	t.Helper()
	var body balanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v\n%s", err, rec.Body.String())
	}
	return body
}

func TestServer_BalanceCreatesAnonymousBaseline(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/v1/balance", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	body := decodeBalance(t, rec)
	if body.Credits != 15 {
		t.Errorf("credits = %d, want 15", body.Credits)
	}
	// Without X-Identity the client address is the identity.
	if body.Identity != "203.0.113.10" {
		t.Errorf("identity = %q, want client host", body.Identity)
	}
	if got := rec.Header().Get("X-Credits-Remaining"); got != "15" {
		t.Errorf("X-Credits-Remaining = %q, want 15", got)
	}
	if rec.Header().Get("X-Credits-Reset") == "" {
		t.Error("X-Credits-Reset header missing")
	}
	if rec.Header().Get("X-Ledger-Degraded") != "" {
		t.Error("X-Ledger-Degraded set on healthy store")
	}
}

func TestServer_RegisteredTier(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/v1/balance", "", map[string]string{
		"X-Identity":   "user-42",
		"X-Registered": "true",
	})
	body := decodeBalance(t, rec)
	if body.Credits != 50 {
		t.Errorf("registered credits = %d, want 50", body.Credits)
	}
	if body.Identity != "user-42" {
		t.Errorf("identity = %q", body.Identity)
	}
}

func TestServer_DeductUsesCostTable(t *testing.T) {
	handler := newTestServer(t, nil).Handler()
	headers := map[string]string{"X-Identity": "user-1"}

	rec := doRequest(t, handler, http.MethodPost, "/v1/deduct",
		`{"operation":"convert"}`, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if body := decodeBalance(t, rec); body.Credits != 14 {
		t.Errorf("credits = %d, want 14", body.Credits)
	}

	rec = doRequest(t, handler, http.MethodPost, "/v1/deduct",
		`{"operation":"bulkDownload"}`, headers)
	if body := decodeBalance(t, rec); body.Credits != 9 {
		t.Errorf("credits after bulk = %d, want 9", body.Credits)
	}
	if len(decodeBalance(t, rec).Operations) != 2 {
		t.Errorf("operations = %d, want 2", len(decodeBalance(t, rec).Operations))
	}
}

func TestServer_DeductExplicitAmount(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	rec := doRequest(t, handler, http.MethodPost, "/v1/deduct",
		`{"operation":"convert","amount":3}`, map[string]string{"X-Identity": "user-1"})
	if body := decodeBalance(t, rec); body.Credits != 12 {
		t.Errorf("credits = %d, want 12", body.Credits)
	}
}

func TestServer_DeductInsufficientIs402(t *testing.T) {
	handler := newTestServer(t, nil).Handler()
	headers := map[string]string{"X-Identity": "user-1"}

	rec := doRequest(t, handler, http.MethodPost, "/v1/deduct",
		`{"operation":"convert","amount":20}`, headers)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}

	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Credits == nil || *body.Credits != 15 {
		t.Errorf("credits in body = %v, want 15", body.Credits)
	}
	if body.Required == nil || *body.Required != 20 {
		t.Errorf("required in body = %v, want 20", body.Required)
	}
	if got := rec.Header().Get("X-Credits-Remaining"); got != "15" {
		t.Errorf("X-Credits-Remaining = %q, want 15", got)
	}

	// The rejected deduction spent nothing.
	rec = doRequest(t, handler, http.MethodGet, "/v1/balance", "", headers)
	if body := decodeBalance(t, rec); body.Credits != 15 {
		t.Errorf("credits after rejection = %d, want 15", body.Credits)
	}
}

func TestServer_DeductValidation(t *testing.T) {
	handler := newTestServer(t, nil).Handler()
	headers := map[string]string{"X-Identity": "user-1"}

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing operation", `{"amount":1}`},
		{"negative amount", `{"operation":"convert","amount":-2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, handler, http.MethodPost, "/v1/deduct", tt.body, headers)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestServer_CreditWebhook(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	// Spend some credits first.
	doRequest(t, handler, http.MethodPost, "/v1/deduct",
		`{"operation":"bulkDownload"}`, map[string]string{"X-Identity": "user-1"})

	rec := doRequest(t, handler, http.MethodPost, "/v1/credit",
		`{"identityKey":"user-1","amount":100,"reason":"payment"}`,
		map[string]string{"Authorization": "Bearer hook-secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if body := decodeBalance(t, rec); body.Credits != 110 {
		t.Errorf("credits = %d, want 110", body.Credits)
	}
}

func TestServer_CreditRejectsBadToken(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	rec := doRequest(t, handler, http.MethodPost, "/v1/credit",
		`{"identityKey":"user-1","amount":100}`,
		map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/v1/credit",
		`{"identityKey":"user-1","amount":100}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", rec.Code)
	}
}

func TestServer_Healthz(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["store"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "exifquarter_ledger") {
		t.Error("ledger metrics missing from /metrics output")
	}
}

func TestServer_GuardBlocksLedgerRoutes(t *testing.T) {
	handler := newTestServer(t, func(opts *Options) {
		opts.Guard = abuse.NewGuard(abuse.NewMemoryCounterStore(), abuse.Config{
			Ceiling: 2,
			Window:  time.Hour,
		})
	}).Handler()
	headers := map[string]string{"X-Identity": "noisy-user"}

	for i := 0; i < 2; i++ {
		rec := doRequest(t, handler, http.MethodGet, "/v1/balance", "", headers)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}

	rec := doRequest(t, handler, http.MethodGet, "/v1/balance", "", headers)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	// Other identities are unaffected, and /healthz is never guarded.
	if rec := doRequest(t, handler, http.MethodGet, "/v1/balance", "", map[string]string{"X-Identity": "calm-user"}); rec.Code != http.StatusOK {
		t.Errorf("calm-user status = %d", rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodGet, "/healthz", "", headers); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	if rec := doRequest(t, handler, http.MethodPost, "/v1/balance", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /v1/balance status = %d, want 405", rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodGet, "/v1/deduct", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /v1/deduct status = %d, want 405", rec.Code)
	}
}

func TestServer_RequestIDHeader(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID missing")
	}

	rec = doRequest(t, handler, http.MethodGet, "/healthz", "", map[string]string{"X-Request-ID": "trace-7"})
	if got := rec.Header().Get("X-Request-ID"); got != "trace-7" {
		t.Errorf("X-Request-ID = %q, want client-provided trace-7", got)
	}
}
