package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/payex/linking-service/internal/app"
	"github.com/payex/linking-service/internal/config"
	"github.com/payex/linking-service/internal/domain"
	"github.com/payex/linking-service/internal/store"
	"github.com/payex/linking-service/internal/validator"
)

type failingValidator struct{}

func (failingValidator) Provider() domain.Provider { return domain.ProviderDeriv }

func (failingValidator) Validate(context.Context, domain.Credentials) (*domain.AccountSnapshot, error) {
	return nil, &domain.ValidationError{
		Kind:       domain.ErrInvalidCredentials,
		Provider:   domain.ProviderDeriv,
		Message:    "Deriv rejected the API token",
		Diagnostic: `{"error":{"code":"InvalidToken","message":"raw-provider-detail"}}`,
	}
}

type staticBanks []domain.Bank

func (b staticBanks) ListBanks(context.Context) ([]domain.Bank, error) { return b, nil }

type erroringReconciler struct{ calls int }

func (e *erroringReconciler) Reconcile(context.Context, domain.MpesaCallbackEnvelope) (app.ReconcileOutcome, error) {
	e.calls++
	return app.OutcomeIgnored, errors.New("database unavailable")
}

type panickingReconciler struct{}

func (panickingReconciler) Reconcile(context.Context, domain.MpesaCallbackEnvelope) (app.ReconcileOutcome, error) {
	panic("nil account")
}

type testServer struct {
	handler http.Handler
	repo    *store.MemoryLinkedAccountRepository
}

func newTestServer(t *testing.T, reconciler CallbackReconciler) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repo := store.NewMemoryLinkedAccountRepository()
	registry := validator.NewRegistry(
		validator.NewMT5Validator(func(int) int { return 0 }),
		validator.NewManualValidator(domain.ProviderEtoro),
		failingValidator{},
	)
	linking := app.NewLinkingService(repo, registry, nil, nil, "", logger)
	syncer := app.NewSyncService(repo, registry, 2, nil, "", logger)
	if reconciler == nil {
		reconciler = app.NewReconciler(repo, store.NewMemoryCallbackLedger(), time.Hour, nil, "", logger)
	}

	cfg := &config.Config{JWTSecret: "secret", TrustUserHeader: true}
	accounts := NewAccountHandler(linking, syncer, staticBanks{}, logger)
	webhooks := NewWebhookHandler(reconciler, logger)
	return &testServer{handler: NewRouter(cfg, accounts, webhooks, nil, logger), repo: repo}
}

func (s *testServer) do(t *testing.T, method, path, userID, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

const mt5Body = `{"platform":"mt5","broker":"XM","login":5000001,"password":"secret1","server":"XM-Real3"}`

func TestLinkTradingAccount(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodPost, "/link-trading-account", "user-1", mt5Body)
	if rec.Code != http.StatusCreated || body["success"] != true {
		t.Fatalf("expected 201 success, got %d %v", rec.Code, body)
	}
	data := body["data"].(map[string]interface{})
	if data["is_default"] != true || data["provider"] != "mt5" {
		t.Fatalf("unexpected account %v", data)
	}
	for _, key := range []string{"balance", "currency", "status", "metadata", "id"} {
		if _, ok := data[key]; !ok {
			t.Fatalf("expected %q in linked account response, got %v", key, data)
		}
	}

	rec, body = s.do(t, http.MethodPost, "/link-trading-account", "user-1", mt5Body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for an already linked account, got %d %v", rec.Code, body)
	}
	if n, _ := s.repo.CountByUser(context.Background(), "user-1"); n != 1 {
		t.Fatalf("expected one stored account, got %d", n)
	}
}

func TestLinkTradingAccountErrors(t *testing.T) {
	tests := []struct {
		name       string
		userID     string
		body       string
		wantStatus int
		wantCode   string
	}{
		{name: "unauthenticated", body: mt5Body, wantStatus: http.StatusUnauthorized},
		{name: "malformed body", userID: "u", body: `{"platform":`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_INPUT"},
		{name: "unknown platform", userID: "u", body: `{"platform":"robinhood","apiKey":"x"}`, wantStatus: http.StatusBadRequest, wantCode: "UNSUPPORTED_PROVIDER"},
		{name: "non trading platform", userID: "u", body: `{"platform":"mpesa","apiKey":"x"}`, wantStatus: http.StatusBadRequest, wantCode: "UNSUPPORTED_PROVIDER"},
		{name: "missing fields", userID: "u", body: `{"platform":"mt5","broker":"XM"}`, wantStatus: http.StatusBadRequest, wantCode: "INVALID_INPUT"},
		{name: "mt5 login too low", userID: "u", body: `{"platform":"mt5","broker":"XM","login":"99999","password":"secret1","server":"XM-Real"}`, wantStatus: http.StatusUnauthorized, wantCode: "INVALID_CREDENTIALS"},
		{name: "provider rejects", userID: "u", body: `{"platform":"deriv","apiKey":"a1b2c3d4e5f6g7h8i9j0k1l2m3n4o5p6q7"}`, wantStatus: http.StatusUnauthorized, wantCode: "INVALID_CREDENTIALS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			rec, body := s.do(t, http.MethodPost, "/link-trading-account", tt.userID, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if body["success"] != false {
				t.Fatalf("expected success=false, got %v", body)
			}
			if tt.wantCode != "" && body["code"] != tt.wantCode {
				t.Fatalf("expected code %s, got %v", tt.wantCode, body["code"])
			}
			if strings.Contains(rec.Body.String(), "raw-provider-detail") {
				t.Fatalf("provider diagnostic leaked into response: %s", rec.Body.String())
			}
		})
	}
}

func TestManualVerificationAccountCannotSync(t *testing.T) {
	s := newTestServer(t, nil)
	_, body := s.do(t, http.MethodPost, "/link-trading-account", "user-1", `{"platform":"etoro","apiKey":"etoro-key-123"}`)
	data := body["data"].(map[string]interface{})
	if data["status"] != "needs_verification" {
		t.Fatalf("expected needs_verification, got %v", data["status"])
	}

	rec, body := s.do(t, http.MethodPost, "/accounts/"+data["id"].(string)+"/sync", "user-1", "")
	if rec.Code != http.StatusForbidden || body["code"] != "PERMISSION_DENIED" {
		t.Fatalf("expected 403 PERMISSION_DENIED, got %d %v", rec.Code, body)
	}
}

func TestSyncAndListAccounts(t *testing.T) {
	s := newTestServer(t, nil)
	_, body := s.do(t, http.MethodPost, "/link-trading-account", "user-1", mt5Body)
	id := body["data"].(map[string]interface{})["id"].(string)

	rec, body := s.do(t, http.MethodPost, "/accounts/"+id+"/sync", "user-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", rec.Code, body)
	}
	data := body["data"].(map[string]interface{})
	if data["isRealBalance"] != false {
		t.Fatalf("expected simulated balance, got %v", data)
	}

	rec, _ = s.do(t, http.MethodPost, "/accounts/"+id+"/sync", "user-2", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's account, got %d", rec.Code)
	}

	rec, body = s.do(t, http.MethodPost, "/accounts/sync", "user-1", "")
	if rec.Code != http.StatusOK || body["data"].(map[string]interface{})["synced"] != float64(1) {
		t.Fatalf("expected one synced account, got %d %v", rec.Code, body)
	}

	rec, body = s.do(t, http.MethodGet, "/accounts", "user-1", "")
	if rec.Code != http.StatusOK || len(body["data"].([]interface{})) != 1 {
		t.Fatalf("expected one listed account, got %d %v", rec.Code, body)
	}
}

func TestMpesaBalanceCheck(t *testing.T) {
	s := newTestServer(t, nil)
	linkedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	account := &domain.LinkedAccount{
		ID: "acc-m", UserID: "user-1", Provider: domain.ProviderMpesa, Currency: "KES", Status: domain.StatusActive,
		LinkedAt: linkedAt,
		Metadata: domain.AccountMetadata{ExternalAccountID: "254712345678", PhoneNumber: "254712345678", HasBalanceAccess: true},
	}
	if err := s.repo.Create(context.Background(), account); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec, body := s.do(t, http.MethodPost, "/mpesa-balance-check", "user-1", `{"accountId":"acc-m","phoneNumber":"+254712345678"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", rec.Code, body)
	}
	data := body["data"].(map[string]interface{})
	if data["currency"] != "KES" || data["isRealBalance"] != false || data["updatedAt"] == "" {
		t.Fatalf("unexpected balance view %v", data)
	}

	rec, _ = s.do(t, http.MethodPost, "/mpesa-balance-check", "user-1", `{"phoneNumber":"0712345678"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without accountId, got %d", rec.Code)
	}
}

func TestMpesaCallbackAlwaysAcknowledges(t *testing.T) {
	success := `{"Body":{"stkCallback":{"MerchantRequestID":"m1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok","CallbackMetadata":{"Item":[{"Name":"Amount","Value":500},{"Name":"MpesaReceiptNumber","Value":"QK1"},{"Name":"PhoneNumber","Value":254712345678}]}}}}`

	tests := []struct {
		name       string
		body       string
		reconciler CallbackReconciler
		wantStored int
	}{
		{name: "success provisions account", body: success, wantStored: 1},
		{name: "malformed payload", body: `{"Body":`},
		{name: "empty payload", body: ``},
		{name: "reconciler error", body: success, reconciler: &erroringReconciler{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.reconciler)
			rec, body := s.do(t, http.MethodPost, "/mpesa-transaction-callback", "", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if body["ResultCode"] != float64(0) || body["ResultDesc"] != "Success" {
				t.Fatalf("unexpected ack %v", body)
			}
			all, _ := s.repo.List(context.Background(), store.AccountFilter{})
			if len(all) != tt.wantStored {
				t.Fatalf("expected %d stored accounts, got %d", tt.wantStored, len(all))
			}
			if tt.wantStored == 1 && (all[0].Balance.String() != "500" || all[0].Status != domain.StatusActive) {
				t.Fatalf("expected active account with balance 500, got %+v", all[0])
			}
		})
	}
}

func TestMpesaCallbackPanicIsAcknowledgedAndLogged(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	h := NewWebhookHandler(panickingReconciler{}, logger)

	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0}}}`
	req := httptest.NewRequest(http.MethodPost, "/mpesa-transaction-callback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleMpesaCallback(rec, req)

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ResultDesc":"Success"`) {
		t.Fatalf("expected 200 ack, got %d %q", rec.Code, rec.Body.String())
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "callback handler panicked" {
		t.Fatalf("expected panic logged through the handler logger, got %+v", entry)
	}
	if entry.Data["component"] != "mpesa_webhook" {
		t.Fatalf("expected component field, got %v", entry.Data)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec, _ := s.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "healthy" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}
