package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to AccountStatus
		want     bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusNeedsVerification, true},
		{StatusActive, StatusNeedsVerification, true},
		{StatusActive, StatusInactive, true},
		{StatusNeedsVerification, StatusActive, true},
		{StatusInactive, StatusActive, true},
		{StatusActive, StatusActive, true},
		{StatusActive, StatusPending, false},
		{StatusInactive, StatusNeedsVerification, false},
		{StatusNeedsVerification, StatusInactive, false},
		{AccountStatus("closed"), AccountStatus("closed"), false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTransitionToRejectsInvalidMove(t *testing.T) {
	acc := &LinkedAccount{Status: StatusActive}
	if err := acc.TransitionTo(StatusPending); err == nil {
		t.Fatal("expected error moving back to pending")
	}
	if acc.Status != StatusActive {
		t.Fatalf("status changed to %s", acc.Status)
	}
	if err := acc.TransitionTo(StatusNeedsVerification); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in   string
		want Provider
		ok   bool
	}{
		{"Deriv", ProviderDeriv, true},
		{" binance ", ProviderBinance, true},
		{"IBKR", ProviderInteractiveBrokers, true},
		{"interactive-brokers", ProviderInteractiveBrokers, true},
		{"MetaTrader5", ProviderMT5, true},
		{"M-Pesa", ProviderMpesa, true},
		{"robinhood", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseProvider(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseProvider(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMasking(t *testing.T) {
	if got := MaskNumber("0123456789"); got != "****6789" {
		t.Errorf("MaskNumber = %q", got)
	}
	if got := MaskNumber("123"); got != "****" {
		t.Errorf("MaskNumber short = %q", got)
	}
	if got := MaskAPIKey("abcd12345678wxyz"); got != "abcd...wxyz" {
		t.Errorf("MaskAPIKey = %q", got)
	}
	creds := Credentials{APIKey: "abcd12345678wxyz", Password: "hunter2", PhoneNumber: "254712345678"}
	if s := creds.String(); strings.Contains(s, "hunter2") || strings.Contains(s, "12345678wx") {
		t.Errorf("String leaked a secret: %s", s)
	}
}

func TestCheckShape(t *testing.T) {
	err := Credentials{Broker: "ICMarkets", Login: "123"}.CheckShape(ProviderMT5)
	if KindOf(err) != ErrInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if !strings.Contains(err.Error(), "password") || !strings.Contains(err.Error(), "server") {
		t.Fatalf("missing field names in %q", err.Error())
	}
	if err := (Credentials{APIKey: "k", APISecret: "s"}).CheckShape(ProviderBinance); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCallbackDetails(t *testing.T) {
	body := `{"Body":{"stkCallback":{"MerchantRequestID":"m1","CheckoutRequestID":"ws_CO_1","ResultCode":0,
		"ResultDesc":"ok","CallbackMetadata":{"Item":[
		{"Name":"Amount","Value":500.5},
		{"Name":"MpesaReceiptNumber","Value":"QKL1"},
		{"Name":"Balance"},
		{"Name":"TransactionDate","Value":20240101120000},
		{"Name":"PhoneNumber","Value":254712345678}]}}}}`

	var env MpesaCallbackEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	cb := env.Body.StkCallback
	d := cb.Details()
	if !d.Amount.Equal(decimal.RequireFromString("500.5")) {
		t.Errorf("amount = %s", d.Amount)
	}
	if d.PhoneNumber != "254712345678" || d.ReceiptNumber != "QKL1" || d.TransactionDate != "20240101120000" {
		t.Errorf("unexpected details %+v", d)
	}
	if !cb.Succeeded() || cb.DedupKey() != "ws_CO_1:0" {
		t.Errorf("succeeded=%v key=%s", cb.Succeeded(), cb.DedupKey())
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestWrapTransportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), ErrTimeout},
		{"net timeout", timeoutErr{}, ErrTimeout},
		{"refused", errors.New("connection refused"), ErrNetwork},
		{"already classified", NewError(ErrRateLimited, ProviderBinance, "slow down"), ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WrapTransportError(ProviderDeriv, tt.err).Kind; got != tt.want {
				t.Fatalf("kind = %s, want %s", got, tt.want)
			}
		})
	}
	if WrapTransportError(ProviderDeriv, nil) != nil {
		t.Fatal("nil error should stay nil")
	}
}

func TestToServiceError(t *testing.T) {
	verr := &ValidationError{
		Kind:       ErrInvalidCredentials,
		Provider:   ProviderDeriv,
		Message:    "Invalid API token",
		Diagnostic: `{"error":{"code":"InvalidToken"}}`,
	}
	svc := verr.ToServiceError()
	if svc.Code != http.StatusUnauthorized || svc.TextCode != "INVALID_CREDENTIALS" {
		t.Fatalf("unexpected envelope code=%d text=%s", svc.Code, svc.TextCode)
	}
	if strings.Contains(svc.Message, "InvalidToken") {
		t.Fatal("diagnostic leaked into message")
	}
	if KindOf(errors.New("boom")) != ErrInternal {
		t.Fatal("unclassified errors should be internal")
	}
}
