package validator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/payex/linking-service/internal/domain"
	"github.com/payex/linking-service/pkg/derivclient"
)

type stubDeriv struct {
	bearerErr  error
	appIDErr   error
	profile    *derivclient.Profile
	profileErr error

	calls []string
}

func (s *stubDeriv) PingBearer(_ context.Context, _ string) error {
	s.calls = append(s.calls, "bearer")
	return s.bearerErr
}

func (s *stubDeriv) PingAppID(_ context.Context, _ string) error {
	s.calls = append(s.calls, "app_id")
	return s.appIDErr
}

func (s *stubDeriv) Authorize(_ context.Context, _ string) (*derivclient.Profile, error) {
	s.calls = append(s.calls, "authorize")
	return s.profile, s.profileErr
}

func TestDerivValidator_DemoTokensMakeNoNetworkCalls(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "contains demo", token: "a1b2c3d4e5f6g7h8i9j0DEMOk1l2m3n4o5p6q7r8"},
		{name: "short token", token: "shortToken123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubDeriv{bearerErr: errors.New("should not be called")}
			v := NewDerivValidator(stub, "", nil)

			snapshot, err := v.Validate(context.Background(), domain.Credentials{APIKey: tt.token})
			if err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if len(stub.calls) != 0 {
				t.Fatalf("expected zero network calls, got %v", stub.calls)
			}
			if !snapshot.Balance.Equal(decimal.RequireFromString("10000.00")) {
				t.Fatalf("expected balance 10000.00, got %s", snapshot.Balance)
			}
			if snapshot.Currency != "USD" {
				t.Fatalf("expected USD, got %s", snapshot.Currency)
			}
			if snapshot.Status != domain.StatusActive {
				t.Fatalf("expected active status, got %s", snapshot.Status)
			}
			if !snapshot.Metadata.IsDemo {
				t.Fatal("expected isDemo metadata")
			}
		})
	}
}

func TestDerivValidator_StrategyOrder(t *testing.T) {
	token := strings.Repeat("x", 40)

	t.Run("bearer success skips app_id", func(t *testing.T) {
		stub := &stubDeriv{profile: &derivclient.Profile{LoginID: "CR123456", Currency: "USD", Balance: decimal.NewFromInt(42)}}
		v := NewDerivValidator(stub, "", nil)

		snapshot, err := v.Validate(context.Background(), domain.Credentials{APIKey: token})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := strings.Join(stub.calls, ","); got != "bearer,authorize" {
			t.Fatalf("expected calls bearer,authorize, got %s", got)
		}
		if snapshot.Metadata.ExternalAccountID != "CR123456" {
			t.Fatalf("expected external id CR123456, got %s", snapshot.Metadata.ExternalAccountID)
		}
		if !snapshot.Balance.Equal(decimal.NewFromInt(42)) {
			t.Fatalf("expected balance 42, got %s", snapshot.Balance)
		}
	})

	t.Run("falls back to app_id", func(t *testing.T) {
		stub := &stubDeriv{bearerErr: errors.New("401"), profileErr: errors.New("timeout")}
		v := NewDerivValidator(stub, "", nil)

		snapshot, err := v.Validate(context.Background(), domain.Credentials{APIKey: token})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := strings.Join(stub.calls, ","); got != "bearer,app_id,authorize" {
			t.Fatalf("expected calls bearer,app_id,authorize, got %s", got)
		}
		if !snapshot.Balance.IsZero() || snapshot.Currency != "USD" {
			t.Fatalf("expected 0 USD after failed profile fetch, got %s %s", snapshot.Balance, snapshot.Currency)
		}
	})

	t.Run("all strategies fail", func(t *testing.T) {
		stub := &stubDeriv{bearerErr: errors.New("401"), appIDErr: errors.New("400")}
		v := NewDerivValidator(stub, "", nil)

		_, err := v.Validate(context.Background(), domain.Credentials{APIKey: token})
		if domain.KindOf(err) != domain.ErrInvalidCredentials {
			t.Fatalf("expected InvalidCredentials, got %v", err)
		}
		var verr *domain.ValidationError
		if !errors.As(err, &verr) || !strings.Contains(verr.Diagnostic, "bearer_ping") || !strings.Contains(verr.Diagnostic, "app_id_ping") {
			t.Fatalf("expected aggregated diagnostic, got %+v", verr)
		}
	})
}
