package app

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/payex/linking-service/internal/domain"
	"github.com/payex/linking-service/internal/store"
)

func derivSnapshot(externalID string) *domain.AccountSnapshot {
	return &domain.AccountSnapshot{
		Balance: decimal.RequireFromString("10000.00"),
		Status:  domain.StatusActive,
		Metadata: domain.AccountMetadata{
			ExternalAccountID: externalID,
			HasBalanceAccess:  true,
			IsDemo:            true,
		},
	}
}

func TestLinkAccountDefaultSelection(t *testing.T) {
	repo := store.NewMemoryLinkedAccountRepository()
	v := &stubValidator{}
	publisher := &recordingPublisher{}
	svc := NewLinkingService(repo, v, nil, publisher, "account_events", quietLogger())

	externalIDs := []string{"CR100", "CR200", "CR300"}
	for i, id := range externalIDs {
		v.snapshot = derivSnapshot(id)
		res, err := svc.LinkAccount(context.Background(), LinkInput{
			UserID:      "user-1",
			Provider:    domain.ProviderDeriv,
			Credentials: domain.Credentials{APIKey: "demo-token"},
		})
		if err != nil {
			t.Fatalf("link %d: %v", i, err)
		}
		if wantDefault := i == 0; res.Account.IsDefault != wantDefault {
			t.Fatalf("link %d: expected isDefault=%v, got %v", i, wantDefault, res.Account.IsDefault)
		}
		if res.Account.Currency != "USD" {
			t.Fatalf("expected provider default currency USD, got %s", res.Account.Currency)
		}
		if res.Account.Metadata.LastSyncedAt == nil {
			t.Fatalf("expected lastSyncedAt to be stamped for balance-capable account")
		}
	}

	accounts, err := svc.ListAccounts(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defaults := 0
	for _, a := range accounts {
		if a.IsDefault {
			defaults++
		}
	}
	if len(accounts) != 3 || defaults != 1 {
		t.Fatalf("expected 3 accounts with one default, got %d accounts and %d defaults", len(accounts), defaults)
	}
	if !accounts[0].IsDefault {
		t.Fatalf("expected default account listed first")
	}
	if got := publisher.count(domain.RoutingKeyAccountLinked); got != 3 {
		t.Fatalf("expected 3 account.linked events, got %d", got)
	}
}

func TestLinkAccountDuplicateReturnsExisting(t *testing.T) {
	repo := store.NewMemoryLinkedAccountRepository()
	v := &stubValidator{snapshot: derivSnapshot("CR100")}
	publisher := &recordingPublisher{}
	svc := NewLinkingService(repo, v, nil, publisher, "account_events", quietLogger())

	input := LinkInput{UserID: "user-1", Provider: domain.ProviderDeriv, Credentials: domain.Credentials{APIKey: "demo-token"}}
	first, err := svc.LinkAccount(context.Background(), input)
	if err != nil {
		t.Fatalf("first link: %v", err)
	}
	second, err := svc.LinkAccount(context.Background(), input)
	if err != nil {
		t.Fatalf("second link: %v", err)
	}
	if !second.AlreadyLinked || second.Account.ID != first.Account.ID {
		t.Fatalf("expected existing account %s, got %+v", first.Account.ID, second)
	}
	if n, _ := repo.CountByUser(context.Background(), "user-1"); n != 1 {
		t.Fatalf("expected exactly one stored account, got %d", n)
	}
	if got := publisher.count(domain.RoutingKeyAccountLinked); got != 1 {
		t.Fatalf("expected a single account.linked event, got %d", got)
	}
}

func TestLinkAccountFailuresPersistNothing(t *testing.T) {
	tests := []struct {
		name      string
		input     LinkInput
		validator *stubValidator
		limiter   AttemptLimiter
		wantKind  domain.ErrorKind
		wantCalls int
	}{
		{
			name:      "missing user",
			input:     LinkInput{Provider: domain.ProviderDeriv, Credentials: domain.Credentials{APIKey: "x"}},
			validator: &stubValidator{snapshot: derivSnapshot("CR1")},
			wantKind:  domain.ErrInvalidInput,
		},
		{
			name:      "unsupported provider",
			input:     LinkInput{UserID: "u", Credentials: domain.Credentials{APIKey: "x"}},
			validator: &stubValidator{snapshot: derivSnapshot("CR1")},
			wantKind:  domain.ErrUnsupportedProvider,
		},
		{
			name:      "missing required field",
			input:     LinkInput{UserID: "u", Provider: domain.ProviderBinance, Credentials: domain.Credentials{APIKey: "abc"}},
			validator: &stubValidator{snapshot: derivSnapshot("CR1")},
			wantKind:  domain.ErrInvalidInput,
		},
		{
			name:      "rate limited",
			input:     LinkInput{UserID: "u", Provider: domain.ProviderDeriv, Credentials: domain.Credentials{APIKey: "x"}},
			validator: &stubValidator{snapshot: derivSnapshot("CR1")},
			limiter:   stubLimiter{decision: LimitDecision{Allowed: false, Count: 11, RetryAfter: 30 * time.Second}},
			wantKind:  domain.ErrRateLimited,
		},
		{
			name:      "validator rejects",
			input:     LinkInput{UserID: "u", Provider: domain.ProviderDeriv, Credentials: domain.Credentials{APIKey: "x"}},
			validator: &stubValidator{err: &domain.ValidationError{Kind: domain.ErrInvalidCredentials, Provider: domain.ProviderDeriv, Message: "token rejected", Diagnostic: `{"error":"InvalidToken"}`}},
			wantKind:  domain.ErrInvalidCredentials,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := store.NewMemoryLinkedAccountRepository()
			svc := NewLinkingService(repo, tt.validator, tt.limiter, nil, "", quietLogger())

			_, err := svc.LinkAccount(context.Background(), tt.input)
			if domain.KindOf(err) != tt.wantKind {
				t.Fatalf("expected %s, got %v", tt.wantKind, err)
			}
			if tt.validator.calls != tt.wantCalls {
				t.Fatalf("expected %d validator calls, got %d", tt.wantCalls, tt.validator.calls)
			}
			all, _ := repo.List(context.Background(), store.AccountFilter{})
			if len(all) != 0 {
				t.Fatalf("expected nothing persisted, got %d accounts", len(all))
			}
		})
	}
}

func TestLinkAccountLimiterErrorFailsOpen(t *testing.T) {
	repo := store.NewMemoryLinkedAccountRepository()
	v := &stubValidator{snapshot: derivSnapshot("CR100")}
	svc := NewLinkingService(repo, v, stubLimiter{err: context.DeadlineExceeded}, nil, "", quietLogger())

	if _, err := svc.LinkAccount(context.Background(), LinkInput{
		UserID:      "user-1",
		Provider:    domain.ProviderDeriv,
		Credentials: domain.Credentials{APIKey: "demo-token"},
	}); err != nil {
		t.Fatalf("expected link to proceed when limiter is down, got %v", err)
	}
}

func TestBuildAccountClampsAndDefaults(t *testing.T) {
	svc := NewLinkingService(store.NewMemoryLinkedAccountRepository(), &stubValidator{}, nil, nil, "", quietLogger())
	account := svc.buildAccount("u", domain.ProviderEtoro, &domain.AccountSnapshot{
		Balance: decimal.NewFromInt(-5),
	}, false)

	if !account.Balance.IsZero() {
		t.Fatalf("expected negative balance clamped to zero, got %s", account.Balance)
	}
	if account.Status != domain.StatusPending {
		t.Fatalf("expected pending for missing status, got %s", account.Status)
	}
	if account.DisplayName != "eToro" || account.Metadata.Platform != "etoro" {
		t.Fatalf("unexpected defaults: %+v", account)
	}
	if account.Metadata.LastSyncedAt != nil {
		t.Fatalf("expected no lastSyncedAt without balance access")
	}
}
