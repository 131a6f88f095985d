package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/payex/linking-service/internal/domain"
)

func newAccount(id, userID string, provider domain.Provider, external string, isDefault bool) *domain.LinkedAccount {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &domain.LinkedAccount{
		ID:        id,
		UserID:    userID,
		Provider:  provider,
		Balance:   decimal.Zero,
		Currency:  provider.DefaultCurrency(),
		Status:    domain.StatusActive,
		IsDefault: isDefault,
		LinkedAt:  now,
		UpdatedAt: now,
		Metadata:  domain.AccountMetadata{ExternalAccountID: external},
	}
}

func TestMemoryLinkedAccountRepository_Constraints(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLinkedAccountRepository()

	if err := repo.Create(ctx, newAccount("a1", "user-1", domain.ProviderBinance, "uid-1", true)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		account *domain.LinkedAccount
		wantErr error
	}{
		{name: "same external identity", account: newAccount("a2", "user-1", domain.ProviderBinance, "uid-1", false), wantErr: ErrDuplicateAccount},
		{name: "second default", account: newAccount("a3", "user-1", domain.ProviderDeriv, "CR1", true), wantErr: ErrDefaultConflict},
		{name: "other provider", account: newAccount("a4", "user-1", domain.ProviderDeriv, "uid-1", false)},
		{name: "other user", account: newAccount("a5", "user-2", domain.ProviderBinance, "uid-1", true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.Create(ctx, tt.account)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	count, _ := repo.CountByUser(ctx, "user-1")
	if count != 2 {
		t.Fatalf("expected 2 accounts for user-1, got %d", count)
	}
}

func TestMemoryLinkedAccountRepository_ListAndUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLinkedAccountRepository()

	mpesa := newAccount("m1", "user-1", domain.ProviderMpesa, "254712345678", false)
	mpesa.LinkedAt = mpesa.LinkedAt.Add(time.Hour)
	mpesa.Metadata.PhoneNumber = "254712345678"
	mpesa.Metadata.STKCheckoutID = "ws_CO_1"
	_ = repo.Create(ctx, mpesa)
	_ = repo.Create(ctx, newAccount("b1", "user-1", domain.ProviderBinance, "uid-1", true))

	list, _ := repo.List(ctx, AccountFilter{UserID: "user-1"})
	if len(list) != 2 || list[0].ID != "b1" {
		t.Fatalf("expected default account first, got %+v", list)
	}

	found, _ := repo.List(ctx, AccountFilter{Provider: domain.ProviderMpesa, PhoneNumber: "254712345678", STKCheckoutID: "ws_CO_1"})
	if len(found) != 1 || found[0].ID != "m1" {
		t.Fatalf("expected m1 by phone and checkout id, got %+v", found)
	}
	none, _ := repo.List(ctx, AccountFilter{Provider: domain.ProviderMpesa, STKCheckoutID: "ws_CO_2"})
	if len(none) != 0 {
		t.Fatalf("expected no match, got %+v", none)
	}

	found[0].Balance = decimal.NewFromInt(500)
	found[0].Metadata.Extra = map[string]string{"k": "v"}
	if err := repo.Update(ctx, &found[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found[0].Metadata.Extra["k"] = "mutated"

	stored, err := repo.GetByID(ctx, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stored.Balance.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected balance 500, got %s", stored.Balance)
	}
	if stored.Metadata.Extra["k"] != "v" {
		t.Fatal("repository must not share metadata maps with callers")
	}

	if err := repo.Update(ctx, newAccount("missing", "user-1", domain.ProviderBank, "x", false)); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestBuildFilter(t *testing.T) {
	where, args := buildFilter(AccountFilter{
		Provider:      domain.ProviderMpesa,
		PhoneNumber:   "254712345678",
		STKCheckoutID: "ws_CO_1",
	})
	wantWhere := " WHERE provider = $1 AND metadata->>'phoneNumber' = $2 AND metadata->>'stkCheckoutId' = $3"
	if where != wantWhere {
		t.Fatalf("expected %q, got %q", wantWhere, where)
	}
	if !reflect.DeepEqual(args, []any{"mpesa", "254712345678", "ws_CO_1"}) {
		t.Fatalf("unexpected args %v", args)
	}

	if where, args := buildFilter(AccountFilter{}); where != "" || args != nil {
		t.Fatalf("expected empty filter, got %q %v", where, args)
	}
}

func TestMemoryCallbackLedger(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ledger := NewMemoryCallbackLedger()
	ledger.Now = func() time.Time { return now }

	if ok, _ := ledger.Claim(ctx, "ws_CO_1:0", time.Hour); !ok {
		t.Fatal("expected first claim to succeed")
	}
	if ok, _ := ledger.Claim(ctx, "ws_CO_1:0", time.Hour); ok {
		t.Fatal("expected duplicate claim to fail")
	}
	if ok, _ := ledger.Claim(ctx, "ws_CO_1:1", time.Hour); !ok {
		t.Fatal("different result code is a different delivery")
	}

	now = now.Add(2 * time.Hour)
	if ok, _ := ledger.Claim(ctx, "ws_CO_1:0", time.Hour); !ok {
		t.Fatal("expected claim after expiry to succeed")
	}

	_ = ledger.Release(ctx, "ws_CO_1:0")
	if ok, _ := ledger.Claim(ctx, "ws_CO_1:0", time.Hour); !ok {
		t.Fatal("expected claim after release to succeed")
	}

	if _, err := ledger.Claim(ctx, "  ", time.Hour); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestMemoryBankRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	repo := NewMemoryBankRepository()
	repo.now = func() time.Time { return now }

	if _, err := repo.GetCachedBanks(ctx); !errors.Is(err, ErrBankCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
	_ = repo.CacheBanks(ctx, []domain.Bank{{ID: "equity"}})
	banks, err := repo.GetCachedBanks(ctx)
	if err != nil || len(banks) != 1 {
		t.Fatalf("expected 1 cached bank, got %v %v", banks, err)
	}

	now = now.Add(BankCacheTTL)
	if _, err := repo.GetCachedBanks(ctx); !errors.Is(err, ErrBankCacheMiss) {
		t.Fatalf("expected expired cache miss, got %v", err)
	}
}
