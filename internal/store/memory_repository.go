package store

import (
	"context"
	"sort"
	"sync"

	"github.com/payex/linking-service/internal/domain"
)

// MemoryLinkedAccountRepository is an in-process LinkedAccountRepository. It enforces
// the same uniqueness rules as the PostgreSQL schema and is used by tests and by
// local runs without DATABASE_URL.
type MemoryLinkedAccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]domain.LinkedAccount
}

func NewMemoryLinkedAccountRepository() *MemoryLinkedAccountRepository {
	return &MemoryLinkedAccountRepository{accounts: make(map[string]domain.LinkedAccount)}
}

func (r *MemoryLinkedAccountRepository) Create(_ context.Context, account *domain.LinkedAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.accounts {
		if existing.UserID != account.UserID {
			continue
		}
		if existing.Provider == account.Provider &&
			existing.Metadata.ExternalAccountID == account.Metadata.ExternalAccountID {
			return ErrDuplicateAccount
		}
		if account.IsDefault && existing.IsDefault {
			return ErrDefaultConflict
		}
	}
	r.accounts[account.ID] = clone(*account)
	return nil
}

func (r *MemoryLinkedAccountRepository) GetByID(_ context.Context, id string) (*domain.LinkedAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	out := clone(account)
	return &out, nil
}

func (r *MemoryLinkedAccountRepository) List(_ context.Context, filter AccountFilter) ([]domain.LinkedAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.LinkedAccount
	for _, account := range r.accounts {
		if matches(account, filter) {
			out = append(out, clone(account))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].LinkedAt.Before(out[j].LinkedAt)
	})
	return out, nil
}

func (r *MemoryLinkedAccountRepository) CountByUser(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, account := range r.accounts {
		if account.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *MemoryLinkedAccountRepository) Update(_ context.Context, account *domain.LinkedAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.accounts[account.ID]
	if !ok {
		return ErrAccountNotFound
	}
	updated := clone(*account)
	// Identity columns are immutable, as in the SQL UPDATE.
	updated.UserID = existing.UserID
	updated.Provider = existing.Provider
	updated.IsDefault = existing.IsDefault
	updated.LinkedAt = existing.LinkedAt
	r.accounts[account.ID] = updated
	return nil
}

func matches(a domain.LinkedAccount, f AccountFilter) bool {
	if f.UserID != "" && a.UserID != f.UserID {
		return false
	}
	if f.Provider != "" && a.Provider != f.Provider {
		return false
	}
	if len(f.Providers) > 0 {
		found := false
		for _, p := range f.Providers {
			if a.Provider == p {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.ExternalAccountID != "" && a.Metadata.ExternalAccountID != f.ExternalAccountID {
		return false
	}
	if f.PhoneNumber != "" && a.Metadata.PhoneNumber != f.PhoneNumber {
		return false
	}
	if f.STKCheckoutID != "" && a.Metadata.STKCheckoutID != f.STKCheckoutID {
		return false
	}
	return true
}

func clone(a domain.LinkedAccount) domain.LinkedAccount {
	if a.Metadata.LastSyncedAt != nil {
		t := *a.Metadata.LastSyncedAt
		a.Metadata.LastSyncedAt = &t
	}
	if a.Metadata.LastTransaction != nil {
		tx := *a.Metadata.LastTransaction
		a.Metadata.LastTransaction = &tx
	}
	if a.Metadata.Extra != nil {
		extra := make(map[string]string, len(a.Metadata.Extra))
		for k, v := range a.Metadata.Extra {
			extra[k] = v
		}
		a.Metadata.Extra = extra
	}
	return a
}
