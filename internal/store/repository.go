/**
 * @description
 * This file defines the interfaces for the data access layer (repositories).
 * Defining interfaces allows for dependency injection and easy substitution in tests,
 * promoting a loosely coupled architecture.
 *
 * @notes
 * - Any component that needs to interact with the database should depend on these
 *   interfaces, not on the concrete PostgreSQL implementation.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/payex/linking-service/internal/domain"
)

var (
	// ErrAccountNotFound is returned when no linked account matches.
	ErrAccountNotFound = errors.New("linked account not found")
	// ErrDuplicateAccount is returned when (user, provider, externalAccountId) already exists.
	ErrDuplicateAccount = errors.New("linked account already exists")
	// ErrDefaultConflict is returned when a user would end up with two default accounts.
	ErrDefaultConflict = errors.New("user already has a default account")
)

// AccountFilter selects linked accounts. Zero-valued fields are ignored.
type AccountFilter struct {
	UserID            string
	Provider          domain.Provider
	Providers         []domain.Provider
	Status            domain.AccountStatus
	ExternalAccountID string
	PhoneNumber       string
	STKCheckoutID     string
}

// LinkedAccountRepository defines the contract for persisting linked accounts.
type LinkedAccountRepository interface {
	Create(ctx context.Context, account *domain.LinkedAccount) error
	GetByID(ctx context.Context, id string) (*domain.LinkedAccount, error)
	List(ctx context.Context, filter AccountFilter) ([]domain.LinkedAccount, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	Update(ctx context.Context, account *domain.LinkedAccount) error
}

// BankRepository defines the contract for caching the aggregator's bank directory.
type BankRepository interface {
	CacheBanks(ctx context.Context, banks []domain.Bank) error
	GetCachedBanks(ctx context.Context) ([]domain.Bank, error)
	ClearExpiredBanks(ctx context.Context) error
}

// CallbackLedger records callback deliveries that have already been processed.
type CallbackLedger interface {
	// Claim returns true the first time key is seen within ttl.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release forgets a claim so a later delivery can be processed again.
	Release(ctx context.Context, key string) error
}
