/**
 * @description
 * This file implements the PostgreSQL cache for the bank aggregator's directory of
 * supported banks, so the bank picker does not call the aggregator on every request.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: The PostgreSQL driver.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/domain"
)

// BankCacheTTL is how long a cached directory stays valid.
const BankCacheTTL = 24 * time.Hour

// ErrBankCacheMiss is returned when no unexpired directory is cached.
var ErrBankCacheMiss = errors.New("no valid cached banks found")

// PostgresBankRepository is the PostgreSQL implementation of the BankRepository.
type PostgresBankRepository struct {
	db     *pgxpool.Pool
	logger logrus.FieldLogger
}

// NewPostgresBankRepository creates a new instance of PostgresBankRepository.
func NewPostgresBankRepository(db *pgxpool.Pool, logger logrus.FieldLogger) *PostgresBankRepository {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PostgresBankRepository{db: db, logger: logger.WithField("component", "bank_cache")}
}

// CacheBanks replaces the cached directory.
func (r *PostgresBankRepository) CacheBanks(ctx context.Context, banks []domain.Bank) error {
	if len(banks) == 0 {
		r.logger.Warn("aggregator returned an empty bank list, keeping the existing cache")
		return nil
	}

	banksJSON, err := json.Marshal(banks)
	if err != nil {
		return fmt.Errorf("failed to marshal banks: %w", err)
	}

	if _, err := r.db.Exec(ctx, `DELETE FROM cached_banks`); err != nil {
		r.logger.WithError(err).Warn("failed to delete existing cached banks")
	}

	now := time.Now()
	expiresAt := now.Add(BankCacheTTL)
	_, err = r.db.Exec(ctx,
		`INSERT INTO cached_banks (banks_data, cached_at, expires_at) VALUES ($1::jsonb, $2, $3)`,
		string(banksJSON), now, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to cache banks: %w", err)
	}

	r.logger.WithFields(logrus.Fields{"count": len(banks), "expires_at": expiresAt}).Info("cached bank directory")
	return nil
}

// GetCachedBanks retrieves the newest unexpired directory.
func (r *PostgresBankRepository) GetCachedBanks(ctx context.Context) ([]domain.Bank, error) {
	query := `
		SELECT banks_data
		FROM cached_banks
		WHERE expires_at > NOW()
		ORDER BY cached_at DESC
		LIMIT 1
	`
	var banksJSON []byte
	if err := r.db.QueryRow(ctx, query).Scan(&banksJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBankCacheMiss
		}
		return nil, fmt.Errorf("failed to get cached banks: %w", err)
	}

	var banks []domain.Bank
	if err := json.Unmarshal(banksJSON, &banks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached banks: %w", err)
	}
	return banks, nil
}

// ClearExpiredBanks removes expired cache entries.
func (r *PostgresBankRepository) ClearExpiredBanks(ctx context.Context) error {
	result, err := r.db.Exec(ctx, `DELETE FROM cached_banks WHERE expires_at <= NOW()`)
	if err != nil {
		return fmt.Errorf("failed to clear expired banks: %w", err)
	}
	if n := result.RowsAffected(); n > 0 {
		r.logger.WithField("rows", n).Info("cleared expired bank cache entries")
	}
	return nil
}

// MemoryBankRepository keeps the directory in process.
type MemoryBankRepository struct {
	mu        sync.Mutex
	banks     []domain.Bank
	expiresAt time.Time
	now       func() time.Time
}

func NewMemoryBankRepository() *MemoryBankRepository {
	return &MemoryBankRepository{now: time.Now}
}

func (r *MemoryBankRepository) CacheBanks(_ context.Context, banks []domain.Bank) error {
	if len(banks) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.banks = append([]domain.Bank(nil), banks...)
	r.expiresAt = r.now().Add(BankCacheTTL)
	return nil
}

func (r *MemoryBankRepository) GetCachedBanks(_ context.Context) ([]domain.Bank, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.banks) == 0 || !r.now().Before(r.expiresAt) {
		return nil, ErrBankCacheMiss
	}
	return append([]domain.Bank(nil), r.banks...), nil
}

func (r *MemoryBankRepository) ClearExpiredBanks(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.now().Before(r.expiresAt) {
		r.banks = nil
	}
	return nil
}
