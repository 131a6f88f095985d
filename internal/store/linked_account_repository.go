/**
 * @description
 * This file implements the data access layer for linked accounts on PostgreSQL.
 *
 * @notes
 * - Balances travel as text and are cast to NUMERIC in SQL so no precision is lost.
 * - Metadata is stored as JSONB. The external account id is copied into its own
 *   column so the (user_id, provider, external_account_id) unique index can back up
 *   the duplicate check in the linking service.
 * - A partial unique index on user_id WHERE is_default backs the single-default rule.
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
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/domain"
)

const (
	uniqueExternalConstraint = "linked_accounts_user_provider_external_key"
	uniqueDefaultConstraint  = "linked_accounts_one_default_per_user"
)

const linkedAccountColumns = `id, user_id, provider, display_name, masked_number, balance::text,
	currency, status, is_default, metadata, linked_at, updated_at`

// PostgresLinkedAccountRepository is the PostgreSQL implementation of LinkedAccountRepository.
type PostgresLinkedAccountRepository struct {
	db     *pgxpool.Pool
	logger logrus.FieldLogger
}

// NewPostgresLinkedAccountRepository creates a new instance of PostgresLinkedAccountRepository.
func NewPostgresLinkedAccountRepository(db *pgxpool.Pool, logger logrus.FieldLogger) *PostgresLinkedAccountRepository {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PostgresLinkedAccountRepository{db: db, logger: logger.WithField("component", "store")}
}

// Create inserts a new linked account.
func (r *PostgresLinkedAccountRepository) Create(ctx context.Context, account *domain.LinkedAccount) error {
	metadata, err := json.Marshal(account.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
        INSERT INTO linked_accounts (id, user_id, provider, display_name, masked_number, balance,
            currency, status, is_default, external_account_id, metadata, linked_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11::jsonb, $12, $13)
    `
	_, err = r.db.Exec(ctx, query,
		account.ID,
		account.UserID,
		string(account.Provider),
		account.DisplayName,
		account.MaskedNumber,
		account.Balance.String(),
		account.Currency,
		string(account.Status),
		account.IsDefault,
		account.Metadata.ExternalAccountID,
		string(metadata),
		account.LinkedAt,
		account.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			r.logger.WithField("constraint", pgErr.ConstraintName).Warn("linked account insert hit unique constraint")
			switch pgErr.ConstraintName {
			case uniqueDefaultConstraint:
				return ErrDefaultConflict
			default:
				return ErrDuplicateAccount
			}
		}
		return fmt.Errorf("failed to insert linked account: %w", err)
	}
	return nil
}

// GetByID fetches one linked account.
func (r *PostgresLinkedAccountRepository) GetByID(ctx context.Context, id string) (*domain.LinkedAccount, error) {
	query := `SELECT ` + linkedAccountColumns + ` FROM linked_accounts WHERE id = $1`
	account, err := scanLinkedAccount(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get linked account: %w", err)
	}
	return account, nil
}

// List returns the accounts matching filter, default account first then oldest first.
func (r *PostgresLinkedAccountRepository) List(ctx context.Context, filter AccountFilter) ([]domain.LinkedAccount, error) {
	where, args := buildFilter(filter)
	query := `SELECT ` + linkedAccountColumns + ` FROM linked_accounts` + where + ` ORDER BY is_default DESC, linked_at ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.LinkedAccount
	for rows.Next() {
		account, err := scanLinkedAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan linked account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// CountByUser counts every account owned by a user regardless of status.
func (r *PostgresLinkedAccountRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM linked_accounts WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count linked accounts: %w", err)
	}
	return count, nil
}

// Update overwrites the mutable fields of an account. Last write wins.
func (r *PostgresLinkedAccountRepository) Update(ctx context.Context, account *domain.LinkedAccount) error {
	metadata, err := json.Marshal(account.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
        UPDATE linked_accounts
        SET display_name = $2, masked_number = $3, balance = $4::numeric, currency = $5,
            status = $6, metadata = $7::jsonb, updated_at = $8
        WHERE id = $1
    `
	tag, err := r.db.Exec(ctx, query,
		account.ID,
		account.DisplayName,
		account.MaskedNumber,
		account.Balance.String(),
		account.Currency,
		string(account.Status),
		string(metadata),
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update linked account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func buildFilter(f AccountFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Provider != "" {
		add("provider = $%d", string(f.Provider))
	}
	if len(f.Providers) > 0 {
		providers := make([]string, len(f.Providers))
		for i, p := range f.Providers {
			providers[i] = string(p)
		}
		add("provider = ANY($%d)", providers)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.ExternalAccountID != "" {
		add("external_account_id = $%d", f.ExternalAccountID)
	}
	if f.PhoneNumber != "" {
		add("metadata->>'phoneNumber' = $%d", f.PhoneNumber)
	}
	if f.STKCheckoutID != "" {
		add("metadata->>'stkCheckoutId' = $%d", f.STKCheckoutID)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanLinkedAccount(row pgx.Row) (*domain.LinkedAccount, error) {
	var (
		account  domain.LinkedAccount
		provider string
		status   string
		balance  string
		metadata []byte
	)
	err := row.Scan(
		&account.ID,
		&account.UserID,
		&provider,
		&account.DisplayName,
		&account.MaskedNumber,
		&balance,
		&account.Currency,
		&status,
		&account.IsDefault,
		&metadata,
		&account.LinkedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.Provider = domain.Provider(provider)
	account.Status = domain.AccountStatus(status)
	if account.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("invalid balance %q: %w", balance, err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &account.Metadata); err != nil {
			return nil, fmt.Errorf("invalid metadata: %w", err)
		}
	}
	account.LinkedAt = account.LinkedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()
	return &account, nil
}
