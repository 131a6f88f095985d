/**
 * @description
 * This file contains the balance synchronizer. A refresh reads the live balance when
 * the provider has system-wide credentials and otherwise substitutes a deterministic
 * simulated value. Either way the account's balance and lastSyncedAt are written.
 *
 * @notes
 * - Provider failures never surface to the caller once the account lookup succeeded.
 * - Bulk refreshes fan out with a bounded errgroup. One account failing does not stop
 *   the others and is only logged.
 */
package app

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/payex/linking-service/internal/domain"
	"github.com/payex/linking-service/internal/store"
	"github.com/payex/linking-service/internal/validator"
	"github.com/payex/linking-service/pkg/msisdn"
)

// SimulatedBalances is the fixed, ordered set simulated refreshes draw from.
var SimulatedBalances = []decimal.Decimal{
	decimal.NewFromInt(0),
	decimal.NewFromInt(500),
	decimal.NewFromInt(1000),
	decimal.NewFromInt(2500),
	decimal.NewFromInt(5000),
	decimal.NewFromInt(10000),
	decimal.NewFromInt(25000),
	decimal.NewFromInt(50000),
}

// SimulatedBalance picks a value from SimulatedBalances by hashing the account id.
func SimulatedBalance(accountID string) decimal.Decimal {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return SimulatedBalances[h.Sum32()%uint32(len(SimulatedBalances))]
}

// BalanceSource exposes live balance fetchers per provider.
type BalanceSource interface {
	BalanceFetcher(provider domain.Provider) (validator.BalanceFetcher, bool)
}

// SyncResult is the outcome of a single-account refresh.
type SyncResult struct {
	Account       *domain.LinkedAccount
	IsRealBalance bool
}

// BulkSyncSummary counts the outcome of a bulk refresh.
type BulkSyncSummary struct {
	Total   int `json:"total"`
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// SyncService refreshes persisted balances.
type SyncService struct {
	repo        store.LinkedAccountRepository
	balances    BalanceSource
	concurrency int
	events      eventSink
	logger      logrus.FieldLogger
	now         func() time.Time
}

// NewSyncService creates a new SyncService. concurrency bounds bulk fan-out.
func NewSyncService(
	repo store.LinkedAccountRepository,
	balances BalanceSource,
	concurrency int,
	publisher EventPublisher,
	exchange string,
	logger logrus.FieldLogger,
) *SyncService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	logger = logger.WithField("component", "sync")
	return &SyncService{
		repo:        repo,
		balances:    balances,
		concurrency: concurrency,
		events:      eventSink{publisher: publisher, exchange: exchange, logger: logger},
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SyncAccount refreshes one account owned by userID.
func (s *SyncService) SyncAccount(ctx context.Context, userID, accountID string) (*SyncResult, error) {
	account, err := s.loadOwned(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Metadata.HasBalanceAccess {
		return nil, domain.NewError(domain.ErrPermissionDenied, account.Provider, "balance access is not available for this account")
	}
	return s.refresh(ctx, account)
}

// CheckMpesaBalance refreshes an M-Pesa account after confirming the phone number
// matches the one it was linked with.
func (s *SyncService) CheckMpesaBalance(ctx context.Context, userID, accountID, phone string) (*SyncResult, error) {
	account, err := s.loadOwned(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if account.Provider != domain.ProviderMpesa {
		return nil, domain.NewError(domain.ErrInvalidInput, account.Provider, "account is not an M-Pesa account")
	}
	if strings.TrimSpace(phone) != "" {
		normalized, err := msisdn.Normalize(phone)
		if err != nil || normalized != account.Metadata.PhoneNumber {
			return nil, domain.NewError(domain.ErrInvalidInput, domain.ProviderMpesa, "phone number does not match the linked account")
		}
	}
	if !account.Metadata.HasBalanceAccess {
		return nil, domain.NewError(domain.ErrPermissionDenied, domain.ProviderMpesa, "balance access is not available for this account")
	}
	return s.refresh(ctx, account)
}

// SyncUserAccounts refreshes every active trading account of a user.
func (s *SyncService) SyncUserAccounts(ctx context.Context, userID string) (BulkSyncSummary, error) {
	accounts, err := s.repo.List(ctx, store.AccountFilter{
		UserID:    userID,
		Status:    domain.StatusActive,
		Providers: tradingProviders(),
	})
	if err != nil {
		return BulkSyncSummary{}, internalError("", "failed to list accounts for sync", err)
	}
	return s.syncAll(ctx, accounts), nil
}

// SyncAllAccounts refreshes every active trading account in the store.
func (s *SyncService) SyncAllAccounts(ctx context.Context) (BulkSyncSummary, error) {
	accounts, err := s.repo.List(ctx, store.AccountFilter{
		Status:    domain.StatusActive,
		Providers: tradingProviders(),
	})
	if err != nil {
		return BulkSyncSummary{}, internalError("", "failed to list accounts for sync", err)
	}
	return s.syncAll(ctx, accounts), nil
}

func (s *SyncService) syncAll(ctx context.Context, accounts []domain.LinkedAccount) BulkSyncSummary {
	var synced, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range accounts {
		account := accounts[i]
		if !account.Metadata.HasBalanceAccess {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			if _, err := s.refresh(gctx, &account); err != nil {
				failed.Add(1)
				s.logger.WithError(err).WithField("account_id", account.ID).Warn("bulk sync failed for account")
				return nil
			}
			synced.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	summary := BulkSyncSummary{
		Total:   len(accounts),
		Synced:  int(synced.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}
	s.logger.WithFields(logrus.Fields{
		"total": summary.Total, "synced": summary.Synced, "skipped": summary.Skipped, "failed": summary.Failed,
	}).Info("bulk sync finished")
	return summary
}

func (s *SyncService) loadOwned(ctx context.Context, userID, accountID string) (*domain.LinkedAccount, error) {
	account, err := s.repo.GetByID(ctx, accountID)
	if errors.Is(err, store.ErrAccountNotFound) || (err == nil && account.UserID != userID) {
		return nil, domain.NewError(domain.ErrNotFound, "", "account not found")
	}
	if err != nil {
		return nil, internalError("", "failed to load account", err)
	}
	return account, nil
}

// refresh resolves the new balance and writes it. Only persistence errors are returned.
func (s *SyncService) refresh(ctx context.Context, account *domain.LinkedAccount) (*SyncResult, error) {
	log := s.logger.WithFields(logrus.Fields{"account_id": account.ID, "provider": account.Provider})

	balance, currency, live := s.resolveBalance(ctx, account, log)
	now := s.now()
	account.Balance = domain.NonNegative(balance)
	if currency != "" {
		account.Currency = currency
	}
	account.Metadata.LastSyncedAt = &now
	account.UpdatedAt = now

	if err := s.repo.Update(ctx, account); err != nil {
		return nil, internalError(account.Provider, "failed to save synced balance", err)
	}

	s.events.emit(domain.RoutingKeyBalanceSynced, domain.BalanceSyncedEvent{
		AccountID:     account.ID,
		UserID:        account.UserID,
		Provider:      account.Provider,
		Balance:       account.Balance,
		Currency:      account.Currency,
		IsRealBalance: live,
		SyncedAt:      now,
	})
	return &SyncResult{Account: account, IsRealBalance: live}, nil
}

func (s *SyncService) resolveBalance(ctx context.Context, account *domain.LinkedAccount, log logrus.FieldLogger) (decimal.Decimal, string, bool) {
	if s.balances != nil {
		if fetcher, ok := s.balances.BalanceFetcher(account.Provider); ok {
			balance, currency, err := fetcher.FetchBalance(ctx, account)
			if err == nil {
				return balance, currency, true
			}
			log.WithError(err).Warn("live balance fetch failed, using simulated balance")
		}
	}
	return SimulatedBalance(account.ID), "", false
}

func tradingProviders() []domain.Provider {
	var out []domain.Provider
	for _, p := range domain.AllProviders {
		if p.IsTrading() {
			out = append(out, p)
		}
	}
	return out
}
