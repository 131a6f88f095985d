/**
 * @description
 * This file contains the bank directory served to clients before they link a bank
 * account. The list comes from the bank aggregator and is cached for BankCacheTTL.
 */
package app

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/domain"
	"github.com/payex/linking-service/internal/store"
)

// BankLister fetches the aggregator's bank list.
type BankLister interface {
	Configured() bool
	ListBanks(ctx context.Context) (*domain.ListBanksResponse, error)
}

// BankDirectory serves the supported bank list with caching.
type BankDirectory struct {
	aggregator BankLister
	cache      store.BankRepository
	logger     logrus.FieldLogger
}

// NewBankDirectory creates a new BankDirectory.
func NewBankDirectory(aggregator BankLister, cache store.BankRepository, logger logrus.FieldLogger) *BankDirectory {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BankDirectory{
		aggregator: aggregator,
		cache:      cache,
		logger:     logger.WithField("component", "bank_directory"),
	}
}

// ListBanks returns the cached directory, refreshing it from the aggregator on a miss.
func (d *BankDirectory) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	cached, err := d.cache.GetCachedBanks(ctx)
	if err == nil && len(cached) > 0 {
		return cached, nil
	}
	if err != nil && !errors.Is(err, store.ErrBankCacheMiss) {
		d.logger.WithError(err).Warn("bank cache read failed, falling back to aggregator")
	}

	if d.aggregator == nil || !d.aggregator.Configured() {
		return nil, domain.NewError(domain.ErrServiceUnavailable, domain.ProviderBank, "bank aggregator is not configured")
	}
	resp, err := d.aggregator.ListBanks(ctx)
	if err != nil {
		verr := domain.WrapTransportError(domain.ProviderBank, err)
		if verr.Kind == domain.ErrNetwork {
			verr = &domain.ValidationError{Kind: domain.ErrServiceUnavailable, Provider: domain.ProviderBank, Message: "could not load bank list", Cause: err}
		}
		return nil, verr
	}

	if err := d.cache.CacheBanks(ctx, resp.Data); err != nil {
		d.logger.WithError(err).Warn("failed to cache banks")
	}
	return resp.Data, nil
}

// FindBank looks up a bank by code or case-insensitive name.
func (d *BankDirectory) FindBank(ctx context.Context, codeOrName string) (*domain.Bank, error) {
	banks, err := d.ListBanks(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.TrimSpace(codeOrName)
	for i := range banks {
		if banks[i].Attributes.Code == needle || strings.EqualFold(banks[i].Attributes.Name, needle) {
			return &banks[i], nil
		}
	}
	return nil, domain.NewError(domain.ErrNotFound, domain.ProviderBank, "bank %q is not supported", needle)
}

// PruneCache removes expired directory entries.
func (d *BankDirectory) PruneCache(ctx context.Context) error {
	return d.cache.ClearExpiredBanks(ctx)
}
