package validator

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/domain"
)

// bankAggregator is the subset of the aggregator client the validator uses.
type bankAggregator interface {
	Configured() bool
	VerifyBankAccount(ctx context.Context, bankName, accountNumber string) (*domain.VerifyAccountResponse, error)
}

// BankValidator records bank accounts as pending until the aggregator confirms them.
type BankValidator struct {
	aggregator bankAggregator
	logger     logrus.FieldLogger
}

func NewBankValidator(aggregator bankAggregator, logger logrus.FieldLogger) *BankValidator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BankValidator{aggregator: aggregator, logger: logger.WithField("provider", domain.ProviderBank)}
}

func (v *BankValidator) Provider() domain.Provider { return domain.ProviderBank }

func (v *BankValidator) Validate(ctx context.Context, creds domain.Credentials) (*domain.AccountSnapshot, error) {
	if v.aggregator == nil || !v.aggregator.Configured() {
		return nil, domain.NewError(domain.ErrServiceUnavailable, domain.ProviderBank, "bank linking is not available right now")
	}

	snapshot := &domain.AccountSnapshot{
		Balance:      decimal.Zero,
		Currency:     domain.ProviderBank.DefaultCurrency(),
		Status:       domain.StatusPending,
		DisplayName:  creds.BankName,
		MaskedNumber: domain.MaskNumber(creds.AccountNumber),
		Metadata: domain.AccountMetadata{
			Platform:          string(domain.ProviderBank),
			ExternalAccountID: strings.ToLower(creds.BankName) + ":" + creds.AccountNumber,
		},
	}
	snapshot.Metadata.SetExtra("accountName", creds.AccountName)
	snapshot.Metadata.SetExtra("routingNumber", creds.RoutingNumber)

	lookupCtx, cancel := context.WithTimeout(ctx, BankTimeout)
	defer cancel()
	resp, err := v.aggregator.VerifyBankAccount(lookupCtx, creds.BankName, creds.AccountNumber)
	if err != nil {
		v.logger.WithError(err).Warn("bank account name lookup failed, leaving account pending")
		return snapshot, nil
	}
	if name := strings.TrimSpace(resp.Data.Attributes.AccountName); name != "" {
		snapshot.Metadata.SetExtra("verifiedAccountName", name)
	}
	return snapshot, nil
}
