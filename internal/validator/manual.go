package validator

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/payex/linking-service/internal/domain"
)

// ManualValidator accepts any non-empty API key for providers that offer no
// programmatic verification. Accounts wait for manual review.
type ManualValidator struct {
	provider domain.Provider
}

func NewManualValidator(provider domain.Provider) *ManualValidator {
	return &ManualValidator{provider: provider}
}

func (v *ManualValidator) Provider() domain.Provider { return v.provider }

func (v *ManualValidator) Validate(_ context.Context, creds domain.Credentials) (*domain.AccountSnapshot, error) {
	if creds.APIKey == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, v.provider, "apiKey is required")
	}
	external := creds.AccountID
	if external == "" {
		external = fingerprint(creds.APIKey)
	}
	return &domain.AccountSnapshot{
		Balance:      decimal.Zero,
		Currency:     v.provider.DefaultCurrency(),
		Status:       domain.StatusNeedsVerification,
		DisplayName:  v.provider.DisplayName(),
		MaskedNumber: domain.MaskNumber(external),
		Metadata: domain.AccountMetadata{
			Platform:                   string(v.provider),
			ExternalAccountID:          external,
			MaskedAPIKey:               domain.MaskAPIKey(creds.APIKey),
			RequiresManualVerification: true,
		},
	}, nil
}
