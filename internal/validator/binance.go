package validator

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/domain"
	"github.com/payex/linking-service/pkg/binanceclient"
)

const binanceMinKeyLength = 20

// BinanceValidator verifies an API key pair with a signed account request.
type BinanceValidator struct {
	client *binanceclient.Client
	system BinanceConfig
	logger logrus.FieldLogger
}

func NewBinanceValidator(client *binanceclient.Client, system BinanceConfig, logger logrus.FieldLogger) *BinanceValidator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BinanceValidator{client: client, system: system, logger: logger.WithField("provider", domain.ProviderBinance)}
}

func (v *BinanceValidator) Provider() domain.Provider { return domain.ProviderBinance }

func (v *BinanceValidator) Validate(ctx context.Context, creds domain.Credentials) (*domain.AccountSnapshot, error) {
	if len(creds.APIKey) < binanceMinKeyLength || len(creds.APISecret) < binanceMinKeyLength {
		return nil, domain.NewError(domain.ErrInvalidInput, domain.ProviderBinance,
			"API key and secret must be at least %d characters", binanceMinKeyLength)
	}

	ctx, cancel := context.WithTimeout(ctx, BinanceTimeout)
	defer cancel()

	account, err := v.client.GetAccount(ctx, creds.APIKey, creds.APISecret)
	if err != nil {
		verr := mapBinanceError(err)
		v.logger.WithError(err).WithField("kind", verr.Kind).Warn("binance account request failed")
		return nil, verr
	}

	balance, found := account.Total("USDT")
	currency := "USDT"
	if !found {
		balance, currency = decimal.Zero, "USD"
	}

	external := fingerprint(creds.APIKey)
	if account.UID > 0 {
		external = strconv.FormatInt(account.UID, 10)
	}

	snapshot := &domain.AccountSnapshot{
		Balance:      domain.NonNegative(balance),
		Currency:     currency,
		Status:       domain.StatusActive,
		DisplayName:  "Binance",
		MaskedNumber: domain.MaskNumber(external),
		Metadata: domain.AccountMetadata{
			Platform:             string(domain.ProviderBinance),
			ExternalAccountID:    external,
			MaskedAPIKey:         domain.MaskAPIKey(creds.APIKey),
			HasBalanceAccess:     true,
			ValidatedWithRealAPI: true,
		},
	}
	snapshot.Metadata.SetExtra("accountType", account.AccountType)
	snapshot.Metadata.SetExtra("canTrade", strconv.FormatBool(account.CanTrade))
	return snapshot, nil
}

// mapBinanceError translates HTTP status codes into the error taxonomy.
func mapBinanceError(err error) *domain.ValidationError {
	var apiErr *binanceclient.APIError
	if !errors.As(err, &apiErr) {
		return domain.WrapTransportError(domain.ProviderBinance, err)
	}
	verr := &domain.ValidationError{Provider: domain.ProviderBinance, Diagnostic: apiErr.Body, Cause: err}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized:
		verr.Kind, verr.Message = domain.ErrInvalidCredentials, "Binance rejected the API key"
	case http.StatusForbidden:
		verr.Kind, verr.Message = domain.ErrForbidden, "the API key is not permitted to read account data"
	case http.StatusTooManyRequests, http.StatusTeapot:
		verr.Kind, verr.Message = domain.ErrRateLimited, "Binance rate limit reached, try again later"
	default:
		verr.Kind, verr.Message = domain.ErrServiceUnavailable, "Binance is unavailable"
	}
	return verr
}

func (v *BinanceValidator) HasSystemCredentials() bool {
	return v.system.APIKey != "" && v.system.APISecret != ""
}

// FetchBalance reads the USDT balance visible to the service-level key pair.
func (v *BinanceValidator) FetchBalance(ctx context.Context, _ *domain.LinkedAccount) (decimal.Decimal, string, error) {
	ctx, cancel := context.WithTimeout(ctx, BinanceTimeout)
	defer cancel()
	account, err := v.client.GetAccount(ctx, v.system.APIKey, v.system.APISecret)
	if err != nil {
		return decimal.Zero, "", mapBinanceError(err)
	}
	if total, ok := account.Total("USDT"); ok {
		return domain.NonNegative(total), "USDT", nil
	}
	return decimal.Zero, "USD", nil
}
