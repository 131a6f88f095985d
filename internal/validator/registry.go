/**
 * @description
 * Package validator turns raw, user-supplied credentials into a normalized
 * AccountSnapshot. There is one Validator per provider, selected through a
 * Registry keyed by provider id.
 *
 * @notes
 * - Validators never touch persistence. Their only side effect is outbound I/O,
 *   and every call runs under its own context deadline.
 * - Provider secrets are injected through ProviderConfig at construction.
 */
package validator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/domain"
	"github.com/payex/linking-service/pkg/aggregatorclient"
	"github.com/payex/linking-service/pkg/binanceclient"
	"github.com/payex/linking-service/pkg/derivclient"
	"github.com/payex/linking-service/pkg/mpesaclient"
)

// Per-call deadlines for outbound provider requests.
const (
	DerivTimeout   = 10 * time.Second
	BinanceTimeout = 15 * time.Second
	MpesaTimeout   = 15 * time.Second
	BankTimeout    = 10 * time.Second
)

// ProviderConfig carries the system-wide provider credentials and endpoints.
type ProviderConfig struct {
	Deriv   DerivConfig
	Binance BinanceConfig
	Mpesa   mpesaclient.Config
	Bank    BankConfig
}

type DerivConfig struct {
	APIToken string
	AppID    string
	BaseURL  string
	WSURL    string
}

type BinanceConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

type BankConfig struct {
	APIKey  string
	BaseURL string
}

// Validator checks credentials for a single provider.
type Validator interface {
	Provider() domain.Provider
	Validate(ctx context.Context, creds domain.Credentials) (*domain.AccountSnapshot, error)
}

// BalanceFetcher is implemented by validators that can read a live balance with
// system-wide credentials.
type BalanceFetcher interface {
	HasSystemCredentials() bool
	FetchBalance(ctx context.Context, account *domain.LinkedAccount) (decimal.Decimal, string, error)
}

// Registry dispatches validation to the validator registered for a provider.
type Registry struct {
	validators map[domain.Provider]Validator
}

// NewRegistry builds a registry from the given validators.
func NewRegistry(validators ...Validator) *Registry {
	r := &Registry{validators: make(map[domain.Provider]Validator, len(validators))}
	for _, v := range validators {
		r.Register(v)
	}
	return r
}

// NewDefaultRegistry wires every supported provider against the given configuration.
func NewDefaultRegistry(cfg ProviderConfig, logger logrus.FieldLogger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "validator")

	deriv := derivclient.NewClient(cfg.Deriv.BaseURL, cfg.Deriv.WSURL, cfg.Deriv.AppID, derivclient.WithLogger(logger))
	binance := binanceclient.NewClient(cfg.Binance.BaseURL, binanceclient.WithLogger(logger))
	mpesa := mpesaclient.NewClient(cfg.Mpesa, mpesaclient.WithLogger(logger))
	aggregator := aggregatorclient.NewClient(cfg.Bank.BaseURL, cfg.Bank.APIKey, logger)

	return NewRegistry(
		NewDerivValidator(deriv, cfg.Deriv.APIToken, logger),
		NewBinanceValidator(binance, cfg.Binance, logger),
		NewMT5Validator(nil),
		NewManualValidator(domain.ProviderEtoro),
		NewManualValidator(domain.ProviderInteractiveBrokers),
		NewBankValidator(aggregator, logger),
		NewMpesaValidator(mpesa, logger),
	)
}

// Register adds or replaces the validator for its provider.
func (r *Registry) Register(v Validator) {
	r.validators[v.Provider()] = v
}

// Supports reports whether a validator is registered for provider.
func (r *Registry) Supports(provider domain.Provider) bool {
	_, ok := r.validators[provider]
	return ok
}

// Validate shape-checks the credentials and runs the provider's validator.
func (r *Registry) Validate(ctx context.Context, provider domain.Provider, creds domain.Credentials) (*domain.AccountSnapshot, error) {
	v, ok := r.validators[provider]
	if !ok {
		return nil, domain.NewError(domain.ErrUnsupportedProvider, provider, "provider %q is not supported", provider)
	}
	creds = creds.Trimmed()
	if err := creds.CheckShape(provider); err != nil {
		return nil, err
	}
	return v.Validate(ctx, creds)
}

// BalanceFetcher returns the live balance path for a provider when system-wide
// credentials are configured.
func (r *Registry) BalanceFetcher(provider domain.Provider) (BalanceFetcher, bool) {
	v, ok := r.validators[provider]
	if !ok {
		return nil, false
	}
	fetcher, ok := v.(BalanceFetcher)
	if !ok || !fetcher.HasSystemCredentials() {
		return nil, false
	}
	return fetcher, true
}

// fingerprint derives a stable, non-reversible identifier from a secret.
func fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return "key_" + hex.EncodeToString(sum[:8])
}
