package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/domain"
	"github.com/payex/linking-service/pkg/derivclient"
)

// demoBalance is the fixed balance reported for heuristic demo tokens.
var demoBalance = decimal.RequireFromString("10000.00")

// derivAPI is the subset of the Deriv client the validator uses.
type derivAPI interface {
	PingBearer(ctx context.Context, token string) error
	PingAppID(ctx context.Context, token string) error
	Authorize(ctx context.Context, token string) (*derivclient.Profile, error)
}

// derivStrategy is one way of proving a token is genuine.
type derivStrategy struct {
	name string
	// demo strategies accept the token without contacting Deriv.
	demo    bool
	attempt func(ctx context.Context, token string) error
}

var errNotDemoToken = errors.New("token does not look like a demo token")

// DerivValidator authenticates Deriv API tokens.
type DerivValidator struct {
	client     derivAPI
	systemKey  string
	strategies []derivStrategy
	logger     logrus.FieldLogger
}

// NewDerivValidator builds the validator with its ordered authentication strategies.
func NewDerivValidator(client derivAPI, systemToken string, logger logrus.FieldLogger) *DerivValidator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	v := &DerivValidator{
		client:    client,
		systemKey: systemToken,
		logger:    logger.WithField("provider", domain.ProviderDeriv),
	}
	// The heuristic is offline, so it runs before anything touches the network.
	v.strategies = []derivStrategy{
		{name: "demo_heuristic", demo: true, attempt: checkDemoToken},
		{name: "bearer_ping", attempt: client.PingBearer},
		{name: "app_id_ping", attempt: client.PingAppID},
	}
	return v
}

func (v *DerivValidator) Provider() domain.Provider { return domain.ProviderDeriv }

func checkDemoToken(_ context.Context, token string) error {
	if strings.Contains(strings.ToLower(token), "demo") || len(token) < 32 {
		return nil
	}
	return errNotDemoToken
}

// Validate tries each strategy in order and stops at the first success.
func (v *DerivValidator) Validate(ctx context.Context, creds domain.Credentials) (*domain.AccountSnapshot, error) {
	token := creds.APIKey

	var failures []error
	for _, strategy := range v.strategies {
		attemptCtx, cancel := context.WithTimeout(ctx, DerivTimeout)
		err := strategy.attempt(attemptCtx, token)
		cancel()
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", strategy.name, err))
			continue
		}
		v.logger.WithField("strategy", strategy.name).Info("deriv token accepted")
		if strategy.demo {
			return v.demoSnapshot(creds), nil
		}
		return v.liveSnapshot(ctx, creds), nil
	}

	joined := errors.Join(failures...)
	v.logger.WithError(joined).Warn("deriv token rejected by every strategy")
	return nil, &domain.ValidationError{
		Kind:       domain.ErrInvalidCredentials,
		Provider:   domain.ProviderDeriv,
		Message:    "the Deriv API token was not accepted",
		Diagnostic: joined.Error(),
		Cause:      joined,
	}
}

func (v *DerivValidator) demoSnapshot(creds domain.Credentials) *domain.AccountSnapshot {
	external := creds.AccountID
	if external == "" {
		external = fingerprint(creds.APIKey)
	}
	return &domain.AccountSnapshot{
		Balance:      demoBalance,
		Currency:     "USD",
		Status:       domain.StatusActive,
		DisplayName:  "Deriv Demo",
		MaskedNumber: domain.MaskNumber(external),
		Metadata: domain.AccountMetadata{
			Platform:          string(domain.ProviderDeriv),
			ExternalAccountID: external,
			MaskedAPIKey:      domain.MaskAPIKey(creds.APIKey),
			HasBalanceAccess:  true,
			IsDemo:            true,
		},
	}
}

// liveSnapshot fetches profile and balance best-effort. A failed fetch leaves 0 USD.
func (v *DerivValidator) liveSnapshot(ctx context.Context, creds domain.Credentials) *domain.AccountSnapshot {
	snapshot := &domain.AccountSnapshot{
		Balance:     decimal.Zero,
		Currency:    "USD",
		Status:      domain.StatusActive,
		DisplayName: "Deriv",
		Metadata: domain.AccountMetadata{
			Platform:             string(domain.ProviderDeriv),
			ExternalAccountID:    creds.AccountID,
			MaskedAPIKey:         domain.MaskAPIKey(creds.APIKey),
			HasBalanceAccess:     true,
			ValidatedWithRealAPI: true,
		},
	}

	fetchCtx, cancel := context.WithTimeout(ctx, DerivTimeout)
	defer cancel()
	profile, err := v.client.Authorize(fetchCtx, creds.APIKey)
	if err != nil {
		v.logger.WithError(err).Warn("deriv profile fetch failed, defaulting balance")
	} else {
		snapshot.Balance = domain.NonNegative(profile.Balance)
		if profile.Currency != "" {
			snapshot.Currency = profile.Currency
		}
		if profile.LoginID != "" {
			snapshot.Metadata.ExternalAccountID = profile.LoginID
			snapshot.DisplayName = "Deriv " + profile.LoginID
		}
		snapshot.Metadata.IsDemo = profile.IsVirtual == 1
		snapshot.Metadata.SetExtra("fullName", profile.FullName)
	}

	if snapshot.Metadata.ExternalAccountID == "" {
		snapshot.Metadata.ExternalAccountID = fingerprint(creds.APIKey)
	}
	snapshot.MaskedNumber = domain.MaskNumber(snapshot.Metadata.ExternalAccountID)
	return snapshot
}

// HasSystemCredentials reports whether a service-level Deriv token is configured.
func (v *DerivValidator) HasSystemCredentials() bool {
	return v.systemKey != ""
}

// FetchBalance reads the balance visible to the service-level token.
func (v *DerivValidator) FetchBalance(ctx context.Context, _ *domain.LinkedAccount) (decimal.Decimal, string, error) {
	ctx, cancel := context.WithTimeout(ctx, DerivTimeout)
	defer cancel()
	profile, err := v.client.Authorize(ctx, v.systemKey)
	if err != nil {
		return decimal.Zero, "", domain.WrapTransportError(domain.ProviderDeriv, err)
	}
	return domain.NonNegative(profile.Balance), profile.Currency, nil
}
