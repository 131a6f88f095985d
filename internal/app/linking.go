/**
 * @description
 * This file contains the linking orchestrator. It turns a user's link request into a
 * persisted LinkedAccount: shape check, rate limit, provider validation, duplicate
 * detection, default-account selection, persistence and event publication.
 *
 * @notes
 * - Nothing is persisted when any step before the insert fails.
 * - A repeated link of the same (user, provider, externalAccountId) returns the
 *   existing record. The database unique index backs this up under concurrency.
 */
package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/domain"
	"github.com/payex/linking-service/internal/store"
)

// AccountValidator validates credentials for a provider.
type AccountValidator interface {
	Supports(provider domain.Provider) bool
	Validate(ctx context.Context, provider domain.Provider, creds domain.Credentials) (*domain.AccountSnapshot, error)
}

// LinkInput is a single link request.
type LinkInput struct {
	UserID      string
	Provider    domain.Provider
	Credentials domain.Credentials
}

// LinkResult is the outcome of a successful link.
type LinkResult struct {
	Account *domain.LinkedAccount
	// AlreadyLinked is true when the external identity was linked before.
	AlreadyLinked bool
}

// LinkingService orchestrates account linking.
type LinkingService struct {
	repo      store.LinkedAccountRepository
	validator AccountValidator
	limiter   AttemptLimiter
	events    eventSink
	logger    logrus.FieldLogger
	now       func() time.Time
}

// NewLinkingService creates a new LinkingService. limiter and publisher may be nil.
func NewLinkingService(
	repo store.LinkedAccountRepository,
	validator AccountValidator,
	limiter AttemptLimiter,
	publisher EventPublisher,
	exchange string,
	logger logrus.FieldLogger,
) *LinkingService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "linking")
	return &LinkingService{
		repo:      repo,
		validator: validator,
		limiter:   limiter,
		events:    eventSink{publisher: publisher, exchange: exchange, logger: logger},
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// LinkAccount validates the credentials and persists the resulting account.
func (s *LinkingService) LinkAccount(ctx context.Context, input LinkInput) (*LinkResult, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, input.Provider, "user id is required")
	}
	if !s.validator.Supports(input.Provider) {
		return nil, domain.NewError(domain.ErrUnsupportedProvider, input.Provider, "provider %q is not supported", input.Provider)
	}
	creds := input.Credentials.Trimmed()
	if err := creds.CheckShape(input.Provider); err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{"user_id": userID, "provider": input.Provider})

	if err := s.checkRateLimit(ctx, userID, input.Provider, log); err != nil {
		return nil, err
	}

	snapshot, err := s.validator.Validate(ctx, input.Provider, creds)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) && verr.Diagnostic != "" {
			log = log.WithField("diagnostic", verr.Diagnostic)
		}
		log.WithError(err).Warn("credential validation failed")
		return nil, err
	}

	if existing, err := s.findExisting(ctx, userID, input.Provider, snapshot.Metadata.ExternalAccountID); err != nil {
		return nil, err
	} else if existing != nil {
		log.WithField("account_id", existing.ID).Info("external account already linked")
		return &LinkResult{Account: existing, AlreadyLinked: true}, nil
	}

	count, err := s.repo.CountByUser(ctx, userID)
	if err != nil {
		return nil, internalError(input.Provider, "failed to load linked accounts", err)
	}

	account := s.buildAccount(userID, input.Provider, snapshot, count == 0)
	created, err := s.persist(ctx, account)
	if err != nil {
		return nil, err
	}
	if created.ID != account.ID {
		log.WithField("account_id", created.ID).Info("concurrent link detected, returning existing account")
		return &LinkResult{Account: created, AlreadyLinked: true}, nil
	}

	log.WithFields(logrus.Fields{"account_id": account.ID, "status": account.Status, "is_default": account.IsDefault}).Info("account linked")
	s.events.emit(domain.RoutingKeyAccountLinked, domain.AccountLinkedEvent{
		AccountID: account.ID,
		UserID:    account.UserID,
		Provider:  account.Provider,
		Status:    account.Status,
		IsDefault: account.IsDefault,
		LinkedAt:  account.LinkedAt,
	})
	return &LinkResult{Account: account}, nil
}

// ListAccounts returns the user's linked accounts, default first.
func (s *LinkingService) ListAccounts(ctx context.Context, userID string) ([]domain.LinkedAccount, error) {
	accounts, err := s.repo.List(ctx, store.AccountFilter{UserID: userID})
	if err != nil {
		return nil, internalError("", "failed to list linked accounts", err)
	}
	return accounts, nil
}

func (s *LinkingService) checkRateLimit(ctx context.Context, userID string, provider domain.Provider, log logrus.FieldLogger) error {
	if s.limiter == nil {
		return nil
	}
	decision, err := s.limiter.Allow(ctx, userID)
	if err != nil {
		log.WithError(err).Warn("link rate limiter unavailable, allowing attempt")
		return nil
	}
	if !decision.Allowed {
		verr := domain.NewError(domain.ErrRateLimited, provider, "too many link attempts, retry in %d seconds", int(decision.RetryAfter.Seconds()))
		log.WithField("attempts", decision.Count).Warn("link attempt rate limited")
		return verr
	}
	return nil
}

func (s *LinkingService) findExisting(ctx context.Context, userID string, provider domain.Provider, externalID string) (*domain.LinkedAccount, error) {
	if externalID == "" {
		return nil, nil
	}
	accounts, err := s.repo.List(ctx, store.AccountFilter{UserID: userID, Provider: provider, ExternalAccountID: externalID})
	if err != nil {
		return nil, internalError(provider, "failed to check for existing account", err)
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return &accounts[0], nil
}

func (s *LinkingService) buildAccount(userID string, provider domain.Provider, snapshot *domain.AccountSnapshot, isDefault bool) *domain.LinkedAccount {
	now := s.now()
	account := &domain.LinkedAccount{
		ID:           uuid.NewString(),
		UserID:       userID,
		Provider:     provider,
		DisplayName:  snapshot.DisplayName,
		MaskedNumber: snapshot.MaskedNumber,
		Balance:      domain.NonNegative(snapshot.Balance),
		Currency:     snapshot.Currency,
		Status:       snapshot.Status,
		IsDefault:    isDefault,
		LinkedAt:     now,
		UpdatedAt:    now,
		Metadata:     snapshot.Metadata,
	}
	if account.Currency == "" {
		account.Currency = provider.DefaultCurrency()
	}
	if account.DisplayName == "" {
		account.DisplayName = provider.DisplayName()
	}
	if !account.Status.Valid() {
		account.Status = domain.StatusPending
	}
	if account.Metadata.Platform == "" {
		account.Metadata.Platform = string(provider)
	}
	if account.Metadata.HasBalanceAccess {
		account.Metadata.LastSyncedAt = &now
	}
	return account
}

// persist inserts the account, resolving unique-index races. It returns the stored
// record, which is a different account when a concurrent request won the insert.
func (s *LinkingService) persist(ctx context.Context, account *domain.LinkedAccount) (*domain.LinkedAccount, error) {
	err := s.repo.Create(ctx, account)
	if errors.Is(err, store.ErrDefaultConflict) {
		account.IsDefault = false
		err = s.repo.Create(ctx, account)
	}
	if errors.Is(err, store.ErrDuplicateAccount) {
		existing, findErr := s.findExisting(ctx, account.UserID, account.Provider, account.Metadata.ExternalAccountID)
		if findErr != nil {
			return nil, findErr
		}
		if existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, internalError(account.Provider, "failed to save linked account", err)
	}
	return account, nil
}

func internalError(provider domain.Provider, message string, cause error) *domain.ValidationError {
	return &domain.ValidationError{Kind: domain.ErrInternal, Provider: provider, Message: message, Cause: cause}
}
