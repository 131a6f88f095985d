/**
 * @description
 * This file contains the M-Pesa webhook reconciler. Safaricom posts the outcome of
 * every STK push here, and the reconciler applies it to the matching linked account.
 *
 * @notes
 * - The HTTP layer always acknowledges with 200. Errors returned from Reconcile are
 *   for logging only.
 * - Deliveries are deduplicated on (CheckoutRequestID, ResultCode) through the
 *   callback ledger, so a provider retry cannot double-credit a balance.
 * - Credits are additive. Callbacks carry no direction, so nothing is debited.
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
	"github.com/payex/linking-service/pkg/msisdn"
)

// ReconcileOutcome describes what a callback did.
type ReconcileOutcome string

const (
	OutcomeCredited    ReconcileOutcome = "credited"
	OutcomeProvisioned ReconcileOutcome = "provisioned"
	OutcomeFlagged     ReconcileOutcome = "flagged"
	OutcomeDuplicate   ReconcileOutcome = "duplicate"
	OutcomeIgnored     ReconcileOutcome = "ignored"
)

// Reconciler applies M-Pesa STK callbacks to linked accounts.
type Reconciler struct {
	repo      store.LinkedAccountRepository
	ledger    store.CallbackLedger
	ledgerTTL time.Duration
	events    eventSink
	logger    logrus.FieldLogger
	now       func() time.Time
}

// NewReconciler creates a new Reconciler. ledger and publisher may be nil.
func NewReconciler(
	repo store.LinkedAccountRepository,
	ledger store.CallbackLedger,
	ledgerTTL time.Duration,
	publisher EventPublisher,
	exchange string,
	logger logrus.FieldLogger,
) *Reconciler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "mpesa_reconciler")
	return &Reconciler{
		repo:      repo,
		ledger:    ledger,
		ledgerTTL: ledgerTTL,
		events:    eventSink{publisher: publisher, exchange: exchange, logger: logger},
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile processes one callback envelope.
func (r *Reconciler) Reconcile(ctx context.Context, envelope domain.MpesaCallbackEnvelope) (ReconcileOutcome, error) {
	cb := envelope.Body.StkCallback
	checkoutID := strings.TrimSpace(cb.CheckoutRequestID)
	log := r.logger.WithFields(logrus.Fields{"checkout_request_id": checkoutID, "result_code": cb.ResultCode})

	if checkoutID == "" {
		log.Warn("callback without CheckoutRequestID ignored")
		return OutcomeIgnored, nil
	}

	key := cb.DedupKey()
	if r.ledger != nil {
		claimed, err := r.ledger.Claim(ctx, key, r.ledgerTTL)
		if err != nil {
			log.WithError(err).Warn("callback ledger unavailable, processing without dedup")
		} else if !claimed {
			log.Info("duplicate callback delivery ignored")
			return OutcomeDuplicate, nil
		}
	}

	var (
		outcome ReconcileOutcome
		account *domain.LinkedAccount
		err     error
	)
	if cb.Succeeded() {
		outcome, account, err = r.applySuccess(ctx, cb, log)
	} else {
		outcome, account, err = r.applyFailure(ctx, cb, log)
	}

	if err != nil {
		// Let a redelivery try again.
		if r.ledger != nil {
			if relErr := r.ledger.Release(ctx, key); relErr != nil {
				log.WithError(relErr).Warn("failed to release callback claim")
			}
		}
		log.WithError(err).Error("callback reconciliation failed")
		return outcome, err
	}

	if account != nil {
		r.events.emit(domain.RoutingKeyCallbackReconciled, domain.CallbackReconciledEvent{
			AccountID:         account.ID,
			UserID:            account.UserID,
			CheckoutRequestID: checkoutID,
			ResultCode:        cb.ResultCode,
			Amount:            cb.Details().Amount,
			Provisioned:       outcome == OutcomeProvisioned,
			Status:            account.Status,
		})
	}
	log.WithField("outcome", outcome).Info("callback reconciled")
	return outcome, nil
}

func (r *Reconciler) applySuccess(ctx context.Context, cb domain.STKCallback, log logrus.FieldLogger) (ReconcileOutcome, *domain.LinkedAccount, error) {
	details := cb.Details()
	phone, err := msisdn.Normalize(details.PhoneNumber)
	if err != nil {
		log.WithField("phone", domain.MaskNumber(details.PhoneNumber)).Warn("callback phone number could not be normalized")
		return OutcomeIgnored, nil, nil
	}
	now := r.now()
	txn := &domain.TransactionRecord{
		Amount:          details.Amount,
		ReceiptNumber:   details.ReceiptNumber,
		TransactionDate: details.TransactionDate,
		CheckoutID:      cb.CheckoutRequestID,
		ReceivedAt:      now,
	}

	matches, err := r.repo.List(ctx, store.AccountFilter{
		Provider:      domain.ProviderMpesa,
		PhoneNumber:   phone,
		STKCheckoutID: cb.CheckoutRequestID,
	})
	if err != nil {
		return OutcomeIgnored, nil, err
	}
	if len(matches) == 0 {
		account, err := r.provision(ctx, phone, cb.CheckoutRequestID, txn, now)
		if errors.Is(err, store.ErrDuplicateAccount) {
			log.Info("callback checkout already provisioned")
			return OutcomeDuplicate, nil, nil
		}
		if err != nil {
			return OutcomeIgnored, nil, err
		}
		log.WithField("account_id", account.ID).Warn("no linked account for callback, provisioned a new one")
		return OutcomeProvisioned, account, nil
	}

	account := &matches[0]
	account.Credit(details.Amount)
	if err := account.TransitionTo(domain.StatusActive); err != nil {
		log.WithField("status", account.Status).Warn("account status kept, credit applied")
	}
	account.Metadata.MpesaReceiptNumber = details.ReceiptNumber
	account.Metadata.LastTransaction = txn
	account.Metadata.LastSyncedAt = &now
	account.Metadata.FailureReason = ""
	account.UpdatedAt = now

	if err := r.repo.Update(ctx, account); err != nil {
		return OutcomeIgnored, nil, err
	}
	return OutcomeCredited, account, nil
}

// provision creates an ownerless account for a callback no linked account claims.
// The row is keyed by the checkout id, so every unmatched push gets its own account.
func (r *Reconciler) provision(ctx context.Context, phone, checkoutID string, txn *domain.TransactionRecord, now time.Time) (*domain.LinkedAccount, error) {
	account := &domain.LinkedAccount{
		ID:           uuid.NewString(),
		Provider:     domain.ProviderMpesa,
		DisplayName:  domain.ProviderMpesa.DisplayName(),
		MaskedNumber: domain.MaskNumber(phone),
		Balance:      domain.NonNegative(txn.Amount),
		Currency:     domain.ProviderMpesa.DefaultCurrency(),
		Status:       domain.StatusActive,
		LinkedAt:     now,
		UpdatedAt:    now,
		Metadata: domain.AccountMetadata{
			Platform:           string(domain.ProviderMpesa),
			ExternalAccountID:  checkoutID,
			PhoneNumber:        phone,
			STKCheckoutID:      checkoutID,
			MpesaReceiptNumber: txn.ReceiptNumber,
			LastTransaction:    txn,
			LastSyncedAt:       &now,
			HasBalanceAccess:   true,
		},
	}
	if err := r.repo.Create(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (r *Reconciler) applyFailure(ctx context.Context, cb domain.STKCallback, log logrus.FieldLogger) (ReconcileOutcome, *domain.LinkedAccount, error) {
	matches, err := r.repo.List(ctx, store.AccountFilter{
		Provider:      domain.ProviderMpesa,
		STKCheckoutID: cb.CheckoutRequestID,
	})
	if err != nil {
		return OutcomeIgnored, nil, err
	}
	if len(matches) == 0 {
		log.Info("failed callback has no matching account")
		return OutcomeIgnored, nil, nil
	}

	account := &matches[0]
	if err := account.TransitionTo(domain.StatusNeedsVerification); err != nil {
		log.WithField("status", account.Status).Warn("account status kept, failure recorded")
	}
	reason := strings.TrimSpace(cb.ResultDesc)
	if reason == "" {
		reason = "STK push failed"
	}
	account.Metadata.FailureReason = reason
	account.UpdatedAt = r.now()

	if err := r.repo.Update(ctx, account); err != nil {
		return OutcomeIgnored, nil, err
	}
	return OutcomeFlagged, account, nil
}
