/**
 * @description
 * This file defines the events the linking service publishes to and consumes from
 * the message broker (RabbitMQ).
 *
 * @notes
 * - Payloads never contain credentials or unmasked account numbers.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Routing keys used on the events exchange.
const (
	RoutingKeyAccountLinked      = "account.linked"
	RoutingKeyBalanceSynced      = "account.balance.synced"
	RoutingKeyCallbackReconciled = "mpesa.callback.reconciled"
	RoutingKeySyncRequested      = "account.sync.requested"
)

// AccountLinkedEvent is published after a new account has been persisted.
type AccountLinkedEvent struct {
	AccountID string        `json:"account_id"`
	UserID    string        `json:"user_id"`
	Provider  Provider      `json:"provider"`
	Status    AccountStatus `json:"status"`
	IsDefault bool          `json:"is_default"`
	LinkedAt  time.Time     `json:"linked_at"`
}

// BalanceSyncedEvent is published after a balance refresh.
type BalanceSyncedEvent struct {
	AccountID     string          `json:"account_id"`
	UserID        string          `json:"user_id"`
	Provider      Provider        `json:"provider"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	IsRealBalance bool            `json:"is_real_balance"`
	SyncedAt      time.Time       `json:"synced_at"`
}

// CallbackReconciledEvent is published after an M-Pesa callback mutated an account.
type CallbackReconciledEvent struct {
	AccountID         string          `json:"account_id"`
	UserID            string          `json:"user_id,omitempty"`
	CheckoutRequestID string          `json:"checkout_request_id"`
	ResultCode        int             `json:"result_code"`
	Amount            decimal.Decimal `json:"amount"`
	Provisioned       bool            `json:"provisioned"`
	Status            AccountStatus   `json:"status"`
}

// SyncRequestedEvent asks the service to refresh every trading account of a user.
type SyncRequestedEvent struct {
	UserID string `json:"user_id"`
}
