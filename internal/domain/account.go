/**
 * @description
 * This file defines the core domain model for a LinkedAccount: an external
 * mobile-money, bank or trading account that a user has connected to the platform.
 *
 * @notes
 * - Balance is held as a decimal so that provider amounts (KES, USD, USDT) are
 *   never rounded through float arithmetic.
 * - Metadata keeps the fields the service relies on typed. Anything else a provider
 *   returns goes into Metadata.Extra, which no business rule reads.
 */
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies the external platform an account belongs to.
type Provider string

const (
	ProviderMpesa              Provider = "mpesa"
	ProviderBank               Provider = "bank"
	ProviderDeriv              Provider = "deriv"
	ProviderBinance            Provider = "binance"
	ProviderMT5                Provider = "mt5"
	ProviderEtoro              Provider = "etoro"
	ProviderInteractiveBrokers Provider = "interactive_brokers"
)

// AllProviders lists every provider the service knows how to link.
var AllProviders = []Provider{
	ProviderMpesa,
	ProviderBank,
	ProviderDeriv,
	ProviderBinance,
	ProviderMT5,
	ProviderEtoro,
	ProviderInteractiveBrokers,
}

// ParseProvider maps a client supplied platform name onto a Provider.
func ParseProvider(raw string) (Provider, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	switch normalized {
	case "ibkr", "interactivebrokers":
		normalized = string(ProviderInteractiveBrokers)
	case "metatrader5", "metatrader_5":
		normalized = string(ProviderMT5)
	case "m_pesa":
		normalized = string(ProviderMpesa)
	}
	for _, p := range AllProviders {
		if string(p) == normalized {
			return p, true
		}
	}
	return "", false
}

// IsTrading reports whether the provider is a brokerage or exchange.
func (p Provider) IsTrading() bool {
	switch p {
	case ProviderDeriv, ProviderBinance, ProviderMT5, ProviderEtoro, ProviderInteractiveBrokers:
		return true
	}
	return false
}

// DefaultCurrency is used when a validator snapshot does not carry a currency.
func (p Provider) DefaultCurrency() string {
	switch p {
	case ProviderMpesa, ProviderBank:
		return "KES"
	case ProviderBinance:
		return "USDT"
	default:
		return "USD"
	}
}

// DisplayName is the human label for the provider.
func (p Provider) DisplayName() string {
	switch p {
	case ProviderMpesa:
		return "M-Pesa"
	case ProviderBank:
		return "Bank Account"
	case ProviderDeriv:
		return "Deriv"
	case ProviderBinance:
		return "Binance"
	case ProviderMT5:
		return "MetaTrader 5"
	case ProviderEtoro:
		return "eToro"
	case ProviderInteractiveBrokers:
		return "Interactive Brokers"
	}
	return string(p)
}

// TransactionRecord captures the last confirmed provider transaction on an account.
type TransactionRecord struct {
	Amount          decimal.Decimal `json:"amount"`
	ReceiptNumber   string          `json:"receiptNumber,omitempty"`
	TransactionDate string          `json:"transactionDate,omitempty"`
	CheckoutID      string          `json:"checkoutRequestId,omitempty"`
	ReceivedAt      time.Time       `json:"receivedAt"`
}

// AccountMetadata holds the typed, invariant-bearing metadata of a linked account.
type AccountMetadata struct {
	Platform                   string             `json:"platform,omitempty"`
	ExternalAccountID          string             `json:"externalAccountId,omitempty"`
	MaskedAPIKey               string             `json:"maskedApiKey,omitempty"`
	LastSyncedAt               *time.Time         `json:"lastSyncedAt,omitempty"`
	HasBalanceAccess           bool               `json:"hasBalanceAccess"`
	RequiresManualVerification bool               `json:"requiresManualVerification,omitempty"`
	STKCheckoutID              string             `json:"stkCheckoutId,omitempty"`
	MpesaReceiptNumber         string             `json:"mpesaReceiptNumber,omitempty"`
	ValidatedWithRealAPI       bool               `json:"validatedWithRealApi"`
	IsDemo                     bool               `json:"isDemo,omitempty"`
	PhoneNumber                string             `json:"phoneNumber,omitempty"`
	LastTransaction            *TransactionRecord `json:"lastTransaction,omitempty"`
	FailureReason              string             `json:"failureReason,omitempty"`

	// Extra carries provider specific details for display only.
	Extra map[string]string `json:"extra,omitempty"`
}

// SetExtra stores a provider specific value, ignoring empty values.
func (m *AccountMetadata) SetExtra(key, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	if m.Extra == nil {
		m.Extra = make(map[string]string)
	}
	m.Extra[key] = value
}

// LinkedAccount represents an external account connected by a user.
type LinkedAccount struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Provider     Provider        `json:"provider"`
	DisplayName  string          `json:"display_name"`
	MaskedNumber string          `json:"masked_number"`
	Balance      decimal.Decimal `json:"balance"`
	Currency     string          `json:"currency"`
	Status       AccountStatus   `json:"status"`
	IsDefault    bool            `json:"is_default"`
	LinkedAt     time.Time       `json:"linked_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Metadata     AccountMetadata `json:"metadata"`
}

// Credit adds amount to the balance. Negative results are clamped to zero.
func (a *LinkedAccount) Credit(amount decimal.Decimal) {
	a.Balance = NonNegative(a.Balance.Add(amount))
}

// AccountSnapshot is the normalized, not yet persisted view a validator returns.
type AccountSnapshot struct {
	Balance      decimal.Decimal `json:"balance"`
	Currency     string          `json:"currency"`
	Status       AccountStatus   `json:"status"`
	DisplayName  string          `json:"displayName,omitempty"`
	MaskedNumber string          `json:"maskedNumber,omitempty"`
	Metadata     AccountMetadata `json:"metadata"`
}

// NonNegative clamps negative amounts to zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// MaskNumber keeps only the last four characters of an identifier.
func MaskNumber(number string) string {
	trimmed := strings.TrimSpace(number)
	if len(trimmed) <= 4 {
		return "****"
	}
	return "****" + trimmed[len(trimmed)-4:]
}

// MaskAPIKey shows the first and last four characters of a key.
func MaskAPIKey(key string) string {
	trimmed := strings.TrimSpace(key)
	if len(trimmed) <= 8 {
		return "****"
	}
	return trimmed[:4] + "..." + trimmed[len(trimmed)-4:]
}
