/**
 * @description
 * This file defines the HTTP handlers for the linking-service's client API.
 * Handlers are responsible for parsing requests, calling the appropriate service
 * method, and writing the response envelope.
 *
 * @dependencies
 * - Chi router for URL parameter handling.
 * - The service's internal packages for app logic and middleware.
 */
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/app"
	"github.com/payex/linking-service/internal/domain"
	"github.com/payex/linking-service/pkg/middleware"
)

const maxRequestBody = 1 << 20

// Linker links and lists accounts.
type Linker interface {
	LinkAccount(ctx context.Context, input app.LinkInput) (*app.LinkResult, error)
	ListAccounts(ctx context.Context, userID string) ([]domain.LinkedAccount, error)
}

// Syncer refreshes balances.
type Syncer interface {
	SyncAccount(ctx context.Context, userID, accountID string) (*app.SyncResult, error)
	CheckMpesaBalance(ctx context.Context, userID, accountID, phone string) (*app.SyncResult, error)
	SyncUserAccounts(ctx context.Context, userID string) (app.BulkSyncSummary, error)
}

// BankLister serves the supported bank directory.
type BankLister interface {
	ListBanks(ctx context.Context) ([]domain.Bank, error)
}

// AccountHandler holds the dependencies for the account handlers.
type AccountHandler struct {
	linker Linker
	syncer Syncer
	banks  BankLister
	logger logrus.FieldLogger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(linker Linker, syncer Syncer, banks BankLister, logger logrus.FieldLogger) *AccountHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AccountHandler{linker: linker, syncer: syncer, banks: banks, logger: logger.WithField("component", "api")}
}

// flexString accepts a JSON string or number. MT5 logins arrive as either.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// LinkTradingAccountRequest is the body of POST /link-trading-account.
type LinkTradingAccountRequest struct {
	Platform         string     `json:"platform"`
	APIKey           string     `json:"apiKey"`
	APISecret        string     `json:"apiSecret"`
	Passphrase       string     `json:"passphrase"`
	AccountID        flexString `json:"accountId"`
	Broker           string     `json:"broker"`
	Login            flexString `json:"login"`
	Password         string     `json:"password"`
	Server           string     `json:"server"`
	InvestorPassword string     `json:"investorPassword"`
}

// LinkMpesaAccountRequest is the body of POST /link-mpesa-account.
type LinkMpesaAccountRequest struct {
	PhoneNumber flexString `json:"phoneNumber"`
	PIN         string     `json:"pin"`
}

// LinkBankAccountRequest is the body of POST /link-bank-account.
type LinkBankAccountRequest struct {
	BankName      string     `json:"bankName"`
	AccountNumber flexString `json:"accountNumber"`
	AccountName   string     `json:"accountName"`
	RoutingNumber string     `json:"routingNumber"`
}

// MpesaBalanceCheckRequest is the body of POST /mpesa-balance-check.
type MpesaBalanceCheckRequest struct {
	AccountID   string     `json:"accountId"`
	PhoneNumber flexString `json:"phoneNumber"`
}

// BalanceView is returned by the balance endpoints.
type BalanceView struct {
	AccountID     string          `json:"accountId"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	IsRealBalance bool            `json:"isRealBalance"`
}

// LinkTradingAccount handles linking a brokerage or exchange account.
func (h *AccountHandler) LinkTradingAccount(w http.ResponseWriter, r *http.Request) {
	var req LinkTradingAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	provider, ok := domain.ParseProvider(req.Platform)
	if !ok || !provider.IsTrading() {
		writeError(w, h.logger, domain.NewError(domain.ErrUnsupportedProvider, "", "platform %q is not supported", strings.TrimSpace(req.Platform)))
		return
	}
	h.link(w, r, provider, domain.Credentials{
		APIKey:           req.APIKey,
		APISecret:        req.APISecret,
		Passphrase:       req.Passphrase,
		AccountID:        string(req.AccountID),
		Broker:           req.Broker,
		Login:            string(req.Login),
		Password:         req.Password,
		Server:           req.Server,
		InvestorPassword: req.InvestorPassword,
	})
}

// LinkMpesaAccount handles linking an M-Pesa wallet. The PIN is accepted but unused.
func (h *AccountHandler) LinkMpesaAccount(w http.ResponseWriter, r *http.Request) {
	var req LinkMpesaAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.link(w, r, domain.ProviderMpesa, domain.Credentials{PhoneNumber: string(req.PhoneNumber), PIN: req.PIN})
}

// LinkBankAccount handles linking a bank account.
func (h *AccountHandler) LinkBankAccount(w http.ResponseWriter, r *http.Request) {
	var req LinkBankAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.link(w, r, domain.ProviderBank, domain.Credentials{
		BankName:      req.BankName,
		AccountNumber: string(req.AccountNumber),
		AccountName:   req.AccountName,
		RoutingNumber: req.RoutingNumber,
	})
}

func (h *AccountHandler) link(w http.ResponseWriter, r *http.Request, provider domain.Provider, creds domain.Credentials) {
	userID := middleware.GetUserIDFromContext(r.Context())
	result, err := h.linker.LinkAccount(r.Context(), app.LinkInput{UserID: userID, Provider: provider, Credentials: creds})
	if err != nil {
		writeError(w, h.logger.WithFields(logrus.Fields{"user_id": userID, "provider": provider}), err)
		return
	}
	if result.AlreadyLinked {
		writeSuccess(w, http.StatusOK, provider.DisplayName()+" account is already linked", result.Account)
		return
	}
	writeSuccess(w, http.StatusCreated, provider.DisplayName()+" account linked successfully", result.Account)
}

// MpesaBalanceCheck refreshes an M-Pesa account balance.
func (h *AccountHandler) MpesaBalanceCheck(w http.ResponseWriter, r *http.Request) {
	var req MpesaBalanceCheckRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.AccountID) == "" {
		writeError(w, h.logger, badRequest("accountId is required"))
		return
	}
	userID := middleware.GetUserIDFromContext(r.Context())
	result, err := h.syncer.CheckMpesaBalance(r.Context(), userID, strings.TrimSpace(req.AccountID), string(req.PhoneNumber))
	if err != nil {
		writeError(w, h.logger.WithField("user_id", userID), err)
		return
	}
	writeSuccess(w, http.StatusOK, "Balance retrieved successfully", balanceView(result))
}

// ListAccounts returns the authenticated user's linked accounts.
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	accounts, err := h.linker.ListAccounts(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger.WithField("user_id", userID), err)
		return
	}
	if accounts == nil {
		accounts = []domain.LinkedAccount{}
	}
	writeSuccess(w, http.StatusOK, "Accounts retrieved successfully", accounts)
}

// SyncAccount refreshes a single account.
func (h *AccountHandler) SyncAccount(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	accountID := chi.URLParam(r, "id")
	result, err := h.syncer.SyncAccount(r.Context(), userID, accountID)
	if err != nil {
		writeError(w, h.logger.WithFields(logrus.Fields{"user_id": userID, "account_id": accountID}), err)
		return
	}
	writeSuccess(w, http.StatusOK, "Account synced successfully", balanceView(result))
}

// SyncAllAccounts refreshes every active trading account of the user.
func (h *AccountHandler) SyncAllAccounts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	summary, err := h.syncer.SyncUserAccounts(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger.WithField("user_id", userID), err)
		return
	}
	writeSuccess(w, http.StatusOK, "Accounts synced", summary)
}

// ListBanks handles listing all supported banks.
func (h *AccountHandler) ListBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := h.banks.ListBanks(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Banks retrieved successfully", banks)
}

func (h *AccountHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, h.logger, badRequest("Invalid request body"))
		return false
	}
	return true
}

func balanceView(result *app.SyncResult) BalanceView {
	return BalanceView{
		AccountID:     result.Account.ID,
		Balance:       result.Account.Balance,
		Currency:      result.Account.Currency,
		Status:        string(result.Account.Status),
		UpdatedAt:     result.Account.UpdatedAt,
		IsRealBalance: result.IsRealBalance,
	}
}
