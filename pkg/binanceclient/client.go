/**
 * @description
 * This package provides a minimal client for the Binance spot REST API. It only
 * covers the signed account endpoint the linking service needs to prove that a
 * user's API key pair is genuine and to read their USDT holdings.
 *
 * @notes
 * - Every signed request carries `timestamp=<unix ms>` and an HMAC-SHA256 signature
 *   of the query string keyed by the API secret. The key travels in X-MBX-APIKEY.
 * - Credentials are per call because each linked user brings their own key pair.
 */
package binanceclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the production spot API.
const DefaultBaseURL = "https://api.binance.com"

// Client is a Binance spot API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logrus.FieldLogger
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// NewClient creates a new Binance client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClock overrides the timestamp source used when signing.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// Balance is one asset line of the account response.
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Account is the subset of GET /api/v3/account used by the service.
type Account struct {
	UID         int64     `json:"uid"`
	AccountType string    `json:"accountType"`
	CanTrade    bool      `json:"canTrade"`
	Balances    []Balance `json:"balances"`
}

// Total sums free and locked across every balance line for the asset.
func (a *Account) Total(asset string) (decimal.Decimal, bool) {
	total := decimal.Zero
	found := false
	for _, b := range a.Balances {
		if strings.EqualFold(b.Asset, asset) {
			total = total.Add(b.Free).Add(b.Locked)
			found = true
		}
	}
	return total, found
}

// APIError is a non-2xx answer from Binance.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"msg"`
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("binance API error: status %d, code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("binance API error: status %d", e.StatusCode)
}

// Sign returns the hex HMAC-SHA256 of payload keyed by secret.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// GetAccount fetches the signed account snapshot for the given key pair.
func (c *Client) GetAccount(ctx context.Context, apiKey, apiSecret string) (*Account, error) {
	query := "timestamp=" + strconv.FormatInt(c.now().UnixMilli(), 10)
	signed := query + "&signature=" + url.QueryEscape(Sign(apiSecret, query))

	var account Account
	if err := c.do(ctx, http.MethodGet, "/api/v3/account?"+signed, apiKey, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *Client) do(ctx context.Context, method, path, apiKey string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-MBX-APIKEY", apiKey)

	c.logger.WithFields(logrus.Fields{"method": method, "path": strings.SplitN(path, "?", 2)[0]}).Debug("binance request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		_ = json.Unmarshal(respBody, apiErr)
		return apiErr
	}

	if target != nil {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("failed to unmarshal response body: %w", err)
		}
	}
	return nil
}
