/**
 * @description
 * This package provides a client for Safaricom's Daraja (M-Pesa) API: the OAuth
 * client-credentials exchange and the Lipa na M-Pesa Online (STK push) request.
 *
 * @notes
 * - Access tokens are cached until shortly before they expire. Daraja tokens live
 *   for about an hour.
 * - The STK password is base64(shortcode + passkey + timestamp) with the timestamp
 *   in Africa/Nairobi local time, formatted as yyyyMMddHHmmss.
 */
package mpesaclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://sandbox.safaricom.co.ke"

	tokenRenewBefore = time.Minute
	stkTimestampFmt  = "20060102150405"
)

// Config holds the Daraja application credentials.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
}

// Client is a Daraja API client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     logrus.FieldLogger
	now        func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Option configures a Client.
type Option func(*Client)

// NewClient creates a new Daraja client.
func NewClient(cfg Config, opts ...Option) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		cfg: cfg,
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

// WithClock overrides the clock used for token expiry and STK timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// HasCredentials reports whether the OAuth consumer key pair is configured.
func (c *Client) HasCredentials() bool {
	return c.cfg.ConsumerKey != "" && c.cfg.ConsumerSecret != ""
}

// CanPush reports whether STK pushes can be initiated.
func (c *Client) CanPush() bool {
	return c.HasCredentials() && c.cfg.ShortCode != "" && c.cfg.Passkey != ""
}

// APIError is a non-2xx answer from Daraja.
type APIError struct {
	StatusCode   int
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Body         string
}

func (e *APIError) Error() string {
	if e.ErrorMessage != "" {
		return fmt.Sprintf("mpesa API error: status %d, %s: %s", e.StatusCode, e.ErrorCode, e.ErrorMessage)
	}
	return fmt.Sprintf("mpesa API error: status %d", e.StatusCode)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// AccessToken returns a cached token or performs the client-credentials exchange.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && c.tokenExpiry.After(now.Add(tokenRenewBefore)) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create http request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	var tok tokenResponse
	if err := c.send(req, &tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("mpesa oauth response missing access_token")
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(strings.TrimSpace(tok.ExpiresIn)); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	c.token = tok.AccessToken
	c.tokenExpiry = now.Add(ttl)
	return c.token, nil
}

// STKPushRequest is the body of a Lipa na M-Pesa Online request.
type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPushResponse is Daraja's synchronous acknowledgement of an STK push.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

var nairobi = time.FixedZone("EAT", 3*60*60)

// Password builds the STK password for the given timestamp.
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// InitiateSTKPush prompts the phone (2547XXXXXXXX form) to approve a payment.
func (c *Client) InitiateSTKPush(ctx context.Context, phone string, amount decimal.Decimal, reference, description string) (*STKPushResponse, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().In(nairobi).Format(stkTimestampFmt)
	payload := STKPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount.Ceil().String(),
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   description,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	var resp STKPushResponse
	if err := c.send(req, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != "" && resp.ResponseCode != "0" {
		return nil, &APIError{StatusCode: http.StatusOK, ErrorCode: resp.ResponseCode, ErrorMessage: resp.ResponseDescription}
	}
	return &resp, nil
}

func (c *Client) send(req *http.Request, target interface{}) error {
	req.Header.Set("Accept", "application/json")

	c.logger.WithFields(logrus.Fields{"method": req.Method, "path": req.URL.Path}).Debug("mpesa request")
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

	if err := json.Unmarshal(respBody, target); err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}
	return nil
}
