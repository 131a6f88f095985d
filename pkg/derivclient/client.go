/**
 * @description
 * This package talks to Deriv. Token checks go through the REST ping endpoint;
 * profile and balance reads go through the public WebSocket API, which is the
 * only surface Deriv exposes for account data.
 *
 * @notes
 * - PingBearer and PingAppID are the two network authentication strategies. They
 *   only report whether Deriv accepted the token.
 * - Authorize opens a short-lived socket, sends `authorize` then `balance` and closes.
 */
package derivclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://api.deriv.com"
	DefaultWSURL   = "wss://ws.derivws.com/websockets/v3"
	// DefaultAppID is Deriv's public test application id.
	DefaultAppID = "1089"
)

// Client is a Deriv API client.
type Client struct {
	baseURL    string
	wsURL      string
	appID      string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// NewClient creates a new Deriv client. Empty arguments fall back to the public defaults.
func NewClient(baseURL, wsURL, appID string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if strings.TrimSpace(wsURL) == "" {
		wsURL = DefaultWSURL
	}
	if strings.TrimSpace(appID) == "" {
		appID = DefaultAppID
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		wsURL:   wsURL,
		appID:   appID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logrus.StandardLogger(),
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

// APIError is a rejection from either the REST or the WebSocket surface.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("deriv API error: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("deriv API error: status %d", e.StatusCode)
}

// PingBearer checks the token by sending it as a bearer credential.
func (c *Client) PingBearer(ctx context.Context, token string) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return c.ping(ctx, c.baseURL+"/ping", header)
}

// PingAppID checks the token by passing it as the app_id query parameter.
func (c *Client) PingAppID(ctx context.Context, token string) error {
	return c.ping(ctx, c.baseURL+"/ping?app_id="+url.QueryEscape(token), http.Header{})
}

func (c *Client) ping(ctx context.Context, endpoint string, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header = header
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// Profile is the account data returned by a successful authorize call.
type Profile struct {
	LoginID   string          `json:"loginid"`
	Email     string          `json:"email"`
	FullName  string          `json:"fullname"`
	Currency  string          `json:"currency"`
	IsVirtual int             `json:"is_virtual"`
	Balance   decimal.Decimal `json:"balance"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsResponse struct {
	MsgType   string   `json:"msg_type"`
	Error     *wsError `json:"error,omitempty"`
	Authorize *Profile `json:"authorize,omitempty"`
	Balance   *struct {
		Balance  decimal.Decimal `json:"balance"`
		Currency string          `json:"currency"`
		LoginID  string          `json:"loginid"`
	} `json:"balance,omitempty"`
}

// Authorize reads the account profile and current balance for a token.
// If the balance call fails after a successful authorize, the profile is returned
// with the balance reported inside the authorize response.
func (c *Client) Authorize(ctx context.Context, token string) (*Profile, error) {
	endpoint := c.wsURL + "?app_id=" + url.QueryEscape(c.appID)
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	authResp, err := c.call(conn, map[string]any{"authorize": token})
	if err != nil {
		return nil, err
	}
	if authResp.Authorize == nil {
		return nil, errors.New("deriv authorize response missing account data")
	}
	profile := authResp.Authorize

	balResp, err := c.call(conn, map[string]any{"balance": 1})
	if err != nil {
		c.logger.WithError(err).Debug("deriv balance request failed, using authorize balance")
		return profile, nil
	}
	if balResp.Balance != nil {
		profile.Balance = balResp.Balance.Balance
		if balResp.Balance.Currency != "" {
			profile.Currency = balResp.Balance.Currency
		}
	}
	return profile, nil
}

func (c *Client) call(conn *websocket.Conn, request map[string]any) (*wsResponse, error) {
	if err := conn.WriteJSON(request); err != nil {
		return nil, fmt.Errorf("websocket write failed: %w", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("websocket read failed: %w", err)
	}
	var resp wsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deriv response: %w", err)
	}
	if resp.Error != nil {
		return nil, &APIError{Code: resp.Error.Code, Message: resp.Error.Message, Body: string(data)}
	}
	return &resp, nil
}
