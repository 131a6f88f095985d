/**
 * @description
 * This package provides a client for the open-banking aggregator used to confirm
 * bank accounts before they are linked.
 *
 * Key features:
 * - Manages the API base URL and key.
 * - Looks up the registered account name for a bank account.
 * - Lists the banks the aggregator can reach.
 *
 * @dependencies
 * - The service's internal domain package for aggregator request/response models.
 */
package aggregatorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/domain"
)

// Client is a client for the bank aggregator API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logrus.FieldLogger
}

// NewClient creates a new aggregator API client.
func NewClient(baseURL, apiKey string, logger logrus.FieldLogger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.WithField("component", "aggregatorclient"),
	}
}

// Configured reports whether both the base URL and key are present.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != ""
}

// StatusError is returned for non-2xx answers.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("aggregator API error: status %d, body: %s", e.StatusCode, e.Body)
}

// VerifyBankAccount looks up the account holder name registered for an account number.
func (c *Client) VerifyBankAccount(ctx context.Context, bankName, accountNumber string) (*domain.VerifyAccountResponse, error) {
	var resp domain.VerifyAccountResponse
	endpoint := fmt.Sprintf("%s/api/v1/accounts/verify?bank=%s&accountNumber=%s",
		c.baseURL, url.QueryEscape(bankName), url.QueryEscape(accountNumber))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListBanks fetches the list of supported banks.
func (c *Client) ListBanks(ctx context.Context) (*domain.ListBanksResponse, error) {
	var resp domain.ListBanksResponse
	endpoint := fmt.Sprintf("%s/api/v1/banks", c.baseURL)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do is a helper function to make HTTP requests to the aggregator API.
func (c *Client) do(ctx context.Context, method, endpoint string, body, target interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	c.logger.WithField("method", method).Debug("aggregator request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WithField("status", resp.StatusCode).Warn("aggregator returned non-success status")
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if target != nil {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("failed to unmarshal response body: %w", err)
		}
	}

	return nil
}
