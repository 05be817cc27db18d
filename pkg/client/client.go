// Package client provides the Driftmail Go SDK for requesting and redeeming
// email confirmations against a Driftmail server.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ErrInvalidOrExpired is returned by Redeem when the token is unknown,
// already used, or past its expiry. The server deliberately does not
// distinguish these cases.
var ErrInvalidOrExpired = errors.New("confirmation token invalid or expired")

// ErrThrottled is returned by RequestConfirmation when the server refused to
// send another confirmation mail. Inspect ConfirmationResult.Meta for the
// next allowed send time.
var ErrThrottled = errors.New("confirmation send throttled")

// Meta reports the throttle state of a pending confirmation.
type Meta struct {
	ExpiresAt         time.Time `json:"expires_at"`
	LastSentAt        time.Time `json:"last_sent_at"`
	SendCount         int       `json:"send_count"`
	RemainingAttempts int       `json:"remaining_attempts"`
	NextAllowedSendAt time.Time `json:"next_allowed_send_at"`
}

// ConfirmationResult is the server's answer to a confirmation request.
type ConfirmationResult struct {
	Action string `json:"action"` // created | resent | cooldown | rate_limited
	Sent   bool   `json:"sent"`
	Meta   Meta   `json:"meta"`

	// RetryAfter is populated from the Retry-After header on throttled
	// responses; zero otherwise.
	RetryAfter time.Duration `json:"-"`
}

// Payload carries the intent-specific parameters of a confirmation request.
type Payload struct {
	LocalPart    string `json:"local_part,omitempty"`
	Domain       string `json:"domain,omitempty"`
	LifetimeDays int    `json:"lifetime_days,omitempty"`
}

// RedeemOutcome describes what the redeemed confirmation did.
type RedeemOutcome struct {
	Status              string     `json:"status"` // applied | already_exists | not_found | owner_mismatch
	AliasAddress        string     `json:"alias_address,omitempty"`
	CredentialExpiresAt *time.Time `json:"credential_expires_at,omitempty"`
}

// RedeemResult is the server's answer to a successful redemption.
type RedeemResult struct {
	Subject string        `json:"subject"`
	Intent  string        `json:"intent"`
	Outcome RedeemOutcome `json:"outcome"`

	// APIKey is set exactly once, on the redemption that minted a
	// credential. It is never retrievable again.
	APIKey string `json:"api_key,omitempty"`
}

// Domain is an allowlisted alias domain as returned by the admin API.
type Domain struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Client is the Driftmail SDK entry point.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	adminSecret string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client, overriding any TLS options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// WithAdminSecret attaches the X-Admin-Secret header to admin calls.
func WithAdminSecret(secret string) Option {
	return func(c *Client) error {
		c.adminSecret = secret
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a self-signed server.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a new Driftmail SDK Client connected to baseURL.
//
//	c, err := client.New("https://mail.example.com",
//	    client.WithTimeout(5*time.Second),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// RequestConfirmation posts to /api/v1/confirmations, asking the server to
// mail a one-time confirmation secret to email.
//
// intent is one of "create_alias", "create_alias_address", "delete_alias",
// "issue_credential". When the server throttles the send, the returned error
// wraps ErrThrottled and the result still carries the throttle meta.
func (c *Client) RequestConfirmation(ctx context.Context, email, intent string, payload Payload) (*ConfirmationResult, error) {
	body, err := json.Marshal(map[string]any{
		"email":   email,
		"intent":  intent,
		"payload": payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/confirmations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, respBody, header, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusAccepted, http.StatusTooManyRequests:
		var result ConfirmationResult
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if status == http.StatusTooManyRequests {
			if secs, err := strconv.Atoi(header.Get("Retry-After")); err == nil {
				result.RetryAfter = time.Duration(secs) * time.Second
			}
			return &result, fmt.Errorf("%w: retry after %s", ErrThrottled, result.Meta.NextAllowedSendAt)
		}
		return &result, nil
	default:
		return nil, apiError(status, respBody)
	}
}

// Redeem posts the one-time token to /api/v1/confirm and returns what the
// confirmed request did. An unknown, used, or expired token yields
// ErrInvalidOrExpired.
func (c *Client) Redeem(ctx context.Context, token string) (*RedeemResult, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/confirm", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, respBody, _, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}

	switch status {
	// 409 (already exists / owner mismatch) and 404 with an outcome body are
	// still redemptions — the token was valid and consumed.
	case http.StatusOK, http.StatusConflict, http.StatusNotFound:
		var result RedeemResult
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if result.Outcome.Status == "" {
			// A 404 without an outcome means the token itself was rejected.
			return nil, ErrInvalidOrExpired
		}
		return &result, nil
	default:
		return nil, apiError(status, respBody)
	}
}

// AddDomain registers a new alias domain via the admin API.
// Requires WithAdminSecret.
func (c *Client) AddDomain(ctx context.Context, name string) (*Domain, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/admin/domains", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	respBody, err := c.doAdmin(req)
	if err != nil {
		return nil, err
	}

	var d Domain
	if err := json.Unmarshal(respBody, &d); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &d, nil
}

// RevokeCredential revokes an API credential by ID via the admin API.
// Requires WithAdminSecret.
func (c *Client) RevokeCredential(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/v1/admin/credentials/"+id, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	_, err = c.doAdmin(req)
	return err
}

// doAdmin attaches the admin secret and executes, failing on any non-2xx.
func (c *Client) doAdmin(req *http.Request) ([]byte, error) {
	if c.adminSecret != "" {
		req.Header.Set("X-Admin-Secret", c.adminSecret)
	}

	status, body, _, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, apiError(status, body)
	}
	return body, nil
}

// doStatusBody executes an HTTP request and returns (statusCode, body,
// header, error) without failing on 4xx responses. The caller interprets
// the status code.
func (c *Client) doStatusBody(req *http.Request) (int, []byte, http.Header, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return resp.StatusCode, nil, resp.Header, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, resp.Header, nil
}

// apiError converts an error response body into a Go error, preferring the
// server's "error" field over the raw body.
func apiError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		if payload.Code == "invalid_or_expired" {
			return ErrInvalidOrExpired
		}
		return fmt.Errorf("server error %d (%s): %s", status, payload.Code, payload.Error)
	}
	return fmt.Errorf("server error %d: %s", status, string(body))
}
