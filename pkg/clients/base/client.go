// Package base provides the shared HTTP client and error types used by the
// embedding and generation API clients.
package base

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultReadTimeout  = 60 * time.Second
	DefaultWriteTimeout = 30 * time.Second
)

// Config carries the connection settings for one upstream API service.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ClientError wraps a failed call against an upstream service with enough
// context to classify it (rate limit, auth, server error).
type ClientError struct {
	Op         string
	Service    string
	StatusCode int
	Err        error
}

func (e *ClientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("client: %s %s failed with status %d: %v", e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("client: %s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

func NewClientError(service, op string, err error) *ClientError {
	return &ClientError{Op: op, Service: service, Err: err}
}

func NewHTTPError(service, op string, statusCode int, body string) *ClientError {
	return &ClientError{Op: op, Service: service, StatusCode: statusCode, Err: fmt.Errorf("HTTP %d: %s", statusCode, body)}
}

// HTTPClient is a thin resty wrapper bound to one service.
type HTTPClient struct {
	client  *resty.Client
	service string
}

func NewHTTPClient(service string, cfg Config, timeout time.Duration) *HTTPClient {
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	// Retry transport failures and 5xx only. 429 and 401 carry semantics the
	// caller must see; blind retries would hide them.
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= 500
	})

	return &HTTPClient{client: client, service: service}
}

// Resty exposes the underlying client for request shapes the helpers do not
// cover (streaming responses).
func (h *HTTPClient) Resty() *resty.Client { return h.client }

// Service returns the service name this client is bound to.
func (h *HTTPClient) Service() string { return h.service }

func (h *HTTPClient) Post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	resp, err := h.client.R().SetContext(ctx).SetBody(body).SetResult(result).Post(endpoint)
	if err != nil {
		return NewClientError(h.service, "POST "+endpoint, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return NewHTTPError(h.service, "POST "+endpoint, resp.StatusCode(), resp.String())
	}
	return nil
}

func (h *HTTPClient) Get(ctx context.Context, endpoint string, params map[string]string, result interface{}) error {
	req := h.client.R().SetContext(ctx).SetResult(result)
	for k, v := range params {
		req.SetQueryParam(k, v)
	}
	resp, err := req.Get(endpoint)
	if err != nil {
		return NewClientError(h.service, "GET "+endpoint, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return NewHTTPError(h.service, "GET "+endpoint, resp.StatusCode(), resp.String())
	}
	return nil
}

// IsRetryableError reports whether an error came from a transient condition
// (transport failure or upstream 5xx).
func IsRetryableError(err error) bool {
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		return false
	}
	return clientErr.StatusCode >= 500 || clientErr.StatusCode == 0
}

// IsRateLimited reports whether the upstream rejected the call with 429.
func IsRateLimited(err error) bool {
	var clientErr *ClientError
	return errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusTooManyRequests
}

// IsUnauthorized reports whether the upstream rejected the credentials.
func IsUnauthorized(err error) bool {
	var clientErr *ClientError
	return errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusUnauthorized
}

// IsUpstreamServerError reports whether the upstream failed with a 5xx.
func IsUpstreamServerError(err error) bool {
	var clientErr *ClientError
	return errors.As(err, &clientErr) && clientErr.StatusCode >= 500
}

// IsCancelled reports whether the error chain ends in context cancellation
// or deadline expiry.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
