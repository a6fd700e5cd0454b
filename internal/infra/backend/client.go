// Package backend reads JSON resources from the portal REST services on behalf of a user.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/arklim/portal-realtime/internal/core/port"
	"github.com/arklim/portal-realtime/internal/infra/config"
)

const (
	// DefaultTimeout bounds a single HTTP attempt.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxRetries is the number of attempts made for retryable failures.
	DefaultMaxRetries = 3
	// MaxResponseSize caps how much of a response body is decoded.
	MaxResponseSize = 8 * 1024 * 1024

	userAgent = "portal-realtime/1.0"
)

// ErrUnexpectedStatus is matched by every StatusError.
var ErrUnexpectedStatus = errors.New("backend: unexpected status")

// StatusError reports a non-success response that is not mapped to "not found".
type StatusError struct {
	StatusCode int
	Path       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: HTTP %d for %s", e.StatusCode, e.Path)
}

// Is makes errors.Is(err, ErrUnexpectedStatus) hold.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBackOff replaces the retry schedule. newBackOff is called once per request.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Client) {
		if newBackOff != nil {
			c.newBackOff = newBackOff
		}
	}
}

// Client is the HTTP implementation of port.BackendClient.
type Client struct {
	baseURL    string
	http       *http.Client
	maxTries   uint
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// NewClient builds a client for cfg.BaseURL.
func NewClient(cfg config.BackendSettings, logger *zap.Logger, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("backend: base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tries := cfg.MaxRetries
	if tries == 0 {
		tries = DefaultMaxRetries
	}

	c := &Client{
		baseURL:  base,
		http:     &http.Client{Timeout: timeout},
		maxTries: tries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		logger: logger.Named("backend"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetJSON fetches path and decodes the body into out. found is false without an error
// when the caller has no credential, the credential is rejected, or the resource is missing.
func (c *Client) GetJSON(ctx context.Context, tokens port.TokenProvider, path string, out any) (bool, error) {
	if tokens == nil {
		return false, nil
	}
	token, err := tokens.Token(ctx)
	if err != nil {
		return false, fmt.Errorf("backend: resolve token: %w", err)
	}
	if token == "" {
		return false, nil
	}

	target := c.baseURL + "/" + strings.TrimLeft(path, "/")

	operation := func() (bool, error) {
		return c.attempt(ctx, token, target, path, out)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("retrying backend request",
				zap.String("path", path),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
}

func (c *Client) attempt(ctx context.Context, token, target, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, backoff.Permanent(fmt.Errorf("backend: create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, backoff.Permanent(fmt.Errorf("backend: %s: %w", path, ctx.Err()))
		}
		return false, fmt.Errorf("backend: %s: %w", path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseSize))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		if seconds, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && seconds > 0 {
			return false, backoff.RetryAfter(seconds)
		}
		return false, &StatusError{StatusCode: resp.StatusCode, Path: path}
	case resp.StatusCode >= 500:
		return false, &StatusError{StatusCode: resp.StatusCode, Path: path}
	default:
		return false, backoff.Permanent(&StatusError{StatusCode: resp.StatusCode, Path: path})
	}

	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseSize)).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, backoff.Permanent(fmt.Errorf("backend: decode %s: %w", path, err))
	}
	return true, nil
}

var _ port.BackendClient = (*Client)(nil)
