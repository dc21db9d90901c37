// Package captcha verifies CAPTCHA challenge tokens against a siteverify
// endpoint such as Cloudflare Turnstile.
//
// Tokens are single-use, so a verification is never cached or retried.
package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TurnstileVerifyURL is Cloudflare Turnstile's siteverify endpoint.
const TurnstileVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

const (
	defaultTimeout  = 5 * time.Second
	maxResponseSize = 64 << 10
)

var (
	// ErrNoToken is returned, without any network call, for an empty token.
	ErrNoToken = errors.New("captcha token is empty")
	// ErrProvider wraps transport, status and decoding failures of the provider.
	ErrProvider = errors.New("captcha provider error")
)

// Verifier redeems a CAPTCHA token. A false verdict with a nil error is an
// ordinary rejection; a non-nil error means no verdict could be obtained.
type Verifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// Config configures a Client.
type Config struct {
	Secret     string
	VerifyURL  string // defaults to TurnstileVerifyURL
	Timeout    time.Duration
	HTTPClient *http.Client // defaults to an otelhttp-instrumented client
}

// Client is a Verifier backed by an HTTP siteverify endpoint.
// It holds no per-request state and is safe for concurrent use.
type Client struct {
	secret   string
	endpoint string
	timeout  time.Duration
	http     *http.Client
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	endpoint := cfg.VerifyURL
	if endpoint == "" {
		endpoint = TurnstileVerifyURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Client{
		secret:   cfg.Secret,
		endpoint: endpoint,
		timeout:  timeout,
		http:     hc,
	}
}

type verifyRequest struct {
	Secret   string `json:"secret"`
	Response string `json:"response"`
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
}

// Verify submits token with the server-held secret and returns the provider's verdict.
func (c *Client) Verify(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, ErrNoToken
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(verifyRequest{Secret: c.secret, Response: token})
	if err != nil {
		return false, fmt.Errorf("encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("%w: build request: %v", ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: unexpected status %d", ErrProvider, resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
		return false, fmt.Errorf("%w: decode response: %v", ErrProvider, err)
	}

	return out.Success, nil
}
