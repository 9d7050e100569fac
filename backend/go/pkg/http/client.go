package http

import (
	"BizAdvisor/backend/go/internal/config"
	"BizAdvisor/backend/go/pkg/circuitbreaker"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxErrorBody bounds how much of a failed response body is kept in StatusError.
const maxErrorBody = 8 << 10

// StatusError is returned by Transport for any non-2xx upstream response.
// The response body has already been read and closed.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// Transport is an http.RoundTripper that guards one upstream with a circuit
// breaker and converts non-2xx responses into *StatusError.
// Status codes >= 500 and transport errors count as breaker failures.
type Transport struct {
	Base    http.RoundTripper
	Breaker *circuitbreaker.Breaker
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Breaker != nil {
		if err := t.Breaker.Allow(); err != nil {
			return nil, err
		}
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		t.done(false)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.done(resp.StatusCode < http.StatusInternalServerError)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	t.done(true)
	return resp, nil
}

func (t *Transport) done(success bool) {
	if t.Breaker != nil {
		t.Breaker.Done(success)
	}
}

// NewClient creates an *http.Client with the given timeout whose transport is
// protected by a circuit breaker when enabled in cfg.
func NewClient(cfg config.CircuitBreakerConfig, timeout time.Duration) *http.Client {
	transport := &Transport{}
	if cfg.Enabled {
		transport.Breaker = circuitbreaker.New(
			cfg.FailureThreshold,
			cfg.SuccessThreshold,
			config.Duration(cfg.Timeout, 30*time.Second),
		)
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
