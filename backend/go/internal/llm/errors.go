package llm

import (
	"errors"
	"fmt"

	httpx "BizAdvisor/backend/go/pkg/http"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// ErrToolLoopExceeded is returned when the model keeps requesting tools past the iteration cap.
var ErrToolLoopExceeded = errors.New("tool loop exceeded maximum iterations")

// ConfigurationError reports a provider that cannot be used as configured.
type ConfigurationError struct {
	Provider ProviderName
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured: %s", e.Provider, e.Reason)
}

// UpstreamError is a non-2xx answer from a provider. Body holds the response body.
type UpstreamError struct {
	Provider   ProviderName
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// upstream wraps a transport or SDK error as *UpstreamError, keeping status and body when known.
func upstream(provider ProviderName, err error) error {
	if err == nil {
		return nil
	}
	var already *UpstreamError
	if errors.As(err, &already) {
		return err
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) || errors.Is(err, ErrToolLoopExceeded) {
		return err
	}

	out := &UpstreamError{Provider: provider, Err: err}
	var statusErr *httpx.StatusError
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &statusErr):
		out.StatusCode, out.Body = statusErr.StatusCode, statusErr.Body
	case errors.As(err, &apiErr):
		out.StatusCode, out.Body = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		out.StatusCode, out.Body = reqErr.HTTPStatusCode, reqErr.Error()
	}
	return out
}
