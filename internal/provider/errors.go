package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrLLMUnavailable is returned when no usable response was obtained within
// the retry budget, or when the model rejected the request outright.
var ErrLLMUnavailable = errors.New("llm unavailable")

// UnavailableError records why a completion failed. It matches
// ErrLLMUnavailable and the last underlying error.
type UnavailableError struct {
	Backend  string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: llm unavailable after %d attempt(s): %v", e.Backend, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() []error { return []error{ErrLLMUnavailable, e.Err} }

// HTTPError is a non-2xx answer from a vendor API.
type HTTPError struct {
	StatusCode int
	Header     http.Header
	Err        error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d %s: %v", e.StatusCode, http.StatusText(e.StatusCode), e.Err)
}

func (e *HTTPError) Unwrap() error { return e.Err }

func httpError(status int, resp *http.Response, err error) error {
	he := &HTTPError{StatusCode: status, Err: err}
	if resp != nil {
		he.Header = resp.Header
	}
	return he
}
