// Package fetch runs bounded, retrying HTTP fetches against the congress
// source and isolates per-request failures from the rest of a batch.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

var (
	// ErrRetriesExhausted wraps the last error of a request that used its
	// whole retry budget.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrTimeout marks an attempt that hit its per-request deadline.
	ErrTimeout = errors.New("request timed out")
)

// Request describes one fetch. A non-nil Form turns it into a form POST.
type Request struct {
	URL  string
	Form url.Values
	// Tag is an opaque caller label carried through to the Result.
	Tag string
}

// Method reports the HTTP method the request will use.
func (r Request) Method() string {
	if r.Form != nil {
		return http.MethodPost
	}
	return http.MethodGet
}

// Response is a fetched payload.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Result is either a Response or a typed failure for one Request.
type Result struct {
	Request  Request
	Response Response
	Err      error
	Attempts int
}

// OK reports whether the request succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Transport performs one HTTP exchange. Implementations return the
// response for any status code and an error only for transport failures.
type Transport interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// StatusError reports a non-2xx response. It is never retried.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// IsTimeout reports whether err is a transient timeout worth retrying.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Tally counts successes and failures in a batch.
func Tally(results []Result) (ok, failed int) {
	for _, r := range results {
		if r.OK() {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}
