// Package collyfetcher implements fetch.Transport using gocolly.
package collyfetcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/openperu-ingest/internal/fetch"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout bounds a request when the context carries no deadline.
	Timeout time.Duration
	// ConnectTimeout bounds the TCP dial.
	ConnectTimeout time.Duration
	// MaxBodySize caps response bodies in bytes; zero means unlimited.
	MaxBodySize int
	// InsecureSkipVerify disables TLS verification for hosts with broken chains.
	InsecureSkipVerify bool
}

// Fetcher performs single GET or form POST exchanges through Colly. Each
// exchange gets its own collector so per-request timeouts never touch a
// client shared with concurrent requests; the pooled transport is shared.
type Fetcher struct {
	cfg       Config
	transport *http.Transport
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Fetcher{cfg: cfg, transport: newHTTPTransport(cfg)}
}

// Do executes req and returns the response for any HTTP status.
func (f *Fetcher) Do(ctx context.Context, req fetch.Request) (fetch.Response, error) {
	var (
		result   fetch.Response
		fetchErr error
	)
	collector := f.buildCollector(ctx, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, req, &fetchErr); err != nil {
		return fetch.Response{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, result *fetch.Response, fetchErr *error) *colly.Collector {
	collector := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	collector.MaxBodySize = f.cfg.MaxBodySize
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}
	collector.WithTransport(f.transport)
	collector.SetRequestTimeout(timeout)

	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *fetch.Response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "es-PE,es;q=0.9")
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = fetch.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     headers,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, req fetch.Request, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		if req.Form != nil {
			form := make(map[string]string, len(req.Form))
			for key := range req.Form {
				form[key] = req.Form.Get(key)
			}
			done <- collector.Post(req.URL, form)
			return
		}
		done <- collector.Visit(req.URL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport(cfg Config) *http.Transport {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if cfg.InsecureSkipVerify {
		// #nosec G402 -- opt-in for source hosts serving incomplete chains.
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return t
}
