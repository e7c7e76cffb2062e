package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/openperu-ingest/internal/metrics"
)

const (
	defaultConcurrency = 10
	defaultTimeout     = 20 * time.Second
)

// Config bounds the orchestrator.
type Config struct {
	// Concurrency is the number of in-flight requests shared by every
	// caller of the orchestrator.
	Concurrency int
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Limiter optionally paces requests per host.
	Limiter Limiter
}

// Orchestrator fetches URLs under a global concurrency bound with retries.
type Orchestrator struct {
	transport Transport
	policy    RetryPolicy
	sem       *semaphore.Weighted
	limiter   Limiter
	timeout   time.Duration
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// New builds an Orchestrator. A nil policy uses NewFixedRetryPolicy.
func New(transport Transport, policy RetryPolicy, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if policy == nil {
		policy = NewFixedRetryPolicy()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		transport: transport,
		policy:    policy,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter:   cfg.Limiter,
		timeout:   cfg.Timeout,
		logger:    logger.Named("fetch"),
		sleep:     sleepCtx,
	}, nil
}

// Fetch performs one request with retries and returns its response.
func (o *Orchestrator) Fetch(ctx context.Context, req Request) (Response, error) {
	res := o.do(ctx, req)
	return res.Response, res.Err
}

// FetchMany runs every request concurrently under the shared bound and
// returns one Result per request, in input order. A failing request never
// affects its siblings and FetchMany itself never fails.
func (o *Orchestrator) FetchMany(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			results[i] = o.do(ctx, req)
		}(i, req)
	}
	wg.Wait()

	ok, failed := Tally(results)
	o.logger.Debug("batch complete", zap.Int("ok", ok), zap.Int("failed", failed))
	return results
}

func (o *Orchestrator) do(ctx context.Context, req Request) Result {
	res := Result{Request: req}
	for {
		res.Attempts++
		resp, err := o.attempt(ctx, req)
		if err == nil {
			res.Response = resp
			res.Err = nil
			metrics.ObserveFetch(req.URL, "ok")
			return res
		}
		res.Response = resp
		res.Err = err
		if ctx.Err() != nil {
			// The caller gave up. Nothing reported after that is retried.
			if !errors.Is(err, ctx.Err()) {
				res.Err = fmt.Errorf("%w: %w", ctx.Err(), err)
			}
			break
		}
		if !o.policy.ShouldRetry(err, res.Attempts) {
			break
		}
		metrics.ObserveRetry(req.URL)
		wait := o.policy.Backoff(res.Attempts)
		o.logger.Debug("retrying after timeout",
			zap.String("url", req.URL),
			zap.Int("attempt", res.Attempts),
			zap.Duration("backoff", wait),
		)
		if sleepErr := o.sleep(ctx, wait); sleepErr != nil {
			res.Err = fmt.Errorf("fetch %s: %w", req.URL, sleepErr)
			break
		}
	}

	outcome := "error"
	var statusErr *StatusError
	switch {
	case ctx.Err() != nil:
		outcome = "canceled"
	case errors.As(res.Err, &statusErr):
		outcome = "status"
	case IsTimeout(res.Err):
		outcome = "timeout"
		res.Err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, res.Attempts, res.Err)
	}
	metrics.ObserveFetch(req.URL, outcome)
	o.logger.Warn("fetch failed",
		zap.String("url", req.URL),
		zap.Int("attempts", res.Attempts),
		zap.Error(res.Err),
	)
	return res
}

// attempt holds a semaphore slot only for the network exchange, never
// during backoff.
func (o *Orchestrator) attempt(ctx context.Context, req Request) (Response, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx, req.URL); err != nil {
			return Response{}, fmt.Errorf("fetch %s: %w", req.URL, err)
		}
	}
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	defer o.sem.Release(1)

	attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	resp, err := o.transport.Do(attemptCtx, req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return Response{}, fmt.Errorf("fetch %s: %w: %w", req.URL, ErrTimeout, err)
		}
		return Response{}, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, &StatusError{URL: req.URL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
