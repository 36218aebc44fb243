package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries = 2
	defaultRetryDelay = time.Second
	maxRetryDelay     = 30 * time.Second
)

type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	// answeredOnly retries only on 429/5xx answers. A transport error may
	// hide a request the server already applied.
	answeredOnly bool
}

func (p retryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.baseDelay
	exp.MaxInterval = maxRetryDelay
	exp.MaxElapsedTime = 0 // bounded by maxRetries
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.maxRetries)), ctx)
}

// doWithRetry executes an HTTP request with exponential backoff retry for
// transient failures (network errors unless policy.answeredOnly, 5xx, 429).
// Any other non-2xx status is returned as an *APIError without retrying. A
// non-nil limiter is waited on before every attempt.
func doWithRetry(ctx context.Context, client *http.Client, policy retryPolicy, limiter *rate.Limiter, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var resp *http.Response
	attempt := 0

	op := func() error {
		attempt++
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return backoff.Permanent(fmt.Errorf("rate limit: %w", err))
			}
		}

		req, err := buildReq()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}

		r, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil || policy.answeredOnly {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("request failed: %w", err)
		}
		if r.StatusCode >= 200 && r.StatusCode < 300 {
			resp = r
			return nil
		}

		apiErr := newAPIError(req, r)
		r.Body.Close()
		if !retryable(r.StatusCode) {
			return backoff.Permanent(apiErr)
		}
		return apiErr
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("request failed, will retry", "attempt", attempt+1, "backoff", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, policy.backOff(ctx), notify); err != nil {
		return nil, err
	}
	return resp, nil
}

// newLimiter returns nil when perMinute is not positive.
func newLimiter(perMinute float64) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	burst := int(perMinute)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perMinute/60.0), burst)
}

func newAPIError(req *http.Request, resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &APIError{
		Method:     req.Method,
		Endpoint:   req.URL.Path,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		RequestID:  resp.Header.Get("x-request-id"),
	}
}
