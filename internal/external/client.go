// Package external holds the outbound clients job handlers call: email
// providers and the student directory. HTTP providers share Upstream for
// circuit breaking, retries and error mapping.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"jobboard/internal/types"
)

const userAgent = "JobBoard-Workers/1.0"

// RetryPolicy bounds the in-call retries of one job attempt. The queue's own
// redelivery covers anything that still fails.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy is used by the student directory.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, MinWait: 500 * time.Millisecond, MaxWait: 10 * time.Second}
}

// SleepFunc waits d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpstreamConfig describes one HTTP provider.
type UpstreamConfig struct {
	// Name labels the circuit breaker.
	Name      string
	Timeout   time.Duration
	Retry     RetryPolicy
	UserAgent string
}

// Upstream is the HTTP client for one provider. Each provider owns its own
// breaker so a SendGrid outage does not stop student syncs.
type Upstream struct {
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	retry     RetryPolicy
	userAgent string
	sleep     SleepFunc
}

// UpstreamOption customizes an Upstream.
type UpstreamOption func(*Upstream)

// WithSleepFunc overrides the wait between retries. Tests pass a no-op.
func WithSleepFunc(fn SleepFunc) UpstreamOption {
	return func(u *Upstream) { u.sleep = fn }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) UpstreamOption {
	return func(u *Upstream) { u.breaker = cb }
}

// NewBreaker opens after more than five consecutive failed calls and lets one
// trial call through after 30s.
func NewBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
}

// NewUpstream creates an Upstream.
func NewUpstream(cfg UpstreamConfig, opts ...UpstreamOption) *Upstream {
	u := &Upstream{
		http:      &http.Client{Timeout: cfg.Timeout},
		breaker:   NewBreaker(cfg.Name),
		retry:     cfg.Retry,
		userAgent: cfg.UserAgent,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// statusError marks a response the provider should be asked for again.
type statusError struct{ status int }

func (e *statusError) Error() string { return fmt.Sprintf("upstream returned %d", e.status) }

// Do sends req with the job and request ids of its context as X-Job-Id and
// X-Request-Id. 429 and 5xx responses are retried, honoring Retry-After,
// and end as a retryable AppError; any other response is returned for the
// caller to read and close. Cancellation returns the bare context error.
func (u *Upstream) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if id := types.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
	if id := types.GetJobID(ctx); id != "" {
		req.Header.Set("X-Job-Id", id)
	}
	if u.userAgent != "" {
		req.Header.Set("User-Agent", u.userAgent)
	}

	body, err := drain(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
	}

	var lastErr error
	for attempt := 0; attempt <= u.retry.MaxRetries; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := u.breaker.Execute(func() (*http.Response, error) { return u.send(req) })
		if err == nil {
			return resp, nil
		}
		lastErr = err
		wait := u.backoff(attempt, resp)
		if resp != nil {
			resp.Body.Close()
		}

		if ctx.Err() != nil || breakerRejected(err) || attempt == u.retry.MaxRetries {
			break
		}
		if u.sleep(ctx, wait) != nil {
			break
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, upstreamError(lastErr)
}

func (u *Upstream) send(req *http.Request) (*http.Response, error) {
	resp, err := u.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return resp, &statusError{status: resp.StatusCode}
	}
	return resp, nil
}

// drain reads the request body so each attempt can resend it.
func drain(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

// backoff is the Retry-After of resp when present, otherwise a jittered
// exponential wait. Both stay within [MinWait, MaxWait].
func (u *Upstream) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if wait, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
			return min(max(wait, u.retry.MinWait), u.retry.MaxWait)
		}
	}
	ceiling := min(u.retry.MinWait<<min(attempt, 20), u.retry.MaxWait)
	if ceiling <= u.retry.MinWait {
		return u.retry.MinWait
	}
	return u.retry.MinWait + rand.N(ceiling-u.retry.MinWait)
}

// retryAfter parses a Retry-After value in seconds or as an HTTP date.
func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at), true
	}
	return 0, false
}

func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// upstreamError maps the last failure to a retryable AppError.
func upstreamError(err error) error {
	if breakerRejected(err) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "circuit breaker open", err)
	}
	var se *statusError
	switch {
	case errors.As(err, &se) && se.status == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
	case errors.As(err, &se):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("upstream returned %d after retries", se.status), err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
	}
}
