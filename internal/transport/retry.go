package transport

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"f1standings/notionsync/internal/metrics"
)

// RetryPolicy controls how RetryTransport re-sends failed requests
type RetryPolicy struct {
	MaxAttempts       int           // Total attempts including the first
	BaseDelay         time.Duration // Delay before the first retry, doubled each time
	MaxDelay          time.Duration // Upper bound for any single wait
	Jitter            float64       // Fraction of the delay added at random, 0 disables
	RetryableStatuses []int
}

// DefaultRetryPolicy retries rate limits and gateway errors five times
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		BaseDelay:         1 * time.Second,
		MaxDelay:          30 * time.Second,
		RetryableStatuses: []int{429, 500, 502, 503, 504},
	}
}

// Backoff returns the wait before retry number n (1-based): base * 2^(n-1), capped
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retryable reports whether a status code should be retried
func (p RetryPolicy) Retryable(status int) bool {
	return slices.Contains(p.RetryableStatuses, status)
}

// ParseStatuses parses a comma separated status list such as "429,503"
func ParseStatuses(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, err := strconv.Atoi(part)
		if err != nil || code < 100 || code > 599 {
			return nil, fmt.Errorf("invalid HTTP status %q", part)
		}
		out = append(out, code)
	}
	return out, nil
}

// RetryTransport is an http.RoundTripper that retries transient failures.
// When attempts run out the last response is returned unchanged so callers
// can inspect the status.
//
// AttemptTimeout bounds each attempt on its own, including reading the
// response body. Backoff waits are not counted against it, so callers should
// leave http.Client.Timeout unset and bound the whole call with their context.
type RetryTransport struct {
	Base           http.RoundTripper
	Policy         RetryPolicy
	Clock          clockwork.Clock
	Name           string // Label used in logs and metrics
	AttemptTimeout time.Duration
}

// NewRetryTransport wraps base with policy using the real clock
func NewRetryTransport(name string, base http.RoundTripper, policy RetryPolicy) *RetryTransport {
	return &RetryTransport{
		Base:   base,
		Policy: policy,
		Clock:  clockwork.NewRealClock(),
		Name:   name,
	}
}

// RoundTrip implements http.RoundTripper
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	clock := t.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	attempts := t.Policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	ctx := req.Context()
	for attempt := 1; ; attempt++ {
		r := req
		if attempt > 1 {
			var err error
			if r, err = rewind(req); err != nil {
				return nil, err
			}
		}

		r, cancel := t.attemptContext(r)
		resp, err := base.RoundTrip(r)
		if err != nil || resp.Body == nil {
			cancel()
		} else {
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		}
		last := attempt >= attempts

		if err != nil {
			if ctx.Err() != nil || last {
				return nil, err
			}
			delay := t.delay(attempt, nil)
			log.Warn().
				Err(err).
				Str("client", t.Name).
				Str("url", req.URL.String()).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("Request failed, retrying")
			metrics.RecordRetry(t.Name, "network")
			if err := sleep(ctx, clock, delay); err != nil {
				return nil, err
			}
			continue
		}

		if !t.Policy.Retryable(resp.StatusCode) || last {
			if last && t.Policy.Retryable(resp.StatusCode) {
				log.Error().
					Str("client", t.Name).
					Str("url", req.URL.String()).
					Int("status", resp.StatusCode).
					Int("attempts", attempt).
					Msg("Retries exhausted")
			}
			return resp, nil
		}

		delay := t.delay(attempt, resp)
		drain(resp)
		log.Warn().
			Str("client", t.Name).
			Str("url", req.URL.String()).
			Int("status", resp.StatusCode).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Received retryable status, will retry")
		metrics.RecordRetry(t.Name, strconv.Itoa(resp.StatusCode))

		if err := sleep(ctx, clock, delay); err != nil {
			return nil, err
		}
	}
}

func (t *RetryTransport) attemptContext(req *http.Request) (*http.Request, context.CancelFunc) {
	if t.AttemptTimeout <= 0 {
		return req, func() {}
	}
	ctx, cancel := context.WithTimeout(req.Context(), t.AttemptTimeout)
	return req.WithContext(ctx), cancel
}

// cancelOnClose releases the attempt context once the body is consumed
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// delay prefers the server's Retry-After over computed backoff
func (t *RetryTransport) delay(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if d, ok := retryAfter(resp.Header.Get("Retry-After"), t.now()); ok {
			if t.Policy.MaxDelay > 0 && d > t.Policy.MaxDelay {
				return t.Policy.MaxDelay
			}
			return d
		}
	}

	d := t.Policy.Backoff(attempt)
	if t.Policy.Jitter > 0 && d > 0 {
		d += time.Duration(rand.Float64() * t.Policy.Jitter * float64(d))
	}
	return d
}

func (t *RetryTransport) now() time.Time {
	if t.Clock == nil {
		return time.Now()
	}
	return t.Clock.Now()
}

// retryAfter parses delta-seconds or an HTTP date
func retryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func rewind(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return r, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("failed to retry %s %s: request body cannot be replayed", req.Method, req.URL)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	r.Body = body
	return r, nil
}

func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
