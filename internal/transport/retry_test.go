package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// advanceForever releases every sleeper on the fake clock until ctx ends
func advanceForever(ctx context.Context, clock *clockwork.FakeClock) {
	go func() {
		for {
			if err := clock.BlockUntilContext(ctx, 1); err != nil {
				return
			}
			clock.Advance(time.Minute)
		}
	}()
}

func testPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = 3
	return p
}

func TestRetryTransport_RetriesUntilSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	advanceForever(ctx, clock)

	var calls int32
	rt := &RetryTransport{
		Policy: testPolicy(),
		Clock:  clock,
		Name:   "test",
		Base: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return response(http.StatusServiceUnavailable, "busy"), nil
			}
			return response(http.StatusOK, "ok"), nil
		}),
	}

	req := httptest.NewRequest(http.MethodGet, "http://stats.test/f1/2025/1/results.json", nil).WithContext(ctx)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetryTransport_ReturnsLastResponseWhenExhausted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	advanceForever(ctx, clock)

	var calls int32
	rt := &RetryTransport{
		Policy: testPolicy(),
		Clock:  clock,
		Base: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			atomic.AddInt32(&calls, 1)
			return response(http.StatusTooManyRequests, "slow down"), nil
		}),
	}

	req := httptest.NewRequest(http.MethodGet, "http://stats.test/", nil).WithContext(ctx)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "slow down", string(body), "Last body should be readable")
}

func TestRetryTransport_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	rt := &RetryTransport{
		Policy: testPolicy(),
		Clock:  clockwork.NewFakeClock(),
		Base: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			atomic.AddInt32(&calls, 1)
			return response(http.StatusBadRequest, "bad"), nil
		}),
	}

	resp, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://stats.test/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), calls)
}

func TestRetryTransport_RetriesNetworkErrorsAndReplaysBody(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	advanceForever(ctx, clock)

	var bodies []string
	rt := &RetryTransport{
		Policy: testPolicy(),
		Clock:  clock,
		Base: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			b, _ := io.ReadAll(r.Body)
			bodies = append(bodies, string(b))
			if len(bodies) == 1 {
				return nil, errors.New("connection reset")
			}
			return response(http.StatusOK, "{}"), nil
		}),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://notion.test/v1/pages", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{`{"a":1}`, `{"a":1}`}, bodies)
}

func TestRetryTransport_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := clockwork.NewFakeClock()

	rt := &RetryTransport{
		Policy: testPolicy(),
		Clock:  clock,
		Base: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return response(http.StatusBadGateway, ""), nil
		}),
	}

	go func() {
		_ = clock.BlockUntilContext(context.Background(), 1)
		cancel()
	}()

	req := httptest.NewRequest(http.MethodGet, "http://stats.test/", nil).WithContext(ctx)
	_, err := rt.RoundTrip(req)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryTransport_AttemptTimeoutRetriesSlowAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	advanceForever(ctx, clock)

	var calls int32
	rt := &RetryTransport{
		Policy:         testPolicy(),
		Clock:          clock,
		AttemptTimeout: 20 * time.Millisecond,
		Base: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				<-r.Context().Done()
				return nil, r.Context().Err()
			}
			return response(http.StatusOK, "ok"), nil
		}),
	}

	req := httptest.NewRequest(http.MethodGet, "http://stats.test/", nil).WithContext(ctx)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRetryTransport_AttemptTimeoutExcludesBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	policy := RetryPolicy{
		MaxAttempts:       5,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          150 * time.Millisecond,
		RetryableStatuses: []int{http.StatusTooManyRequests},
	}
	rt := NewRetryTransport("test", http.DefaultTransport, policy)
	rt.AttemptTimeout = 200 * time.Millisecond

	// Two waits of 150ms exceed one attempt's budget
	resp, err := (&http.Client{Transport: rt}).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	assert.Equal(t, 1*time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(4))
	assert.Equal(t, 10*time.Second, p.Backoff(5), "Backoff should be capped")
	assert.Equal(t, 10*time.Second, p.Backoff(40))
}

func TestRetryTransport_DelayHonoursRetryAfter(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 16, 12, 0, 0, 0, time.UTC))
	rt := &RetryTransport{Policy: DefaultRetryPolicy(), Clock: clock}

	resp := response(http.StatusTooManyRequests, "")
	resp.Header.Set("Retry-After", "7")
	assert.Equal(t, 7*time.Second, rt.delay(1, resp))

	resp.Header.Set("Retry-After", clock.Now().Add(3*time.Second).Format(http.TimeFormat))
	assert.Equal(t, 3*time.Second, rt.delay(1, resp))

	resp.Header.Set("Retry-After", "3600")
	assert.Equal(t, 30*time.Second, rt.delay(1, resp), "Retry-After should be capped at MaxDelay")

	resp.Header.Del("Retry-After")
	assert.Equal(t, 2*time.Second, rt.delay(2, resp))
}

func TestParseStatuses(t *testing.T) {
	got, err := ParseStatuses("429, 503,504")
	require.NoError(t, err)
	assert.Equal(t, []int{429, 503, 504}, got)

	_, err = ParseStatuses("42x")
	assert.Error(t, err)
}
