package httpretry

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(policy Policy) (*Client, *[]time.Duration) {
	c := NewClient(&http.Client{}, policy)
	var waits []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	c.jitter = func(time.Duration) time.Duration { return 0 }
	return c, &waits
}

func TestRetriesServiceUnavailableThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"x":1}`, string(body))
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"handle":"h-1"}`))
	}))
	defer server.Close()

	c, waits := newTestClient(Policy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 30 * time.Second})
	req, err := http.NewRequest(http.MethodPost, server.URL+"/run", strings.NewReader(`{"x":1}`))
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"handle":"h-1"}`, string(body))
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *waits)
}

func TestBadRequestIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad mapping"}`))
	}))
	defer server.Close()

	c, waits := newTestClient(Policy{MaxAttempts: 5})
	req, _ := http.NewRequest(http.MethodPost, server.URL, strings.NewReader("{}"))

	resp, err := c.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, *waits)
}

func TestExhaustedReturnsStatusError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer server.Close()

	c, _ := newTestClient(Policy{MaxAttempts: 3})
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	_, err := c.Do(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, "slow down", se.Body)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

type flakyDoer struct {
	failures int
	calls    int
}

func (f *flakyDoer) Do(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     make(http.Header),
	}, nil
}

func TestNetworkErrorsAreRetried(t *testing.T) {
	doer := &flakyDoer{failures: 2}
	c := NewClient(doer, Policy{MaxAttempts: 3})
	c.sleep = func(context.Context, time.Duration) error { return nil }

	req, _ := http.NewRequest(http.MethodGet, "http://inference.local/status/h", nil)
	resp, err := c.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, doer.calls)
}

func TestAttemptTimeoutCountsAsRetryable(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
			return
		}
		w.Write([]byte("late but fine"))
	}))
	defer server.Close()

	c, _ := newTestClient(Policy{MaxAttempts: 2, AttemptTimeout: 50 * time.Millisecond})
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := c.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "late but fine", string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCanceledContextStopsRetrying(t *testing.T) {
	doer := &flakyDoer{failures: 10}
	c := NewClient(doer, Policy{MaxAttempts: 5})
	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://inference.local", nil)
	_, err := c.Do(req)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, doer.calls)
}

func TestBackoff(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Duration(0), p.Backoff(1))
	assert.Equal(t, time.Second, p.Backoff(2))
	assert.Equal(t, 2*time.Second, p.Backoff(3))
	assert.Equal(t, 4*time.Second, p.Backoff(4))
	assert.Equal(t, 5*time.Second, p.Backoff(5))
	assert.Equal(t, 5*time.Second, p.Backoff(40))
}

func TestRandomJitterBounded(t *testing.T) {
	for i := 0; i < 100; i++ {
		j := randomJitter(500 * time.Millisecond)
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, 500*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), randomJitter(0))
}

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504, 599} {
		assert.True(t, IsRetryableStatus(code), code)
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 409, 422} {
		assert.False(t, IsRetryableStatus(code), code)
	}
}
