package swarm_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kheven/swarm/internal/swarm"
	"github.com/kheven/swarm/internal/swarm/metrics"
	"github.com/kheven/swarm/internal/swarm/rate"
)

type recordedRequest struct {
	method    string
	path      string
	userAgent string
	header    string
}

func recordingServer(t *testing.T, status int) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var seen []recordedRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, recordedRequest{
			method:    r.Method,
			path:      r.URL.Path,
			userAgent: r.UserAgent(),
			header:    r.Header.Get("X-Test"),
		})
		mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte("hello"))
	}))
	t.Cleanup(ts.Close)
	return ts, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), seen...)
	}
}

func TestClient_RecordsSuccess(t *testing.T) {
	ts, seen := recordingServer(t, http.StatusOK)
	engine := metrics.NewEngine()
	client := &swarm.Client{
		HTTPClient: ts.Client(),
		Host:       ts.URL + "/",
		Headers:    map[string]string{"X-Test": "yes"},
		UserAgent:  "swarm-test",
		Metrics:    engine,
	}

	resp, err := client.Get(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(resp.Body))

	reqs := seen()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/slow", reqs[0].path)
	assert.Equal(t, "swarm-test", reqs[0].userAgent)
	assert.Equal(t, "yes", reqs[0].header)

	snap := engine.GetSnapshot()
	assert.Equal(t, int64(1), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.SuccessRequests)
	assert.Equal(t, int64(5), snap.TotalBytes)

	stats := engine.GetRequestStats()
	require.Len(t, stats, 1)
	assert.Equal(t, "GET", stats[0].Method)
	assert.Equal(t, "slow", stats[0].Name)
}

func TestClient_Non2xxIsFailure(t *testing.T) {
	for _, status := range []int{http.StatusMovedPermanently, http.StatusNotFound, http.StatusInternalServerError} {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		engine := metrics.NewEngine()
		client := &swarm.Client{
			HTTPClient: &http.Client{
				CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
			},
			Host:    ts.URL,
			Metrics: engine,
		}

		resp, err := client.Get(context.Background(), "/")
		require.Error(t, err)
		var statusErr *swarm.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, status, statusErr.StatusCode)
		assert.Equal(t, status, resp.StatusCode)

		snap := engine.GetSnapshot()
		assert.Equal(t, int64(1), snap.FailedRequests, "status %d", status)

		errs := engine.GetErrors()
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error, http.StatusText(status))

		ts.Close()
	}
}

func TestClient_TransportErrorIsFailure(t *testing.T) {
	engine := metrics.NewEngine()
	client := &swarm.Client{
		HTTPClient: &http.Client{Timeout: time.Second},
		Host:       "http://127.0.0.1:1",
		Metrics:    engine,
	}

	_, err := client.Get(context.Background(), "/")
	require.Error(t, err)
	assert.Equal(t, int64(1), engine.GetSnapshot().FailedRequests)
}

func TestClient_CancelledRequestNotRecorded(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	engine := metrics.NewEngine()
	client := &swarm.Client{HTTPClient: ts.Client(), Host: ts.URL, Metrics: engine}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, "/slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(0), engine.GetSnapshot().TotalRequests)
}

func TestClient_AbsoluteURL(t *testing.T) {
	ts, seen := recordingServer(t, http.StatusOK)
	client := &swarm.Client{HTTPClient: ts.Client(), Host: "http://unused.invalid"}

	_, err := client.Get(context.Background(), ts.URL+"/abs")
	require.NoError(t, err)
	require.Len(t, seen(), 1)
	assert.Equal(t, "/abs", seen()[0].path)
}

func TestHTTPTask_RequestsPath(t *testing.T) {
	ts, seen := recordingServer(t, http.StatusOK)

	user := &swarm.User{
		Name:     "test",
		WaitTime: swarm.Constant(0),
		Tasks: []swarm.Task{
			swarm.HTTPTask("index", "GET", "/", 1),
		},
	}
	vu := newTestVU(t, user, ts, metrics.NewEngine())

	require.NoError(t, user.Tasks[0].Fn(context.Background(), vu))

	slow := swarm.HTTPTask("slow_endpoint", "GET", "/slow", 1)
	assert.Equal(t, "slow_endpoint", slow.Name)
	assert.Equal(t, 1, slow.Weight)
	require.NoError(t, slow.Fn(context.Background(), vu))

	reqs := seen()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/", reqs[0].path)
	assert.Equal(t, "/slow", reqs[1].path)
	assert.Equal(t, http.MethodGet, reqs[1].method)
}

func TestClient_LimiterPacesRequests(t *testing.T) {
	ts, seen := recordingServer(t, http.StatusOK)
	engine := metrics.NewEngine()
	client := &swarm.Client{
		HTTPClient: ts.Client(),
		Host:       ts.URL,
		Metrics:    engine,
		Limiter:    rate.NewLimiter(50),
	}

	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := client.Get(context.Background(), "/")
		require.NoError(t, err)
	}

	// Five slots 20ms apart: the last one opens 80ms in.
	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
	assert.Len(t, seen(), 5)
	assert.Equal(t, int64(5), client.Limiter.Stats().Granted)
}

func TestClient_LimiterWaitCancelledNotRecorded(t *testing.T) {
	ts, seen := recordingServer(t, http.StatusOK)
	engine := metrics.NewEngine()
	client := &swarm.Client{HTTPClient: ts.Client(), Host: ts.URL, Metrics: engine, Limiter: rate.NewLimiter(1)}

	_, err := client.Get(context.Background(), "/")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Get(ctx, "/")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Len(t, seen(), 1)
	assert.Equal(t, int64(1), engine.GetSnapshot().TotalRequests)
}
