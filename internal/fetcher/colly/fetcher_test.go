package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procuredocs/regcrawler/internal/metrics"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	return New(Config{
		UserAgent:      "regcrawler-test",
		Timeout:        5 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 5 * time.Millisecond,
	}, nil)
}

func TestGetReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("currentPage"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	resp, err := f.Get(context.Background(), srv.URL, url.Values{"currentPage": {"1"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "ok")
	assert.Equal(t, "utf-8", resp.Charset)
}

func TestGetRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	resp, err := f.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, string(resp.Body), "recovered")
}

func TestGetSurfacesLastFailureAfterExhaustion(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	_, err := f.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)

	var fetchErr *Error
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, 3, fetchErr.Attempts)
	assert.Equal(t, http.StatusServiceUnavailable, fetchErr.LastStatus)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetRepairsMislabeledCharset(t *testing.T) {
	t.Parallel()

	// UTF-8 Chinese content served with a bogus legacy charset declaration.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=ISO-8859-1")
		_, _ = w.Write([]byte("<html><body>军队采购法规管理系统平台公告内容页面</body></html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	resp, err := f.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "utf-8", resp.Charset)
	assert.Contains(t, string(resp.Body), "军队采购法规")
}

func TestPostSubmitsForm(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		_, _ = w.Write([]byte("lmid=" + r.PostFormValue("lmid")))
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	resp, err := f.Post(context.Background(), srv.URL, map[string]string{"lmid": "42"})
	require.NoError(t, err)
	assert.Equal(t, "lmid=42", string(resp.Body))
}

func TestGetPacesWithFiniteRateLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(Config{
		UserAgent:         "regcrawler-test",
		Timeout:           5 * time.Second,
		MaxRetries:        1,
		RequestsPerSecond: 100,
	}, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := f.Get(context.Background(), srv.URL, nil)
		require.NoError(t, err)
	}
	// Burst of one plus two paced slots at 100 rps gives a 20ms floor; allow
	// a little slack for timer granularity.
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestFetchAttemptsAreCounted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer flaky.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	f := newTestFetcher(t)
	_, err := f.Get(context.Background(), flaky.URL, nil)
	require.NoError(t, err)
	_, err = f.Get(context.Background(), down.URL, nil)
	require.Error(t, err)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `regcrawler_fetch_attempts_total{result="success"}`)
	assert.Contains(t, body, `regcrawler_fetch_attempts_total{result="retry"}`)
	assert.Contains(t, body, `regcrawler_fetch_attempts_total{result="exhausted"}`)
}

func TestGetHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f := newTestFetcher(t)
	_, err := f.Get(ctx, srv.URL, nil)
	require.Error(t, err)
}
