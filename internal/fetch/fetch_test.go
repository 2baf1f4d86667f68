package fetch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/wimjan123/tweede-kamer-scraper/internal/fetch"
)

func TestGetReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := fetch.New(srv.Client(), fetch.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond}, nil, "test-agent")

	body, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "payload", string(body))
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := fetch.New(srv.Client(), fetch.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}, nil, "")

	body, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
	require.Equal(t, int32(3), calls.Load())
}

func TestGetExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := fetch.New(srv.Client(), fetch.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}, nil, "")

	_, err := c.Get(context.Background(), srv.URL)
	require.Error(t, err)

	var fe *fetch.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, 3, fe.Attempts)
	require.Equal(t, http.StatusInternalServerError, fe.Status)
	require.Equal(t, int32(3), calls.Load())
}

func TestGetFailsFastOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := fetch.New(srv.Client(), fetch.RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond}, nil, "")

	_, err := c.Get(context.Background(), srv.URL)
	var fe *fetch.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, http.StatusNotFound, fe.Status)
	require.Equal(t, int32(1), calls.Load())
}

func TestGetHonorsRateLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	limiter := rate.NewLimiter(rate.Every(50*time.Millisecond), 1)
	c := fetch.New(srv.Client(), fetch.RetryPolicy{MaxAttempts: 1, Backoff: time.Millisecond}, limiter, "")

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	// First token is free, the next two wait for refill.
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestGetStopsOnCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := fetch.New(srv.Client(), fetch.RetryPolicy{MaxAttempts: 3, Backoff: time.Hour}, nil, "")

	_, err := c.Get(ctx, srv.URL)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}
