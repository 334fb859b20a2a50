package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitSucceedsOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Browser":"HeadlessChrome/120.0","webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/browser/abc"}`))
	}))
	defer srv.Close()

	res, err := Wait(context.Background(), strings.TrimPrefix(srv.URL, "http://"), Options{MaxAttempts: 1})
	require.NoError(t, err)
	require.Equal(t, "HeadlessChrome/120.0", res.Version.Browser)
	require.Equal(t, 1, res.Attempt)
}

func TestWaitRetriesUntilReady(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/browser/abc"}`))
	}))
	defer srv.Close()

	res, err := Wait(context.Background(), strings.TrimPrefix(srv.URL, "http://"), Options{
		Interval:    5 * time.Millisecond,
		MaxAttempts: 10,
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Attempt)
}

func TestWaitGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := Wait(context.Background(), strings.TrimPrefix(srv.URL, "http://"), Options{
		Interval:    1 * time.Millisecond,
		MaxAttempts: 3,
	})
	require.Error(t, err)
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Wait(ctx, strings.TrimPrefix(srv.URL, "http://"), Options{
		Interval:    50 * time.Millisecond,
		MaxAttempts: 100,
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestWaitOnUnreachableHostFails(t *testing.T) {
	_, err := Wait(context.Background(), "127.0.0.1:1", Options{
		Interval:    1 * time.Millisecond,
		MaxAttempts: 2,
	})
	require.Error(t, err)
}
