package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamingTimeoutCutsIdleStream(t *testing.T) {
	t.Parallel()

	var cause error
	h := StreamingTimeout(time.Minute, 30*time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			cause = r.Context().Err()
		case <-time.After(2 * time.Second):
		}
	}))

	started := time.Now()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/events", nil))

	require.ErrorIs(t, cause, context.Canceled)
	assert.Less(t, time.Since(started), time.Second)
}

func TestStreamingTimeoutWritesKeepStreamAlive(t *testing.T) {
	t.Parallel()

	var cause error
	h := StreamingTimeout(time.Minute, 40*time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.After(150 * time.Millisecond)
		for {
			select {
			case <-r.Context().Done():
				cause = r.Context().Err()
				return
			case <-ticker.C:
				_, _ = w.Write([]byte(": ping\n\n"))
				w.(http.Flusher).Flush()
			case <-deadline:
				return
			}
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))

	assert.NoError(t, cause)
	assert.Contains(t, rec.Body.String(), ": ping")
	assert.True(t, rec.Flushed)
}

func TestStreamingTimeoutMaxDuration(t *testing.T) {
	t.Parallel()

	var cause error
	h := StreamingTimeout(30*time.Millisecond, 0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		cause = r.Context().Err()
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/events", nil))
	require.ErrorIs(t, cause, context.DeadlineExceeded)
}
