package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// StreamingTimeout bounds long-lived responses such as the event stream
// without buffering them the way http.TimeoutHandler does. maxDuration caps
// the whole response; idleTimeout, when positive, cuts a stream that has not
// written anything for that long.
func StreamingTimeout(maxDuration, idleTimeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), maxDuration)
			defer cancel()

			sw := &streamWriter{
				ResponseWriter: w,
				rc:             http.NewResponseController(w),
				idle:           idleTimeout,
				cancel:         cancel,
			}
			_ = sw.rc.SetWriteDeadline(time.Now().Add(maxDuration))
			sw.touch()

			next.ServeHTTP(sw, r.WithContext(ctx))
			sw.stop()

			switch {
			case sw.wasIdle():
				slog.Info("event stream closed after inactivity",
					"request_id", RequestIDFromContext(r.Context()),
					"idle", idleTimeout,
				)
			case ctx.Err() == context.DeadlineExceeded:
				slog.Info("event stream reached its maximum duration",
					"request_id", RequestIDFromContext(r.Context()),
					"max", maxDuration,
				)
			}
		})
	}
}

type streamWriter struct {
	http.ResponseWriter
	rc     *http.ResponseController
	idle   time.Duration
	cancel context.CancelFunc

	mu      sync.Mutex
	timer   *time.Timer
	expired bool
}

// touch restarts the inactivity countdown.
func (sw *streamWriter) touch() {
	if sw.idle <= 0 {
		return
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.timer != nil {
		sw.timer.Reset(sw.idle)
		return
	}
	sw.timer = time.AfterFunc(sw.idle, func() {
		sw.mu.Lock()
		sw.expired = true
		sw.mu.Unlock()

		_ = sw.rc.SetWriteDeadline(time.Now())
		sw.cancel()
	})
}

func (sw *streamWriter) stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.timer != nil {
		sw.timer.Stop()
	}
}

func (sw *streamWriter) wasIdle() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.expired
}

func (sw *streamWriter) Write(b []byte) (int, error) {
	sw.touch()
	return sw.ResponseWriter.Write(b)
}

func (sw *streamWriter) Flush() {
	_ = sw.rc.Flush()
}

func (sw *streamWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
