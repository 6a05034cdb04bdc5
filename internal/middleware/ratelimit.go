package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"session-guard/pkg/apierror"
)

type clientLimiter struct {
	general  *rate.Limiter
	repair   *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware limits requests per client IP. Calls that start a
// login against the identity service get their own, tighter budget.
type RateLimitMiddleware struct {
	generalRPM int
	repairRPM  int
	mu         sync.Mutex
	clients    map[string]*clientLimiter
	now        func() time.Time
}

// NewRateLimitMiddleware treats a non-positive generalRPM as unlimited;
// repairRPM falls back to 10.
func NewRateLimitMiddleware(generalRPM int, repairRPM int) *RateLimitMiddleware {
	if repairRPM <= 0 {
		repairRPM = 10
	}

	return &RateLimitMiddleware{
		generalRPM: generalRPM,
		repairRPM:  repairRPM,
		clients:    map[string]*clientLimiter{},
		now:        time.Now,
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := m.getLimiter(extractClientIP(r))

		target := limiter.general
		if isRepairCall(r) {
			target = limiter.repair
		}

		if target != nil && !target.Allow() {
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, apierror.New(apierror.CodeThrottled, "Too many requests", "", http.StatusTooManyRequests))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isRepairCall(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	path := strings.TrimSuffix(strings.ToLower(r.URL.Path), "/")
	return strings.HasSuffix(path, "/session/repair") || strings.HasSuffix(path, "/session/login")
}

func (m *RateLimitMiddleware) getLimiter(clientIP string) *clientLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if limiter, exists := m.clients[clientIP]; exists {
		limiter.lastSeen = now
		m.gcLocked(now)
		return limiter
	}

	created := &clientLimiter{
		repair:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.repairRPM)), m.repairRPM),
		lastSeen: now,
	}
	if m.generalRPM > 0 {
		created.general = rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.generalRPM)), m.generalRPM)
	}
	m.clients[clientIP] = created
	m.gcLocked(now)

	return created
}

func (m *RateLimitMiddleware) gcLocked(now time.Time) {
	if len(m.clients) < 1000 {
		return
	}

	cutoff := now.Add(-10 * time.Minute)
	for ip, limiter := range m.clients {
		if limiter.lastSeen.Before(cutoff) {
			delete(m.clients, ip)
		}
	}
}

func extractClientIP(r *http.Request) string {
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if first := strings.TrimSpace(parts[0]); first != "" {
			return first
		}
	}

	realIP := strings.TrimSpace(r.Header.Get("X-Real-IP"))
	if realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}

	if strings.TrimSpace(r.RemoteAddr) == "" {
		return "unknown"
	}

	return r.RemoteAddr
}
