package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pairchat/internal/metrics"
)

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// HandshakeThrottle caps WebSocket handshakes per remote IP with a token bucket.
// Entries idle for two cleanup intervals are evicted in the background.
type HandshakeThrottle struct {
	rate  rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*throttleEntry

	cleanupInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewHandshakeThrottle allows perMinute handshakes per IP, all of which may arrive at once
func NewHandshakeThrottle(perMinute int, cleanupInterval time.Duration, logger *zap.Logger, m *metrics.Metrics) *HandshakeThrottle {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &HandshakeThrottle{
		rate:            rate.Every(time.Minute / time.Duration(perMinute)),
		burst:           perMinute,
		entries:         make(map[string]*throttleEntry),
		cleanupInterval: cleanupInterval,
		done:            make(chan struct{}),
		logger:          logger.Named("throttle"),
		metrics:         m,
	}
	go t.cleanup()
	return t
}

// Allow reports whether key may open another connection now
func (t *HandshakeThrottle) Allow(key string) bool {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(t.rate, t.burst)}
		t.entries[key] = e
	}
	e.lastSeen = time.Now()
	t.mu.Unlock()

	return e.limiter.Allow()
}

// Middleware rejects over-limit handshakes with 429
func (t *HandshakeThrottle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := remoteIP(r)
		if !t.Allow(ip) {
			t.metrics.RecordHandshakeThrottled()
			t.logger.Debug("handshake throttled", zap.String("remote_ip", ip))
			w.Header().Set("Retry-After", "60")
			sendError(w, "Too many connection attempts", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Len returns the number of tracked IPs
func (t *HandshakeThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close stops the eviction goroutine
func (t *HandshakeThrottle) Close() {
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *HandshakeThrottle) cleanup() {
	ticker := time.NewTicker(t.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.evictStale(time.Now().Add(-2 * t.cleanupInterval))
		}
	}
}

func (t *HandshakeThrottle) evictStale(cutoff time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, e := range t.entries {
		if e.lastSeen.Before(cutoff) {
			delete(t.entries, key)
		}
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
