package middleware

import (
	"net/http"
	"slices"
	"sync"
	"time"
)

// Limiter is a fixed one-minute window counter per client IP.
type Limiter struct {
	mu                sync.Mutex
	clients           map[string]*clientInfo
	requestsPerMinute int
	proxies           Proxies
	now               func() time.Time
	stopCleanup       chan struct{}
	stopOnce          sync.Once
}

type clientInfo struct {
	windowStart time.Time
	requests    int
}

// NewLimiter creates a limiter allowing requestsPerMinute per client and
// starts a goroutine that drops idle clients; call Stop to end it. Clients are
// keyed by proxies.ClientIP.
func NewLimiter(requestsPerMinute int, proxies Proxies) *Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	rl := &Limiter{
		clients:           make(map[string]*clientInfo),
		requestsPerMinute: requestsPerMinute,
		proxies:           proxies,
		now:               time.Now,
		stopCleanup:       make(chan struct{}),
	}
	go rl.cleanupLoop(5 * time.Minute)
	return rl
}

// Allow checks if a request from the given IP should be allowed
func (rl *Limiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	client, ok := rl.clients[clientIP]
	if !ok || now.Sub(client.windowStart) >= time.Minute {
		rl.clients[clientIP] = &clientInfo{windowStart: now, requests: 1}
		return true
	}

	client.requests++
	return client.requests <= rl.requestsPerMinute
}

func (rl *Limiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *Limiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-time.Minute)
	for ip, client := range rl.clients {
		if client.windowStart.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

// ActiveClients returns the number of currently tracked clients
func (rl *Limiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop ends the cleanup goroutine.
func (rl *Limiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// Limit rejects requests over the limit with 429. Only the listed methods are
// counted; an empty list counts every request.
func (rl *Limiter) Limit(methods ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			counted := len(methods) == 0 || slices.Contains(methods, r.Method)
			if counted && !rl.Allow(rl.proxies.ClientIP(r)) {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "Too many attempts. Please try again later.", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
