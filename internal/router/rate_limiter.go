package router

import (
	"sync"
	"time"
)

// RateLimiter bounds inbound messages per connection with a fixed window
// reset every minute. Audio chunks dominate traffic; the limit is sized
// so continuous speech never trips it but a runaway client does.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	clients map[string]*clientWindow
}

type clientWindow struct {
	count       int
	windowStart time.Time
}

func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		limit:   perMinute,
		clients: make(map[string]*clientWindow),
	}
}

// Allow reports whether the connection may send another message.
func (rl *RateLimiter) Allow(connectionID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, ok := rl.clients[connectionID]
	if !ok || now.Sub(w.windowStart) >= time.Minute {
		rl.clients[connectionID] = &clientWindow{count: 1, windowStart: now}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Forget drops state for a closed connection.
func (rl *RateLimiter) Forget(connectionID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, connectionID)
}

// Cleanup removes windows idle for several minutes; called periodically.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for id, w := range rl.clients {
		if now.Sub(w.windowStart) > 5*time.Minute {
			delete(rl.clients, id)
		}
	}
}
