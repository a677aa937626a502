package resolver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/semihalev/zlog/v2"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// circuitBreaker tracks server failures and temporarily disables failing servers
type circuitBreaker struct {
	mu       sync.RWMutex
	failures map[string]*serverFailure

	now func() time.Time
}

type serverFailure struct {
	count       atomic.Int32
	lastFailure atomic.Int64 // Unix nanoseconds
	disabled    atomic.Bool
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{
		failures: make(map[string]*serverFailure),
		now:      time.Now,
	}
}

// canQuery checks if we can query this server
func (cb *circuitBreaker) canQuery(server string) bool {
	cb.mu.RLock()
	sf, exists := cb.failures[server]
	cb.mu.RUnlock()

	if !exists {
		return true
	}

	if sf.disabled.Load() {
		lastFailure := time.Unix(0, sf.lastFailure.Load())
		if cb.now().Sub(lastFailure) > breakerCooldown {
			sf.disabled.Store(false)
			sf.count.Store(0)
			return true
		}
		return false
	}

	return true
}

// recordFailure records a server failure
func (cb *circuitBreaker) recordFailure(server string) {
	cb.mu.Lock()
	sf, exists := cb.failures[server]
	if !exists {
		sf = &serverFailure{}
		cb.failures[server] = sf
	}
	cb.mu.Unlock()

	count := sf.count.Add(1)
	sf.lastFailure.Store(cb.now().UnixNano())

	if count >= breakerThreshold && !sf.disabled.Load() {
		sf.disabled.Store(true)
		zlog.Warn("Circuit breaker tripped for DNS server", "server", server, "failures", count)
	}
}

// recordSuccess records a successful query
func (cb *circuitBreaker) recordSuccess(server string) {
	cb.mu.Lock()
	sf, exists := cb.failures[server]
	if exists {
		delete(cb.failures, server)
	}
	cb.mu.Unlock()

	if exists && sf.disabled.Load() {
		zlog.Info("Circuit breaker reset for DNS server", "server", server)
	}
}

// filter returns the servers that may be queried, or all of them when
// every server is disabled.
func (cb *circuitBreaker) filter(servers []string) []string {
	out := make([]string, 0, len(servers))
	for _, s := range servers {
		if cb.canQuery(s) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return servers
	}
	return out
}
