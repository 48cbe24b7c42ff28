package http

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var errThrottled = errors.New("too many authentication attempts")

const (
	throttleIdle    = 10 * time.Minute
	throttleSweepAt = 1024
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipThrottle keeps one token bucket per client address.
type ipThrottle struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
}

func newIPThrottle(rps float64, burst int) *ipThrottle {
	if burst < 1 {
		burst = 1
	}
	return &ipThrottle{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

func (t *ipThrottle) allow(ip string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.visitors[ip]
	if !ok {
		if len(t.visitors) >= throttleSweepAt {
			t.sweep(now)
		}
		v = &visitor{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (t *ipThrottle) sweep(now time.Time) {
	for ip, v := range t.visitors {
		if now.Sub(v.lastSeen) > throttleIdle {
			delete(t.visitors, ip)
		}
	}
}
