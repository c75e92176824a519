package v1

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorIdle is how long an unused client limiter is kept.
const visitorIdle = 10 * time.Minute

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// throttle is a per-client token bucket in front of the whole API. It is
// separate from the ledger's per-sender rate limiter, which is part of the
// remittance rules and persisted with the ledger state.
type throttle struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	r         rate.Limit
	b         int
	now       func() time.Time
	lastSweep time.Time
}

func newThrottle(r rate.Limit, b int) *throttle {
	if b < 1 {
		b = 1
	}
	return &throttle{visitors: make(map[string]*visitor), r: r, b: b, now: time.Now}
}

func (t *throttle) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if now.Sub(t.lastSweep) > time.Minute {
		for k, v := range t.visitors {
			if now.Sub(v.seen) > visitorIdle {
				delete(t.visitors, k)
			}
		}
		t.lastSweep = now
	}
	v, ok := t.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(t.r, t.b)}
		t.visitors[key] = v
	}
	v.seen = now
	return v.lim
}

// clientKey is the peer host. Forwarding headers are honoured only through
// RealIP, which the router mounts when Options.TrustProxy is set.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (t *throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if public(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if !t.limiter(clientKey(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			writeErr(w, http.StatusTooManyRequests, "too many requests", "throttled")
			return
		}
		next.ServeHTTP(w, r)
	})
}
