package v1

import (
	"context"
	"net/http"
	"time"
)

// readyTimeout bounds the dependency probes made by /readyz.
const readyTimeout = 800 * time.Millisecond

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	checks := append([]ReadyChecker{}, s.ready...)
	if rc, ok := any(s.idem).(ReadyChecker); ok {
		checks = append(checks, rc)
	}
	for _, rc := range checks {
		if err := rc.Ready(ctx); err != nil {
			s.log.Warn("readiness check failed", "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}
