package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tinoosan/remitledger/internal/idempotency"
	"github.com/tinoosan/remitledger/internal/logging"
)

// IdempotencyKeyHeader lets clients retry a create without duplicating it.
const IdempotencyKeyHeader = "Idempotency-Key"

// reservationTTL bounds how long a key stays claimed by a request that never
// finished, for example because the process died mid-request.
const reservationTTL = time.Minute

// replayed reports whether the request was answered from the idempotency store.
// A stored response is replayed only for the same normalized body; reusing the
// key with a different body is a 409, as is a retry while the first request
// is still in progress.
func (s *Server) replayed(w http.ResponseWriter, r *http.Request, scoped, bodyHash string) bool {
	stored, ok, err := s.idem.Get(r.Context(), scoped)
	if err != nil {
		writeServiceErr(w, r, err)
		return true
	}
	if !ok {
		return false
	}
	switch {
	case stored.BodyHash != bodyHash:
		writeErr(w, http.StatusConflict, "idempotency key reused with a different body", "idempotency_key_reuse")
	case stored.Pending:
		writeInProgress(w)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(stored.Status)
		_, _ = w.Write(stored.Payload)
	}
	return true
}

// claim replays a stored outcome or reserves scoped for this request. It
// reports whether the caller should go on to serve the request.
func (s *Server) claim(w http.ResponseWriter, r *http.Request, scoped, bodyHash string) bool {
	if s.replayed(w, r, scoped, bodyHash) {
		return false
	}
	ok, err := s.idem.Reserve(r.Context(), scoped, bodyHash, min(reservationTTL, s.idemTTL))
	if err != nil {
		writeServiceErr(w, r, err)
		return false
	}
	if !ok {
		// Lost the race to a concurrent first request.
		if !s.replayed(w, r, scoped, bodyHash) {
			writeInProgress(w)
		}
		return false
	}
	return true
}

// release frees the key after a failed request so that a retry runs again.
func (s *Server) release(r *http.Request, scoped string) {
	if scoped == "" {
		return
	}
	if err := s.idem.Release(context.WithoutCancel(r.Context()), scoped); err != nil {
		logging.FromContext(r.Context()).Warn("idempotency key release failed", "err", err)
	}
}

func writeInProgress(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	writeErr(w, http.StatusConflict, "a request with this idempotency key is in progress", "idempotency_key_in_progress")
}

// respondAndRemember writes v and, when scoped is set, stores it for replays.
// A failed store write is logged; the response has already been decided.
func (s *Server) respondAndRemember(w http.ResponseWriter, r *http.Request, scoped, bodyHash string, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.release(r, scoped)
		writeServiceErr(w, r, err)
		return
	}
	payload = append(payload, '\n')
	if scoped != "" {
		rec := idempotency.Response{BodyHash: bodyHash, Status: status, Payload: payload}
		if err := s.idem.Put(context.WithoutCancel(r.Context()), scoped, rec, s.idemTTL); err != nil {
			logging.FromContext(r.Context()).Warn("idempotency store write failed", "err", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
