package v1

import (
	"context"
	"net/http"

	"github.com/tinoosan/remitledger/internal/idempotency"
	"github.com/tinoosan/remitledger/internal/ledger"
	"github.com/tinoosan/remitledger/internal/logging"
	"github.com/tinoosan/remitledger/internal/service/token"
)

// tokenCache memoizes token lookups while rendering one response.
type tokenCache map[string]*ledger.Token

func (s *Server) lookupToken(ctx context.Context, cache tokenCache, asset string) *ledger.Token {
	if t, ok := cache[asset]; ok {
		return t
	}
	var found *ledger.Token
	t, ok, err := s.svc.Token(ctx, asset)
	switch {
	case err != nil:
		logging.FromContext(ctx).Debug("token lookup for amount failed", "asset", asset, "err", err)
	case ok:
		found = &t
	}
	cache[asset] = found
	return found
}

func (s *Server) toRemittanceResponse(ctx context.Context, r ledger.Remittance) remittanceResponse {
	return s.renderRemittance(ctx, tokenCache{}, r)
}

// renderRemittance renders r. The decimal amount is filled in when the
// token is known; a failed lookup only drops that field.
func (s *Server) renderRemittance(ctx context.Context, cache tokenCache, r ledger.Remittance) remittanceResponse {
	out := remittanceResponse{
		ID:            r.ID,
		Sender:        r.Sender,
		Recipient:     r.Recipient,
		Agent:         r.Agent,
		Asset:         r.Asset,
		AmountMinor:   r.Amount,
		Status:        r.Status,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
		UpdatedAt:     r.UpdatedAt,
		SettlementRef: r.SettlementRef,
		SettledAt:     r.SettledAt,
	}
	if t := s.lookupToken(ctx, cache, r.Asset); t != nil {
		if amt, err := token.Amount(*t, r.Amount); err == nil {
			out.Amount = amt.String()
		}
	}
	return out
}

// createRemittance handles POST /v1/remittances.
// With an Idempotency-Key header a retry replays the first successful response.
func (s *Server) createRemittance(w http.ResponseWriter, r *http.Request) {
	in := r.Context().Value(ctxKeyCreateRemittance).(createInput)
	caller := callerFrom(r.Context())

	var scoped string
	if key := r.Header.Get(IdempotencyKeyHeader); key != "" {
		scoped = idempotency.Scope(string(caller), "create_remittance", key)
		if !s.claim(w, r, scoped, in.BodyHash) {
			return
		}
	}
	rem, err := s.svc.CreateRemittance(r.Context(), caller, in.Req)
	if err != nil {
		s.release(r, scoped)
		writeServiceErr(w, r, err)
		return
	}
	s.respondAndRemember(w, r, scoped, in.BodyHash, http.StatusCreated, s.toRemittanceResponse(r.Context(), rem))
}

func (s *Server) listRemittances(w http.ResponseWriter, r *http.Request) {
	sender := r.Context().Value(ctxKeyListRemittances).(ledger.Address)
	rems, err := s.svc.ListRemittances(r.Context(), sender)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	items := make([]remittanceResponse, 0, len(rems))
	tokens := tokenCache{}
	for _, rem := range rems {
		items = append(items, s.renderRemittance(r.Context(), tokens, rem))
	}
	toJSON(w, http.StatusOK, listResponse[remittanceResponse]{Items: items})
}

func (s *Server) getRemittance(w http.ResponseWriter, r *http.Request) {
	id, ok := remittanceID(w, r)
	if !ok {
		return
	}
	rem, err := s.svc.GetRemittance(r.Context(), id)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, s.toRemittanceResponse(r.Context(), rem))
}

func (s *Server) acceptRemittance(w http.ResponseWriter, r *http.Request) {
	id, ok := remittanceID(w, r)
	if !ok {
		return
	}
	s.writeRemittance(w, r)(s.svc.AcceptRemittance(r.Context(), callerFrom(r.Context()), id))
}

func (s *Server) settleRemittance(w http.ResponseWriter, r *http.Request) {
	id, ok := remittanceID(w, r)
	if !ok {
		return
	}
	ref := r.Context().Value(ctxKeySettle).(string)
	s.writeRemittance(w, r)(s.svc.Settle(r.Context(), callerFrom(r.Context()), id, ref))
}

func (s *Server) expireRemittance(w http.ResponseWriter, r *http.Request) {
	id, ok := remittanceID(w, r)
	if !ok {
		return
	}
	s.writeRemittance(w, r)(s.svc.Expire(r.Context(), callerFrom(r.Context()), id))
}

func (s *Server) cancelRemittance(w http.ResponseWriter, r *http.Request) {
	id, ok := remittanceID(w, r)
	if !ok {
		return
	}
	s.writeRemittance(w, r)(s.svc.Cancel(r.Context(), callerFrom(r.Context()), id))
}

// writeRemittance adapts a (remittance, error) result into a 200 or an error response.
func (s *Server) writeRemittance(w http.ResponseWriter, r *http.Request) func(ledger.Remittance, error) {
	return func(rem ledger.Remittance, err error) {
		if err != nil {
			writeServiceErr(w, r, err)
			return
		}
		toJSON(w, http.StatusOK, s.toRemittanceResponse(r.Context(), rem))
	}
}

func (s *Server) rateLimitState(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.RateLimitState(r.Context(), addressParam(r, "sender"))
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, rateLimitResponse{
		Sender:      st.Sender,
		WindowStart: st.WindowStart,
		WindowCount: st.WindowCount,
		DayStart:    st.DayStart,
		DayAmount:   st.DayAmount,
	})
}
