package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tinoosan/remitledger/internal/address"
	"github.com/tinoosan/remitledger/internal/idempotency"
	"github.com/tinoosan/remitledger/internal/ledger"
	"github.com/tinoosan/remitledger/internal/service/migration"
	"github.com/tinoosan/remitledger/internal/service/remittance"
)

type ctxKey string

const (
	ctxKeyInitialize       ctxKey = "validatedInitialize"
	ctxKeyCreateRemittance ctxKey = "validatedCreateRemittance"
	ctxKeyListRemittances  ctxKey = "validatedListRemittances"
	ctxKeySettle           ctxKey = "validatedSettle"
	ctxKeyAddress          ctxKey = "validatedAddress"
	ctxKeyToken            ctxKey = "validatedToken"
	ctxKeyMigration        ctxKey = "validatedMigration"
)

// maxBodyBytes bounds request bodies; migration payloads are the largest.
const maxBodyBytes = 4 << 20

// createInput is the validated create request plus the hash of its
// normalized body, used to detect Idempotency-Key reuse.
type createInput struct {
	Req      remittance.CreateRequest
	BodyHash string
}

// decodeJSON enforces the content type and decodes a single JSON object with
// unknown fields rejected. It writes the error response and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !requireJSON(w, r) {
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		toJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error(), Code: "bad_request"})
		return false
	}
	return true
}

func normalizeAsset(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// validateInitialize parses POST /v1/initialize.
func (s *Server) validateInitialize() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req initializeRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			if req.Admin == "" {
				badRequest(w, "admin is required")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyInitialize, address.Normalize(string(req.Admin)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validateCreateRemittance parses POST /v1/remittances. Address, amount and
// expiry rules are left to the ledger so that its check order is preserved.
func (s *Server) validateCreateRemittance() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req createRemittanceRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			if req.ExpiresAt.IsZero() {
				badRequest(w, "expires_at is required")
				return
			}
			req.Sender = address.Normalize(string(req.Sender))
			req.Recipient = address.Normalize(string(req.Recipient))
			req.Agent = address.Normalize(string(req.Agent))
			req.Asset = normalizeAsset(req.Asset)
			req.ExpiresAt = req.ExpiresAt.UTC()

			// normalize body for stable hash
			norm, _ := json.Marshal(req)
			in := createInput{Req: req.toDomain(), BodyHash: idempotency.HashBytes(norm)}
			ctx := context.WithValue(r.Context(), ctxKeyCreateRemittance, in)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validateListRemittances requires the sender query parameter.
func (s *Server) validateListRemittances() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.URL.Query().Get("sender")
			if raw == "" {
				badRequest(w, "sender is required")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyListRemittances, address.Normalize(raw))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) validateSettle() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req settleRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeySettle, strings.TrimSpace(req.Reference))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// validateAddressBody parses {"address": ...} bodies used by admins and agents.
func (s *Server) validateAddressBody() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req addressRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			if req.Address == "" {
				badRequest(w, "address is required")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyAddress, address.Normalize(string(req.Address)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) validateWhitelistToken() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req tokenRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			t := ledger.Token{
				Asset:    normalizeAsset(req.Asset),
				Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
				Decimals: req.Decimals,
			}
			ctx := context.WithValue(r.Context(), ctxKeyToken, t)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) validateMigrationBatch() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req migrationRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			if len(req.Payload) == 0 {
				badRequest(w, "payload is required")
				return
			}
			b := migration.Batch{Sequence: req.Sequence, Payload: req.Payload, Hash: strings.TrimSpace(req.Hash)}
			ctx := context.WithValue(r.Context(), ctxKeyMigration, b)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// remittanceID parses the {id} path parameter, writing 400 when malformed.
func remittanceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func addressParam(r *http.Request, name string) ledger.Address {
	return address.Normalize(chi.URLParam(r, name))
}
