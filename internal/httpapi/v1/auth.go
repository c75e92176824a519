package v1

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tinoosan/remitledger/internal/address"
	"github.com/tinoosan/remitledger/internal/ledger"
)

// JWTConfig enables bearer authentication when Secret is set. Issuer and
// Audience are checked only when non-empty.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// CallerHeader carries the caller identity when JWT authentication is disabled.
const CallerHeader = "X-Caller"

const ctxKeyCaller ctxKey = "caller"

func callerFrom(ctx context.Context) ledger.Address {
	c, _ := ctx.Value(ctxKeyCaller).(ledger.Address)
	return c
}

func withCaller(ctx context.Context, c ledger.Address) context.Context {
	return context.WithValue(ctx, ctxKeyCaller, c)
}

func parseBearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < len("Bearer ") || !strings.EqualFold(h[:len("Bearer ")], "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[len("Bearer "):])
	return tok, tok != ""
}

// public paths skip authentication.
func public(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

// verifyCaller parses an HS256 token and returns its subject as the caller.
func verifyCaller(tok string, cfg JWTConfig) (ledger.Address, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}, opts...); err != nil {
		return "", err
	}
	return address.Normalize(claims.Subject), nil
}

// authenticate resolves the caller of every non-public request. With a secret
// configured it requires Authorization: Bearer <HS256 JWT> and uses the sub claim;
// otherwise the caller comes from the X-Caller header.
func authenticate(cfg JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			if cfg.Secret == "" {
				c := address.Normalize(r.Header.Get(CallerHeader))
				next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), c)))
				return
			}
			tok, ok := parseBearerToken(r)
			if !ok {
				writeErr(w, http.StatusUnauthorized, "missing bearer token", "unauthenticated")
				return
			}
			c, err := verifyCaller(tok, cfg)
			if err != nil || c == "" {
				writeErr(w, http.StatusUnauthorized, "invalid token", "unauthenticated")
				return
			}
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), c)))
		})
	}
}
