package v1

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"github.com/tinoosan/remitledger/internal/ledger"
	"github.com/tinoosan/remitledger/internal/service/migration"
)

func (s *Server) initialize(w http.ResponseWriter, r *http.Request) {
	first := r.Context().Value(ctxKeyInitialize).(ledger.Address)
	if err := s.svc.Initialize(r.Context(), first); err != nil {
		writeServiceErr(w, r, err)
		return
	}
	s.status(w, r)
}

// status handles GET /v1/status. It answers before initialization too.
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	code := http.StatusOK
	if r.Method == http.MethodPost {
		code = http.StatusCreated
	}
	toJSON(w, code, toStatusResponse(st))
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Pause(r.Context(), callerFrom(r.Context())); err != nil {
		writeServiceErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unpause(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Unpause(r.Context(), callerFrom(r.Context())); err != nil {
		writeServiceErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Admins

func (s *Server) listAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := s.svc.ListAdmins(r.Context())
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, listResponse[ledger.Address]{Items: admins})
}

func (s *Server) addAdmin(w http.ResponseWriter, r *http.Request) {
	a := r.Context().Value(ctxKeyAddress).(ledger.Address)
	if err := s.svc.AddAdmin(r.Context(), callerFrom(r.Context()), a); err != nil {
		writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, addressRequest{Address: a})
}

func (s *Server) removeAdmin(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveAdmin(r.Context(), callerFrom(r.Context()), addressParam(r, "address")); err != nil {
		writeServiceErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Agents

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.svc.ListAgents(r.Context())
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	items := make([]agentResponse, 0, len(agents))
	for _, a := range agents {
		items = append(items, toAgentResponse(a))
	}
	toJSON(w, http.StatusOK, listResponse[agentResponse]{Items: items})
}

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) {
	a := r.Context().Value(ctxKeyAddress).(ledger.Address)
	ag, err := s.svc.RegisterAgent(r.Context(), callerFrom(r.Context()), a)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toAgentResponse(ag))
}

func (s *Server) removeAgent(w http.ResponseWriter, r *http.Request) {
	ag, err := s.svc.RemoveAgent(r.Context(), callerFrom(r.Context()), addressParam(r, "address"))
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toAgentResponse(ag))
}

// Tokens

func (s *Server) listTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.svc.ListTokens(r.Context())
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	items := make([]tokenResponse, 0, len(tokens))
	for _, t := range tokens {
		items = append(items, toTokenResponse(t))
	}
	toJSON(w, http.StatusOK, listResponse[tokenResponse]{Items: items})
}

func (s *Server) getToken(w http.ResponseWriter, r *http.Request) {
	t, ok, err := s.svc.Token(r.Context(), normalizeAsset(chi.URLParam(r, "asset")))
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	if !ok {
		writeErr(w, http.StatusNotFound, "token not found", "not_found")
		return
	}
	toJSON(w, http.StatusOK, toTokenResponse(t))
}

func (s *Server) whitelistToken(w http.ResponseWriter, r *http.Request) {
	t := r.Context().Value(ctxKeyToken).(ledger.Token)
	out, err := s.svc.WhitelistToken(r.Context(), callerFrom(r.Context()), t)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toTokenResponse(out))
}

func (s *Server) delistToken(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.DelistToken(r.Context(), callerFrom(r.Context()), normalizeAsset(chi.URLParam(r, "asset")))
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusOK, toTokenResponse(out))
}

// Migrations

func (s *Server) listMigrations(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.MigrationState(r.Context())
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	recs, err := s.svc.MigrationRecords(r.Context())
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	items := make([]migrationRecordResponse, 0, len(recs))
	for _, rec := range recs {
		items = append(items, toMigrationRecordResponse(rec))
	}
	toJSON(w, http.StatusOK, migrationsResponse{State: toMigrationStateResponse(st), Items: items})
}

func (s *Server) submitMigration(w http.ResponseWriter, r *http.Request) {
	b := r.Context().Value(ctxKeyMigration).(migration.Batch)
	rec, err := s.svc.SubmitMigrationBatch(r.Context(), callerFrom(r.Context()), b)
	if err != nil {
		writeServiceErr(w, r, err)
		return
	}
	toJSON(w, http.StatusCreated, toMigrationRecordResponse(rec))
}
