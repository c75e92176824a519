package v1

import (
	"encoding/json"
	"net/http"

	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/logging"
)

// errorResponse is the standard error payload for the API. Kind is the
// numeric ledger error code and is omitted for transport errors.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Kind  uint32 `json:"kind,omitempty"`
}

// toJSON writes a JSON response with status code.
func toJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg, code string) {
	toJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) { writeErr(w, http.StatusBadRequest, msg, "bad_request") }

var kindStatus = map[*errs.Kind]int{
	errs.ErrNotInitialized:          http.StatusPreconditionFailed,
	errs.ErrAlreadyInitialized:      http.StatusConflict,
	errs.ErrRemittanceNotFound:      http.StatusNotFound,
	errs.ErrInvalidStatus:           http.StatusConflict,
	errs.ErrInvalidAddress:          http.StatusUnprocessableEntity,
	errs.ErrInvalidAmount:           http.StatusUnprocessableEntity,
	errs.ErrOverflow:                http.StatusUnprocessableEntity,
	errs.ErrSettlementExpired:       http.StatusConflict,
	errs.ErrAgentNotRegistered:      http.StatusUnprocessableEntity,
	errs.ErrAgentAlreadyRegistered:  http.StatusConflict,
	errs.ErrNotAdmin:                http.StatusForbidden,
	errs.ErrDuplicateSettlement:     http.StatusConflict,
	errs.ErrContractPaused:          http.StatusLocked,
	errs.ErrRateLimitExceeded:       http.StatusTooManyRequests,
	errs.ErrUnauthorized:            http.StatusForbidden,
	errs.ErrAdminAlreadyExists:      http.StatusConflict,
	errs.ErrAdminNotFound:           http.StatusNotFound,
	errs.ErrCannotRemoveLastAdmin:   http.StatusConflict,
	errs.ErrTokenNotWhitelisted:     http.StatusUnprocessableEntity,
	errs.ErrTokenAlreadyWhitelisted: http.StatusConflict,
	errs.ErrInvalidMigrationHash:    http.StatusUnprocessableEntity,
	errs.ErrMigrationInProgress:     http.StatusConflict,
	errs.ErrInvalidMigrationBatch:   http.StatusUnprocessableEntity,
	errs.ErrDailySendLimitExceeded:  http.StatusTooManyRequests,
}

// writeServiceErr maps a ledger error to its HTTP status. Errors without a
// ledger kind are logged and reported as 500 without detail.
func writeServiceErr(w http.ResponseWriter, r *http.Request, err error) {
	k := errs.KindOf(err)
	if k == nil {
		logging.FromContext(r.Context()).Error("request failed", "err", err)
		writeErr(w, http.StatusInternalServerError, "internal error", "internal")
		return
	}
	status, ok := kindStatus[k]
	if !ok {
		status = http.StatusUnprocessableEntity
	}
	toJSON(w, status, errorResponse{Error: err.Error(), Code: k.Name, Kind: k.Code})
}
