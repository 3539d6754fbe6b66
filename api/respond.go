package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/wastewise/ledger"
)

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// retryAfterSeconds is sent with every 503.
const retryAfterSeconds = "1"

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(kind ledger.ErrorKind) int {
	switch kind {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindSoldOut, ledger.KindInvalidTransition:
		return http.StatusConflict
	case ledger.KindInsufficient:
		return http.StatusUnprocessableEntity
	case ledger.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError renders err with the status of its kind. Server-side errors
// are logged with the request id and their cause is not exposed.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.KindOf(err)
	status := statusFor(kind)

	resp := ErrorResponse{Error: string(kind), Message: err.Error()}

	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		resp.Code = verr.Code
		resp.Message = verr.Message
		resp.Fields = verr.Fields
	}
	var ierr *ledger.InsufficientPointsError
	if errors.As(err, &ierr) {
		resp.Available = &ierr.Available
		resp.Required = &ierr.Required
	}

	switch kind {
	case ledger.KindStoreUnavailable:
		w.Header().Set("Retry-After", retryAfterSeconds)
		resp.Message = "storage is temporarily unavailable, retry shortly"
		h.logger.Warn("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	case ledger.KindInternal:
		resp.Message = http.StatusText(http.StatusInternalServerError)
		h.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	default:
		h.logger.Debug("request rejected",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}

	writeJSON(w, status, resp)
}

// writeStatus renders an error that is not part of the ledger taxonomy,
// such as 401 and 403.
func writeStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: message})
}
