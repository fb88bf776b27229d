package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/AdamBeresnev/matchday/internal/errors"
	"github.com/AdamBeresnev/matchday/internal/logger"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.New().WithError(err).Error("failed to encode response")
	}
}

// conflictCodes are validation failures caused by the current state of the data rather than the input.
var conflictCodes = map[apperrors.Code]struct{}{
	apperrors.CodeAlreadyVoted:      {},
	apperrors.CodeDuplicatePlayer:   {},
	apperrors.CodeAlreadyMember:     {},
	apperrors.CodeRosterFull:        {},
	apperrors.CodeVotesPending:      {},
	apperrors.CodeTeamsConfirmed:    {},
	apperrors.CodeTeamsNotConfirmed: {},
	apperrors.CodeInvalidState:      {},
}

// StatusFor maps a domain error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case apperrors.IsNotFound(err):
		return http.StatusNotFound
	case apperrors.IsAuthorization(err):
		return http.StatusForbidden
	case apperrors.IsIntegrity(err):
		return http.StatusConflict
	case apperrors.IsValidation(err):
		if _, ok := conflictCodes[apperrors.CodeOf(err)]; ok {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case apperrors.IsTransient(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Error writes err as a JSON error body. Unexpected errors are logged and hidden from the client.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	log := logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})

	msg := err.Error()
	switch {
	case status == http.StatusInternalServerError:
		log.Error("request failed")
		msg = "Internal Server Error"
	case status == http.StatusServiceUnavailable:
		log.Warn("store unavailable")
		msg = "Service temporarily unavailable, try again"
	default:
		log.Debug("request rejected")
	}

	WriteJSON(w, status, ErrorResponse{Error: msg, Code: string(apperrors.CodeOf(err))})
}

func InternalServerError(w http.ResponseWriter, msg string, err error) {
	logger.New().WithError(err).Error(msg)
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal Server Error"})
}

func BadRequest(w http.ResponseWriter, msg string, err error) {
	log := logger.New().WithField("message", msg)
	if err != nil {
		log = log.WithError(err)
	}
	log.Warn("bad request")
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: string(apperrors.CodeInvalidInput)})
}

func NotFound(w http.ResponseWriter, msg string, err error) {
	log := logger.New().WithField("message", msg)
	if err != nil {
		log = log.WithError(err)
	}
	log.Warn("not found")
	WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: msg, Code: string(apperrors.CodeNotFound)})
}

func Unauthorized(w http.ResponseWriter) {
	WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
}
