package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/supportchat/internal/blob"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/service"
	"github.com/supportchat/internal/storage"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps service and storage errors to a status code.
// Anything unrecognised is a 500 and is logged with op and session.
func writeServiceError(w http.ResponseWriter, op, sessionID string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, blob.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, blob.ErrUnsupportedType), errors.Is(err, blob.ErrContentMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, "owner already has an active session")
	case errors.Is(err, service.ErrTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Errorf("%s: %v", logger.Op(op, sessionID), err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}
