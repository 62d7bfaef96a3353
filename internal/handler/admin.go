package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/service"
)

// AdminHandler is the support console API. Routes are mounted behind RequireAdmin.
type AdminHandler struct {
	moderation *service.Moderation
}

func NewAdminHandler(moderation *service.Moderation) *AdminHandler {
	return &AdminHandler{moderation: moderation}
}

type SetStatusRequest struct {
	Status model.SessionStatus `json:"status"`
}

func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.moderation.ListSessions(r.Context())
	if err != nil {
		writeServiceError(w, "ListSessions", "", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *AdminHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	detail, err := h.moderation.GetSessionDetail(r.Context(), id)
	if err != nil {
		writeServiceError(w, "GetSessionDetail", id, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req SetStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.moderation.SetStatus(r.Context(), id, req.Status); err != nil {
		writeServiceError(w, "SetStatus", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export serves the session as a downloadable JSON document.
func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := h.moderation.ExportSession(r.Context(), id)
	if err != nil {
		writeServiceError(w, "ExportSession", id, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="support-chat-%s.json"`, id))
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		logger.Errorf("%s encode: %v", logger.Op("ExportSession", id), err)
	}
}

func (h *AdminHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	last, err := h.moderation.RebuildLastMessage(r.Context(), id)
	if err != nil {
		writeServiceError(w, "RebuildLastMessage", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"last_message": last})
}

func (h *AdminHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.moderation.ComputeAnalytics(r.Context())
	if err != nil {
		writeServiceError(w, "ComputeAnalytics", "", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
