package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/supportchat/internal/middleware"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/service"
)

// SupportHandler serves the visitor side: intake, the caller's own session and posting into it.
type SupportHandler struct {
	sessions  *service.SessionManager
	channel   *service.Channel
	intake    *service.Intake
	tokens    *middleware.VisitorTokens
	maxUpload int64
}

func NewSupportHandler(sessions *service.SessionManager, channel *service.Channel, intake *service.Intake, tokens *middleware.VisitorTokens, maxUpload int64) *SupportHandler {
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &SupportHandler{sessions: sessions, channel: channel, intake: intake, tokens: tokens, maxUpload: maxUpload}
}

type IntakeRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Issue string `json:"issue"`
}

type IntakeResponse struct {
	SessionID    string `json:"session_id"`
	VisitorToken string `json:"visitor_token"`
}

type SessionResponse struct {
	SessionID string `json:"session_id"`
}

type PostMessageRequest struct {
	Text     string `json:"text"`
	ImageURL string `json:"image_url"`
}

type PostMessageResponse struct {
	ID       string `json:"id"`
	ImageURL string `json:"image_url,omitempty"`
}

// Intake opens an anonymous session. The returned visitor token authorises later calls.
func (h *SupportHandler) Intake(w http.ResponseWriter, r *http.Request) {
	var req IntakeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := h.intake.Start(r.Context(), req.Name, req.Email, req.Issue)
	if err != nil {
		writeServiceError(w, "Intake", "", err)
		return
	}
	writeJSON(w, http.StatusCreated, IntakeResponse{SessionID: id, VisitorToken: h.tokens.Issue(id)})
}

// GetSession returns the caller's active session id, 404 when there is none.
func (h *SupportHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r.Context())
	if p.VisitorSessionID != "" {
		writeJSON(w, http.StatusOK, SessionResponse{SessionID: p.VisitorSessionID})
		return
	}
	id, err := h.sessions.GetActiveSessionID(r.Context(), p.ID)
	if err != nil {
		writeServiceError(w, "GetActiveSessionID", "", err)
		return
	}
	if id == "" {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{SessionID: id})
}

func (h *SupportHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r.Context())
	if p.VisitorSessionID != "" {
		writeError(w, http.StatusForbidden, "anonymous visitors use intake")
		return
	}
	id, err := h.sessions.GetOrCreateSession(r.Context(), p.ID)
	if err != nil {
		writeServiceError(w, "GetOrCreateSession", "", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{SessionID: id})
}

func senderRole(p model.Principal) model.SenderRole {
	if p.IsAdmin() {
		return model.SenderRoleAdmin
	}
	return model.SenderRoleUser
}

func (h *SupportHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	p, _ := middleware.GetPrincipal(r.Context())
	if _, err := h.sessions.Authorize(r.Context(), p, sessionID); err != nil {
		writeServiceError(w, "PostMessage", sessionID, err)
		return
	}
	var req PostMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := h.channel.Append(r.Context(), service.AppendInput{
		SessionID:  sessionID,
		SenderID:   p.ID,
		SenderRole: senderRole(p),
		Text:       req.Text,
		ImageURL:   req.ImageURL,
	})
	if err != nil {
		writeServiceError(w, "Append", sessionID, err)
		return
	}
	writeJSON(w, http.StatusCreated, PostMessageResponse{ID: id})
}

// UploadImage takes a multipart "image" file with an optional "text" caption and posts it as one message.
func (h *SupportHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	p, _ := middleware.GetPrincipal(r.Context())
	if _, err := h.sessions.Authorize(r.Context(), p, sessionID); err != nil {
		writeServiceError(w, "UploadImage", sessionID, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read file failed")
		return
	}
	url, err := h.channel.UploadImage(r.Context(), sessionID, p.ID, header.Filename, data)
	if err != nil {
		writeServiceError(w, "UploadImage", sessionID, err)
		return
	}
	id, err := h.channel.Append(r.Context(), service.AppendInput{
		SessionID:  sessionID,
		SenderID:   p.ID,
		SenderRole: senderRole(p),
		Text:       strings.TrimSpace(r.FormValue("text")),
		ImageURL:   url,
	})
	if err != nil {
		writeServiceError(w, "Append", sessionID, err)
		return
	}
	writeJSON(w, http.StatusCreated, PostMessageResponse{ID: id, ImageURL: url})
}
