package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/middleware"
	"github.com/supportchat/internal/service"
	"github.com/supportchat/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	sessions       *service.SessionManager
	allowedOrigins string
}

// NewWSHandler builds the session stream endpoint. allowedOrigins follows CORS: comma separated or "*".
func NewWSHandler(hub *ws.Hub, sessions *service.SessionManager, allowedOrigins string) *WSHandler {
	return &WSHandler{hub: hub, sessions: sessions, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// ServeWS upgrades after the caller is authorised for the session.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	sessionID := chi.URLParam(r, "id")
	if _, err := h.sessions.Authorize(r.Context(), p, sessionID); err != nil {
		writeServiceError(w, "ServeWS", sessionID, err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade session=%s: %v", sessionID, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, p, sessionID)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
