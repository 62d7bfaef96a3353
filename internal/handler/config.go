package handler

import (
	"net/http"
)

// ConfigHandler serves public client settings.
type ConfigHandler struct {
	pushEnabled    bool
	vapidPublicKey string
}

func NewConfigHandler(pushEnabled bool, vapidPublicKey string) *ConfigHandler {
	return &ConfigHandler{pushEnabled: pushEnabled, vapidPublicKey: vapidPublicKey}
}

// GetPushConfig returns the VAPID public key browsers subscribe with, if push is on.
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if !h.pushEnabled || h.vapidPublicKey == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": h.vapidPublicKey,
	})
}
