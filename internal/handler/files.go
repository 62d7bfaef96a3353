package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/supportchat/internal/blob"
	"github.com/supportchat/internal/logger"
)

// FileHandler serves images stored by blob.Local. Unused when uploads go to MinIO.
type FileHandler struct {
	store *blob.Local
}

func NewFileHandler(store *blob.Local) *FileHandler {
	return &FileHandler{store: store}
}

func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(chi.URLParam(r, "filename"))
	rc, contentType, err := h.store.Open(name)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		logger.Errorf("file serve %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, rc); err != nil {
		logger.Warnf("file serve %s: %v", name, err)
	}
}
