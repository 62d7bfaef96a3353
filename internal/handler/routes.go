package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/supportchat/internal/middleware"
)

// Routes collects the handlers and per-group middlewares of the API.
// Nil handlers leave their routes unmounted.
type Routes struct {
	Support *SupportHandler
	Admin   *AdminHandler
	WS      *WSHandler
	Files   *FileHandler
	Config  *ConfigHandler
	Push    *PushHandler

	// Identity resolves the signed-in principal (AuthServiceValidate or DevIdentity).
	Identity func(http.Handler) http.Handler
	Visitor  func(http.Handler) http.Handler
	// IntakeLimit and APILimit are optional rate limiters.
	IntakeLimit func(http.Handler) http.Handler
	APILimit    func(http.Handler) http.Handler
}

func passthrough(next http.Handler) http.Handler { return next }

func orPass(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return passthrough
	}
	return mw
}

// Mount registers every route on r.
func (rt Routes) Mount(r chi.Router) {
	if rt.Config != nil {
		r.Get("/api/config/push", rt.Config.GetPushConfig)
	}
	if rt.Files != nil {
		r.Get("/files/{filename}", rt.Files.Serve)
	}

	r.Group(func(r chi.Router) {
		r.Use(orPass(rt.Identity), orPass(rt.Visitor))

		if rt.Support != nil {
			r.With(orPass(rt.IntakeLimit)).Post("/api/support/intake", rt.Support.Intake)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequirePrincipal, orPass(rt.APILimit))
			if rt.Support != nil {
				r.Get("/api/support/session", rt.Support.GetSession)
				r.Post("/api/support/session", rt.Support.CreateSession)
				r.Post("/api/support/sessions/{id}/messages", rt.Support.PostMessage)
				r.Post("/api/support/sessions/{id}/images", rt.Support.UploadImage)
			}
			if rt.Push != nil {
				r.Post("/api/push/subscribe", rt.Push.Subscribe)
				r.Delete("/api/push/subscribe", rt.Push.Unsubscribe)
			}
		})

		if rt.WS != nil {
			r.With(middleware.RequirePrincipal).Get("/ws/support/sessions/{id}", rt.WS.ServeWS)
		}

		if rt.Admin != nil {
			r.Route("/api/admin/support", func(r chi.Router) {
				r.Use(middleware.RequireAdmin, orPass(rt.APILimit))
				r.Get("/sessions", rt.Admin.ListSessions)
				r.Get("/sessions/{id}", rt.Admin.GetSession)
				r.Put("/sessions/{id}/status", rt.Admin.SetStatus)
				r.Get("/sessions/{id}/export", rt.Admin.Export)
				r.Post("/sessions/{id}/rebuild", rt.Admin.Rebuild)
				r.Get("/analytics", rt.Admin.Analytics)
			})
		}
	})
}
