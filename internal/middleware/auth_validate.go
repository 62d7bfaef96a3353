package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

// PrincipalSync mirrors a validated principal into the local profile and role tables.
type PrincipalSync interface {
	SyncPrincipal(ctx context.Context, p model.Principal) error
}

type validateResponse struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// AuthServiceValidate asks the identity service to validate the signed request
// (X-Session-Id, X-Timestamp, X-Signature) and puts the returned principal in the context.
// Requests without credentials pass through anonymous; invalid credentials get 401.
func AuthServiceValidate(authServiceURL string, client *http.Client, sync PrincipalSync) func(http.Handler) http.Handler {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	authServiceURL = strings.TrimSuffix(authServiceURL, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := headerOrQuery(r, "X-Session-Id", "session_id")
			timestamp := headerOrQuery(r, "X-Timestamp", "timestamp")
			signature := headerOrQuery(r, "X-Signature", "signature")
			if sessionID == "" && timestamp == "" && signature == "" {
				next.ServeHTTP(w, r)
				return
			}
			if sessionID == "" || timestamp == "" || signature == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			var body []byte
			if r.Body != nil {
				var err error
				body, err = io.ReadAll(r.Body)
				if err != nil {
					http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}
			bodyForSignature := string(body)
			// Clients sign multipart uploads with an empty body.
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
				bodyForSignature = ""
			}
			jsonBody, _ := json.Marshal(map[string]string{
				"session_id": sessionID,
				"timestamp":  timestamp,
				"signature":  signature,
				"method":     r.Method,
				"path":       r.URL.Path,
				"body":       bodyForSignature,
			})
			req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, authServiceURL+"/internal/validate", bytes.NewReader(jsonBody))
			if err != nil {
				http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
				return
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				logger.Errorf("auth validate session=%s: %v", MaskToken(sessionID), err)
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			var result validateResponse
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.UserID == "" || result.UserID == model.AnonymousOwnerID {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			p := model.Principal{ID: result.UserID, Email: result.Email, DisplayName: result.DisplayName, Role: result.Role}
			if sync != nil {
				if err := sync.SyncPrincipal(r.Context(), p); err != nil {
					logger.Warnf("auth validate sync principal user=%s: %v", p.ID, err)
				}
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// DevIdentity trusts X-Dev-User-Id / X-Dev-Role headers. Only for -dev without an identity service.
func DevIdentity(sync PrincipalSync) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get("X-Dev-User-Id"))
			if id == "" || id == model.AnonymousOwnerID {
				next.ServeHTTP(w, r)
				return
			}
			p := model.Principal{
				ID:          id,
				Email:       r.Header.Get("X-Dev-Email"),
				DisplayName: r.Header.Get("X-Dev-Name"),
				Role:        r.Header.Get("X-Dev-Role"),
			}
			if sync != nil {
				if err := sync.SyncPrincipal(r.Context(), p); err != nil {
					logger.Warnf("dev identity sync user=%s: %v", id, err)
				}
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequirePrincipal rejects requests that carry neither a principal nor a visitor token.
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetPrincipal(r.Context()); !ok {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := GetPrincipal(r.Context())
		if !ok {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if !p.IsAdmin() {
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func headerOrQuery(r *http.Request, header, query string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(query)
}
