package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/supportchat/internal/model"
)

// VisitorTokens signs intake session ids so an anonymous visitor can keep writing to
// the session it opened. Token format: <session id>.<hex hmac-sha256>.
type VisitorTokens struct {
	secret []byte
}

func NewVisitorTokens(secret string) *VisitorTokens {
	return &VisitorTokens{secret: []byte(secret)}
}

func (v *VisitorTokens) Issue(sessionID string) string {
	return sessionID + "." + v.sign(sessionID)
}

// Verify returns the session id the token was issued for.
func (v *VisitorTokens) Verify(token string) (string, bool) {
	idx := strings.LastIndex(token, ".")
	if idx <= 0 || idx == len(token)-1 {
		return "", false
	}
	sessionID, sig := token[:idx], token[idx+1:]
	if !hmac.Equal([]byte(sig), []byte(v.sign(sessionID))) {
		return "", false
	}
	return sessionID, true
}

func (v *VisitorTokens) sign(sessionID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte("visitor:" + sessionID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VisitorAuth admits a request without a principal that carries a valid X-Visitor-Token
// (or visitor_token query parameter, for WebSocket clients).
func VisitorAuth(tokens *VisitorTokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := GetPrincipal(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			token := headerOrQuery(r, "X-Visitor-Token", "visitor_token")
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			sessionID, ok := tokens.Verify(token)
			if !ok {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), model.Anonymous(sessionID))))
		})
	}
}

// MaskToken hides all but the first characters of a session id or token in logs.
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
