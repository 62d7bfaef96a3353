package push

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	"github.com/supportchat/internal/logger"
)

// SubscriptionStore keeps raw subscription documents per user. redis.PushSubscriptions implements it.
type SubscriptionStore interface {
	Add(ctx context.Context, userID, raw string) error
	List(ctx context.Context, userID string) ([]string, error)
	Remove(ctx context.Context, userID string, drop func(raw string) bool) error
}

// Sender delivers one notification; webpush.SendNotificationWithContext in production.
type Sender func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// Server is the push service: it stores browser subscriptions and fans notifications out.
type Server struct {
	subs      SubscriptionStore
	vapid     *webpush.Options
	publicKey string
	send      Sender
}

// NewServer builds the service. Without keys subscriptions are stored but nothing is sent.
func NewServer(subs SubscriptionStore, keys *VAPIDKeys, subscriber string) *Server {
	s := &Server{subs: subs, send: webpush.SendNotificationWithContext}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		s.publicKey = keys.PublicKey
		s.vapid = &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		}
	}
	return s
}

// Routes mounts the service endpoints on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/api/vapid-public", s.handleVAPIDPublic)
	r.Post("/api/subscribe", s.handleSubscribe)
	r.Delete("/api/subscribe", s.handleUnsubscribe)
	r.Post("/api/notify", s.handleNotify)
}

func (s *Server) handleVAPIDPublic(w http.ResponseWriter, r *http.Request) {
	if s.publicKey == "" {
		http.Error(w, "push not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(s.publicKey))
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || !req.Subscription.Valid() {
		http.Error(w, "user_id and subscription (endpoint, keys.p256dh, keys.auth) required", http.StatusBadRequest)
		return
	}
	raw, err := json.Marshal(req.Subscription)
	if err != nil {
		http.Error(w, "subscription encode", http.StatusInternalServerError)
		return
	}
	// Re-subscribing the same endpoint replaces the old entry.
	endpoint := req.Subscription.Endpoint
	if err := s.subs.Remove(r.Context(), req.UserID, func(item string) bool { return endpointOf(item) == endpoint }); err != nil {
		logger.Warnf("push subscribe dedupe user=%s: %v", req.UserID, err)
	}
	if err := s.subs.Add(r.Context(), req.UserID, string(raw)); err != nil {
		logger.Errorf("push subscribe user=%s: %v", req.UserID, err)
		http.Error(w, "failed to save subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Endpoint == "" {
		http.Error(w, "user_id and endpoint required", http.StatusBadRequest)
		return
	}
	if err := s.subs.Remove(r.Context(), req.UserID, func(item string) bool { return endpointOf(item) == req.Endpoint }); err != nil {
		logger.Errorf("push unsubscribe user=%s: %v", req.UserID, err)
		http.Error(w, "failed to remove subscription", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	list, err := s.subs.List(ctx, req.UserID)
	if err != nil {
		logger.Errorf("push notify user=%s: %v", req.UserID, err)
		http.Error(w, "failed to get subscriptions", http.StatusInternalServerError)
		return
	}
	if s.vapid == nil || len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	payload, _ := json.Marshal(map[string]any{"title": req.Title, "body": req.Body, "data": req.Data})
	gone := make(map[string]bool)
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) != nil || sub.Endpoint == "" {
			continue
		}
		resp, err := s.send(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}, s.vapid)
		if err != nil {
			logger.Errorf("push send %s: %v", shortEndpoint(sub.Endpoint), err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			gone[sub.Endpoint] = true
		}
	}
	if len(gone) > 0 {
		if err := s.subs.Remove(ctx, req.UserID, func(item string) bool { return gone[endpointOf(item)] }); err != nil {
			logger.Warnf("push prune user=%s: %v", req.UserID, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func endpointOf(raw string) string {
	var sub Subscription
	if json.Unmarshal([]byte(raw), &sub) != nil {
		return ""
	}
	return sub.Endpoint
}

func shortEndpoint(e string) string {
	if len(e) > 50 {
		return e[:50]
	}
	return e
}
