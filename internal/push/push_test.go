package push

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
)

type memSubs struct {
	mu    sync.Mutex
	items map[string][]string
}

func newMemSubs() *memSubs { return &memSubs{items: make(map[string][]string)} }

func (m *memSubs) Add(ctx context.Context, userID, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[userID] = append(m.items[userID], raw)
	return nil
}

func (m *memSubs) List(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.items[userID]...), nil
}

func (m *memSubs) Remove(ctx context.Context, userID string, drop func(string) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []string
	for _, it := range m.items[userID] {
		if !drop(it) {
			kept = append(kept, it)
		}
	}
	m.items[userID] = kept
	return nil
}

func testServer(t *testing.T, subs SubscriptionStore, send Sender) *httptest.Server {
	t.Helper()
	s := NewServer(subs, &VAPIDKeys{PublicKey: "pub", PrivateKey: "priv"}, "mailto:support@example.com")
	if send != nil {
		s.send = send
	}
	r := chi.NewRouter()
	s.Routes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func subscription(endpoint string) Subscription {
	var s Subscription
	s.Endpoint = endpoint
	s.Keys.P256dh = "p256"
	s.Keys.Auth = "auth"
	return s
}

func TestClientDisabledIsNoop(t *testing.T) {
	c := NewClient("", "")
	if c.Enabled() {
		t.Fatal("client without url must be disabled")
	}
	if err := c.Subscribe(context.Background(), "u1", subscription("https://e/1")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	c.Notify(context.Background(), "u1", "t", "b", nil)
}

func TestSubscribeDedupesEndpoint(t *testing.T) {
	subs := newMemSubs()
	ts := testServer(t, subs, nil)
	c := NewClient(ts.URL, "")

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := c.Subscribe(ctx, "u1", subscription("https://push.example/1")); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}
	if err := c.Subscribe(ctx, "u1", subscription("https://push.example/2")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	list, _ := subs.List(ctx, "u1")
	if len(list) != 2 {
		t.Fatalf("got %d subscriptions, want 2", len(list))
	}

	if err := c.Unsubscribe(ctx, "u1", "https://push.example/1"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	list, _ = subs.List(ctx, "u1")
	if len(list) != 1 || endpointOf(list[0]) != "https://push.example/2" {
		t.Fatalf("after unsubscribe: %v", list)
	}
}

func TestSubscribeRejectsIncomplete(t *testing.T) {
	ts := testServer(t, newMemSubs(), nil)
	body, _ := json.Marshal(SubscribeRequest{UserID: "u1", Subscription: Subscription{Endpoint: "https://e"}})
	resp, err := http.Post(ts.URL+"/api/subscribe", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
}

func TestNotifyPrunesGoneEndpoints(t *testing.T) {
	subs := newMemSubs()
	ctx := context.Background()
	for _, e := range []string{"https://push.example/live", "https://push.example/gone"} {
		raw, _ := json.Marshal(subscription(e))
		subs.Add(ctx, "admin1", string(raw))
	}

	var mu sync.Mutex
	var sent []string
	var payload map[string]any
	send := func(ctx context.Context, p []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, sub.Endpoint)
		json.Unmarshal(p, &payload)
		code := http.StatusCreated
		if strings.HasSuffix(sub.Endpoint, "gone") {
			code = http.StatusGone
		}
		return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
	ts := testServer(t, subs, send)

	c := NewClient(ts.URL, "")
	c.Notify(ctx, "admin1", "New message", "hello", map[string]string{"session_id": "s1"})

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 2 {
		t.Fatalf("sent to %v, want both endpoints", sent)
	}
	if payload["title"] != "New message" || payload["body"] != "hello" {
		t.Fatalf("payload %v", payload)
	}
	list, _ := subs.List(ctx, "admin1")
	if len(list) != 1 || endpointOf(list[0]) != "https://push.example/live" {
		t.Fatalf("remaining %v", list)
	}
}

func TestVAPIDPublic(t *testing.T) {
	ts := testServer(t, newMemSubs(), nil)
	resp, err := http.Get(ts.URL + "/api/vapid-public")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "pub" {
		t.Fatalf("got %d %q", resp.StatusCode, b)
	}
}

func TestEnsureVAPIDKeysPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "vapid.json")
	first, err := EnsureVAPIDKeys(path)
	if err != nil {
		t.Fatalf("EnsureVAPIDKeys: %v", err)
	}
	if first.PublicKey == "" || first.PrivateKey == "" {
		t.Fatal("empty keys")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("keys not saved: %v", err)
	}
	second, err := EnsureVAPIDKeys(path)
	if err != nil {
		t.Fatal(err)
	}
	if *second != *first {
		t.Fatal("second call generated new keys")
	}
}
