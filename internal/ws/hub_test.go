package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/service"
)

// fakeFeed records subscriptions and lets the test push lists.
type fakeFeed struct {
	mu       sync.Mutex
	subs     map[string]func([]model.Message)
	opened   int
	canceled int
	appended []service.AppendInput
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[string]func([]model.Message))}
}

func (f *fakeFeed) Subscribe(ctx context.Context, sessionID string, onUpdate func([]model.Message)) func() {
	f.mu.Lock()
	f.subs[sessionID] = onUpdate
	f.opened++
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.canceled++
		f.mu.Unlock()
	}
}

func (f *fakeFeed) Append(ctx context.Context, in service.AppendInput) (string, error) {
	f.mu.Lock()
	f.appended = append(f.appended, in)
	f.mu.Unlock()
	return "m-1", nil
}

func (f *fakeFeed) push(sessionID string, msgs []model.Message) {
	f.mu.Lock()
	fn := f.subs[sessionID]
	f.mu.Unlock()
	if fn != nil {
		fn(msgs)
	}
}

func (f *fakeFeed) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened, f.canceled
}

func startHub(t *testing.T, f *fakeFeed, p model.Principal) (*Hub, string) {
	t.Helper()
	hub := NewHub(f, f, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		c := NewClient(hub, conn, p, r.URL.Query().Get("session"))
		c.Start(cctx, ccancel)
		hub.Register(c)
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRoomSharesOneSubscription(t *testing.T) {
	f := newFakeFeed()
	hub, url := startHub(t, f, model.Principal{ID: "u1"})

	a, _, err := websocket.DefaultDialer.Dial(url+"?session=s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	eventually(t, func() bool { return hub.Clients("s1") == 1 })
	b, _, err := websocket.DefaultDialer.Dial(url+"?session=s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return hub.Clients("s1") == 2 })
	if opened, _ := f.counts(); opened != 1 {
		t.Fatalf("subscriptions opened = %d, want 1", opened)
	}

	ts := time.Now()
	f.push("s1", []model.Message{{ID: "m1", SessionID: "s1", Text: "hi", Timestamp: &ts}})
	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var out struct {
			Type    EventType       `json:"type"`
			Payload MessagesPayload `json:"payload"`
		}
		if err := conn.ReadJSON(&out); err != nil {
			t.Fatal(err)
		}
		if out.Type != EventMessages || len(out.Payload.Messages) != 1 {
			t.Fatalf("got %+v", out)
		}
	}

	b.Close()
	eventually(t, func() bool { return hub.Clients("s1") == 1 })
	if _, canceled := f.counts(); canceled != 0 {
		t.Fatal("subscription canceled while a client remains")
	}
	a.Close()
	eventually(t, func() bool { _, c := f.counts(); return c == 1 })
}

func TestSendMessageUsesPrincipalRole(t *testing.T) {
	f := newFakeFeed()
	hub, url := startHub(t, f, model.Principal{ID: "admin1", Role: model.RoleAdmin})

	conn, _, err := websocket.DefaultDialer.Dial(url+"?session=s2", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	eventually(t, func() bool { return hub.Clients("s2") == 1 })

	if err := conn.WriteJSON(IncomingMessage{Type: EventSendMessage, Text: "on it", ClientID: "x"}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out struct {
		Type    EventType          `json:"type"`
		Payload MessageSentPayload `json:"payload"`
	}
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatal(err)
	}
	if out.Type != EventMessageSent || out.Payload.ClientID != "x" {
		t.Fatalf("got %+v", out)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.appended) != 1 || f.appended[0].SenderRole != model.SenderRoleAdmin || f.appended[0].SessionID != "s2" {
		t.Fatalf("appended %+v", f.appended)
	}
}
