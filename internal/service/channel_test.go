package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/supportchat/internal/blob"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/storage"
)

func TestAppendStampsAndProjects(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sid, _ := f.sessions.GetOrCreateSession(ctx, "u1")
	before, _ := f.store.GetSession(ctx, sid)

	id, err := appendText(f, sid, "u1", model.SenderRoleUser, "Hello")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	d, err := f.moderation.GetSessionDetail(ctx, sid)
	if err != nil {
		t.Fatalf("GetSessionDetail: %v", err)
	}
	if len(d.Messages) != 1 || d.Messages[0].ID != id {
		t.Fatalf("messages = %+v", d.Messages)
	}
	m := d.Messages[0]
	if m.Timestamp == nil || m.State != model.MessageStateOrdered {
		t.Fatalf("message not ordered: %+v", m)
	}
	if d.LastMessage == nil || d.LastMessage.Text != "Hello" || !d.LastMessage.Timestamp.Equal(*m.Timestamp) {
		t.Fatalf("last message = %+v", d.LastMessage)
	}
	if !d.UpdatedAt.After(before.UpdatedAt) {
		t.Fatalf("updated_at not refreshed: %v <= %v", d.UpdatedAt, before.UpdatedAt)
	}
}

func TestAppendValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sid, _ := f.sessions.GetOrCreateSession(ctx, "u1")

	tests := []struct {
		name    string
		in      AppendInput
		wantErr error
	}{
		{"empty", AppendInput{SessionID: sid, SenderID: "u1", SenderRole: model.SenderRoleUser, Text: "  "}, ErrValidation},
		{"bad role", AppendInput{SessionID: sid, SenderID: "u1", SenderRole: "owner", Text: "hi"}, ErrValidation},
		{"no sender", AppendInput{SessionID: sid, SenderRole: model.SenderRoleUser, Text: "hi"}, ErrValidation},
		{"too long", AppendInput{SessionID: sid, SenderID: "u1", SenderRole: model.SenderRoleUser, Text: strings.Repeat("a", maxTextLen+1)}, ErrValidation},
		{"missing session", AppendInput{SessionID: "nope", SenderID: "u1", SenderRole: model.SenderRoleUser, Text: "hi"}, storage.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.channel.Append(ctx, tt.in); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	id, err := f.channel.Append(ctx, AppendInput{SessionID: sid, SenderID: "u1", SenderRole: model.SenderRoleUser, ImageURL: "/files/a.png"})
	if err != nil || id == "" {
		t.Fatalf("image only append: id=%q err=%v", id, err)
	}
	s, _ := f.store.GetSession(ctx, sid)
	if s.LastMessage == nil || s.LastMessage.Text != imagePreview {
		t.Fatalf("last message = %+v", s.LastMessage)
	}
}

func TestAppendStampFailureLeavesMessageHidden(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sid, _ := f.sessions.GetOrCreateSession(ctx, "u1")
	flaky := &flakyStore{ChatStore: f.store, stampErr: errors.New("write timeout")}
	ch := NewChannel(flaky, f.feed, nil, nil)

	if _, err := ch.Append(ctx, AppendInput{SessionID: sid, SenderID: "u1", SenderRole: model.SenderRoleUser, Text: "lost"}); err == nil {
		t.Fatal("expected stamp failure")
	}
	msgs, _ := f.store.ListMessages(ctx, sid)
	if len(msgs) != 0 {
		t.Fatalf("pending message listed: %+v", msgs)
	}
	if n, _ := f.store.CountMessages(ctx, sid); n != 0 {
		t.Fatalf("count = %d, want 0", n)
	}
}

func TestAppendAcrossStatusChange(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sid, _ := f.sessions.GetOrCreateSession(ctx, "u1")

	if _, err := appendText(f, sid, "u1", model.SenderRoleUser, "Hello"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := f.moderation.SetStatus(ctx, sid, model.SessionStatusClosed); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := appendText(f, sid, "admin1", model.SenderRoleAdmin, "Bye"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	d, err := f.moderation.GetSessionDetail(ctx, sid)
	if err != nil {
		t.Fatalf("GetSessionDetail: %v", err)
	}
	if d.Status != model.SessionStatusClosed {
		t.Fatalf("status = %s, want closed", d.Status)
	}
	if len(d.Messages) != 2 || d.Messages[0].Text != "Hello" || d.Messages[1].Text != "Bye" {
		t.Fatalf("messages = %+v", d.Messages)
	}
	if !d.Messages[0].Timestamp.Before(*d.Messages[1].Timestamp) {
		t.Fatal("messages not ordered by timestamp")
	}
}

func TestAppendPushRecipients(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sid, _ := f.sessions.GetOrCreateSession(ctx, "u1")

	if _, err := appendText(f, sid, "u1", model.SenderRoleUser, "Help"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	waitFor(t, func() bool { return len(f.push.snapshot()) == 2 })
	if _, err := appendText(f, sid, "admin1", model.SenderRoleAdmin, "On it"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	waitFor(t, func() bool { return len(f.push.snapshot()) == 3 })

	got := map[string]string{}
	for _, c := range f.push.snapshot() {
		got[c.UserID] = c.Body
	}
	if got["admin1"] != "Help" || got["admin2"] != "Help" || got["u1"] != "On it" {
		t.Fatalf("push calls = %+v", f.push.snapshot())
	}
}

func TestRecipients(t *testing.T) {
	anon := &model.ChatSession{OwnerID: model.AnonymousOwnerID, Admins: []string{"a1"}}
	if r := recipients(anon, AppendInput{SenderID: "a1", SenderRole: model.SenderRoleAdmin}); len(r) != 0 {
		t.Fatalf("anonymous owner got push: %v", r)
	}
	own := &model.ChatSession{OwnerID: "u1", Admins: []string{"a1", "u1"}}
	if r := recipients(own, AppendInput{SenderID: "u1", SenderRole: model.SenderRoleUser}); len(r) != 1 || r[0] != "a1" {
		t.Fatalf("recipients = %v", r)
	}
	if r := recipients(own, AppendInput{SenderID: "system", SenderRole: model.SenderRoleSystem}); r != nil {
		t.Fatalf("system recipients = %v", r)
	}
}

type deliveries struct {
	mu   sync.Mutex
	got  [][]model.Message
	wake chan struct{}
}

func newDeliveries() *deliveries {
	return &deliveries{wake: make(chan struct{}, 64)}
}

func (d *deliveries) onUpdate(msgs []model.Message) {
	d.mu.Lock()
	d.got = append(d.got, msgs)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *deliveries) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.got)
}

func (d *deliveries) last() []model.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.got) == 0 {
		return nil
	}
	return d.got[len(d.got)-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubscribeDeliversFullOrderedList(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sid, _ := f.sessions.GetOrCreateSession(ctx, "u1")
	if _, err := appendText(f, sid, "u1", model.SenderRoleUser, "one"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	d := newDeliveries()
	cancel := f.channel.Subscribe(ctx, sid, d.onUpdate)
	defer cancel()
	waitFor(t, func() bool { return len(d.last()) == 1 })

	for _, text := range []string{"two", "three"} {
		if _, err := appendText(f, sid, "admin1", model.SenderRoleAdmin, text); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	waitFor(t, func() bool { return len(d.last()) == 3 })

	msgs := d.last()
	for i, want := range []string{"one", "two", "three"} {
		if msgs[i].Text != want {
			t.Fatalf("msgs[%d] = %q, want %q", i, msgs[i].Text, want)
		}
		if i > 0 && msgs[i].Timestamp.Before(*msgs[i-1].Timestamp) {
			t.Fatalf("timestamps decrease at %d", i)
		}
	}
}

func TestSubscribeCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sid, _ := f.sessions.GetOrCreateSession(ctx, "u1")

	d := newDeliveries()
	cancel := f.channel.Subscribe(ctx, sid, d.onUpdate)
	waitFor(t, func() bool { return d.count() >= 1 })

	cancel()
	cancel()
	waitFor(t, func() bool { return f.feed.Listeners(sid) == 0 })
	time.Sleep(20 * time.Millisecond)
	n := d.count()

	if _, err := appendText(f, sid, "u1", model.SenderRoleUser, "after cancel"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if d.count() != n {
		t.Fatalf("delivery after cancel: %d -> %d", n, d.count())
	}
}

func TestSubscribeStopsWithContext(t *testing.T) {
	f := newFixture()
	sid, _ := f.sessions.GetOrCreateSession(context.Background(), "u1")

	ctx, cancelCtx := context.WithCancel(context.Background())
	d := newDeliveries()
	f.channel.Subscribe(ctx, sid, d.onUpdate)
	waitFor(t, func() bool { return f.feed.Listeners(sid) == 1 })
	cancelCtx()
	waitFor(t, func() bool { return f.feed.Listeners(sid) == 0 })
}

func TestSubscribeScopedToSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a, _ := f.sessions.GetOrCreateSession(ctx, "u1")
	b, _ := f.sessions.GetOrCreateSession(ctx, "u2")

	d := newDeliveries()
	cancel := f.channel.Subscribe(ctx, a, d.onUpdate)
	defer cancel()
	waitFor(t, func() bool { return d.count() >= 1 })
	time.Sleep(20 * time.Millisecond)
	n := d.count()

	if _, err := appendText(f, b, "u2", model.SenderRoleUser, "elsewhere"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if d.count() != n {
		t.Fatalf("session %s subscriber woke for %s", a, b)
	}
}

type memBlobs struct {
	uploads int
}

func (m *memBlobs) Upload(ctx context.Context, data []byte, meta blob.Metadata) (string, error) {
	m.uploads++
	return "/files/" + meta.SessionID + "/" + meta.Filename, nil
}

func TestUploadImage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sid, _ := f.sessions.GetOrCreateSession(ctx, "u1")
	blobs := &memBlobs{}
	ch := NewChannel(f.store, f.feed, blobs, nil)

	url, err := ch.UploadImage(ctx, sid, "u1", "shot.png", []byte{1})
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	if url != "/files/"+sid+"/shot.png" {
		t.Fatalf("url = %q", url)
	}
	if _, err := ch.UploadImage(ctx, "missing", "u1", "shot.png", []byte{1}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing session: err = %v", err)
	}
	if _, err := ch.UploadImage(ctx, sid, "u1", "shot.png", nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty file: err = %v", err)
	}
	if _, err := f.channel.UploadImage(ctx, sid, "u1", "shot.png", []byte{1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("no blob store: err = %v", err)
	}
	if blobs.uploads != 1 {
		t.Fatalf("uploads = %d", blobs.uploads)
	}
}
