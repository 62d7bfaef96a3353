package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/supportchat/internal/feed"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/storage"
	"github.com/supportchat/internal/storage/memory"
)

type fixture struct {
	store      *memory.Store
	feed       *feed.Local
	push       *recordingPush
	sessions   *SessionManager
	channel    *Channel
	intake     *Intake
	moderation *Moderation
}

func newFixture() *fixture {
	st := memory.New()
	st.PutProfile(model.Profile{ID: "admin1", DisplayName: "Alice Admin", Email: "alice@support.test"}, model.RoleAdmin)
	st.PutProfile(model.Profile{ID: "admin2", DisplayName: "Bob Admin"}, model.RoleAdmin)
	st.PutProfile(model.Profile{ID: "u1", DisplayName: "User One", Email: "u1@x.com"}, "")
	f := &fixture{store: st, feed: feed.NewLocal(), push: &recordingPush{}}
	f.sessions = NewSessionManager(st, st)
	f.channel = NewChannel(st, f.feed, nil, f.push)
	f.intake = NewIntake(st, st, f.channel)
	f.moderation = NewModeration(st, st, f.feed, nil)
	return f
}

type pushCall struct {
	UserID string
	Body   string
}

type recordingPush struct {
	mu    sync.Mutex
	calls []pushCall
}

func (p *recordingPush) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	p.mu.Lock()
	p.calls = append(p.calls, pushCall{UserID: userID, Body: body})
	p.mu.Unlock()
}

func (p *recordingPush) snapshot() []pushCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushCall(nil), p.calls...)
}

type failingRoster struct{}

func (failingRoster) ListPrincipalsWithRole(ctx context.Context, role string) ([]string, error) {
	return nil, errors.New("identity service unreachable")
}

type failingProfiles struct{}

func (failingProfiles) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	return nil, errors.New("profiles unreachable")
}

// flakyStore fails selected calls of the wrapped store.
type flakyStore struct {
	storage.ChatStore
	countFails map[string]bool
	stampErr   error
}

func (f *flakyStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	if f.countFails[sessionID] {
		return 0, errors.New("count timeout")
	}
	return f.ChatStore.CountMessages(ctx, sessionID)
}

func (f *flakyStore) StampMessage(ctx context.Context, sessionID, messageID string) (time.Time, error) {
	if f.stampErr != nil {
		return time.Time{}, f.stampErr
	}
	return f.ChatStore.StampMessage(ctx, sessionID, messageID)
}

// racingStore runs interleave once, right after the first GetSession read.
type racingStore struct {
	storage.ChatStore
	once       sync.Once
	interleave func()
}

func (r *racingStore) GetSession(ctx context.Context, id string) (*model.ChatSession, error) {
	s, err := r.ChatStore.GetSession(ctx, id)
	r.once.Do(r.interleave)
	return s, err
}

func appendText(f *fixture, sessionID, sender string, role model.SenderRole, text string) (string, error) {
	return f.channel.Append(context.Background(), AppendInput{
		SessionID: sessionID, SenderID: sender, SenderRole: role, Text: text,
	})
}
