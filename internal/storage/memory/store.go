// Package memory holds the support chat documents in process memory.
// Used by the API in -dev mode without PostgreSQL and by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/storage"
)

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*model.ChatSession
	messages map[string][]*model.Message
	profiles map[string]model.Profile
	roles    map[string]string
	seq      int64
	last     time.Time
	now      func() time.Time
}

func New() *Store {
	return &Store{
		sessions: make(map[string]*model.ChatSession),
		messages: make(map[string][]*model.Message),
		profiles: make(map[string]model.Profile),
		roles:    make(map[string]string),
		now:      time.Now,
	}
}

// SetClock replaces the clock used for server timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// serverTime returns a strictly increasing timestamp. Caller holds s.mu.
func (s *Store) serverTime() time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func cloneSession(src *model.ChatSession) *model.ChatSession {
	c := *src
	c.Admins = append([]string(nil), src.Admins...)
	if src.AnonymousProfile != nil {
		p := *src.AnonymousProfile
		c.AnonymousProfile = &p
	}
	if src.LastMessage != nil {
		lm := *src.LastMessage
		c.LastMessage = &lm
	}
	return &c
}

func cloneMessage(src *model.Message) model.Message {
	c := *src
	if src.Timestamp != nil {
		ts := *src.Timestamp
		c.Timestamp = &ts
	}
	return c
}

func (s *Store) GetSession(ctx context.Context, id string) (*model.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneSession(sess), nil
}

// activeFor returns the active session of ownerID. Caller holds s.mu.
func (s *Store) activeFor(ownerID, exceptID string) *model.ChatSession {
	for _, sess := range s.sessions {
		if sess.ID != exceptID && sess.OwnerID == ownerID && sess.Status == model.SessionStatusActive {
			return sess
		}
	}
	return nil
}

func (s *Store) FindActiveSession(ctx context.Context, ownerID string) (*model.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess := s.activeFor(ownerID, ""); sess != nil {
		return cloneSession(sess), nil
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListSessions(ctx context.Context) ([]model.ChatSession, error) {
	s.mu.RLock()
	out := make([]model.ChatSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *cloneSession(sess))
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// insert stores sess with a new id. Caller holds s.mu.
func (s *Store) insert(sess *model.ChatSession) {
	now := s.serverTime()
	sess.ID = uuid.New().String()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	s.sessions[sess.ID] = cloneSession(sess)
}

func (s *Store) CreateSession(ctx context.Context, sess *model.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(sess)
	return nil
}

func (s *Store) CreateActiveSession(ctx context.Context, sess *model.ChatSession) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.activeFor(sess.OwnerID, ""); existing != nil {
		return existing.ID, false, nil
	}
	sess.Status = model.SessionStatusActive
	s.insert(sess)
	return sess.ID, true, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, from, status model.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	if sess.Status != from {
		return storage.ErrStale
	}
	if status == model.SessionStatusActive && sess.OwnerID != model.AnonymousOwnerID {
		if other := s.activeFor(sess.OwnerID, id); other != nil {
			return storage.ErrConflict
		}
	}
	sess.Status = status
	sess.UpdatedAt = s.serverTime()
	return nil
}

func (s *Store) InsertPendingMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[m.SessionID]; !ok {
		return storage.ErrNotFound
	}
	s.seq++
	m.ID = uuid.New().String()
	m.Seq = s.seq
	m.State = model.MessageStatePending
	m.Timestamp = nil
	stored := cloneMessage(m)
	s.messages[m.SessionID] = append(s.messages[m.SessionID], &stored)
	return nil
}

func (s *Store) StampMessage(ctx context.Context, sessionID, messageID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages[sessionID] {
		if m.ID != messageID {
			continue
		}
		if m.Ordered() {
			return *m.Timestamp, nil
		}
		ts := s.serverTime()
		m.Timestamp = &ts
		m.State = model.MessageStateOrdered
		return ts, nil
	}
	return time.Time{}, storage.ErrNotFound
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	s.mu.RLock()
	out := make([]model.Message, 0, len(s.messages[sessionID]))
	for _, m := range s.messages[sessionID] {
		if m.Ordered() {
			out = append(out, cloneMessage(m))
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	return out, nil
}

func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages[sessionID] {
		if m.Ordered() {
			n++
		}
	}
	return n, nil
}

func (s *Store) ProjectLastMessage(ctx context.Context, sessionID string, last model.LastMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return storage.ErrNotFound
	}
	if sess.LastMessage != nil && sess.LastMessage.Timestamp.After(last.Timestamp) {
		return nil
	}
	sess.LastMessage = &last
	if last.Timestamp.After(sess.UpdatedAt) {
		sess.UpdatedAt = last.Timestamp
	}
	return nil
}

func (s *Store) ResetLastMessage(ctx context.Context, sessionID string, last *model.LastMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return storage.ErrNotFound
	}
	if last == nil {
		sess.LastMessage = nil
		return nil
	}
	lm := *last
	sess.LastMessage = &lm
	return nil
}

// PutProfile registers a user profile and role, standing in for the identity tables.
func (s *Store) PutProfile(p model.Profile, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
	if role != "" {
		s.roles[p.ID] = role
	} else {
		delete(s.roles, p.ID)
	}
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListPrincipalsWithRole(ctx context.Context, role string) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, 4)
	for id, r := range s.roles {
		if r == role {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

// SyncPrincipal records the profile and role of an authenticated principal.
func (s *Store) SyncPrincipal(ctx context.Context, p model.Principal) error {
	s.PutProfile(model.Profile{ID: p.ID, DisplayName: p.DisplayName, Email: p.Email}, p.Role)
	return nil
}
