package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/storage"
)

// SessionManager owns the lookup-or-create of a visitor's active session.
type SessionManager struct {
	store  storage.ChatStore
	roster Roster
	owners *keyedMutex
}

func NewSessionManager(store storage.ChatStore, roster Roster) *SessionManager {
	return &SessionManager{store: store, roster: roster, owners: newKeyedMutex()}
}

func validateOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	if ownerID == model.AnonymousOwnerID {
		return fmt.Errorf("%w: anonymous sessions are opened through intake", ErrValidation)
	}
	return nil
}

// GetOrCreateSession returns the owner's active session, creating it when there is none.
// Creation is serialised per owner in this process and conditional in the store,
// so concurrent callers always get the same id.
func (m *SessionManager) GetOrCreateSession(ctx context.Context, ownerID string) (string, error) {
	if err := validateOwner(ownerID); err != nil {
		return "", err
	}
	unlock := m.owners.Lock(ownerID)
	defer unlock()

	existing, err := m.store.FindActiveSession(ctx, ownerID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		logger.Errorf("%s owner=%s lookup: %v", logger.Op("GetOrCreateSession", ""), ownerID, err)
		return "", err
	}

	s := &model.ChatSession{
		OwnerID: ownerID,
		Status:  model.SessionStatusActive,
		Admins:  snapshotAdmins(ctx, m.roster, "GetOrCreateSession"),
		Topic:   model.DefaultTopic,
	}
	id, created, err := m.store.CreateActiveSession(ctx, s)
	if err != nil {
		logger.Errorf("%s owner=%s create: %v", logger.Op("GetOrCreateSession", ""), ownerID, err)
		return "", err
	}
	if created {
		logger.Infof("%s owner=%s admins=%d created", logger.Op("GetOrCreateSession", id), ownerID, len(s.Admins))
	}
	return id, nil
}

// GetActiveSessionID returns "" when the owner has no active session.
func (m *SessionManager) GetActiveSessionID(ctx context.Context, ownerID string) (string, error) {
	if err := validateOwner(ownerID); err != nil {
		return "", err
	}
	s, err := m.store.FindActiveSession(ctx, ownerID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		logger.Errorf("%s owner=%s: %v", logger.Op("GetActiveSessionID", ""), ownerID, err)
		return "", err
	}
	return s.ID, nil
}

// Authorize loads the session and checks that p may read and write it:
// admins reach every session, other principals only their own, and an anonymous
// visitor only the intake session its token was issued for.
func (m *SessionManager) Authorize(ctx context.Context, p model.Principal, sessionID string) (*model.ChatSession, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch {
	case p.IsAdmin():
		return s, nil
	case s.IsAnonymous():
		if p.ID == model.AnonymousOwnerID && p.VisitorSessionID == s.ID {
			return s, nil
		}
	case p.ID != "" && p.ID != model.AnonymousOwnerID && s.OwnerID == p.ID:
		return s, nil
	}
	return nil, ErrForbidden
}
