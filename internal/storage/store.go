package storage

import (
	"context"
	"errors"
	"time"

	"github.com/supportchat/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would leave two active sessions for one owner.
	ErrConflict = errors.New("conflict")
	// ErrStale is returned by a conditional write whose expected state no longer holds.
	ErrStale = errors.New("stale write")
)

// ChatStore is the document store the support chat runs on.
// Implementations: repository.ChatStore (PostgreSQL), memory.Store (-dev without a DB, tests).
type ChatStore interface {
	GetSession(ctx context.Context, id string) (*model.ChatSession, error)
	// FindActiveSession returns the active session of ownerID or ErrNotFound.
	FindActiveSession(ctx context.Context, ownerID string) (*model.ChatSession, error)
	// ListSessions returns every session ordered by updated_at descending.
	ListSessions(ctx context.Context) ([]model.ChatSession, error)
	// CreateSession inserts s unconditionally and fills in ID, CreatedAt and UpdatedAt.
	CreateSession(ctx context.Context, s *model.ChatSession) error
	// CreateActiveSession inserts s only if its owner has no active session yet.
	// It returns the id of the active session and whether it was created by this call.
	CreateActiveSession(ctx context.Context, s *model.ChatSession) (id string, created bool, err error)
	// UpdateStatus moves the session from status from to status to and refreshes updated_at.
	// It returns ErrStale if the session is no longer in from. Reactivating a session whose
	// owner already has another active one returns ErrConflict.
	UpdateStatus(ctx context.Context, id string, from, to model.SessionStatus) error

	// InsertPendingMessage is phase one of an append: the message is stored without a timestamp.
	InsertPendingMessage(ctx context.Context, m *model.Message) error
	// StampMessage is phase two: the store assigns its server timestamp and marks the message ordered.
	StampMessage(ctx context.Context, sessionID, messageID string) (time.Time, error)
	// ListMessages returns the ordered messages of a session by (timestamp, seq) ascending.
	ListMessages(ctx context.Context, sessionID string) ([]model.Message, error)
	CountMessages(ctx context.Context, sessionID string) (int, error)

	// ProjectLastMessage advances the session's last_message mirror and updated_at.
	// A mirror newer than ts is left untouched.
	ProjectLastMessage(ctx context.Context, sessionID string, last model.LastMessage) error
	// ResetLastMessage overwrites the mirror (nil clears it).
	ResetLastMessage(ctx context.Context, sessionID string, last *model.LastMessage) error
}
