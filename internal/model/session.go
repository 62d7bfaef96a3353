package model

import "time"

// AnonymousOwnerID is the owner id of sessions opened through anonymous intake.
const AnonymousOwnerID = "anonymous"

// DefaultTopic is used when no issue was given.
const DefaultTopic = "General Support"

type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusClosed  SessionStatus = "closed"
	SessionStatusDeleted SessionStatus = "deleted"
)

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusActive, SessionStatusClosed, SessionStatusDeleted:
		return true
	}
	return false
}

// AnonymousProfile is what an unauthenticated visitor typed into the intake form.
type AnonymousProfile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Issue string `json:"issue"`
}

// LastMessage mirrors the newest ordered message of a session for list views.
type LastMessage struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatSession struct {
	ID               string            `json:"id"`
	OwnerID          string            `json:"owner_id"`
	AnonymousProfile *AnonymousProfile `json:"anonymous_profile,omitempty"`
	Status           SessionStatus     `json:"status"`
	Admins           []string          `json:"admins"`
	Topic            string            `json:"topic"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	LastMessage      *LastMessage      `json:"last_message,omitempty"`
}

// IsAnonymous reports whether the session was opened by anonymous intake.
func (s *ChatSession) IsAnonymous() bool {
	return s.OwnerID == AnonymousOwnerID
}

// SessionSummary is a row of the moderation list view.
type SessionSummary struct {
	ChatSession
	OwnerName    string `json:"owner_name"`
	OwnerEmail   string `json:"owner_email,omitempty"`
	MessageCount int    `json:"message_count"`
}

// SessionDetail is a session with all of its ordered messages and the resolved owner.
type SessionDetail struct {
	ChatSession
	Messages     []Message `json:"messages"`
	OwnerProfile Profile   `json:"owner_profile"`
}

// Analytics aggregates all sessions for the admin console.
type Analytics struct {
	TotalSessions         int `json:"total_sessions"`
	ActiveSessions        int `json:"active_sessions"`
	ClosedSessions        int `json:"closed_sessions"`
	TotalMessages         int `json:"total_messages"`
	AvgMessagesPerSession int `json:"avg_messages_per_session"`
}
