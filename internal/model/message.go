package model

import "time"

// Sender ids that are not principals.
const (
	SystemSenderID = "system"
)

type SenderRole string

const (
	SenderRoleUser   SenderRole = "user"
	SenderRoleAdmin  SenderRole = "admin"
	SenderRoleSystem SenderRole = "system"
)

// Valid reports whether r is one of the known roles.
func (r SenderRole) Valid() bool {
	switch r {
	case SenderRoleUser, SenderRoleAdmin, SenderRoleSystem:
		return true
	}
	return false
}

// MessageState tracks the two-phase write: a message is inserted pending and
// becomes ordered once the store has stamped its server timestamp.
type MessageState string

const (
	MessageStatePending MessageState = "pending"
	MessageStateOrdered MessageState = "ordered"
)

type Message struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"session_id"`
	SenderID   string       `json:"sender_id"`
	SenderRole SenderRole   `json:"sender_role"`
	Text       string       `json:"text"`
	ImageURL   string       `json:"image_url,omitempty"`
	Timestamp  *time.Time   `json:"timestamp"`
	State      MessageState `json:"state"`
	// Seq is the store's insertion sequence, used to break timestamp ties.
	Seq int64 `json:"-"`
}

// Ordered reports whether the message has a confirmed position.
func (m *Message) Ordered() bool {
	return m.State == MessageStateOrdered && m.Timestamp != nil
}

// Before orders messages by timestamp, then insertion sequence.
func (m *Message) Before(o *Message) bool {
	if m.Timestamp == nil || o.Timestamp == nil {
		return m.Seq < o.Seq
	}
	if !m.Timestamp.Equal(*o.Timestamp) {
		return m.Timestamp.Before(*o.Timestamp)
	}
	return m.Seq < o.Seq
}
