package model

// ExportDocument is a serializable snapshot of one session. All timestamps are RFC 3339 strings.
type ExportDocument struct {
	SessionInfo ExportSessionInfo `json:"session_info"`
	Messages    []ExportMessage   `json:"messages"`
	ExportedAt  string            `json:"exported_at"`
}

type ExportSessionInfo struct {
	ID               string            `json:"id"`
	OwnerID          string            `json:"owner_id"`
	OwnerName        string            `json:"owner_name"`
	OwnerEmail       string            `json:"owner_email,omitempty"`
	AnonymousProfile *AnonymousProfile `json:"anonymous_profile,omitempty"`
	Status           SessionStatus     `json:"status"`
	Topic            string            `json:"topic"`
	Admins           []string          `json:"admins"`
	CreatedAt        string            `json:"created_at"`
	UpdatedAt        string            `json:"updated_at"`
}

type ExportMessage struct {
	ID         string     `json:"id"`
	SenderID   string     `json:"sender_id"`
	SenderRole SenderRole `json:"sender_role"`
	Text       string     `json:"text"`
	ImageURL   string     `json:"image_url,omitempty"`
	Timestamp  string     `json:"timestamp"`
}
