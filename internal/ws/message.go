package ws

import "github.com/supportchat/internal/model"

type EventType string

const (
	// server -> client
	EventMessages    EventType = "messages"
	EventMessageSent EventType = "message_sent"
	EventTyping      EventType = "typing"
	EventError       EventType = "error"

	// client -> server
	EventSendMessage EventType = "send_message"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type     EventType `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL string    `json:"image_url,omitempty"`
	// ClientID is echoed back in the message_sent ack.
	ClientID string `json:"client_id,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// MessagesPayload replaces the client's message list. It is always the full ordered list.
type MessagesPayload struct {
	SessionID string          `json:"session_id"`
	Messages  []model.Message `json:"messages"`
}

type MessageSentPayload struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id,omitempty"`
}

type TypingPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
}
