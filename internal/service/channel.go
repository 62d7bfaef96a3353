package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/supportchat/internal/blob"
	"github.com/supportchat/internal/feed"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/storage"
)

const (
	maxTextLen   = 4000
	previewLen   = 120
	imagePreview = "[image]"
	pushTimeout  = 10 * time.Second
)

// PushNotifier sends a best-effort notification to one user. push.Client implements it.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// Channel appends messages to a session and streams the ordered list to subscribers.
type Channel struct {
	store storage.ChatStore
	feed  feed.Notifier
	blobs blob.Store
	push  PushNotifier
}

func NewChannel(store storage.ChatStore, notifier feed.Notifier, blobs blob.Store, push PushNotifier) *Channel {
	return &Channel{store: store, feed: notifier, blobs: blobs, push: push}
}

type AppendInput struct {
	SessionID  string
	SenderID   string
	SenderRole model.SenderRole
	Text       string
	ImageURL   string
}

func (in AppendInput) validate() error {
	switch {
	case in.SessionID == "":
		return fmt.Errorf("%w: session id is required", ErrValidation)
	case in.SenderID == "":
		return fmt.Errorf("%w: sender id is required", ErrValidation)
	case !in.SenderRole.Valid():
		return fmt.Errorf("%w: unknown sender role %q", ErrValidation, in.SenderRole)
	case strings.TrimSpace(in.Text) == "" && in.ImageURL == "":
		return fmt.Errorf("%w: text or image is required", ErrValidation)
	case len(in.Text) > maxTextLen:
		return fmt.Errorf("%w: text longer than %d bytes", ErrValidation, maxTextLen)
	}
	return nil
}

// Append stores a message in two steps: insert it pending, then let the store stamp its
// server timestamp. It returns once the message is ordered and the session's last
// message mirror has been advanced.
func (c *Channel) Append(ctx context.Context, in AppendInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	m := &model.Message{
		SessionID:  in.SessionID,
		SenderID:   in.SenderID,
		SenderRole: in.SenderRole,
		Text:       in.Text,
		ImageURL:   in.ImageURL,
	}
	if err := c.store.InsertPendingMessage(ctx, m); err != nil {
		logger.Errorf("%s insert: %v", logger.Op("Append", in.SessionID), err)
		return "", err
	}
	ts, err := c.store.StampMessage(ctx, in.SessionID, m.ID)
	if err != nil {
		// The message stays pending and is never listed.
		logger.Errorf("%s stamp message=%s: %v", logger.Op("Append", in.SessionID), m.ID, err)
		return "", err
	}
	last := model.LastMessage{Text: preview(in.Text, in.ImageURL), Timestamp: ts}
	if err := c.store.ProjectLastMessage(ctx, in.SessionID, last); err != nil {
		// Ordered message is durable; the mirror is repaired by RebuildLastMessage.
		logger.Errorf("%s project last message: %v", logger.Op("Append", in.SessionID), err)
	}
	c.publish(ctx, in.SessionID, "Append")
	c.notify(in, last.Text)
	return m.ID, nil
}

func (c *Channel) publish(ctx context.Context, sessionID, op string) {
	if c.feed == nil {
		return
	}
	if err := c.feed.Publish(ctx, sessionID); err != nil {
		logger.Errorf("%s publish: %v", logger.Op(op, sessionID), err)
	}
}

// notify pushes to the other side of the conversation in the background.
func (c *Channel) notify(in AppendInput, body string) {
	if c.push == nil || in.SenderRole == model.SenderRoleSystem {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		s, err := c.store.GetSession(ctx, in.SessionID)
		if err != nil {
			logger.Warnf("%s push lookup: %v", logger.Op("Append", in.SessionID), err)
			return
		}
		data := map[string]string{"session_id": in.SessionID}
		for _, uid := range recipients(s, in) {
			c.push.Notify(ctx, uid, s.Topic, body, data)
		}
	}()
}

// recipients: a visitor message goes to the admins snapshot, an admin message to a
// non-anonymous owner.
func recipients(s *model.ChatSession, in AppendInput) []string {
	switch in.SenderRole {
	case model.SenderRoleUser:
		out := make([]string, 0, len(s.Admins))
		for _, id := range s.Admins {
			if id != in.SenderID {
				out = append(out, id)
			}
		}
		return out
	case model.SenderRoleAdmin:
		if s.IsAnonymous() || s.OwnerID == in.SenderID {
			return nil
		}
		return []string{s.OwnerID}
	}
	return nil
}

func preview(text, imageURL string) string {
	text = strings.TrimSpace(text)
	if text == "" && imageURL != "" {
		return imagePreview
	}
	r := []rune(text)
	if len(r) > previewLen {
		return string(r[:previewLen]) + "…"
	}
	return text
}

// Subscribe delivers the full ordered message list of sessionID to onUpdate, once right
// away and again after every change of the session. Deliveries run one at a time on a
// dedicated goroutine; signals arriving during a delivery are coalesced into one more.
// cancel is idempotent. No delivery starts after cancel or after ctx is done, but one
// already running may finish.
func (c *Channel) Subscribe(ctx context.Context, sessionID string, onUpdate func([]model.Message)) (cancel func()) {
	wake, stop := c.feed.Listen(sessionID)
	ctx, cancelCtx := context.WithCancel(ctx)
	var once sync.Once
	cancel = func() {
		once.Do(func() {
			cancelCtx()
			stop()
		})
	}

	go func() {
		defer cancel()
		c.deliver(ctx, sessionID, onUpdate)
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				c.deliver(ctx, sessionID, onUpdate)
			}
		}
	}()
	return cancel
}

func (c *Channel) deliver(ctx context.Context, sessionID string, onUpdate func([]model.Message)) {
	if ctx.Err() != nil {
		return
	}
	msgs, err := c.store.ListMessages(ctx, sessionID)
	if err != nil {
		if ctx.Err() == nil {
			logger.Errorf("%s list: %v", logger.Op("Subscribe", sessionID), err)
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	onUpdate(msgs)
}

// UploadImage stores an image for sessionID and returns the URL to pass to Append.
func (c *Channel) UploadImage(ctx context.Context, sessionID, uploaderID, filename string, data []byte) (string, error) {
	if c.blobs == nil {
		return "", fmt.Errorf("%w: uploads are disabled", ErrValidation)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: file is empty", ErrValidation)
	}
	if _, err := c.store.GetSession(ctx, sessionID); err != nil {
		return "", err
	}
	url, err := c.blobs.Upload(ctx, data, blob.Metadata{Filename: filename, SessionID: sessionID, UploaderID: uploaderID})
	if err != nil {
		logger.Errorf("%s upload %q: %v", logger.Op("UploadImage", sessionID), filename, err)
		return "", err
	}
	return url, nil
}
