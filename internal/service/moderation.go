package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/supportchat/internal/feed"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/storage"
)

// Moderation serves the admin console: listing, detail, status changes, export and analytics.
type Moderation struct {
	store    storage.ChatStore
	profiles Profiles
	feed     feed.Notifier
	policy   TransitionPolicy
	now      func() time.Time
}

func NewModeration(store storage.ChatStore, profiles Profiles, notifier feed.Notifier, policy TransitionPolicy) *Moderation {
	if policy == nil {
		policy = Unrestricted{}
	}
	return &Moderation{store: store, profiles: profiles, feed: notifier, policy: policy, now: time.Now}
}

// resolveOwner never fails: an unreadable profile becomes the "Unknown User" placeholder.
func (m *Moderation) resolveOwner(ctx context.Context, s *model.ChatSession) model.Profile {
	if s.IsAnonymous() {
		p := model.Profile{ID: s.OwnerID, DisplayName: model.UnknownUserName}
		if s.AnonymousProfile != nil {
			p.DisplayName = s.AnonymousProfile.Name
			p.Email = s.AnonymousProfile.Email
		}
		return p
	}
	if m.profiles == nil {
		return model.Profile{ID: s.OwnerID, DisplayName: model.UnknownUserName}
	}
	p, err := m.profiles.GetProfile(ctx, s.OwnerID)
	if err != nil || p == nil {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warnf("%s owner=%s profile: %v", logger.Op("ResolveOwner", s.ID), s.OwnerID, err)
		}
		return model.Profile{ID: s.OwnerID, DisplayName: model.UnknownUserName}
	}
	out := *p
	if out.DisplayName == "" {
		out.DisplayName = model.UnknownUserName
	}
	return out
}

// countMessages degrades to 0 so one broken session never fails a whole listing.
func (m *Moderation) countMessages(ctx context.Context, op, sessionID string) int {
	n, err := m.store.CountMessages(ctx, sessionID)
	if err != nil {
		logger.Errorf("%s count: %v", logger.Op(op, sessionID), err)
		return 0
	}
	return n
}

// ListSessions returns every session, most recently updated first.
func (m *Moderation) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		logger.Errorf("%s: %v", logger.Op("ListSessions", ""), err)
		return nil, err
	}
	out := make([]model.SessionSummary, 0, len(sessions))
	for i := range sessions {
		owner := m.resolveOwner(ctx, &sessions[i])
		out = append(out, model.SessionSummary{
			ChatSession:  sessions[i],
			OwnerName:    owner.DisplayName,
			OwnerEmail:   owner.Email,
			MessageCount: m.countMessages(ctx, "ListSessions", sessions[i].ID),
		})
	}
	return out, nil
}

func (m *Moderation) GetSessionDetail(ctx context.Context, id string) (*model.SessionDetail, error) {
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Errorf("%s: %v", logger.Op("GetSessionDetail", id), err)
		}
		return nil, err
	}
	msgs, err := m.store.ListMessages(ctx, id)
	if err != nil {
		logger.Errorf("%s messages: %v", logger.Op("GetSessionDetail", id), err)
		return nil, err
	}
	return &model.SessionDetail{
		ChatSession:  *s,
		Messages:     msgs,
		OwnerProfile: m.resolveOwner(ctx, s),
	}, nil
}

// SetStatus moves a session to status and refreshes updated_at.
func (m *Moderation) SetStatus(ctx context.Context, id string, status model.SessionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	from, err := m.updateStatus(ctx, id, status)
	if err != nil {
		return err
	}
	logger.Infof("%s %s -> %s", logger.Op("SetStatus", id), from, status)
	if m.feed != nil {
		if err := m.feed.Publish(ctx, id); err != nil {
			logger.Errorf("%s publish: %v", logger.Op("SetStatus", id), err)
		}
	}
	return nil
}

// statusAttempts bounds the re-reads when a concurrent moderator changes the status first.
const statusAttempts = 3

// updateStatus checks the policy against the current status and writes only if that
// status still holds, re-reading on a concurrent change. It returns the previous status.
func (m *Moderation) updateStatus(ctx context.Context, id string, status model.SessionStatus) (model.SessionStatus, error) {
	for attempt := 0; attempt < statusAttempts; attempt++ {
		s, err := m.store.GetSession(ctx, id)
		if err != nil {
			return "", err
		}
		if !m.policy.Allow(s.Status, status) {
			return "", fmt.Errorf("%w: %s -> %s", ErrTransition, s.Status, status)
		}
		err = m.store.UpdateStatus(ctx, id, s.Status, status)
		switch {
		case err == nil:
			return s.Status, nil
		case errors.Is(err, storage.ErrStale):
			logger.Warnf("%s status changed concurrently, retrying", logger.Op("SetStatus", id))
			continue
		case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrNotFound):
			return "", err
		default:
			logger.Errorf("%s %s -> %s: %v", logger.Op("SetStatus", id), s.Status, status, err)
			return "", err
		}
	}
	return "", fmt.Errorf("%w: status of %s keeps changing", ErrTransition, id)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ExportSession renders the session and its ordered messages with string timestamps.
func (m *Moderation) ExportSession(ctx context.Context, id string) (*model.ExportDocument, error) {
	d, err := m.GetSessionDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	doc := &model.ExportDocument{
		SessionInfo: model.ExportSessionInfo{
			ID:               d.ID,
			OwnerID:          d.OwnerID,
			OwnerName:        d.OwnerProfile.DisplayName,
			OwnerEmail:       d.OwnerProfile.Email,
			AnonymousProfile: d.AnonymousProfile,
			Status:           d.Status,
			Topic:            d.Topic,
			Admins:           d.Admins,
			CreatedAt:        formatTime(d.CreatedAt),
			UpdatedAt:        formatTime(d.UpdatedAt),
		},
		Messages:   make([]model.ExportMessage, 0, len(d.Messages)),
		ExportedAt: formatTime(m.now()),
	}
	for _, msg := range d.Messages {
		em := model.ExportMessage{
			ID:         msg.ID,
			SenderID:   msg.SenderID,
			SenderRole: msg.SenderRole,
			Text:       msg.Text,
			ImageURL:   msg.ImageURL,
		}
		if msg.Timestamp != nil {
			em.Timestamp = formatTime(*msg.Timestamp)
		}
		doc.Messages = append(doc.Messages, em)
	}
	return doc, nil
}

// ComputeAnalytics scans all sessions. A failed per-session count contributes 0.
func (m *Moderation) ComputeAnalytics(ctx context.Context) (model.Analytics, error) {
	var a model.Analytics
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		logger.Errorf("%s: %v", logger.Op("ComputeAnalytics", ""), err)
		return a, err
	}
	a.TotalSessions = len(sessions)
	for i := range sessions {
		switch sessions[i].Status {
		case model.SessionStatusActive:
			a.ActiveSessions++
		case model.SessionStatusClosed:
			a.ClosedSessions++
		}
		a.TotalMessages += m.countMessages(ctx, "ComputeAnalytics", sessions[i].ID)
	}
	if a.TotalSessions > 0 {
		a.AvgMessagesPerSession = int(math.Round(float64(a.TotalMessages) / float64(a.TotalSessions)))
	}
	return a, nil
}

// RebuildLastMessage recomputes the last message mirror from the ordered messages.
func (m *Moderation) RebuildLastMessage(ctx context.Context, id string) (*model.LastMessage, error) {
	msgs, err := m.store.ListMessages(ctx, id)
	if err != nil {
		logger.Errorf("%s list: %v", logger.Op("RebuildLastMessage", id), err)
		return nil, err
	}
	var last *model.LastMessage
	if n := len(msgs); n > 0 && msgs[n-1].Timestamp != nil {
		last = &model.LastMessage{Text: preview(msgs[n-1].Text, msgs[n-1].ImageURL), Timestamp: *msgs[n-1].Timestamp}
	}
	if err := m.store.ResetLastMessage(ctx, id, last); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Errorf("%s reset: %v", logger.Op("RebuildLastMessage", id), err)
		}
		return nil, err
	}
	return last, nil
}
