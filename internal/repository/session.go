package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/storage"
)

// sessionCols is the SELECT list matching scanSession.
const sessionCols = `id, owner_id, anon_name, anon_email, anon_issue, status, admins, topic,
	created_at, updated_at, last_message_text, last_message_at`

func scanSession(s interface{ Scan(dest ...any) error }, c *model.ChatSession) error {
	var (
		anonName, anonEmail, anonIssue *string
		lastText                       *string
		lastAt                         *time.Time
	)
	if err := s.Scan(&c.ID, &c.OwnerID, &anonName, &anonEmail, &anonIssue, &c.Status, &c.Admins, &c.Topic,
		&c.CreatedAt, &c.UpdatedAt, &lastText, &lastAt); err != nil {
		return err
	}
	if anonName != nil {
		c.AnonymousProfile = &model.AnonymousProfile{Name: *anonName}
		if anonEmail != nil {
			c.AnonymousProfile.Email = *anonEmail
		}
		if anonIssue != nil {
			c.AnonymousProfile.Issue = *anonIssue
		}
	}
	if lastAt != nil {
		c.LastMessage = &model.LastMessage{Timestamp: *lastAt}
		if lastText != nil {
			c.LastMessage.Text = *lastText
		}
	}
	if c.Admins == nil {
		c.Admins = []string{}
	}
	return nil
}

// adminsArg keeps a nil roster from being written as NULL.
func adminsArg(admins []string) []string {
	if admins == nil {
		return []string{}
	}
	return admins
}

func anonArgs(p *model.AnonymousProfile) (name, email, issue *string) {
	if p == nil {
		return nil, nil, nil
	}
	return &p.Name, &p.Email, &p.Issue
}

func (r *ChatStore) GetSession(ctx context.Context, id string) (*model.ChatSession, error) {
	defer logger.DeferLogDuration("session.GetSession", time.Now())()
	c := &model.ChatSession{}
	row := r.pool.QueryRow(ctx, `SELECT `+sessionCols+` FROM chat_sessions WHERE id = $1`, id)
	if err := scanSession(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sessionRepo.GetSession: %w", err)
	}
	return c, nil
}

func (r *ChatStore) FindActiveSession(ctx context.Context, ownerID string) (*model.ChatSession, error) {
	defer logger.DeferLogDuration("session.FindActiveSession", time.Now())()
	c := &model.ChatSession{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM chat_sessions
		 WHERE owner_id = $1 AND status = 'active'
		 ORDER BY created_at
		 LIMIT 1`, ownerID)
	if err := scanSession(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sessionRepo.FindActiveSession: %w", err)
	}
	return c, nil
}

func (r *ChatStore) ListSessions(ctx context.Context) ([]model.ChatSession, error) {
	defer logger.DeferLogDuration("session.ListSessions", time.Now())()
	rows, err := r.pool.Query(ctx, `SELECT `+sessionCols+` FROM chat_sessions ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.ListSessions query: %w", err)
	}
	defer rows.Close()

	sessions := make([]model.ChatSession, 0, 32)
	for rows.Next() {
		var c model.ChatSession
		if err := scanSession(rows, &c); err != nil {
			return nil, fmt.Errorf("sessionRepo.ListSessions scan: %w", err)
		}
		sessions = append(sessions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionRepo.ListSessions rows: %w", err)
	}
	return sessions, nil
}

func (r *ChatStore) CreateSession(ctx context.Context, s *model.ChatSession) error {
	defer logger.DeferLogDuration("session.CreateSession", time.Now())()
	s.ID = uuid.New().String()
	name, email, issue := anonArgs(s.AnonymousProfile)
	err := r.pool.QueryRow(ctx,
		`INSERT INTO chat_sessions (id, owner_id, anon_name, anon_email, anon_issue, status, admins, topic)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		s.ID, s.OwnerID, name, email, issue, s.Status, adminsArg(s.Admins), s.Topic,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("sessionRepo.CreateSession: %w", err)
	}
	return nil
}

// CreateActiveSession relies on chat_sessions_one_active_per_owner: the insert is skipped
// when another active session exists and that session's id is returned instead.
func (r *ChatStore) CreateActiveSession(ctx context.Context, s *model.ChatSession) (string, bool, error) {
	defer logger.DeferLogDuration("session.CreateActiveSession", time.Now())()
	s.Status = model.SessionStatusActive
	name, email, issue := anonArgs(s.AnonymousProfile)
	// A concurrent close between the skipped insert and the lookup can leave no winner; retry then.
	for attempt := 0; attempt < 3; attempt++ {
		id := uuid.New().String()
		err := r.pool.QueryRow(ctx,
			`INSERT INTO chat_sessions (id, owner_id, anon_name, anon_email, anon_issue, status, admins, topic)
			 VALUES ($1, $2, $3, $4, $5, 'active', $6, $7)
			 ON CONFLICT (owner_id) WHERE status = 'active' AND owner_id <> 'anonymous' DO NOTHING
			 RETURNING created_at, updated_at`,
			id, s.OwnerID, name, email, issue, adminsArg(s.Admins), s.Topic,
		).Scan(&s.CreatedAt, &s.UpdatedAt)
		if err == nil {
			s.ID = id
			return id, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", false, fmt.Errorf("sessionRepo.CreateActiveSession: %w", err)
		}
		existing, err := r.FindActiveSession(ctx, s.OwnerID)
		if err == nil {
			return existing.ID, false, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return "", false, err
		}
	}
	return "", false, fmt.Errorf("sessionRepo.CreateActiveSession: owner=%s: %w", s.OwnerID, storage.ErrConflict)
}

func (r *ChatStore) UpdateStatus(ctx context.Context, id string, from, status model.SessionStatus) error {
	defer logger.DeferLogDuration("session.UpdateStatus", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_sessions SET status = $3, updated_at = clock_timestamp() WHERE id = $1 AND status = $2`,
		id, from, status,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("sessionRepo.UpdateStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if err := r.ensureSession(ctx, id); err != nil {
			return err
		}
		return storage.ErrStale
	}
	return nil
}

func (r *ChatStore) ProjectLastMessage(ctx context.Context, sessionID string, last model.LastMessage) error {
	defer logger.DeferLogDuration("session.ProjectLastMessage", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_sessions
		 SET last_message_text = $2, last_message_at = $3, updated_at = GREATEST(updated_at, $3)
		 WHERE id = $1 AND (last_message_at IS NULL OR last_message_at <= $3)`,
		sessionID, last.Text, last.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.ProjectLastMessage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.ensureSession(ctx, sessionID)
	}
	return nil
}

func (r *ChatStore) ResetLastMessage(ctx context.Context, sessionID string, last *model.LastMessage) error {
	defer logger.DeferLogDuration("session.ResetLastMessage", time.Now())()
	var (
		text *string
		at   *time.Time
	)
	if last != nil {
		text, at = &last.Text, &last.Timestamp
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_sessions SET last_message_text = $2, last_message_at = $3 WHERE id = $1`,
		sessionID, text, at,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.ResetLastMessage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ensureSession returns ErrNotFound if the session does not exist.
func (r *ChatStore) ensureSession(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM chat_sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("sessionRepo.ensureSession: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return nil
}
