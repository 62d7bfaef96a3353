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

func (r *ChatStore) InsertPendingMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.InsertPendingMessage", time.Now())()
	m.ID = uuid.New().String()
	m.State = model.MessageStatePending
	m.Timestamp = nil
	err := r.pool.QueryRow(ctx,
		`INSERT INTO chat_messages (id, session_id, sender_id, sender_role, text, image_url, state)
		 SELECT $1, s.id, $3, $4, $5, $6, 'pending'
		 FROM chat_sessions s WHERE s.id = $2
		 RETURNING seq`,
		m.ID, m.SessionID, m.SenderID, m.SenderRole, m.Text, m.ImageURL,
	).Scan(&m.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("msgRepo.InsertPendingMessage: %w", err)
	}
	return nil
}

// StampMessage is idempotent: an already ordered message keeps its timestamp.
func (r *ChatStore) StampMessage(ctx context.Context, sessionID, messageID string) (time.Time, error) {
	defer logger.DeferLogDuration("msg.StampMessage", time.Now())()
	var ts time.Time
	err := r.pool.QueryRow(ctx,
		`UPDATE chat_messages
		 SET ts = COALESCE(ts, clock_timestamp()), state = 'ordered'
		 WHERE id = $1 AND session_id = $2
		 RETURNING ts`,
		messageID, sessionID,
	).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, storage.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("msgRepo.StampMessage: %w", err)
	}
	return ts, nil
}

func (r *ChatStore) ListMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListMessages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, sender_id, sender_role, text, image_url, state, ts, seq
		 FROM chat_messages
		 WHERE session_id = $1 AND state = 'ordered'
		 ORDER BY ts, seq`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListMessages query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 32)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.SenderRole, &m.Text, &m.ImageURL, &m.State, &m.Timestamp, &m.Seq); err != nil {
			return nil, fmt.Errorf("msgRepo.ListMessages scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListMessages rows: %w", err)
	}
	return messages, nil
}

func (r *ChatStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	defer logger.DeferLogDuration("msg.CountMessages", time.Now())()
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE session_id = $1 AND state = 'ordered'`, sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.CountMessages: %w", err)
	}
	return n, nil
}
