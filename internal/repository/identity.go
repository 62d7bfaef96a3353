package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/storage"
)

// IdentityRepository reads the profile and role tables kept in sync with the identity service.
type IdentityRepository struct {
	pool *pgxpool.Pool
}

func NewIdentityRepository(pool *pgxpool.Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

func (r *IdentityRepository) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	defer logger.DeferLogDuration("identity.GetProfile", time.Now())()
	p := &model.Profile{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, display_name, email, avatar_url FROM profiles WHERE id = $1`, userID,
	).Scan(&p.ID, &p.DisplayName, &p.Email, &p.AvatarURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("identityRepo.GetProfile: %w", err)
	}
	return p, nil
}

// ListPrincipalsWithRole returns user ids holding role, sorted.
func (r *IdentityRepository) ListPrincipalsWithRole(ctx context.Context, role string) ([]string, error) {
	defer logger.DeferLogDuration("identity.ListPrincipalsWithRole", time.Now())()
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_roles WHERE role = $1 ORDER BY user_id`, role)
	if err != nil {
		return nil, fmt.Errorf("identityRepo.ListPrincipalsWithRole query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("identityRepo.ListPrincipalsWithRole scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identityRepo.ListPrincipalsWithRole rows: %w", err)
	}
	return ids, nil
}

// SyncPrincipal upserts the profile of a validated principal and replaces its role row.
func (r *IdentityRepository) SyncPrincipal(ctx context.Context, p model.Principal) error {
	defer logger.DeferLogDuration("identity.SyncPrincipal", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("identityRepo.SyncPrincipal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO profiles (id, display_name, email) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, email = EXCLUDED.email`,
		p.ID, p.DisplayName, p.Email,
	); err != nil {
		return fmt.Errorf("identityRepo.SyncPrincipal profile: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, p.ID); err != nil {
		return fmt.Errorf("identityRepo.SyncPrincipal roles: %w", err)
	}
	if p.Role != "" {
		if _, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role) VALUES ($1, $2)`, p.ID, p.Role); err != nil {
			return fmt.Errorf("identityRepo.SyncPrincipal role: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("identityRepo.SyncPrincipal commit: %w", err)
	}
	return nil
}
