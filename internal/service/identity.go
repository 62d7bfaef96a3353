package service

import (
	"context"

	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

// Roster lists principal ids by role.
type Roster interface {
	ListPrincipalsWithRole(ctx context.Context, role string) ([]string, error)
}

// Profiles resolves an owner id to its profile.
type Profiles interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
}

// snapshotAdmins reads the admin roster. An unreachable roster yields an empty set:
// the visitor can still leave messages for later pickup.
func snapshotAdmins(ctx context.Context, roster Roster, op string) []string {
	if roster == nil {
		return []string{}
	}
	ids, err := roster.ListPrincipalsWithRole(ctx, model.RoleAdmin)
	if err != nil {
		logger.Warnf("%s roster unavailable, creating with empty admins: %v", logger.Op(op, ""), err)
		return []string{}
	}
	if ids == nil {
		return []string{}
	}
	return ids
}
