package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/insumed-ar/ventas-api/internal/models"
	appErrors "github.com/insumed-ar/ventas-api/pkg/errors"
)

// Operation names an action gated by the authorization guard.
type Operation string

const (
	OperationRead   Operation = "read"
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

type roleDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// AuthorizationGuard decides, per call, whether a caller may act on an
// opportunity. It is a pure decision over current data: the caller's role
// is re-read from the user directory on every check rather than trusted
// from the token, and nothing is cached between operations.
type AuthorizationGuard struct {
	users roleDirectory
}

// NewAuthorizationGuard constructs the guard. The directory may be nil in
// tests, in which case the claimed role is used as-is.
func NewAuthorizationGuard(users roleDirectory) *AuthorizationGuard {
	return &AuthorizationGuard{users: users}
}

// Authorize returns nil when the caller may perform op on a record owned
// by ownerID. Denials are generic: they never reveal whether the record
// exists or who owns it.
func (g *AuthorizationGuard) Authorize(ctx context.Context, callerID string, claimedRole models.UserRole, op Operation, ownerID string) error {
	if callerID == "" {
		return appErrors.ErrUnauthorized
	}

	role := claimedRole
	if g.users != nil {
		user, err := g.users.FindByID(ctx, callerID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.ErrUnauthorized
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve caller role")
		}
		if !user.Active {
			return appErrors.Clone(appErrors.ErrForbidden, "account is inactive")
		}
		role = user.Role
	}

	if op == OperationCreate {
		return nil
	}
	if role == models.RoleAdmin {
		return nil
	}
	if ownerID != "" && ownerID == callerID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "not authorized")
}
