package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/insumed-ar/ventas-api/internal/models"
	appErrors "github.com/insumed-ar/ventas-api/pkg/errors"
)

func TestAuthorizationGuardAnonymousCaller(t *testing.T) {
	guard := NewAuthorizationGuard(&userDirStub{users: defaultUsers()})
	err := guard.Authorize(context.Background(), "", models.RoleAdmin, OperationRead, "seller-1")
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestAuthorizationGuardCreateIsOpenToAnyUser(t *testing.T) {
	guard := NewAuthorizationGuard(&userDirStub{users: defaultUsers()})
	require.NoError(t, guard.Authorize(context.Background(), "seller-1", models.RoleUser, OperationCreate, ""))
}

func TestAuthorizationGuardOwnerAndAdmin(t *testing.T) {
	guard := NewAuthorizationGuard(&userDirStub{users: defaultUsers()})
	ctx := context.Background()

	require.NoError(t, guard.Authorize(ctx, "seller-1", models.RoleUser, OperationUpdate, "seller-1"))
	require.NoError(t, guard.Authorize(ctx, "admin-1", models.RoleAdmin, OperationDelete, "seller-1"))

	err := guard.Authorize(ctx, "seller-2", models.RoleUser, OperationUpdate, "seller-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestAuthorizationGuardIgnoresClaimedRole(t *testing.T) {
	users := defaultUsers()
	guard := NewAuthorizationGuard(&userDirStub{users: users})
	ctx := context.Background()

	// Claimed admin, stored regular user: denied on foreign records.
	err := guard.Authorize(ctx, "seller-1", models.RoleAdmin, OperationRead, "seller-2")
	require.Error(t, err)

	// Claimed regular user, stored admin: allowed everywhere.
	require.NoError(t, guard.Authorize(ctx, "admin-1", models.RoleUser, OperationRead, "seller-2"))
}

func TestAuthorizationGuardUnknownOrInactiveCaller(t *testing.T) {
	users := defaultUsers()
	users["seller-1"].Active = false
	guard := NewAuthorizationGuard(&userDirStub{users: users})
	ctx := context.Background()

	err := guard.Authorize(ctx, "seller-1", models.RoleUser, OperationRead, "seller-1")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	err = guard.Authorize(ctx, "nobody", models.RoleUser, OperationRead, "nobody")
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
