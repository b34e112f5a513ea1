package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/insumed-ar/ventas-api/internal/models"
	appErrors "github.com/insumed-ar/ventas-api/pkg/errors"
)

type authRepoStub struct {
	users  map[string]*models.User
	tokens map[string]*models.RefreshToken
}

func newAuthRepoStub() *authRepoStub {
	return &authRepoStub{
		users:  make(map[string]*models.User),
		tokens: make(map[string]*models.RefreshToken),
	}
}

func (r *authRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range r.users {
		if user.Email == email {
			copy := *user
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *authRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *user
	return &copy, nil
}

func (r *authRepoStub) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if user, ok := r.users[id]; ok {
		user.LastLogin = &ts
	}
	return nil
}

func (r *authRepoStub) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	stored := *token
	r.tokens[token.Token] = &stored
	return nil
}

func (r *authRepoStub) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	stored, ok := r.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *stored
	return &copy, nil
}

func (r *authRepoStub) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range r.tokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (r *authRepoStub) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	for _, token := range r.tokens {
		if token.UserID == userID && !token.Revoked {
			token.Revoked = true
			token.RevokedAt = &now
		}
	}
	return nil
}

func newAuthTestService(repo *authRepoStub) *AuthService {
	return NewAuthService(repo, nil, nil, AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "ventas-api",
	})
}

func seedUser(repo *authRepoStub, id, email, password string, role models.UserRole) {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	repo.users[id] = &models.User{
		ID:           id,
		Email:        email,
		PasswordHash: string(hash),
		FullName:     "Test User",
		Role:         role,
		Active:       true,
	}
}

func TestAuthServiceLoginIssuesValidTokens(t *testing.T) {
	repo := newAuthRepoStub()
	seedUser(repo, "user-1", "vendedor@insumed.test", "secreto123", models.RoleUser)
	svc := newAuthTestService(repo)

	res, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "vendedor@insumed.test",
		Password: "secreto123",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)
	require.Equal(t, models.RoleUser, res.User.Role)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, models.RoleUser, claims.Role)
}

func TestAuthServiceLoginRejectsBadCredentials(t *testing.T) {
	repo := newAuthRepoStub()
	seedUser(repo, "user-1", "vendedor@insumed.test", "secreto123", models.RoleUser)
	svc := newAuthTestService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "vendedor@insumed.test",
		Password: "incorrecta",
	})
	requireErrorCode(t, err, appErrors.ErrInvalidCredentials.Code)

	_, err = svc.Login(context.Background(), models.LoginRequest{
		Email:    "nadie@insumed.test",
		Password: "secreto123",
	})
	requireErrorCode(t, err, appErrors.ErrInvalidCredentials.Code)
}

func TestAuthServiceLoginRejectsInactiveAccount(t *testing.T) {
	repo := newAuthRepoStub()
	seedUser(repo, "user-1", "vendedor@insumed.test", "secreto123", models.RoleUser)
	repo.users["user-1"].Active = false
	svc := newAuthTestService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "vendedor@insumed.test",
		Password: "secreto123",
	})
	requireErrorCode(t, err, appErrors.ErrInactiveAccount.Code)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	repo := newAuthRepoStub()
	seedUser(repo, "user-1", "vendedor@insumed.test", "secreto123", models.RoleUser)
	svc := newAuthTestService(repo)

	login, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "vendedor@insumed.test",
		Password: "secreto123",
	})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	require.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	// The used token is revoked and cannot be replayed.
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	requireErrorCode(t, err, appErrors.ErrUnauthorized.Code)
}

func TestAuthServiceValidateTokenRejectsTampering(t *testing.T) {
	repo := newAuthRepoStub()
	seedUser(repo, "user-1", "vendedor@insumed.test", "secreto123", models.RoleUser)
	svc := newAuthTestService(repo)

	login, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "vendedor@insumed.test",
		Password: "secreto123",
	})
	require.NoError(t, err)

	_, err = svc.ValidateToken(login.AccessToken + "x")
	requireErrorCode(t, err, appErrors.ErrUnauthorized.Code)

	other := NewAuthService(repo, nil, nil, AuthConfig{
		AccessTokenSecret: "different-secret",
		AccessTokenExpiry: time.Minute,
	})
	_, err = other.ValidateToken(login.AccessToken)
	requireErrorCode(t, err, appErrors.ErrUnauthorized.Code)
}
