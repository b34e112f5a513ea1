package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/insumed-ar/ventas-api/internal/models"
)

// ClientRepository provides read-only client lookups for the engine.
type ClientRepository struct {
	db *sqlx.DB
}

// NewClientRepository constructs the repository.
func NewClientRepository(db *sqlx.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Exists reports whether a client row exists.
func (r *ClientRepository) Exists(ctx context.Context, id string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("check client exists: %w", err)
	}
	return exists, nil
}

// GetRef returns the display reference for one client.
func (r *ClientRepository) GetRef(ctx context.Context, id string) (*models.ClientRef, error) {
	const query = `SELECT id, razon_social, nombre_establecimiento FROM clients WHERE id = $1`
	var ref models.ClientRef
	if err := r.db.GetContext(ctx, &ref, query, id); err != nil {
		return nil, err
	}
	return &ref, nil
}

// RefsByIDs resolves display references for a batch of client ids.
func (r *ClientRepository) RefsByIDs(ctx context.Context, ids []string) (map[string]models.ClientRef, error) {
	if len(ids) == 0 {
		return map[string]models.ClientRef{}, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, razon_social, nombre_establecimiento FROM clients WHERE id IN (%s)`,
		strings.Join(placeholders, ","))

	var refs []models.ClientRef
	if err := r.db.SelectContext(ctx, &refs, query, args...); err != nil {
		return nil, fmt.Errorf("resolve client refs: %w", err)
	}
	result := make(map[string]models.ClientRef, len(refs))
	for _, ref := range refs {
		result[ref.ID] = ref
	}
	return result, nil
}
