package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/insumed-ar/ventas-api/internal/models"
)

// ProductRepository provides read-only catalog lookups for the engine.
type ProductRepository struct {
	db *sqlx.DB
}

// NewProductRepository constructs the repository.
func NewProductRepository(db *sqlx.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Exists reports whether a catalog product exists.
func (r *ProductRepository) Exists(ctx context.Context, id string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM productos WHERE id = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("check product exists: %w", err)
	}
	return exists, nil
}

// GetByID fetches a catalog product.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*models.Product, error) {
	const query = `SELECT id, nombre_equipo, marca, modelo, rubro, created_at FROM productos WHERE id = $1`
	var product models.Product
	if err := r.db.GetContext(ctx, &product, query, id); err != nil {
		return nil, err
	}
	return &product, nil
}
