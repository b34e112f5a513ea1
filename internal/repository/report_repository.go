package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/insumed-ar/ventas-api/internal/models"
)

// ReportRepository runs aggregate queries for reporting.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository creates a new instance of ReportRepository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// PipelineBreakdown aggregates open and closed opportunities per state.
func (r *ReportRepository) PipelineBreakdown(ctx context.Context) ([]models.PipelineRow, error) {
	const query = `SELECT estado,
		COUNT(*) AS cantidad,
		COALESCE(SUM(valor_estimado), 0) AS valor_estimado,
		COALESCE(AVG(probabilidad), 0) AS probabilidad_prom
	FROM oportunidades
	GROUP BY estado
	ORDER BY estado`
	rows := []models.PipelineRow{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("pipeline breakdown: %w", err)
	}
	return rows, nil
}
