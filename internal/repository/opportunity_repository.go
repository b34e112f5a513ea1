package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/insumed-ar/ventas-api/internal/models"
)

const opportunityColumns = `id, client_id, titulo, descripcion, valor_estimado, probabilidad, estado,
       fecha_cierre_estimada, notas, producto_id, tipo_producto, created_by, created_at, updated_at`

const transitionColumns = `id, oportunidad_id, estado_anterior, estado_nuevo, comentario, changed_by, created_at`

// OpportunityRepository persists opportunities and their transition history.
type OpportunityRepository struct {
	db *sqlx.DB
}

// NewOpportunityRepository constructs the repository.
func NewOpportunityRepository(db *sqlx.DB) *OpportunityRepository {
	return &OpportunityRepository{db: db}
}

// Create inserts the opportunity and its initial transition record in one
// transaction: an opportunity is never visible without its creation entry.
func (r *OpportunityRepository) Create(ctx context.Context, opp *models.Opportunity, initial *models.TransitionRecord) error {
	if opp.ID == "" {
		opp.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if opp.CreatedAt.IsZero() {
		opp.CreatedAt = now
	}
	opp.UpdatedAt = opp.CreatedAt

	initial.OpportunityID = opp.ID
	if initial.ID == "" {
		initial.ID = uuid.NewString()
	}
	if initial.CreatedAt.IsZero() {
		initial.CreatedAt = opp.CreatedAt
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create opportunity: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertOpp = `INSERT INTO oportunidades
	(id, client_id, titulo, descripcion, valor_estimado, probabilidad, estado, fecha_cierre_estimada, notas, producto_id, tipo_producto, created_by, created_at, updated_at)
	VALUES (:id, :client_id, :titulo, :descripcion, :valor_estimado, :probabilidad, :estado, :fecha_cierre_estimada, :notas, :producto_id, :tipo_producto, :created_by, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertOpp, opp); err != nil {
		return fmt.Errorf("insert opportunity: %w", err)
	}

	const insertHist = `INSERT INTO oportunidad_historial
	(id, oportunidad_id, estado_anterior, estado_nuevo, comentario, changed_by, created_at)
	VALUES (:id, :oportunidad_id, :estado_anterior, :estado_nuevo, :comentario, :changed_by, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insertHist, initial); err != nil {
		return fmt.Errorf("insert initial transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create opportunity: %w", err)
	}
	return nil
}

// GetByID fetches an opportunity by identifier.
func (r *OpportunityRepository) GetByID(ctx context.Context, id string) (*models.Opportunity, error) {
	query := fmt.Sprintf(`SELECT %s FROM oportunidades WHERE id = $1`, opportunityColumns)
	var opp models.Opportunity
	if err := r.db.GetContext(ctx, &opp, query, id); err != nil {
		return nil, err
	}
	return &opp, nil
}

// List returns opportunities matching the filter, newest first, with the
// total count for pagination.
func (r *OpportunityRepository) List(ctx context.Context, filter models.OpportunityFilter) ([]models.Opportunity, int, error) {
	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 3)
	if filter.Estado != "" {
		args = append(args, filter.Estado)
		conditions = append(conditions, fmt.Sprintf("estado = $%d", len(args)))
	}
	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		conditions = append(conditions, fmt.Sprintf("created_by = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM oportunidades" + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count opportunities: %w", err)
	}

	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	query := fmt.Sprintf("SELECT %s FROM oportunidades%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		opportunityColumns, where, pageSize, (page-1)*pageSize)

	var opportunities []models.Opportunity
	if err := r.db.SelectContext(ctx, &opportunities, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list opportunities: %w", err)
	}
	return opportunities, total, nil
}

// UpdateOpportunityParams groups the patchable columns. created_by, estado
// and client_id are intentionally absent.
type UpdateOpportunityParams struct {
	Titulo              *string
	Descripcion         *string
	ValorEstimado       *float64
	Probabilidad        *int
	FechaCierreEstimada *time.Time
	Notas               *string
	ProductoID          *string
	TipoProducto        *string
	ClearProduct        bool
}

// UpdateFields patches the provided columns.
func (r *OpportunityRepository) UpdateFields(ctx context.Context, id string, params UpdateOpportunityParams) error {
	setParts := []string{"updated_at = :updated_at"}
	values := map[string]interface{}{
		"id":         id,
		"updated_at": time.Now().UTC(),
	}
	if params.Titulo != nil {
		setParts = append(setParts, "titulo = :titulo")
		values["titulo"] = *params.Titulo
	}
	if params.Descripcion != nil {
		setParts = append(setParts, "descripcion = :descripcion")
		values["descripcion"] = *params.Descripcion
	}
	if params.ValorEstimado != nil {
		setParts = append(setParts, "valor_estimado = :valor_estimado")
		values["valor_estimado"] = *params.ValorEstimado
	}
	if params.Probabilidad != nil {
		setParts = append(setParts, "probabilidad = :probabilidad")
		values["probabilidad"] = *params.Probabilidad
	}
	if params.FechaCierreEstimada != nil {
		setParts = append(setParts, "fecha_cierre_estimada = :fecha_cierre_estimada")
		values["fecha_cierre_estimada"] = *params.FechaCierreEstimada
	}
	if params.Notas != nil {
		setParts = append(setParts, "notas = :notas")
		values["notas"] = *params.Notas
	}
	if params.ClearProduct || params.ProductoID != nil || params.TipoProducto != nil {
		setParts = append(setParts, "producto_id = :producto_id", "tipo_producto = :tipo_producto")
		values["producto_id"] = params.ProductoID
		values["tipo_producto"] = params.TipoProducto
	}

	query := fmt.Sprintf("UPDATE oportunidades SET %s WHERE id = :id", strings.Join(setParts, ", "))
	result, err := r.db.NamedExecContext(ctx, query, values)
	if err != nil {
		return fmt.Errorf("update opportunity: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check opportunity update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateState moves the opportunity to a new state only when the current
// state still matches the expected one, so a concurrent transition cannot
// be silently overwritten.
func (r *OpportunityRepository) UpdateState(ctx context.Context, id string, from, to models.OpportunityState) error {
	const query = `UPDATE oportunidades SET estado = $3, updated_at = $4 WHERE id = $1 AND estado = $2`
	result, err := r.db.ExecContext(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update opportunity state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check state update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// InsertTransition appends one history row.
func (r *OpportunityRepository) InsertTransition(ctx context.Context, record *models.TransitionRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO oportunidad_historial
	(id, oportunidad_id, estado_anterior, estado_nuevo, comentario, changed_by, created_at)
	VALUES (:id, :oportunidad_id, :estado_anterior, :estado_nuevo, :comentario, :changed_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// ListHistory returns every transition of an opportunity ordered by
// timestamp ascending (chronological narrative).
func (r *OpportunityRepository) ListHistory(ctx context.Context, opportunityID string) ([]models.TransitionRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM oportunidad_historial WHERE oportunidad_id = $1 ORDER BY created_at ASC`, transitionColumns)
	var records []models.TransitionRecord
	if err := r.db.SelectContext(ctx, &records, query, opportunityID); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return records, nil
}

// LatestTransition returns the most recent history row, or sql.ErrNoRows.
func (r *OpportunityRepository) LatestTransition(ctx context.Context, opportunityID string) (*models.TransitionRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM oportunidad_historial WHERE oportunidad_id = $1 ORDER BY created_at DESC LIMIT 1`, transitionColumns)
	var record models.TransitionRecord
	if err := r.db.GetContext(ctx, &record, query, opportunityID); err != nil {
		return nil, err
	}
	return &record, nil
}

// Delete removes the opportunity and cascades to its history rows. It
// reports whether a row was actually deleted so callers can keep the
// operation idempotent.
func (r *OpportunityRepository) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete opportunity: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM oportunidad_historial WHERE oportunidad_id = $1`, id); err != nil {
		return false, fmt.Errorf("delete history: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM oportunidades WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete opportunity: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check delete rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete opportunity: %w", err)
	}
	return rows > 0, nil
}
