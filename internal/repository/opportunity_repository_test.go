package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/insumed-ar/ventas-api/internal/models"
)

func newOpportunityRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestOpportunityRepositoryCreateIsTransactional(t *testing.T) {
	db, mock, cleanup := newOpportunityRepoMock(t)
	defer cleanup()

	repo := NewOpportunityRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO oportunidades")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO oportunidad_historial")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	opp := &models.Opportunity{
		ClientID:    "client-1",
		Titulo:      "Autoclave",
		Descripcion: "Equipo nuevo",
		Estado:      models.StateNueva,
		CreatedBy:   "seller-1",
	}
	initial := &models.TransitionRecord{ToState: models.StateNueva, ChangedBy: "seller-1"}

	require.NoError(t, repo.Create(context.Background(), opp, initial))
	require.NotEmpty(t, opp.ID)
	require.Equal(t, opp.ID, initial.OpportunityID)
	require.Equal(t, opp.CreatedAt, initial.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpportunityRepositoryCreateRollsBackOnHistoryFailure(t *testing.T) {
	db, mock, cleanup := newOpportunityRepoMock(t)
	defer cleanup()

	repo := NewOpportunityRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO oportunidades")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO oportunidad_historial")).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	opp := &models.Opportunity{ClientID: "client-1", Titulo: "x", Descripcion: "y", Estado: models.StateNueva, CreatedBy: "seller-1"}
	initial := &models.TransitionRecord{ToState: models.StateNueva, ChangedBy: "seller-1"}

	require.Error(t, repo.Create(context.Background(), opp, initial))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpportunityRepositoryUpdateStateIsConditional(t *testing.T) {
	db, mock, cleanup := newOpportunityRepoMock(t)
	defer cleanup()

	repo := NewOpportunityRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE oportunidades SET estado = $3, updated_at = $4 WHERE id = $1 AND estado = $2")).
		WithArgs("opp-1", models.StateNueva, models.StateGanada, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateState(context.Background(), "opp-1", models.StateNueva, models.StateGanada))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE oportunidades SET estado = $3")).
		WithArgs("opp-1", models.StateNueva, models.StateGanada, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateState(context.Background(), "opp-1", models.StateNueva, models.StateGanada)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpportunityRepositoryUpdateFieldsMissingRow(t *testing.T) {
	db, mock, cleanup := newOpportunityRepoMock(t)
	defer cleanup()

	repo := NewOpportunityRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE oportunidades SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	titulo := "Nuevo título"
	err := repo.UpdateFields(context.Background(), "ghost", UpdateOpportunityParams{Titulo: &titulo})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpportunityRepositoryListHistoryChronological(t *testing.T) {
	db, mock, cleanup := newOpportunityRepoMock(t)
	defer cleanup()

	repo := NewOpportunityRepository(db)

	nueva := string(models.StateNueva)
	rows := sqlmock.NewRows([]string{"id", "oportunidad_id", "estado_anterior", "estado_nuevo", "comentario", "changed_by", "created_at"}).
		AddRow("h-1", "opp-1", nil, "nueva", nil, "seller-1", time.Now().Add(-time.Hour)).
		AddRow("h-2", "opp-1", nueva, "en_seguimiento", "avanzó", "seller-1", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM oportunidad_historial WHERE oportunidad_id = $1 ORDER BY created_at ASC")).
		WithArgs("opp-1").
		WillReturnRows(rows)

	history, err := repo.ListHistory(context.Background(), "opp-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Nil(t, history[0].FromState)
	require.Equal(t, models.StateEnSeguimiento, history[1].ToState)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpportunityRepositoryDeleteCascadesHistory(t *testing.T) {
	db, mock, cleanup := newOpportunityRepoMock(t)
	defer cleanup()

	repo := NewOpportunityRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM oportunidad_historial WHERE oportunidad_id = $1")).
		WithArgs("opp-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM oportunidades WHERE id = $1")).
		WithArgs("opp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	deleted, err := repo.Delete(context.Background(), "opp-1")
	require.NoError(t, err)
	require.True(t, deleted)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM oportunidad_historial WHERE oportunidad_id = $1")).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM oportunidades WHERE id = $1")).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	deleted, err = repo.Delete(context.Background(), "ghost")
	require.NoError(t, err)
	require.False(t, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpportunityRepositoryListAppliesFilters(t *testing.T) {
	db, mock, cleanup := newOpportunityRepoMock(t)
	defer cleanup()

	repo := NewOpportunityRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM oportunidades WHERE estado = $1 AND created_by = $2")).
		WithArgs(models.StateNueva, "seller-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows := sqlmock.NewRows([]string{"id", "client_id", "titulo", "descripcion", "valor_estimado", "probabilidad", "estado", "fecha_cierre_estimada", "notas", "producto_id", "tipo_producto", "created_by", "created_at", "updated_at"}).
		AddRow("opp-1", "client-1", "Autoclave", "Equipo nuevo", nil, 50, "nueva", nil, nil, nil, nil, "seller-1", time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM oportunidades WHERE estado = $1 AND created_by = $2 ORDER BY created_at DESC")).
		WithArgs(models.StateNueva, "seller-1").
		WillReturnRows(rows)

	list, total, err := repo.List(context.Background(), models.OpportunityFilter{
		Estado:    models.StateNueva,
		CreatedBy: "seller-1",
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, list, 1)
	require.Equal(t, "seller-1", list[0].CreatedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}
