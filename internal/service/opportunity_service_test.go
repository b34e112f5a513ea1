package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/insumed-ar/ventas-api/internal/dto"
	"github.com/insumed-ar/ventas-api/internal/models"
	"github.com/insumed-ar/ventas-api/internal/repository"
	appErrors "github.com/insumed-ar/ventas-api/pkg/errors"
	"github.com/insumed-ar/ventas-api/pkg/jobs"
)

type oppStoreStub struct {
	opportunities map[string]*models.Opportunity
	history       map[string][]models.TransitionRecord
	clock         int

	failInsertTransition bool
	dropOnUpdateState    bool
	conflictOnUpdate     bool
}

func newOppStoreStub() *oppStoreStub {
	return &oppStoreStub{
		opportunities: make(map[string]*models.Opportunity),
		history:       make(map[string][]models.TransitionRecord),
	}
}

func (s *oppStoreStub) tick() time.Time {
	s.clock++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.clock) * time.Second)
}

func (s *oppStoreStub) Create(ctx context.Context, opp *models.Opportunity, initial *models.TransitionRecord) error {
	if opp.ID == "" {
		opp.ID = uuid.NewString()
	}
	now := s.tick()
	if opp.CreatedAt.IsZero() {
		opp.CreatedAt = now
	}
	opp.UpdatedAt = opp.CreatedAt
	stored := *opp
	s.opportunities[opp.ID] = &stored

	initial.ID = uuid.NewString()
	initial.OpportunityID = opp.ID
	initial.CreatedAt = opp.CreatedAt
	s.history[opp.ID] = append(s.history[opp.ID], *initial)
	return nil
}

func (s *oppStoreStub) GetByID(ctx context.Context, id string) (*models.Opportunity, error) {
	opp, ok := s.opportunities[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *opp
	return &copy, nil
}

func (s *oppStoreStub) List(ctx context.Context, filter models.OpportunityFilter) ([]models.Opportunity, int, error) {
	var result []models.Opportunity
	for _, opp := range s.opportunities {
		if filter.CreatedBy != "" && opp.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.Estado != "" && opp.Estado != filter.Estado {
			continue
		}
		if filter.ClientID != "" && opp.ClientID != filter.ClientID {
			continue
		}
		result = append(result, *opp)
	}
	return result, len(result), nil
}

func (s *oppStoreStub) UpdateFields(ctx context.Context, id string, params repository.UpdateOpportunityParams) error {
	opp, ok := s.opportunities[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Titulo != nil {
		opp.Titulo = *params.Titulo
	}
	if params.Descripcion != nil {
		opp.Descripcion = *params.Descripcion
	}
	if params.ValorEstimado != nil {
		opp.ValorEstimado = params.ValorEstimado
	}
	if params.Probabilidad != nil {
		opp.Probabilidad = *params.Probabilidad
	}
	if params.FechaCierreEstimada != nil {
		opp.FechaCierreEstimada = params.FechaCierreEstimada
	}
	if params.Notas != nil {
		opp.Notas = params.Notas
	}
	if params.ClearProduct {
		opp.ProductoID = params.ProductoID
		opp.TipoProducto = params.TipoProducto
	}
	opp.UpdatedAt = s.tick()
	return nil
}

func (s *oppStoreStub) UpdateState(ctx context.Context, id string, from, to models.OpportunityState) error {
	if s.dropOnUpdateState {
		delete(s.opportunities, id)
		return sql.ErrNoRows
	}
	if s.conflictOnUpdate {
		return sql.ErrNoRows
	}
	opp, ok := s.opportunities[id]
	if !ok || opp.Estado != from {
		return sql.ErrNoRows
	}
	opp.Estado = to
	opp.UpdatedAt = s.tick()
	return nil
}

func (s *oppStoreStub) InsertTransition(ctx context.Context, record *models.TransitionRecord) error {
	if s.failInsertTransition {
		return errors.New("history table unavailable")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.tick()
	}
	s.history[record.OpportunityID] = append(s.history[record.OpportunityID], *record)
	return nil
}

func (s *oppStoreStub) ListHistory(ctx context.Context, opportunityID string) ([]models.TransitionRecord, error) {
	records := s.history[opportunityID]
	out := make([]models.TransitionRecord, len(records))
	copy(out, records)
	return out, nil
}

func (s *oppStoreStub) LatestTransition(ctx context.Context, opportunityID string) (*models.TransitionRecord, error) {
	records := s.history[opportunityID]
	if len(records) == 0 {
		return nil, sql.ErrNoRows
	}
	latest := records[len(records)-1]
	return &latest, nil
}

func (s *oppStoreStub) Delete(ctx context.Context, id string) (bool, error) {
	if _, ok := s.opportunities[id]; !ok {
		return false, nil
	}
	delete(s.opportunities, id)
	delete(s.history, id)
	return true, nil
}

type userDirStub struct {
	users map[string]*models.User
}

func (d *userDirStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := d.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *user
	return &copy, nil
}

type clientDirStub struct{}

func (c *clientDirStub) GetRef(ctx context.Context, id string) (*models.ClientRef, error) {
	name := "Cliente " + id
	return &models.ClientRef{ID: id, RazonSocial: &name}, nil
}

func (c *clientDirStub) RefsByIDs(ctx context.Context, ids []string) (map[string]models.ClientRef, error) {
	refs := make(map[string]models.ClientRef, len(ids))
	for _, id := range ids {
		name := "Cliente " + id
		refs[id] = models.ClientRef{ID: id, RazonSocial: &name}
	}
	return refs, nil
}

type productCatalogStub struct{}

func (p *productCatalogStub) GetByID(ctx context.Context, id string) (*models.Product, error) {
	return &models.Product{ID: id, NombreEquipo: "Equipo"}, nil
}

type queueStub struct {
	jobs []jobs.Job
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func activeUser(id string, role models.UserRole) *models.User {
	return &models.User{ID: id, Email: id + "@insumed.test", Role: role, Active: true}
}

func newTestService(store *oppStoreStub, users map[string]*models.User) *OpportunityService {
	guard := NewAuthorizationGuard(&userDirStub{users: users})
	return NewOpportunityService(store, &clientDirStub{}, &productCatalogStub{}, guard, nil)
}

func defaultUsers() map[string]*models.User {
	return map[string]*models.User{
		"seller-1": activeUser("seller-1", models.RoleUser),
		"seller-2": activeUser("seller-2", models.RoleUser),
		"admin-1":  activeUser("admin-1", models.RoleAdmin),
	}
}

func createOpportunity(t *testing.T, svc *OpportunityService, owner string) *models.Opportunity {
	t.Helper()
	opp, err := svc.Create(context.Background(), dto.CreateOpportunityRequest{
		ClientID:    "client-1",
		Titulo:      "Ecógrafo para clínica",
		Descripcion: "Reemplazo de equipo vencido",
	}, owner, models.RoleUser)
	require.NoError(t, err)
	return opp
}

func TestOpportunityServiceCreate(t *testing.T) {
	store := newOppStoreStub()
	svc := newTestService(store, defaultUsers())

	opp := createOpportunity(t, svc, "seller-1")

	require.Equal(t, models.StateNueva, opp.Estado)
	require.Equal(t, "seller-1", opp.CreatedBy)
	require.Equal(t, 50, opp.Probabilidad)
	require.NotEmpty(t, opp.ID)

	history, err := store.ListHistory(context.Background(), opp.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Nil(t, history[0].FromState)
	require.Equal(t, models.StateNueva, history[0].ToState)
	require.Equal(t, "seller-1", history[0].ChangedBy)
}

func TestOpportunityServiceCreateValidation(t *testing.T) {
	store := newOppStoreStub()
	svc := newTestService(store, defaultUsers())

	badProb := 150
	productID := "prod-1"
	tipo := models.TipoProductoDescartables
	_, err := svc.Create(context.Background(), dto.CreateOpportunityRequest{
		ClientID:     "",
		Titulo:       "  ",
		Descripcion:  "desc",
		Probabilidad: &badProb,
		ProductoID:   &productID,
		TipoProducto: &tipo,
	}, "seller-1", models.RoleUser)
	require.Error(t, err)

	var ve *appErrors.ValidationError
	require.ErrorAs(t, err, &ve)
	// titulo, client_id, probabilidad and the conflicting product union
	// must all be reported in one response.
	require.GreaterOrEqual(t, len(ve.Violations), 4)
	require.Empty(t, store.opportunities)
}

func TestOpportunityServiceChangeStateRecordsHistory(t *testing.T) {
	store := newOppStoreStub()
	svc := newTestService(store, defaultUsers())
	opp := createOpportunity(t, svc, "seller-1")

	result, err := svc.ChangeState(context.Background(), opp.ID, "seller-1", models.RoleUser, models.StateEnSeguimiento, "primer contacto")
	require.NoError(t, err)
	require.True(t, result.HistoryRecorded)
	require.Equal(t, models.StateEnSeguimiento, result.Opportunity.Estado)
	require.Len(t, result.History, 2)

	last := result.History[1]
	require.NotNil(t, last.FromState)
	require.Equal(t, models.StateNueva, *last.FromState)
	require.Equal(t, models.StateEnSeguimiento, last.ToState)
	require.NotNil(t, last.Comentario)
	require.Equal(t, "primer contacto", *last.Comentario)
	require.Equal(t, "seller-1", last.ChangedBy)
}

func TestOpportunityServiceChangeStateForbiddenForNonOwner(t *testing.T) {
	store := newOppStoreStub()
	svc := newTestService(store, defaultUsers())
	opp := createOpportunity(t, svc, "seller-1")

	_, err := svc.ChangeState(context.Background(), opp.ID, "seller-2", models.RoleUser, models.StateGanada, "")
	require.Error(t, err)
	requireErrorCode(t, err, appErrors.ErrForbidden.Code)

	stored, getErr := store.GetByID(context.Background(), opp.ID)
	require.NoError(t, getErr)
	require.Equal(t, models.StateNueva, stored.Estado)
	history, _ := store.ListHistory(context.Background(), opp.ID)
	require.Len(t, history, 1)
}

func TestOpportunityServiceAdminMayChangeAnyRecord(t *testing.T) {
	store := newOppStoreStub()
	svc := newTestService(store, defaultUsers())
	opp := createOpportunity(t, svc, "seller-1")

	result, err := svc.ChangeState(context.Background(), opp.ID, "admin-1", models.RoleAdmin, models.StateEnviarCotizacion, "")
	require.NoError(t, err)
	require.Equal(t, models.StateEnviarCotizacion, result.Opportunity.Estado)
	require.Equal(t, "admin-1", result.History[1].ChangedBy)
}

func TestOpportunityServiceGuardUsesStoredRole(t *testing.T) {
	users := defaultUsers()
	store := newOppStoreStub()
	svc := newTestService(store, users)
	opp := createOpportunity(t, svc, "seller-1")

	// The token claims admin but the directory says plain user: the
	// stored role wins.
	_, err := svc.ChangeState(context.Background(), opp.ID, "seller-2", models.RoleAdmin, models.StateGanada, "")
	requireErrorCode(t, err, appErrors.ErrForbidden.Code)

	users["seller-1"].Active = false
	_, err = svc.Get(context.Background(), opp.ID, "seller-1", models.RoleUser)
	requireErrorCode(t, err, appErrors.ErrForbidden.Code)

	_, err = svc.Get(context.Background(), opp.ID, "ghost", models.RoleAdmin)
	requireErrorCode(t, err, appErrors.ErrUnauthorized.Code)
}

func TestOpportunityServiceRejectsUnknownState(t *testing.T) {
	store := newOppStoreStub()
	svc := newTestService(store, defaultUsers())

	for _, current := range models.OpportunityStates {
		opp := createOpportunity(t, svc, "seller-1")
		store.opportunities[opp.ID].Estado = current

		_, err := svc.ChangeState(context.Background(), opp.ID, "seller-1", models.RoleUser, models.OpportunityState("archivada"), "")
		requireErrorCode(t, err, appErrors.ErrInvalidTransition.Code)

		stored, _ := store.GetByID(context.Background(), opp.ID)
		require.Equal(t, current, stored.Estado, "state %s must stay untouched", current)
	}
}

func TestOpportunityServiceReopeningIsAllowed(t *testing.T) {
	store := newOppStoreStub()
	svc := newTestService(store, defaultUsers())
	opp := createOpportunity(t, svc, "seller-1")

	_, err := svc.ChangeState(context.Background(), opp.ID, "seller-1", models.RoleUser, models.StatePerdida, "sin presupuesto")
	require.NoError(t, err)

	result, err := svc.ChangeState(context.Background(), opp.ID, "seller-1", models.RoleUser, models.StateCotizacionEnviada, "el cliente volvió")
	require.NoError(t, err)
	require.Equal(t, models.StateCotizacionEnviada, result.Opportunity.Estado)
	require.Len(t, result.History, 3)
}

func TestOpportunityServiceSameStateNoCommentRejected(t *testing.T) {
	store := newOppStoreStub()
	svc := newTestService(store, defaultUsers())
	opp := createOpportunity(t, svc, "seller-1")

	_, err := svc.ChangeState(context.Background(), opp.ID, "seller-1", models.RoleUser, models.StateNueva, "   ")
	requireErrorCode(t, err, appErrors.ErrNoOpRejected.Code)

	history, _ := store.ListHistory(context.Background(), opp.ID)
	require.Len(t, history, 1)
}

func TestOpportunityServiceSameStateWithCommentIsHistorized(t *testing.T) {
	store := newOppStoreStub()
	svc := newTestService(store, defaultUsers())
	opp := createOpportunity(t, svc, "seller-1")

	result, err := svc.ChangeState(context.Background(), opp.ID, "seller-1", models.RoleUser, models.StateNueva, "cliente pidió esperar")
	require.NoError(t, err)
	require.Equal(t, models.StateNueva, result.Opportunity.Estado)
	require.Len(t, result.History, 2)
	require.Equal(t, models.StateNueva, *result.History[1].FromState)
	require.Equal(t, models.StateNueva, result.History[1].ToState)
}

func TestOpportunityServiceConcurrentStateChange(t *testing.T) {
	store := newOppStoreStub()
	svc := newTestService(store, defaultUsers())
	opp := createOpportunity(t, svc, "seller-1")

	store.conflictOnUpdate = true
	_, err := svc.ChangeState(context.Background(), opp.ID, "seller-1", models.RoleUser, models.StateGanada, "")
	requireErrorCode(t, err, appErrors.ErrConflict.Code)
	store.conflictOnUpdate = false

	store.dropOnUpdateState = true
	_, err = svc.ChangeState(context.Background(), opp.ID, "seller-1", models.RoleUser, models.StateGanada, "")
	requireErrorCode(t, err, appErrors.ErrNotFound.Code)
}

func TestOpportunityServiceEditNeverTouchesLifecycle(t *testing.T) {
	store := newOppStoreStub()
	svc := newTestService(store, defaultUsers())
	opp := createOpportunity(t, svc, "seller-1")

	titulo := "Ecógrafo portátil"
	valor := 12500.0
	updated, err := svc.Edit(context.Background(), opp.ID, "seller-1", models.RoleUser, dto.UpdateOpportunityRequest{
		Titulo:        &titulo,
		ValorEstimado: &valor,
	})
	require.NoError(t, err)
	require.Equal(t, "Ecógrafo portátil", updated.Titulo)
	require.Equal(t, models.StateNueva, updated.Estado)
	require.Equal(t, "seller-1", updated.CreatedBy)

	history, _ := store.ListHistory(context.Background(), opp.ID)
	require.Len(t, history, 1, "edits are not lifecycle events")
}

func TestOpportunityServiceEditSwitchesProductUnion(t *testing.T) {
	store := newOppStoreStub()
	svc := newTestService(store, defaultUsers())

	productID := "prod-9"
	opp, err := svc.Create(context.Background(), dto.CreateOpportunityRequest{
		ClientID:    "client-1",
		Titulo:      "Monitor multiparamétrico",
		Descripcion: "Licitación provincial",
		ProductoID:  &productID,
	}, "seller-1", models.RoleUser)
	require.NoError(t, err)
	require.NotNil(t, opp.ProductoID)

	tipo := models.TipoProductoDescartables
	updated, err := svc.Edit(context.Background(), opp.ID, "seller-1", models.RoleUser, dto.UpdateOpportunityRequest{
		TipoProducto: &tipo,
	})
	require.NoError(t, err)
	require.Nil(t, updated.ProductoID)
	require.NotNil(t, updated.TipoProducto)
	require.Equal(t, models.TipoProductoDescartables, *updated.TipoProducto)
}

func TestOpportunityServiceDeleteIsIdempotent(t *testing.T) {
	store := newOppStoreStub()
	svc := newTestService(store, defaultUsers())
	opp := createOpportunity(t, svc, "seller-1")

	require.NoError(t, svc.Delete(context.Background(), opp.ID, "seller-1", models.RoleUser))
	require.NoError(t, svc.Delete(context.Background(), opp.ID, "seller-1", models.RoleUser))
	require.Empty(t, store.opportunities)
	require.Empty(t, store.history)
}

func TestOpportunityServiceDeleteForbiddenForNonOwner(t *testing.T) {
	store := newOppStoreStub()
	svc := newTestService(store, defaultUsers())
	opp := createOpportunity(t, svc, "seller-1")

	err := svc.Delete(context.Background(), opp.ID, "seller-2", models.RoleUser)
	requireErrorCode(t, err, appErrors.ErrForbidden.Code)
	require.Len(t, store.opportunities, 1)
}

func TestOpportunityServiceListScopesToOwner(t *testing.T) {
	store := newOppStoreStub()
	svc := newTestService(store, defaultUsers())
	createOpportunity(t, svc, "seller-1")
	createOpportunity(t, svc, "seller-2")

	mine, _, err := svc.List(context.Background(), dto.OpportunityQuery{}, "seller-1", models.RoleUser)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, "seller-1", mine[0].CreatedBy)

	all, _, err := svc.List(context.Background(), dto.OpportunityQuery{}, "admin-1", models.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, _, err = svc.List(context.Background(), dto.OpportunityQuery{Estado: "archivada"}, "admin-1", models.RoleAdmin)
	requireErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestOpportunityServiceHistoryWriteFailure(t *testing.T) {
	store := newOppStoreStub()
	queue := &queueStub{}
	guard := NewAuthorizationGuard(&userDirStub{users: defaultUsers()})
	svc := NewOpportunityService(store, &clientDirStub{}, &productCatalogStub{}, guard, nil,
		WithHistoryRetryQueue(queue))
	opp := createOpportunity(t, svc, "seller-1")

	store.failInsertTransition = true
	result, err := svc.ChangeState(context.Background(), opp.ID, "seller-1", models.RoleUser, models.StateGanada, "")
	require.NoError(t, err, "state change succeeds even when the audit write fails")
	require.False(t, result.HistoryRecorded)
	require.Equal(t, models.StateGanada, result.Opportunity.Estado)
	require.Len(t, queue.jobs, 1)
	require.Equal(t, HistoryRetryJobType, queue.jobs[0].Type)

	store.failInsertTransition = false
	require.NoError(t, svc.HandleHistoryRetry(context.Background(), queue.jobs[0]))
	history, _ := store.ListHistory(context.Background(), opp.ID)
	require.Len(t, history, 2)

	// Replaying the same job must not duplicate the row.
	require.NoError(t, svc.HandleHistoryRetry(context.Background(), queue.jobs[0]))
	history, _ = store.ListHistory(context.Background(), opp.ID)
	require.Len(t, history, 2)
}

func TestOpportunityServiceAuthorizationMatrix(t *testing.T) {
	cases := []struct {
		name    string
		caller  string
		ownerID string
		allowed bool
	}{
		{"owner reads own", "seller-1", "seller-1", true},
		{"other seller denied", "seller-2", "seller-1", false},
		{"admin reads any", "admin-1", "seller-1", true},
		{"owner reads own as seller-2", "seller-2", "seller-2", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newOppStoreStub()
			svc := newTestService(store, defaultUsers())
			opp := createOpportunity(t, svc, tc.ownerID)

			_, err := svc.Get(context.Background(), opp.ID, tc.caller, models.RoleUser)
			if tc.allowed {
				require.NoError(t, err)
			} else {
				requireErrorCode(t, err, appErrors.ErrForbidden.Code)
			}
		})
	}
}

func TestOpportunityServiceSummaryForOpenRecord(t *testing.T) {
	store := newOppStoreStub()
	svc := newTestService(store, defaultUsers())
	opp := createOpportunity(t, svc, "seller-1")
	store.opportunities[opp.ID].CreatedAt = time.Now().UTC().Add(-36 * time.Hour)

	summary, err := svc.Summary(context.Background(), opp.ID, "seller-1", models.RoleUser)
	require.NoError(t, err)
	require.False(t, summary.IsClosed)
	require.Nil(t, summary.ClosedAt)
	require.Equal(t, 2, summary.DaysElapsed)
}

func requireErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr, "expected typed error, got %v", err)
	require.Equal(t, code, appErr.Code, fmt.Sprintf("unexpected error: %v", err))
}
