package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/insumed-ar/ventas-api/internal/dto"
	"github.com/insumed-ar/ventas-api/internal/models"
	"github.com/insumed-ar/ventas-api/internal/repository"
	appErrors "github.com/insumed-ar/ventas-api/pkg/errors"
	"github.com/insumed-ar/ventas-api/pkg/jobs"
)

// HistoryRetryJobType tags queued history-write reconciliation jobs.
const HistoryRetryJobType = "opportunity_history"

type opportunityStore interface {
	Create(ctx context.Context, opp *models.Opportunity, initial *models.TransitionRecord) error
	GetByID(ctx context.Context, id string) (*models.Opportunity, error)
	List(ctx context.Context, filter models.OpportunityFilter) ([]models.Opportunity, int, error)
	UpdateFields(ctx context.Context, id string, params repository.UpdateOpportunityParams) error
	UpdateState(ctx context.Context, id string, from, to models.OpportunityState) error
	InsertTransition(ctx context.Context, record *models.TransitionRecord) error
	ListHistory(ctx context.Context, opportunityID string) ([]models.TransitionRecord, error)
	LatestTransition(ctx context.Context, opportunityID string) (*models.TransitionRecord, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type clientDirectory interface {
	GetRef(ctx context.Context, id string) (*models.ClientRef, error)
	RefsByIDs(ctx context.Context, ids []string) (map[string]models.ClientRef, error)
}

type productCatalog interface {
	GetByID(ctx context.Context, id string) (*models.Product, error)
}

type transitionEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// OpportunityService orchestrates the opportunity lifecycle: creation,
// edits, state changes, deletion and the derived temporal summary. Every
// operation re-checks authorization against freshly loaded data.
type OpportunityService struct {
	repo     opportunityStore
	clients  clientDirectory
	products productCatalog
	guard    *AuthorizationGuard
	machine  *StateMachine
	cache    *CacheService
	queue    transitionEnqueuer
	metrics  *MetricsService
	logger   *zap.Logger
}

// OpportunityServiceOption configures the service.
type OpportunityServiceOption func(*OpportunityService)

// WithHistoryRetryQueue wires the background queue used to reconcile
// failed history writes.
func WithHistoryRetryQueue(queue transitionEnqueuer) OpportunityServiceOption {
	return func(s *OpportunityService) {
		s.queue = queue
	}
}

// WithOpportunityCache enables caching of list and summary payloads.
func WithOpportunityCache(cache *CacheService) OpportunityServiceOption {
	return func(s *OpportunityService) {
		s.cache = cache
	}
}

// WithOpportunityMetrics wires transition and history-failure counters.
func WithOpportunityMetrics(metrics *MetricsService) OpportunityServiceOption {
	return func(s *OpportunityService) {
		s.metrics = metrics
	}
}

// NewOpportunityService constructs the service.
func NewOpportunityService(repo opportunityStore, clients clientDirectory, products productCatalog, guard *AuthorizationGuard, logger *zap.Logger, opts ...OpportunityServiceOption) *OpportunityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &OpportunityService{
		repo:     repo,
		clients:  clients,
		products: products,
		guard:    guard,
		machine:  NewStateMachine(),
		logger:   logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// ChangeStateResult carries the updated record, its full ordered history
// and whether the audit entry for this change was persisted. A false
// HistoryRecorded is a degraded success: the state is correct but the
// narrative is being reconciled in the background.
type ChangeStateResult struct {
	Opportunity     models.Opportunity        `json:"oportunidad"`
	History         []models.TransitionRecord `json:"historial"`
	HistoryRecorded bool                      `json:"-"`
}

// Create validates the payload, forces ownership and initial state, and
// persists the opportunity atomically with its creation history entry.
func (s *OpportunityService) Create(ctx context.Context, req dto.CreateOpportunityRequest, callerID string, callerRole models.UserRole) (*models.Opportunity, error) {
	if err := s.guard.Authorize(ctx, callerID, callerRole, OperationCreate, ""); err != nil {
		return nil, err
	}
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	probabilidad := 50
	if req.Probabilidad != nil {
		probabilidad = *req.Probabilidad
	}

	opp := &models.Opportunity{
		ClientID:            strings.TrimSpace(req.ClientID),
		Titulo:              strings.TrimSpace(req.Titulo),
		Descripcion:         strings.TrimSpace(req.Descripcion),
		ValorEstimado:       req.ValorEstimado,
		Probabilidad:        probabilidad,
		Estado:              s.machine.InitialState(),
		FechaCierreEstimada: req.FechaCierreEstimada,
		Notas:               req.Notas,
		CreatedBy:           callerID,
	}
	opp.SetAssociation(associationFromInput(req.ProductoID, req.TipoProducto))

	initial := &models.TransitionRecord{
		FromState: nil,
		ToState:   opp.Estado,
		ChangedBy: callerID,
	}

	if err := s.repo.Create(ctx, opp, initial); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create opportunity")
	}

	s.invalidateCache(ctx)
	s.embedRelations(ctx, opp)
	return opp, nil
}

// Get returns an opportunity with its client and product embeds. Only the
// owner or an admin may read it.
func (s *OpportunityService) Get(ctx context.Context, id, callerID string, callerRole models.UserRole) (*models.Opportunity, error) {
	opp, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(ctx, callerID, callerRole, OperationRead, opp.CreatedBy); err != nil {
		return nil, err
	}
	s.embedRelations(ctx, opp)
	return opp, nil
}

type listPayload struct {
	Items      []models.Opportunity `json:"items"`
	Pagination models.Pagination    `json:"pagination"`
}

// List returns opportunities visible to the caller: admins see everything,
// regular users only their own records.
func (s *OpportunityService) List(ctx context.Context, query dto.OpportunityQuery, callerID string, callerRole models.UserRole) ([]models.Opportunity, *models.Pagination, error) {
	if callerID == "" {
		return nil, nil, appErrors.ErrUnauthorized
	}

	filter := models.OpportunityFilter{
		Estado:   models.OpportunityState(strings.TrimSpace(query.Estado)),
		ClientID: strings.TrimSpace(query.ClientID),
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	if filter.Estado != "" && !filter.Estado.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown estado filter: %s", filter.Estado))
	}

	scope := "all"
	if callerRole != models.RoleAdmin {
		filter.CreatedBy = callerID
		scope = callerID
	}

	cacheKey := fmt.Sprintf("oportunidades:list:%s:%s:%s:%d:%d", scope, filter.Estado, filter.ClientID, filter.Page, filter.PageSize)
	var cached listPayload
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return cached.Items, &cached.Pagination, nil
	}

	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list opportunities")
	}

	s.embedClientRefs(ctx, items)

	pagination := models.Pagination{
		Page:       max(filter.Page, 1),
		PageSize:   filter.PageSize,
		TotalCount: total,
	}
	if pagination.PageSize <= 0 {
		pagination.PageSize = 20
	}

	if err := s.cache.Set(ctx, cacheKey, listPayload{Items: items, Pagination: pagination}, 0); err != nil {
		s.logger.Warn("failed to cache opportunity list", zap.Error(err))
	}
	return items, &pagination, nil
}

// ChangeState moves an opportunity through the lifecycle. The guard runs
// first, then the state machine, then the conditional store update, and
// finally the history append. A same-state request without a comment is
// rejected rather than polluting the audit trail.
func (s *OpportunityService) ChangeState(ctx context.Context, id, callerID string, callerRole models.UserRole, toState models.OpportunityState, comment string) (*ChangeStateResult, error) {
	opp, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(ctx, callerID, callerRole, OperationUpdate, opp.CreatedBy); err != nil {
		return nil, err
	}
	if err := s.machine.ValidateTransition(opp.Estado, toState); err != nil {
		return nil, err
	}

	comment = strings.TrimSpace(comment)
	if toState == opp.Estado && comment == "" {
		return nil, appErrors.Clone(appErrors.ErrNoOpRejected,
			fmt.Sprintf("opportunity already in state %s", toState))
	}

	fromState := opp.Estado
	if toState != fromState {
		if err := s.repo.UpdateState(ctx, id, fromState, toState); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Either the record vanished or another caller moved it first.
				if _, reloadErr := s.repo.GetByID(ctx, id); reloadErr != nil {
					return nil, appErrors.Clone(appErrors.ErrNotFound, "opportunity not found")
				}
				return nil, appErrors.Clone(appErrors.ErrConflict, "opportunity state changed concurrently")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update opportunity state")
		}
		opp.Estado = toState
		opp.UpdatedAt = time.Now().UTC()
		s.metrics.RecordTransition(string(toState))
	}

	record := &models.TransitionRecord{
		OpportunityID: id,
		FromState:     &fromState,
		ToState:       toState,
		ChangedBy:     callerID,
	}
	if comment != "" {
		record.Comentario = &comment
	}
	recorded := s.recordTransition(ctx, record)

	s.invalidateCache(ctx)

	history, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		s.logger.Warn("failed to load history after state change", zap.String("opportunity_id", id), zap.Error(err))
		history = nil
	}
	s.embedRelations(ctx, opp)

	return &ChangeStateResult{
		Opportunity:     *opp,
		History:         history,
		HistoryRecorded: recorded,
	}, nil
}

// Edit patches non-lifecycle fields. It never touches estado, created_by
// or the history: title and description edits are not lifecycle events.
func (s *OpportunityService) Edit(ctx context.Context, id, callerID string, callerRole models.UserRole, req dto.UpdateOpportunityRequest) (*models.Opportunity, error) {
	opp, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(ctx, callerID, callerRole, OperationUpdate, opp.CreatedBy); err != nil {
		return nil, err
	}
	if err := validateUpdate(req); err != nil {
		return nil, err
	}

	params := repository.UpdateOpportunityParams{
		ValorEstimado:       req.ValorEstimado,
		Probabilidad:        req.Probabilidad,
		FechaCierreEstimada: req.FechaCierreEstimada,
		Notas:               req.Notas,
	}
	if req.Titulo != nil {
		titulo := strings.TrimSpace(*req.Titulo)
		params.Titulo = &titulo
	}
	if req.Descripcion != nil {
		descripcion := strings.TrimSpace(*req.Descripcion)
		params.Descripcion = &descripcion
	}
	if req.ProductoID != nil || req.TipoProducto != nil {
		// Re-deriving the union keeps the two columns mutually exclusive.
		staged := *opp
		staged.SetAssociation(associationFromInput(req.ProductoID, req.TipoProducto))
		params.ProductoID = staged.ProductoID
		params.TipoProducto = staged.TipoProducto
		params.ClearProduct = true
	}

	if err := s.repo.UpdateFields(ctx, id, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "opportunity not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update opportunity")
	}

	s.invalidateCache(ctx)

	updated, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.embedRelations(ctx, updated)
	return updated, nil
}

// Delete removes the opportunity and its entire history. Deleting an
// absent id succeeds so slow clients can double-submit safely.
func (s *OpportunityService) Delete(ctx context.Context, id, callerID string, callerRole models.UserRole) error {
	opp, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if authErr := s.guard.Authorize(ctx, callerID, callerRole, OperationDelete, callerID); authErr != nil {
				return authErr
			}
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load opportunity")
	}
	if err := s.guard.Authorize(ctx, callerID, callerRole, OperationDelete, opp.CreatedBy); err != nil {
		return err
	}

	if _, err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete opportunity")
	}
	s.invalidateCache(ctx)
	return nil
}

// History returns the full chronological transition log.
func (s *OpportunityService) History(ctx context.Context, id, callerID string, callerRole models.UserRole) ([]models.TransitionRecord, error) {
	opp, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(ctx, callerID, callerRole, OperationRead, opp.CreatedBy); err != nil {
		return nil, err
	}
	history, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load history")
	}
	return history, nil
}

// Summary computes days active / days-to-close for an opportunity.
func (s *OpportunityService) Summary(ctx context.Context, id, callerID string, callerRole models.UserRole) (*models.OpportunitySummary, error) {
	opp, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(ctx, callerID, callerRole, OperationRead, opp.CreatedBy); err != nil {
		return nil, err
	}

	cacheKey := "oportunidades:resumen:" + id
	var cached models.OpportunitySummary
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	history, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load history")
	}

	summary := Summarize(opp, history, time.Now().UTC())
	if err := s.cache.Set(ctx, cacheKey, summary, 0); err != nil {
		s.logger.Warn("failed to cache summary", zap.Error(err))
	}
	return &summary, nil
}

// HandleHistoryRetry reconciles a failed history append. It is idempotent:
// when the latest persisted transition already matches the payload the job
// is dropped instead of duplicating the row.
func (s *OpportunityService) HandleHistoryRetry(ctx context.Context, job jobs.Job) error {
	record, ok := job.Payload.(*models.TransitionRecord)
	if !ok {
		s.logger.Error("history retry job carries unexpected payload", zap.String("job_id", job.ID))
		return nil
	}

	latest, err := s.repo.LatestTransition(ctx, record.OpportunityID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load latest transition: %w", err)
	}
	if latest != nil && sameTransition(latest, record) {
		return nil
	}
	if err := s.repo.InsertTransition(ctx, record); err != nil {
		return fmt.Errorf("reinsert transition: %w", err)
	}
	s.logger.Info("reconciled missing history entry",
		zap.String("opportunity_id", record.OpportunityID),
		zap.String("to_state", string(record.ToState)))
	return nil
}

func sameTransition(a, b *models.TransitionRecord) bool {
	if a.ToState != b.ToState || a.ChangedBy != b.ChangedBy {
		return false
	}
	if (a.FromState == nil) != (b.FromState == nil) {
		return false
	}
	if a.FromState != nil && *a.FromState != *b.FromState {
		return false
	}
	return true
}

func (s *OpportunityService) recordTransition(ctx context.Context, record *models.TransitionRecord) bool {
	if err := s.repo.InsertTransition(ctx, record); err != nil {
		s.metrics.RecordHistoryWriteFailure()
		s.logger.Warn("failed to persist transition record",
			zap.String("opportunity_id", record.OpportunityID),
			zap.String("to_state", string(record.ToState)),
			zap.Error(err))
		if s.queue != nil {
			if qErr := s.queue.Enqueue(jobs.Job{
				ID:      record.OpportunityID + ":" + string(record.ToState),
				Type:    HistoryRetryJobType,
				Payload: record,
			}); qErr != nil {
				s.logger.Error("failed to enqueue history retry", zap.Error(qErr))
			}
		}
		return false
	}
	return true
}

func (s *OpportunityService) load(ctx context.Context, id string) (*models.Opportunity, error) {
	opp, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "opportunity not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load opportunity")
	}
	return opp, nil
}

func (s *OpportunityService) embedRelations(ctx context.Context, opp *models.Opportunity) {
	if s.clients != nil {
		if ref, err := s.clients.GetRef(ctx, opp.ClientID); err == nil {
			opp.Cliente = ref
		}
	}
	if s.products != nil && opp.ProductoID != nil && *opp.ProductoID != "" {
		if product, err := s.products.GetByID(ctx, *opp.ProductoID); err == nil {
			opp.Producto = product
		}
	}
}

func (s *OpportunityService) embedClientRefs(ctx context.Context, items []models.Opportunity) {
	if s.clients == nil || len(items) == 0 {
		return
	}
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, opp := range items {
		if _, ok := seen[opp.ClientID]; !ok {
			seen[opp.ClientID] = struct{}{}
			ids = append(ids, opp.ClientID)
		}
	}
	refs, err := s.clients.RefsByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("failed to resolve client refs", zap.Error(err))
		return
	}
	for i := range items {
		if ref, ok := refs[items[i].ClientID]; ok {
			r := ref
			items[i].Cliente = &r
		}
	}
}

func (s *OpportunityService) invalidateCache(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, "oportunidades:*"); err != nil {
		s.logger.Warn("failed to invalidate opportunity cache", zap.Error(err))
	}
}

func associationFromInput(productoID, tipoProducto *string) models.ProductAssociation {
	if productoID != nil && strings.TrimSpace(*productoID) != "" {
		return models.ProductAssociation{Kind: models.ProductCatalog, ProductID: strings.TrimSpace(*productoID)}
	}
	if tipoProducto != nil && strings.TrimSpace(*tipoProducto) == models.TipoProductoDescartables {
		return models.ProductAssociation{Kind: models.ProductConsumables}
	}
	return models.ProductAssociation{Kind: models.ProductNone}
}

func validateCreate(req dto.CreateOpportunityRequest) error {
	ve := &appErrors.ValidationError{}

	titulo := strings.TrimSpace(req.Titulo)
	if titulo == "" {
		ve.Add("titulo", "is required")
	} else if utf8.RuneCountInString(titulo) > 200 {
		ve.Add("titulo", "must not exceed 200 characters")
	}

	descripcion := strings.TrimSpace(req.Descripcion)
	if descripcion == "" {
		ve.Add("descripcion", "is required")
	} else if utf8.RuneCountInString(descripcion) > 1000 {
		ve.Add("descripcion", "must not exceed 1000 characters")
	}

	if strings.TrimSpace(req.ClientID) == "" {
		ve.Add("client_id", "is required")
	}

	if req.Probabilidad != nil && (*req.Probabilidad < 0 || *req.Probabilidad > 100) {
		ve.Add("probabilidad", "must be between 0 and 100")
	}

	validateAssociation(ve, req.ProductoID, req.TipoProducto)

	if ve.HasViolations() {
		return ve
	}
	return nil
}

func validateUpdate(req dto.UpdateOpportunityRequest) error {
	ve := &appErrors.ValidationError{}

	if req.Titulo != nil {
		titulo := strings.TrimSpace(*req.Titulo)
		if titulo == "" {
			ve.Add("titulo", "must not be empty")
		} else if utf8.RuneCountInString(titulo) > 200 {
			ve.Add("titulo", "must not exceed 200 characters")
		}
	}
	if req.Descripcion != nil {
		descripcion := strings.TrimSpace(*req.Descripcion)
		if descripcion == "" {
			ve.Add("descripcion", "must not be empty")
		} else if utf8.RuneCountInString(descripcion) > 1000 {
			ve.Add("descripcion", "must not exceed 1000 characters")
		}
	}
	if req.Probabilidad != nil && (*req.Probabilidad < 0 || *req.Probabilidad > 100) {
		ve.Add("probabilidad", "must be between 0 and 100")
	}

	validateAssociation(ve, req.ProductoID, req.TipoProducto)

	if ve.HasViolations() {
		return ve
	}
	return nil
}

func validateAssociation(ve *appErrors.ValidationError, productoID, tipoProducto *string) {
	hasProduct := productoID != nil && strings.TrimSpace(*productoID) != ""
	hasTipo := tipoProducto != nil && strings.TrimSpace(*tipoProducto) != ""
	if hasProduct && hasTipo {
		ve.Add("producto_id", "cannot be combined with tipo_producto")
	}
	if hasTipo && strings.TrimSpace(*tipoProducto) != models.TipoProductoDescartables {
		ve.Add("tipo_producto", fmt.Sprintf("must be %q when set", models.TipoProductoDescartables))
	}
}
