package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/insumed-ar/ventas-api/internal/dto"
	"github.com/insumed-ar/ventas-api/internal/models"
	"github.com/insumed-ar/ventas-api/internal/service"
	appErrors "github.com/insumed-ar/ventas-api/pkg/errors"
	"github.com/insumed-ar/ventas-api/pkg/response"
)

// OpportunityHandler wires HTTP endpoints to the opportunity service.
type OpportunityHandler struct {
	service *service.OpportunityService
}

// NewOpportunityHandler creates a new handler.
func NewOpportunityHandler(svc *service.OpportunityService) *OpportunityHandler {
	return &OpportunityHandler{service: svc}
}

// Create godoc
// @Summary Create opportunity
// @Description Open a new sales opportunity in its initial state
// @Tags Opportunities
// @Accept json
// @Produce json
// @Param payload body dto.CreateOpportunityRequest true "Opportunity payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Security BearerAuth
// @Router /oportunidades [post]
func (h *OpportunityHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreateOpportunityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid opportunity payload"))
		return
	}

	opp, err := h.service.Create(c.Request.Context(), req, claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, opp)
}

// List godoc
// @Summary List opportunities
// @Description List opportunities visible to the caller, newest first
// @Tags Opportunities
// @Produce json
// @Param estado query string false "Filter by state"
// @Param client_id query string false "Filter by client"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Security BearerAuth
// @Router /oportunidades [get]
func (h *OpportunityHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var query dto.OpportunityQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}

	items, pagination, err := h.service.List(c.Request.Context(), query, claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get opportunity
// @Description Fetch a single opportunity by ID
// @Tags Opportunities
// @Produce json
// @Param id path string true "Opportunity ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /oportunidades/{id} [get]
func (h *OpportunityHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	opp, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, opp, nil)
}

// Edit godoc
// @Summary Edit opportunity
// @Description Patch descriptive fields. State and ownership never change here.
// @Tags Opportunities
// @Accept json
// @Produce json
// @Param id path string true "Opportunity ID"
// @Param payload body dto.UpdateOpportunityRequest true "Patch payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /oportunidades/{id} [patch]
func (h *OpportunityHandler) Edit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.UpdateOpportunityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid patch payload"))
		return
	}

	opp, err := h.service.Edit(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, opp, nil)
}

// ChangeState godoc
// @Summary Change opportunity state
// @Description Move the opportunity through its lifecycle, recording history
// @Tags Opportunities
// @Accept json
// @Produce json
// @Param id path string true "Opportunity ID"
// @Param payload body dto.ChangeStateRequest true "Target state and comment"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /oportunidades/{id}/estado [post]
func (h *OpportunityHandler) ChangeState(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.ChangeStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid state payload"))
		return
	}

	result, err := h.service.ChangeState(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role, models.OpportunityState(req.Estado), req.Comentario)
	if err != nil {
		response.Error(c, err)
		return
	}

	meta := map[string]interface{}{"history_recorded": result.HistoryRecorded}
	response.JSON(c, http.StatusOK, result, nil, meta)
}

// History godoc
// @Summary Opportunity history
// @Description List every recorded state transition, oldest first
// @Tags Opportunities
// @Produce json
// @Param id path string true "Opportunity ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /oportunidades/{id}/historial [get]
func (h *OpportunityHandler) History(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	history, err := h.service.History(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, history, nil)
}

// Summary godoc
// @Summary Opportunity summary
// @Description Days elapsed since creation and closing information
// @Tags Opportunities
// @Produce json
// @Param id path string true "Opportunity ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /oportunidades/{id}/resumen [get]
func (h *OpportunityHandler) Summary(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	summary, err := h.service.Summary(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, summary, nil)
}

// Delete godoc
// @Summary Delete opportunity
// @Description Remove an opportunity and its history. Deleting twice succeeds.
// @Tags Opportunities
// @Param id path string true "Opportunity ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /oportunidades/{id} [delete]
func (h *OpportunityHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
