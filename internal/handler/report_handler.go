package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/insumed-ar/ventas-api/internal/service"
	"github.com/insumed-ar/ventas-api/pkg/response"
)

// ReportHandler exposes downloadable pipeline reports.
type ReportHandler struct {
	service *service.ReportService
}

// NewReportHandler creates a new handler.
func NewReportHandler(svc *service.ReportService) *ReportHandler {
	return &ReportHandler{service: svc}
}

// PipelinePDF godoc
// @Summary Pipeline report (PDF)
// @Description Download the sales pipeline breakdown as PDF
// @Tags Reports
// @Produce application/pdf
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /reportes/pipeline.pdf [get]
func (h *ReportHandler) PipelinePDF(c *gin.Context) {
	out, err := h.service.PipelinePDF(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("pipeline_%s.pdf", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", out)
}

// PipelineCSV godoc
// @Summary Pipeline report (CSV)
// @Description Download the sales pipeline breakdown as CSV
// @Tags Reports
// @Produce text/csv
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /reportes/pipeline.csv [get]
func (h *ReportHandler) PipelineCSV(c *gin.Context) {
	out, err := h.service.PipelineCSV(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("pipeline_%s.csv", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv", out)
}
