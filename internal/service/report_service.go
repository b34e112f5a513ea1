package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/insumed-ar/ventas-api/internal/models"
	appErrors "github.com/insumed-ar/ventas-api/pkg/errors"
	"github.com/insumed-ar/ventas-api/pkg/export"
)

type pipelineSource interface {
	PipelineBreakdown(ctx context.Context) ([]models.PipelineRow, error)
}

// ReportService produces downloadable pipeline reports.
type ReportService struct {
	repo   pipelineSource
	pdf    *export.PDFExporter
	csv    *export.CSVExporter
	logger *zap.Logger
}

// NewReportService constructs a ReportService.
func NewReportService(repo pipelineSource, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		repo:   repo,
		pdf:    export.NewPDFExporter(),
		csv:    export.NewCSVExporter(),
		logger: logger,
	}
}

const (
	colEstado       = "Estado"
	colCantidad     = "Oportunidades"
	colValor        = "Valor estimado"
	colProbabilidad = "Probabilidad prom."
)

// PipelinePDF renders the pipeline breakdown as a PDF document.
func (s *ReportService) PipelinePDF(ctx context.Context) ([]byte, error) {
	dataset, footer, err := s.pipelineDataset(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.pdf.Render(dataset, "Pipeline de ventas", time.Now().UTC(), footer)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pipeline pdf")
	}
	return out, nil
}

// PipelineCSV renders the pipeline breakdown as CSV.
func (s *ReportService) PipelineCSV(ctx context.Context) ([]byte, error) {
	dataset, footer, err := s.pipelineDataset(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.csv.Render(dataset, footer)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pipeline csv")
	}
	return out, nil
}

func (s *ReportService) pipelineDataset(ctx context.Context) (export.Dataset, map[string]string, error) {
	rows, err := s.repo.PipelineBreakdown(ctx)
	if err != nil {
		return export.Dataset{}, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate pipeline")
	}

	byState := make(map[models.OpportunityState]models.PipelineRow, len(rows))
	for _, row := range rows {
		byState[row.Estado] = row
	}

	dataset := export.Dataset{
		Headers: []string{colEstado, colCantidad, colValor, colProbabilidad},
	}
	var totalCount int
	var totalValue float64
	// Rows follow the lifecycle order rather than the SQL ordering so
	// the report reads like the sales funnel.
	for _, state := range models.OpportunityStates {
		row, ok := byState[state]
		if !ok {
			row = models.PipelineRow{Estado: state}
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			colEstado:       string(state),
			colCantidad:     fmt.Sprintf("%d", row.Cantidad),
			colValor:        fmt.Sprintf("%.2f", row.ValorEstimado),
			colProbabilidad: fmt.Sprintf("%.0f%%", row.ProbabilidadProm),
		})
		totalCount += row.Cantidad
		totalValue += row.ValorEstimado
	}

	footer := map[string]string{
		colEstado:   "Total",
		colCantidad: fmt.Sprintf("%d", totalCount),
		colValor:    fmt.Sprintf("%.2f", totalValue),
	}
	return dataset, footer, nil
}
