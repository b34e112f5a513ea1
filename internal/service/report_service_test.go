package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/insumed-ar/ventas-api/internal/models"
)

type pipelineSourceStub struct {
	rows []models.PipelineRow
}

func (s *pipelineSourceStub) PipelineBreakdown(ctx context.Context) ([]models.PipelineRow, error) {
	return s.rows, nil
}

func TestReportServicePipelineCSV(t *testing.T) {
	source := &pipelineSourceStub{rows: []models.PipelineRow{
		{Estado: models.StateNueva, Cantidad: 3, ValorEstimado: 1500, ProbabilidadProm: 50},
		{Estado: models.StateGanada, Cantidad: 1, ValorEstimado: 9000, ProbabilidadProm: 100},
	}}
	svc := NewReportService(source, nil)

	out, err := svc.PipelineCSV(context.Background())
	require.NoError(t, err)

	require.True(t, bytes.Contains(out, []byte("Estado")))
	require.True(t, bytes.Contains(out, []byte("nueva,3,1500.00,50%")))
	require.True(t, bytes.Contains(out, []byte("ganada,1,9000.00,100%")))
	// Every lifecycle state appears even with zero rows.
	require.True(t, bytes.Contains(out, []byte("perdida,0,0.00,0%")))
	require.True(t, bytes.Contains(out, []byte("Total,4,10500.00,")))
}

func TestReportServicePipelinePDF(t *testing.T) {
	source := &pipelineSourceStub{rows: []models.PipelineRow{
		{Estado: models.StateEnviarCotizacion, Cantidad: 2, ValorEstimado: 4000, ProbabilidadProm: 60},
	}}
	svc := NewReportService(source, nil)

	out, err := svc.PipelinePDF(context.Background())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}
