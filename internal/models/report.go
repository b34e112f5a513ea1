package models

// PipelineRow aggregates opportunities grouped by state for reporting.
type PipelineRow struct {
	Estado           OpportunityState `db:"estado" json:"estado"`
	Cantidad         int              `db:"cantidad" json:"cantidad"`
	ValorEstimado    float64          `db:"valor_estimado" json:"valor_estimado"`
	ProbabilidadProm float64          `db:"probabilidad_prom" json:"probabilidad_prom"`
}
