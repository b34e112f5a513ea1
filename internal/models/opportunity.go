package models

import "time"

// OpportunityState enumerates the lifecycle states of a sales opportunity.
type OpportunityState string

const (
	StateNueva             OpportunityState = "nueva"
	StateEnSeguimiento     OpportunityState = "en_seguimiento"
	StateEnviarCotizacion  OpportunityState = "enviar_cotizacion"
	StateCotizacionEnviada OpportunityState = "cotizacion_enviada"
	StateGanada            OpportunityState = "ganada"
	StatePerdida           OpportunityState = "perdida"
	StateCerrada           OpportunityState = "cerrada"
)

// OpportunityStates lists every valid state.
var OpportunityStates = []OpportunityState{
	StateNueva,
	StateEnSeguimiento,
	StateEnviarCotizacion,
	StateCotizacionEnviada,
	StateGanada,
	StatePerdida,
	StateCerrada,
}

// Valid reports whether the state is a member of the enum.
func (s OpportunityState) Valid() bool {
	for _, state := range OpportunityStates {
		if s == state {
			return true
		}
	}
	return false
}

// Terminal reports whether the state closes the sales cycle.
// Terminal records may still be reopened; see the lifecycle service.
func (s OpportunityState) Terminal() bool {
	return s == StateGanada || s == StatePerdida || s == StateCerrada
}

// ProductKind tags the product association of an opportunity.
type ProductKind string

const (
	ProductNone        ProductKind = "none"
	ProductCatalog     ProductKind = "catalog"
	ProductConsumables ProductKind = "consumables"
)

// TipoProductoDescartables is the stored marker for the consumables category.
const TipoProductoDescartables = "descartables"

// ProductAssociation is the at-most-one product link of an opportunity:
// a catalog product, the fixed consumables category, or nothing.
type ProductAssociation struct {
	Kind      ProductKind `json:"kind"`
	ProductID string      `json:"product_id,omitempty"`
}

// Opportunity is a sales lead tied to exactly one client.
// CreatedBy is assigned once at creation and never updated.
type Opportunity struct {
	ID                  string           `db:"id" json:"id"`
	ClientID            string           `db:"client_id" json:"client_id"`
	Titulo              string           `db:"titulo" json:"titulo"`
	Descripcion         string           `db:"descripcion" json:"descripcion"`
	ValorEstimado       *float64         `db:"valor_estimado" json:"valor_estimado,omitempty"`
	Probabilidad        int              `db:"probabilidad" json:"probabilidad"`
	Estado              OpportunityState `db:"estado" json:"estado"`
	FechaCierreEstimada *time.Time       `db:"fecha_cierre_estimada" json:"fecha_cierre_estimada,omitempty"`
	Notas               *string          `db:"notas" json:"notas,omitempty"`
	ProductoID          *string          `db:"producto_id" json:"producto_id,omitempty"`
	TipoProducto        *string          `db:"tipo_producto" json:"tipo_producto,omitempty"`
	CreatedBy           string           `db:"created_by" json:"created_by"`
	CreatedAt           time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updated_at"`

	Cliente  *ClientRef `db:"-" json:"cliente,omitempty"`
	Producto *Product   `db:"-" json:"producto,omitempty"`
}

// Association derives the tagged product union from the stored columns.
func (o *Opportunity) Association() ProductAssociation {
	if o.ProductoID != nil && *o.ProductoID != "" {
		return ProductAssociation{Kind: ProductCatalog, ProductID: *o.ProductoID}
	}
	if o.TipoProducto != nil && *o.TipoProducto == TipoProductoDescartables {
		return ProductAssociation{Kind: ProductConsumables}
	}
	return ProductAssociation{Kind: ProductNone}
}

// SetAssociation writes the union back into the stored columns,
// clearing whichever side does not apply.
func (o *Opportunity) SetAssociation(a ProductAssociation) {
	o.ProductoID = nil
	o.TipoProducto = nil
	switch a.Kind {
	case ProductCatalog:
		id := a.ProductID
		o.ProductoID = &id
	case ProductConsumables:
		tipo := TipoProductoDescartables
		o.TipoProducto = &tipo
	}
}

// TransitionRecord is one immutable audit entry describing a single state
// change. The creation event is recorded with a nil FromState.
type TransitionRecord struct {
	ID            string            `db:"id" json:"id"`
	OpportunityID string            `db:"oportunidad_id" json:"oportunidad_id"`
	FromState     *OpportunityState `db:"estado_anterior" json:"estado_anterior,omitempty"`
	ToState       OpportunityState  `db:"estado_nuevo" json:"estado_nuevo"`
	Comentario    *string           `db:"comentario" json:"comentario,omitempty"`
	ChangedBy     string            `db:"changed_by" json:"changed_by"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
}

// OpportunityFilter constrains listing queries.
type OpportunityFilter struct {
	Estado    OpportunityState
	ClientID  string
	CreatedBy string
	Page      int
	PageSize  int
}

// OpportunitySummary is the derived temporal view of an opportunity.
// DaysElapsed is measured to the first close ever recorded, so reopened
// and re-closed records keep a stable days-to-close figure.
type OpportunitySummary struct {
	DaysElapsed int        `json:"days_elapsed"`
	IsClosed    bool       `json:"is_closed"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}
