package dto

import "time"

// CreateOpportunityRequest is the payload for opening a new opportunity.
// created_by is never taken from the payload; it is forced from the
// authenticated caller.
type CreateOpportunityRequest struct {
	ClientID            string     `json:"client_id" validate:"required"`
	Titulo              string     `json:"titulo" validate:"required,max=200"`
	Descripcion         string     `json:"descripcion" validate:"required,max=1000"`
	ValorEstimado       *float64   `json:"valor_estimado,omitempty"`
	Probabilidad        *int       `json:"probabilidad,omitempty"`
	FechaCierreEstimada *time.Time `json:"fecha_cierre_estimada,omitempty"`
	Notas               *string    `json:"notas,omitempty"`
	ProductoID          *string    `json:"producto_id,omitempty"`
	TipoProducto        *string    `json:"tipo_producto,omitempty"`
}

// UpdateOpportunityRequest patches non-lifecycle fields. Absent fields are
// left untouched. There is deliberately no estado and no created_by here:
// state moves only through the change-state operation and ownership is
// immutable.
type UpdateOpportunityRequest struct {
	Titulo              *string    `json:"titulo,omitempty" validate:"omitempty,max=200"`
	Descripcion         *string    `json:"descripcion,omitempty" validate:"omitempty,max=1000"`
	ValorEstimado       *float64   `json:"valor_estimado,omitempty"`
	Probabilidad        *int       `json:"probabilidad,omitempty"`
	FechaCierreEstimada *time.Time `json:"fecha_cierre_estimada,omitempty"`
	Notas               *string    `json:"notas,omitempty"`
	ProductoID          *string    `json:"producto_id,omitempty"`
	TipoProducto        *string    `json:"tipo_producto,omitempty"`
}

// ChangeStateRequest moves an opportunity to a new lifecycle state.
type ChangeStateRequest struct {
	Estado     string `json:"estado" validate:"required"`
	Comentario string `json:"comentario"`
}

// OpportunityQuery constrains the list endpoint.
type OpportunityQuery struct {
	Estado   string `form:"estado"`
	ClientID string `form:"client_id"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}
