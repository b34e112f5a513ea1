package models

import "time"

// Product is a catalog item (medical equipment) an opportunity may reference.
type Product struct {
	ID           string    `db:"id" json:"id"`
	NombreEquipo string    `db:"nombre_equipo" json:"nombre_equipo"`
	Marca        *string   `db:"marca" json:"marca,omitempty"`
	Modelo       *string   `db:"modelo" json:"modelo,omitempty"`
	Rubro        *string   `db:"rubro" json:"rubro,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
