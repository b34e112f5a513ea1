package models

import "time"

// Client is a commercial account an opportunity is sold to. The engine
// only resolves ids to display data; client management lives elsewhere.
type Client struct {
	ID                    string    `db:"id" json:"id"`
	RazonSocial           *string   `db:"razon_social" json:"razon_social,omitempty"`
	NombreEstablecimiento *string   `db:"nombre_establecimiento" json:"nombre_establecimiento,omitempty"`
	Localidad             *string   `db:"localidad" json:"localidad,omitempty"`
	Provincia             *string   `db:"provincia" json:"provincia,omitempty"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
}

// ClientRef is the embedded client view returned with opportunities.
type ClientRef struct {
	ID                    string  `db:"id" json:"id"`
	RazonSocial           *string `db:"razon_social" json:"razon_social,omitempty"`
	NombreEstablecimiento *string `db:"nombre_establecimiento" json:"nombre_establecimiento,omitempty"`
}
