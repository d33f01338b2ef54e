package models

import (
	"time"

	"github.com/google/uuid"
)

// Farm is a field registered by a farmer. Boundary is a closed ring of
// [lng, lat] points.
type Farm struct {
	ID            uuid.UUID    `db:"id"                json:"id"`
	Name          string       `db:"name"              json:"name"`
	OwnerKeyID    uuid.UUID    `db:"owner_key_id"      json:"-"`
	Boundary      []Coordinate `db:"boundary"          json:"boundary"`
	AreaHectares  float64      `db:"area_hectares"     json:"area_hectares"`
	AgroPolygonID *string      `db:"agromonitoring_id" json:"agromonitoring_id,omitempty"`
	CreatedAt     time.Time    `db:"created_at"        json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"        json:"updated_at"`
}

// LatLngs returns the boundary as [lat, lng] pairs.
func (f *Farm) LatLngs() [][2]float64 {
	out := make([][2]float64, len(f.Boundary))
	for i, c := range f.Boundary {
		out[i] = [2]float64{c[1], c[0]}
	}
	return out
}
