package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	StorageLocal = "local"
	StorageCloud = "cloud"
)

const (
	FlightStatusProcessing = "processing"
	FlightStatusCompleted  = "completed"
	FlightStatusFailed     = "failed"
)

// Flight is one drone capture over a farm. It carries descriptive metadata
// only; the rasters live in object storage and are served by the tile server.
type Flight struct {
	ID              uuid.UUID      `db:"id"               json:"id"`
	FarmID          uuid.UUID      `db:"farm_id"          json:"farm_id"`
	FlightDate      time.Time      `db:"flight_date"      json:"flight_date"`
	PilotName       *string        `db:"pilot_name"       json:"pilot_name,omitempty"`
	DroneModel      *string        `db:"drone_model"      json:"drone_model,omitempty"`
	AltitudeMeters  *float64       `db:"altitude_meters"  json:"altitude_meters,omitempty"`
	StorageLocation string         `db:"storage_location" json:"storage_location"`
	Status          *string        `db:"status"           json:"status,omitempty"`
	CreatedAt       time.Time      `db:"created_at"       json:"created_at"`
	Layers          []ImageryLayer `db:"-"                json:"layers"`
}

// DateCompact returns the flight date as YYYYMMDD, the form used in filenames.
func (f *Flight) DateCompact() string {
	return f.FlightDate.Format("20060102")
}

// Layer returns the layer of the given type, if the flight has one.
func (f *Flight) Layer(layerType string) (*ImageryLayer, bool) {
	for i := range f.Layers {
		if f.Layers[i].LayerType == layerType {
			return &f.Layers[i], true
		}
	}
	return nil, false
}

// ImageryLayer is one raster product (rgb, ndvi, ...) of a flight.
type ImageryLayer struct {
	ID            uuid.UUID       `db:"id"              json:"id"`
	FlightID      uuid.UUID       `db:"flight_id"       json:"flight_id"`
	LayerType     string          `db:"layer_type"      json:"layer_type"`
	Filename      string          `db:"filename"        json:"filename"`
	FileSizeBytes int64           `db:"file_size_bytes" json:"file_size_bytes"`
	CRS           *string         `db:"crs"             json:"crs,omitempty"`
	Bounds        []float64       `db:"bounds"          json:"bounds,omitempty"`
	Statistics    json.RawMessage `db:"statistics"      json:"statistics,omitempty"`
	IsBand        bool            `db:"is_band"         json:"is_band"`
	BandNumber    *int            `db:"band_number"     json:"band_number,omitempty"`
	CreatedAt     time.Time       `db:"created_at"      json:"created_at"`
}
