package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultModelID is used whenever a caller omits the model identifier.
const DefaultModelID = "wheat_plant_counter_v1"

// CachedResult associates a subject (flight) and model with the raw output of
// a completed job. Rows are insert-only; a newer row supersedes older ones.
type CachedResult struct {
	ID                    uuid.UUID       `db:"id"                      json:"id"`
	FarmID                uuid.UUID       `db:"farm_id"                 json:"farm_id"`
	FlightID              *uuid.UUID      `db:"flight_id"               json:"flight_id,omitempty"`
	LayerID               *uuid.UUID      `db:"layer_id"                json:"layer_id,omitempty"`
	JobID                 *string         `db:"job_id"                  json:"job_id,omitempty"`
	ModelID               string          `db:"model_id"                json:"model_id"`
	ImageFilename         string          `db:"image_filename"          json:"image_filename"`
	ResultData            json.RawMessage `db:"result_data"             json:"result_data"`
	ProcessingTimeSeconds *float64        `db:"processing_time_seconds" json:"processing_time_seconds,omitempty"`
	AnalyzedAt            time.Time       `db:"analyzed_at"             json:"analyzed_at"`
}
