package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	ProcessingStatusPending    = "pending"
	ProcessingStatusUploading  = "uploading"
	ProcessingStatusQueued     = "queued"
	ProcessingStatusProcessing = "processing"
	ProcessingStatusCompleted  = "completed"
	ProcessingStatusFailed     = "failed"
)

// ActiveProcessingStatuses are the states the dashboard keeps refreshing.
var ActiveProcessingStatuses = []string{
	ProcessingStatusPending,
	ProcessingStatusUploading,
	ProcessingStatusQueued,
	ProcessingStatusProcessing,
}

// ProcessingJob tracks an orthophoto reconstruction of raw drone images.
type ProcessingJob struct {
	ID              uuid.UUID       `db:"id"                json:"id"`
	FlightID        uuid.UUID       `db:"flight_id"         json:"flight_id"`
	Status          string          `db:"status"            json:"status"`
	Progress        int             `db:"progress"          json:"progress"`
	ImagesCount     int             `db:"images_count"      json:"images_count"`
	WebODMProjectID *int            `db:"webodm_project_id" json:"webodm_project_id,omitempty"`
	WebODMTaskID    *string         `db:"webodm_task_id"    json:"webodm_task_id,omitempty"`
	ProcessingTime  *float64        `db:"processing_time"   json:"processing_time,omitempty"`
	Outputs         json.RawMessage `db:"outputs"           json:"outputs,omitempty"`
	ErrorMessage    *string         `db:"error_message"     json:"error_message,omitempty"`
	CreatedAt       time.Time       `db:"created_at"        json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"        json:"updated_at"`
	CompletedAt     *time.Time      `db:"completed_at"      json:"completed_at,omitempty"`
}

// ProcessingOutputs is what a finished reconstruction exposes.
type ProcessingOutputs struct {
	Orthophoto string `json:"orthophoto"`
	Tiles      string `json:"tiles"`
}
