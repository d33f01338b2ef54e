package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid status transition")

// Store is the data access interface. All database operations go through here.
// Consumers usually depend on a narrower slice of it.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateMLResult(ctx context.Context, r *models.CachedResult) error
	GetLatestMLResult(ctx context.Context, flightID uuid.UUID, modelID string) (*models.CachedResult, error)
	ListMLResultsByFarm(ctx context.Context, farmID uuid.UUID, modelID string) ([]*models.CachedResult, error)

	CreateFarm(ctx context.Context, f *models.Farm) error
	GetFarm(ctx context.Context, id uuid.UUID) (*models.Farm, error)
	ListFarmsByOwner(ctx context.Context, ownerKeyID uuid.UUID) ([]*models.Farm, error)
	SetFarmPolygonID(ctx context.Context, id uuid.UUID, polygonID string) error

	GetFlight(ctx context.Context, id uuid.UUID) (*models.Flight, error)
	ListFlightsByFarm(ctx context.Context, farmID uuid.UUID, date *time.Time) ([]*models.Flight, error)
	GetOrCreateFlight(ctx context.Context, tmpl *models.Flight) (*models.Flight, error)
	UpdateFlightStatus(ctx context.Context, id uuid.UUID, status string) error

	UpsertLayer(ctx context.Context, l *models.ImageryLayer) (*models.ImageryLayer, error)
	GetLayer(ctx context.Context, id uuid.UUID) (*models.ImageryLayer, error)
	DeleteLayer(ctx context.Context, id uuid.UUID) error

	CreateProcessingJob(ctx context.Context, j *models.ProcessingJob) error
	GetProcessingJob(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error)
	ListActiveProcessingJobs(ctx context.Context, farmID uuid.UUID) ([]*models.ProcessingJob, error)
	ListUnfinishedProcessingJobs(ctx context.Context) ([]*models.ProcessingJob, error)
	UpdateProcessingJob(ctx context.Context, id uuid.UUID, status string, opts ...ProcessingUpdateOption) error
}

// ProcessingUpdate is the set of optional column changes of an
// UpdateProcessingJob call.
type ProcessingUpdate struct {
	Progress       *int
	ProjectID      *int
	TaskID         *string
	ErrorMessage   *string
	Outputs        json.RawMessage
	ProcessingTime *float64
}

type ProcessingUpdateOption func(*ProcessingUpdate)

// ApplyProcessingUpdate folds opts into a ProcessingUpdate.
func ApplyProcessingUpdate(opts ...ProcessingUpdateOption) ProcessingUpdate {
	var u ProcessingUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithProgress(p int) ProcessingUpdateOption {
	return func(u *ProcessingUpdate) {
		u.Progress = &p
	}
}

func WithWebODMTask(projectID int, taskID string) ProcessingUpdateOption {
	return func(u *ProcessingUpdate) {
		u.ProjectID = &projectID
		u.TaskID = &taskID
	}
}

func WithProcessingError(msg string) ProcessingUpdateOption {
	return func(u *ProcessingUpdate) {
		u.ErrorMessage = &msg
	}
}

func WithOutputs(outputs json.RawMessage, processingTime float64) ProcessingUpdateOption {
	return func(u *ProcessingUpdate) {
		u.Outputs = outputs
		u.ProcessingTime = &processingTime
	}
}
