// Package results is the read-through cache of completed ML analyses.
// Lookups never fail: anything other than a hit is reported as a miss.
// Saves never fail either; errors are logged and dropped.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agripay/internal/store"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

// Repository is the persistence the service needs.
type Repository interface {
	CreateMLResult(ctx context.Context, r *models.CachedResult) error
	GetLatestMLResult(ctx context.Context, flightID uuid.UUID, modelID string) (*models.CachedResult, error)
	ListMLResultsByFarm(ctx context.Context, farmID uuid.UUID, modelID string) ([]*models.CachedResult, error)
}

type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// Lookup returns the most recent result for flightID and modelID.
// An empty modelID selects models.DefaultModelID.
func (s *Service) Lookup(ctx context.Context, flightID uuid.UUID, modelID string) (*models.CachedResult, bool) {
	if modelID == "" {
		modelID = models.DefaultModelID
	}

	r, err := s.repo.GetLatestMLResult(ctx, flightID, modelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("cached result lookup failed",
			"flight_id", flightID, "model_id", modelID, "error", err)
		return nil, false
	}
	return r, true
}

// SaveParams describes a completed job to persist.
type SaveParams struct {
	FarmID        uuid.UUID
	FlightID      *uuid.UUID
	LayerID       *uuid.UUID
	JobID         string
	ModelID       string
	ImageFilename string
	Result        json.RawMessage
}

// Save persists a completed result. The processing time is taken from the
// payload's processing_time_seconds field when present.
func (s *Service) Save(ctx context.Context, p SaveParams) {
	modelID := p.ModelID
	if modelID == "" {
		modelID = models.DefaultModelID
	}

	r := &models.CachedResult{
		ID:                    uuid.New(),
		FarmID:                p.FarmID,
		FlightID:              p.FlightID,
		LayerID:               p.LayerID,
		ModelID:               modelID,
		ImageFilename:         p.ImageFilename,
		ResultData:            p.Result,
		ProcessingTimeSeconds: processingTime(p.Result),
		AnalyzedAt:            s.now().UTC(),
	}
	if p.JobID != "" {
		jobID := p.JobID
		r.JobID = &jobID
	}
	if len(r.ResultData) == 0 {
		r.ResultData = json.RawMessage(`{}`)
	}

	if err := s.repo.CreateMLResult(ctx, r); err != nil {
		s.logger.Error("failed to save ml result",
			"farm_id", p.FarmID, "job_id", p.JobID, "model_id", modelID, "error", err)
		return
	}
	s.logger.Info("ml result saved", "farm_id", p.FarmID, "job_id", p.JobID, "model_id", modelID)
}

// ListByFarm returns every saved result of modelID for a farm, newest first.
func (s *Service) ListByFarm(ctx context.Context, farmID uuid.UUID, modelID string) ([]*models.CachedResult, error) {
	if modelID == "" {
		modelID = models.DefaultModelID
	}
	return s.repo.ListMLResultsByFarm(ctx, farmID, modelID)
}

func processingTime(raw json.RawMessage) *float64 {
	var payload struct {
		ProcessingTimeSeconds *float64 `json:"processing_time_seconds"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &payload) != nil {
		return nil
	}
	return payload.ProcessingTimeSeconds
}
