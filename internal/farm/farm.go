// Package farm registers farms and their field boundaries. A boundary is
// validated and measured here, then registered with the agronomy provider
// so the farm overview can resolve its polygon.
package farm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

var (
	ErrInvalidBoundary = errors.New("invalid farm boundary")
	ErrInvalidName     = errors.New("farm name is required")
)

// Repository is the persistence the service needs.
type Repository interface {
	CreateFarm(ctx context.Context, f *models.Farm) error
	GetFarm(ctx context.Context, id uuid.UUID) (*models.Farm, error)
	ListFarmsByOwner(ctx context.Context, ownerKeyID uuid.UUID) ([]*models.Farm, error)
	SetFarmPolygonID(ctx context.Context, id uuid.UUID, polygonID string) error
}

// PolygonRegistrar registers a boundary, given as [lat, lng] points, with
// the agronomy provider and returns its polygon id.
type PolygonRegistrar interface {
	RegisterPolygon(ctx context.Context, name string, latLngs [][2]float64) (string, error)
}

type Service struct {
	repo   Repository
	agro   PolygonRegistrar
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, agro PolygonRegistrar, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, agro: agro, logger: logger, now: time.Now}
}

// CreateRequest describes a new farm. Boundary is [lng, lat] points; the
// ring is closed if needed.
type CreateRequest struct {
	Name       string
	OwnerKeyID uuid.UUID
	Boundary   []models.Coordinate
}

// Create validates the boundary, stores the farm and registers its polygon.
// A failed registration leaves the farm without a polygon id and can be
// retried with RegisterPolygon.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Farm, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrInvalidName
	}
	ring, err := normalize(req.Boundary)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	f := &models.Farm{
		ID:           uuid.New(),
		Name:         name,
		OwnerKeyID:   req.OwnerKeyID,
		Boundary:     ring,
		AreaHectares: areaHectares(ring),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateFarm(ctx, f); err != nil {
		return nil, fmt.Errorf("create farm: %w", err)
	}
	s.logger.Info("farm created", "farm_id", f.ID, "area_ha", f.AreaHectares, "points", len(ring))

	if s.agro == nil {
		return f, nil
	}
	if id, err := s.register(ctx, f); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, remote.ErrNotConfigured) {
			level = slog.LevelDebug
		}
		s.logger.Log(ctx, level, "farm polygon not registered", "farm_id", f.ID, "error", err)
	} else {
		f.AgroPolygonID = &id
	}
	return f, nil
}

// RegisterPolygon registers the farm's stored boundary again and records
// the new polygon id.
func (s *Service) RegisterPolygon(ctx context.Context, farmID uuid.UUID) (*models.Farm, error) {
	if s.agro == nil {
		return nil, remote.ErrNotConfigured
	}
	f, err := s.repo.GetFarm(ctx, farmID)
	if err != nil {
		return nil, err
	}
	id, err := s.register(ctx, f)
	if err != nil {
		return nil, err
	}
	f.AgroPolygonID = &id
	return f, nil
}

func (s *Service) register(ctx context.Context, f *models.Farm) (string, error) {
	id, err := s.agro.RegisterPolygon(ctx, f.Name, f.LatLngs())
	if err != nil {
		return "", err
	}
	if err := s.repo.SetFarmPolygonID(ctx, f.ID, id); err != nil {
		return "", fmt.Errorf("save polygon id: %w", err)
	}
	return id, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Farm, error) {
	return s.repo.GetFarm(ctx, id)
}

// List returns the farms registered by one key.
func (s *Service) List(ctx context.Context, ownerKeyID uuid.UUID) ([]*models.Farm, error) {
	return s.repo.ListFarmsByOwner(ctx, ownerKeyID)
}
