// Package imagery manages the GeoTIFF layers of drone flights: uploads,
// Google Drive imports, deletion, and resolving where the tile server reads
// each layer from.
package imagery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agripay/internal/drive"
	"github.com/kiranshivaraju/agripay/internal/store"
	"github.com/kiranshivaraju/agripay/internal/tiler"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

var ErrInvalidLayerType = errors.New("invalid layer type")

// Repository is the persistence the service needs.
type Repository interface {
	GetFlight(ctx context.Context, id uuid.UUID) (*models.Flight, error)
	ListFlightsByFarm(ctx context.Context, farmID uuid.UUID, date *time.Time) ([]*models.Flight, error)
	GetOrCreateFlight(ctx context.Context, tmpl *models.Flight) (*models.Flight, error)
	UpsertLayer(ctx context.Context, l *models.ImageryLayer) (*models.ImageryLayer, error)
	GetLayer(ctx context.Context, id uuid.UUID) (*models.ImageryLayer, error)
	DeleteLayer(ctx context.Context, id uuid.UUID) error
}

// ObjectStore holds the layer files.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// Tiler supplies raster metadata and display URLs.
type Tiler interface {
	Info(ctx context.Context, resource string) (json.RawMessage, error)
	Statistics(ctx context.Context, resource string) (json.RawMessage, error)
	TileURL(resource string, o tiler.Options) string
	PreviewURL(resource string, o tiler.Options) string
}

// DriveSource lists and downloads files of a shared folder.
type DriveSource interface {
	List(ctx context.Context, folderID string) ([]drive.File, error)
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
}

type Service struct {
	repo   Repository
	store  ObjectStore
	tiler  Tiler
	drive  DriveSource
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, objects ObjectStore, t Tiler, d DriveSource, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		store:  objects,
		tiler:  t,
		drive:  d,
		logger: logger,
		now:    time.Now,
	}
}

// UploadRequest describes one layer file.
type UploadRequest struct {
	FarmID     uuid.UUID
	FlightDate time.Time
	LayerType  string
	PilotName  *string
	DroneModel *string
	Altitude   *float64
	Body       io.Reader
}

// UploadResult reports where an uploaded layer ended up.
type UploadResult struct {
	FlightID    uuid.UUID            `json:"flight_id"`
	FlightDate  string               `json:"flight_date"`
	Layer       *models.ImageryLayer `json:"layer"`
	StoragePath string               `json:"storage_path"`
}

// Upload stores the file, finds or creates the flight of that date, reads
// raster metadata from the tile server when it is reachable, and upserts the
// layer row. Re-uploading the same layer type replaces the previous file.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if !ValidLayerType(req.LayerType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLayerType, req.LayerType)
	}

	filename := ObjectName(req.FarmID, req.FlightDate, req.LayerType)
	key := ObjectKey(req.FarmID, filename)
	size, err := s.store.Put(ctx, key, req.Body)
	if err != nil {
		return nil, fmt.Errorf("store layer file: %w", err)
	}

	flight, err := s.repo.GetOrCreateFlight(ctx, &models.Flight{
		ID:              uuid.New(),
		FarmID:          req.FarmID,
		FlightDate:      req.FlightDate,
		PilotName:       req.PilotName,
		DroneModel:      req.DroneModel,
		AltitudeMeters:  req.Altitude,
		StorageLocation: models.StorageCloud,
		CreatedAt:       s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("get or create flight: %w", err)
	}

	layer := &models.ImageryLayer{
		ID:            uuid.New(),
		FlightID:      flight.ID,
		LayerType:     req.LayerType,
		Filename:      filename,
		FileSizeBytes: size,
		CreatedAt:     s.now().UTC(),
	}
	s.enrich(ctx, s.Resource(flight, layer), layer)

	saved, err := s.repo.UpsertLayer(ctx, layer)
	if err != nil {
		return nil, fmt.Errorf("save layer: %w", err)
	}

	s.logger.Info("imagery layer uploaded",
		"farm_id", req.FarmID, "flight_id", flight.ID, "layer_type", req.LayerType, "bytes", size)

	return &UploadResult{
		FlightID:    flight.ID,
		FlightDate:  flight.FlightDate.Format(time.DateOnly),
		Layer:       saved,
		StoragePath: key,
	}, nil
}

// enrich fills CRS, bounds and statistics from the tile server. Failures
// leave the fields empty.
func (s *Service) enrich(ctx context.Context, resource string, layer *models.ImageryLayer) {
	if info, err := s.tiler.Info(ctx, resource); err == nil {
		var meta struct {
			CRS    string    `json:"crs"`
			Bounds []float64 `json:"bounds"`
		}
		if json.Unmarshal(info, &meta) == nil {
			if meta.CRS != "" {
				layer.CRS = &meta.CRS
			}
			if len(meta.Bounds) == 4 {
				layer.Bounds = meta.Bounds
			}
		}
	} else {
		s.logger.Debug("tile server metadata unavailable", "resource", resource, "error", err)
	}

	if stats, err := s.tiler.Statistics(ctx, resource); err == nil {
		layer.Statistics = stats
	}
}

// Resource returns the URL the tile server reads the layer from: a file in
// its mounted data directory for local flights, the public object URL
// otherwise.
func (s *Service) Resource(flight *models.Flight, layer *models.ImageryLayer) string {
	if flight.StorageLocation == models.StorageLocal {
		return tiler.LocalResource(layer.Filename)
	}
	key := ObjectKey(flight.FarmID, layer.Filename)
	if u := s.store.URL(key); u != "" {
		return u
	}
	return tiler.LocalResource(key)
}

// LayerView is a layer with the URLs a map needs to display it.
type LayerView struct {
	models.ImageryLayer
	Resource   string `json:"resource"`
	TileURL    string `json:"tile_url"`
	PreviewURL string `json:"preview_url"`
}

// FlightView is a flight with displayable layers.
type FlightView struct {
	*models.Flight
	Layers []LayerView `json:"layers"`
}

// ListFlights returns the farm's flights, newest first, each with its layers
// styled by the layer type's preset. A non-nil date narrows the list to the
// flight on that day.
func (s *Service) ListFlights(ctx context.Context, farmID uuid.UUID, date *time.Time) ([]FlightView, error) {
	flights, err := s.repo.ListFlightsByFarm(ctx, farmID, date)
	if err != nil {
		return nil, fmt.Errorf("list flights: %w", err)
	}

	out := make([]FlightView, 0, len(flights))
	for _, f := range flights {
		v := FlightView{Flight: f, Layers: make([]LayerView, 0, len(f.Layers))}
		for i := range f.Layers {
			v.Layers = append(v.Layers, s.view(f, &f.Layers[i]))
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) view(f *models.Flight, l *models.ImageryLayer) LayerView {
	res := s.Resource(f, l)
	preset, _ := tiler.PresetFor(l.LayerType)
	return LayerView{
		ImageryLayer: *l,
		Resource:     res,
		TileURL:      s.tiler.TileURL(res, preset.Options),
		PreviewURL:   s.tiler.PreviewURL(res, preset.Options),
	}
}

// FlightLayer returns a flight and one of its layers, for callers that need
// the layer's resource URL.
func (s *Service) FlightLayer(ctx context.Context, flightID uuid.UUID, layerType string) (*models.Flight, *models.ImageryLayer, error) {
	f, err := s.repo.GetFlight(ctx, flightID)
	if err != nil {
		return nil, nil, err
	}
	l, ok := f.Layer(layerType)
	if !ok {
		return f, nil, fmt.Errorf("flight %s has no %s layer: %w", flightID, layerType, store.ErrNotFound)
	}
	return f, l, nil
}

// DeleteLayer removes the stored file and then the layer row. The layer
// must belong to one of farmID's flights.
func (s *Service) DeleteLayer(ctx context.Context, farmID, layerID uuid.UUID) error {
	layer, err := s.repo.GetLayer(ctx, layerID)
	if err != nil {
		return err
	}
	flight, err := s.repo.GetFlight(ctx, layer.FlightID)
	if err != nil {
		return err
	}
	if flight.FarmID != farmID {
		return store.ErrNotFound
	}

	if err := s.store.Delete(ctx, ObjectKey(farmID, layer.Filename)); err != nil {
		return fmt.Errorf("delete layer file: %w", err)
	}
	if err := s.repo.DeleteLayer(ctx, layerID); err != nil {
		return fmt.Errorf("delete layer: %w", err)
	}
	s.logger.Info("imagery layer deleted", "farm_id", farmID, "layer_id", layerID)
	return nil
}

// ImportItem is the outcome of importing one Drive file.
type ImportItem struct {
	OriginalName string        `json:"original_name"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Result       *UploadResult `json:"result,omitempty"`
}

// ImportResult summarizes a Drive folder import.
type ImportResult struct {
	TotalFound int          `json:"total_found"`
	Processed  []ImportItem `json:"processed"`
}

// ImportFromDrive uploads every GeoTIFF of a shared folder. Date and layer
// type come from each filename, defaulting to today and rgb. A file that
// fails is recorded and the import moves on.
func (s *Service) ImportFromDrive(ctx context.Context, folderID string, farmID uuid.UUID) (*ImportResult, error) {
	files, err := s.drive.List(ctx, folderID)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{Processed: []ImportItem{}}
	for _, f := range files {
		if !f.IsGeoTIFF() {
			continue
		}
		res.TotalFound++

		upload, err := s.importFile(ctx, f, farmID)
		if err != nil {
			s.logger.Warn("drive file import failed", "farm_id", farmID, "file", f.Name, "error", err)
			res.Processed = append(res.Processed, ImportItem{OriginalName: f.Name, Error: err.Error()})
			continue
		}
		res.Processed = append(res.Processed, ImportItem{OriginalName: f.Name, Success: true, Result: upload})
	}
	return res, nil
}

func (s *Service) importFile(ctx context.Context, f drive.File, farmID uuid.UUID) (*UploadResult, error) {
	body, err := s.drive.Download(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	parsed := ParseFilename(f.Name)
	date := s.now().UTC().Truncate(24 * time.Hour)
	if parsed.Date != nil {
		date = *parsed.Date
	}
	return s.Upload(ctx, UploadRequest{
		FarmID:     farmID,
		FlightDate: date,
		LayerType:  parsed.LayerType,
		Body:       body,
	})
}
