// Package overview gathers a farm's weather, soil and satellite vegetation
// data from several providers at once. Each source succeeds or fails on its
// own; one failure never hides the others.
package overview

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/kiranshivaraju/agripay/internal/agro"
	"github.com/kiranshivaraju/agripay/internal/sentinel"
	"github.com/kiranshivaraju/agripay/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Section names.
const (
	WeatherForecast   = "weather_forecast"
	Soil              = "soil"
	NDVIHistory       = "ndvi_history"
	SatelliteImages   = "satellite_images"
	CurrentWeather    = "current_weather"
	UVIndex           = "uv_index"
	VegetationStats   = "vegetation_stats"
	VegetationHistory = "vegetation_history"
)

// AgroSource is the polygon-keyed weather and soil provider.
type AgroSource interface {
	Forecast(ctx context.Context, polygonID string) (json.RawMessage, error)
	Weather(ctx context.Context, polygonID string) (json.RawMessage, error)
	Soil(ctx context.Context, polygonID string) (json.RawMessage, error)
	UVI(ctx context.Context, polygonID string) (json.RawMessage, error)
	NDVIHistory(ctx context.Context, polygonID string) (json.RawMessage, error)
	SearchImages(ctx context.Context, polygonID string) (json.RawMessage, error)
	GetPolygon(ctx context.Context, polygonID string) (*agro.Polygon, error)
}

// VegetationSource computes vegetation indices over a boundary.
type VegetationSource interface {
	Stats(ctx context.Context, boundary []models.Coordinate) (*models.VegetationStats, error)
	History(ctx context.Context, boundary []models.Coordinate, days int) ([]models.VegetationSample, error)
}

// Section is the outcome of one source.
type Section struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Overview maps section names to outcomes. Sections whose provider is not
// configured, or which lack the input they need, are absent.
type Overview struct {
	PolygonID string             `json:"polygon_id,omitempty"`
	Sections  map[string]Section `json:"sections"`
}

// Request selects the field. Boundary is [lng, lat] points; when empty it is
// read from the registered polygon.
type Request struct {
	PolygonID string
	Boundary  []models.Coordinate
}

// Service assembles overviews. Either source may be nil.
type Service struct {
	agro       AgroSource
	vegetation VegetationSource
	logger     *slog.Logger
}

func NewService(a AgroSource, v VegetationSource, logger *slog.Logger) *Service {
	return &Service{agro: a, vegetation: v, logger: logger}
}

// Get issues every applicable fetch concurrently and waits for all of them.
func (s *Service) Get(ctx context.Context, req Request) *Overview {
	out := &Overview{PolygonID: req.PolygonID, Sections: map[string]Section{}}
	var mu sync.Mutex
	record := func(name string, data any, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			out.Sections[name] = Section{Error: err.Error()}
			return
		}
		out.Sections[name] = Section{Data: data}
	}

	boundary := req.Boundary
	if len(boundary) == 0 && req.PolygonID != "" && s.agro != nil {
		if p, err := s.agro.GetPolygon(ctx, req.PolygonID); err == nil {
			boundary = p.Ring()
		} else {
			s.logger.Warn("polygon boundary lookup failed", "polygon_id", req.PolygonID, "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.agro != nil && req.PolygonID != "" {
		for name, fetch := range map[string]func(context.Context, string) (json.RawMessage, error){
			WeatherForecast: s.agro.Forecast,
			Soil:            s.agro.Soil,
			NDVIHistory:     s.agro.NDVIHistory,
			SatelliteImages: s.agro.SearchImages,
			CurrentWeather:  s.agro.Weather,
			UVIndex:         s.agro.UVI,
		} {
			g.Go(func() error {
				data, err := fetch(gctx, req.PolygonID)
				s.logFailure(name, err)
				record(name, data, err)
				return nil
			})
		}
	}

	if s.vegetation != nil && len(boundary) > 0 {
		g.Go(func() error {
			stats, err := s.vegetation.Stats(gctx, boundary)
			s.logFailure(VegetationStats, err)
			record(VegetationStats, stats, err)
			return nil
		})
		g.Go(func() error {
			history, err := s.vegetation.History(gctx, boundary, sentinel.DefaultHistoryDays)
			s.logFailure(VegetationHistory, err)
			record(VegetationHistory, history, err)
			return nil
		})
	}

	_ = g.Wait()
	return out
}

func (s *Service) logFailure(section string, err error) {
	if err == nil {
		return
	}
	// New polygons have no NDVI passes for a day or two.
	if section == NDVIHistory {
		s.logger.Info("ndvi history not available yet", "error", err)
		return
	}
	s.logger.Warn("overview source failed", "section", section, "error", err)
}
