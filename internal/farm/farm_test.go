package farm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/kiranshivaraju/agripay/internal/store"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

type fakeRepo struct {
	mu    sync.Mutex
	farms map[uuid.UUID]*models.Farm
}

func newFakeRepo() *fakeRepo { return &fakeRepo{farms: map[uuid.UUID]*models.Farm{}} }

func (r *fakeRepo) CreateFarm(_ context.Context, f *models.Farm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *f
	r.farms[f.ID] = &cp
	return nil
}

func (r *fakeRepo) GetFarm(_ context.Context, id uuid.UUID) (*models.Farm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.farms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *fakeRepo) ListFarmsByOwner(_ context.Context, owner uuid.UUID) ([]*models.Farm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.Farm{}
	for _, f := range r.farms {
		if f.OwnerKeyID == owner {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeRepo) SetFarmPolygonID(_ context.Context, id uuid.UUID, polygonID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.farms[id]
	if !ok {
		return store.ErrNotFound
	}
	f.AgroPolygonID = &polygonID
	return nil
}

type fakeAgro struct {
	err     error
	name    string
	latLngs [][2]float64
}

func (a *fakeAgro) RegisterPolygon(_ context.Context, name string, latLngs [][2]float64) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.name = name
	a.latLngs = latLngs
	return "poly-1", nil
}

func newTestService(repo Repository, agro PolygonRegistrar) *Service {
	return NewService(repo, agro, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// square is a 0.01 degree square on the equator, left open.
var square = []models.Coordinate{{36.80, 0}, {36.81, 0}, {36.81, 0.01}, {36.80, 0.01}}

func TestCreate_ClosesRingMeasuresAndRegisters(t *testing.T) {
	repo := newFakeRepo()
	agro := &fakeAgro{}
	svc := newTestService(repo, agro)
	owner := uuid.New()

	f, err := svc.Create(context.Background(), CreateRequest{Name: " North plot ", OwnerKeyID: owner, Boundary: square})
	require.NoError(t, err)

	assert.Equal(t, "North plot", f.Name)
	assert.Len(t, f.Boundary, 5)
	assert.Equal(t, f.Boundary[0], f.Boundary[4])
	assert.InDelta(t, 123.9, f.AreaHectares, 1.0)
	require.NotNil(t, f.AgroPolygonID)
	assert.Equal(t, "poly-1", *f.AgroPolygonID)

	assert.Equal(t, "North plot", agro.name)
	assert.Equal(t, [2]float64{0, 36.80}, agro.latLngs[0], "registered as lat, lng")

	stored, err := repo.GetFarm(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, "poly-1", *stored.AgroPolygonID)
	assert.Equal(t, owner, stored.OwnerKeyID)
}

func TestCreate_RegistrationFailureKeepsFarm(t *testing.T) {
	tests := []struct {
		name string
		agro PolygonRegistrar
	}{
		{"provider down", &fakeAgro{err: remote.ErrUnreachable}},
		{"provider not configured", &fakeAgro{err: remote.ErrNotConfigured}},
		{"no provider", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			svc := newTestService(repo, tt.agro)

			f, err := svc.Create(context.Background(), CreateRequest{Name: "a", OwnerKeyID: uuid.New(), Boundary: square})
			require.NoError(t, err)
			assert.Nil(t, f.AgroPolygonID)
			_, err = repo.GetFarm(context.Background(), f.ID)
			assert.NoError(t, err)
		})
	}
}

func TestCreate_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		farmName string
		boundary []models.Coordinate
		want     error
	}{
		{"blank name", "  ", square, ErrInvalidName},
		{"two points", "a", []models.Coordinate{{1, 1}, {2, 2}, {1, 1}}, ErrInvalidBoundary},
		{"latitude out of range", "a", []models.Coordinate{{1, 1}, {2, 95}, {3, 1}}, ErrInvalidBoundary},
		{"longitude out of range", "a", []models.Coordinate{{1, 1}, {181, 2}, {3, 1}}, ErrInvalidBoundary},
		{"bow tie", "a", []models.Coordinate{{0, 0}, {1, 1}, {1, 0}, {0, 1}}, ErrInvalidBoundary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			svc := newTestService(repo, &fakeAgro{})
			_, err := svc.Create(context.Background(), CreateRequest{Name: tt.farmName, Boundary: tt.boundary})
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, repo.farms)
		})
	}
}

func TestRegisterPolygon(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeAgro{err: remote.ErrUnreachable})
	f, err := svc.Create(context.Background(), CreateRequest{Name: "a", OwnerKeyID: uuid.New(), Boundary: square})
	require.NoError(t, err)
	require.Nil(t, f.AgroPolygonID)

	svc.agro = &fakeAgro{}
	got, err := svc.RegisterPolygon(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, "poly-1", *got.AgroPolygonID)

	_, err = svc.RegisterPolygon(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = newTestService(repo, nil).RegisterPolygon(context.Background(), f.ID)
	assert.ErrorIs(t, err, remote.ErrNotConfigured)
}

func TestList_OnlyOwnFarms(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil)
	mine, other := uuid.New(), uuid.New()
	for _, owner := range []uuid.UUID{mine, mine, other} {
		_, err := svc.Create(context.Background(), CreateRequest{Name: "a", OwnerKeyID: owner, Boundary: square})
		require.NoError(t, err)
	}

	farms, err := svc.List(context.Background(), mine)
	require.NoError(t, err)
	assert.Len(t, farms, 2)
}

func TestParseGeoJSON(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"geometry", `{"type":"Polygon","coordinates":[[[36.8,-1.2],[36.9,-1.2],[36.9,-1.3],[36.8,-1.2]]]}`},
		{"feature", `{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[36.8,-1.2],[36.9,-1.2],[36.9,-1.3],[36.8,-1.2]]]}}`},
		{"collection skips points", `{"type":"FeatureCollection","features":[
			{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[1,2]}},
			{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[36.8,-1.2],[36.9,-1.2],[36.9,-1.3],[36.8,-1.2]]]}}]}`},
		{"multipolygon", `{"type":"MultiPolygon","coordinates":[[[[36.8,-1.2],[36.9,-1.2],[36.9,-1.3],[36.8,-1.2]]]]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coords, err := ParseGeoJSON([]byte(tt.doc))
			require.NoError(t, err)
			require.Len(t, coords, 4)
			assert.Equal(t, models.Coordinate{36.8, -1.2}, coords[0])
			assert.Equal(t, models.Coordinate{36.9, -1.3}, coords[2])
		})
	}

	_, err := ParseGeoJSON([]byte(`{"type":"Point","coordinates":[1,2]}`))
	assert.ErrorIs(t, err, ErrInvalidBoundary)
	_, err = ParseGeoJSON([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidBoundary)
}

const sampleKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <name>Survey export</name>
    <Placemark>
      <name>Block B</name>
      <Polygon>
        <outerBoundaryIs>
          <LinearRing>
            <coordinates>
              36.8,-1.2,0 36.9,-1.2,0
              36.9,-1.3,0 36.8,-1.2,0
            </coordinates>
          </LinearRing>
        </outerBoundaryIs>
      </Polygon>
    </Placemark>
  </Document>
</kml>`

func TestParseKML(t *testing.T) {
	name, coords, err := ParseKML(strings.NewReader(sampleKML))
	require.NoError(t, err)
	assert.Equal(t, "Block B", name)
	require.Len(t, coords, 4)
	assert.Equal(t, models.Coordinate{36.8, -1.2}, coords[0])
	assert.Equal(t, models.Coordinate{36.9, -1.3}, coords[2])
}

func TestParseKML_Errors(t *testing.T) {
	for name, doc := range map[string]string{
		"no polygon":     `<kml><Document><Placemark><Point><coordinates>1,2</coordinates></Point></Placemark></Document></kml>`,
		"bad coordinate": `<kml><Polygon><outerBoundaryIs><LinearRing><coordinates>1;2 3,4</coordinates></LinearRing></outerBoundaryIs></Polygon></kml>`,
		"not xml":        `{"type":"Polygon"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseKML(strings.NewReader(doc))
			assert.True(t, errors.Is(err, ErrInvalidBoundary), "got %v", err)
		})
	}
}
