package imagery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agripay/internal/drive"
	"github.com/kiranshivaraju/agripay/internal/objectstore"
	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/kiranshivaraju/agripay/internal/store"
	"github.com/kiranshivaraju/agripay/internal/tiler"
	"github.com/kiranshivaraju/agripay/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	flights map[uuid.UUID]*models.Flight
	layers  map[uuid.UUID]*models.ImageryLayer
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{flights: map[uuid.UUID]*models.Flight{}, layers: map[uuid.UUID]*models.ImageryLayer{}}
}

func (r *fakeRepo) withLayers(f *models.Flight) *models.Flight {
	cp := *f
	cp.Layers = nil
	for _, l := range r.layers {
		if l.FlightID == f.ID {
			cp.Layers = append(cp.Layers, *l)
		}
	}
	return &cp
}

func (r *fakeRepo) GetFlight(_ context.Context, id uuid.UUID) (*models.Flight, error) {
	f, ok := r.flights[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.withLayers(f), nil
}

func (r *fakeRepo) ListFlightsByFarm(_ context.Context, farmID uuid.UUID, date *time.Time) ([]*models.Flight, error) {
	var out []*models.Flight
	for _, f := range r.flights {
		if f.FarmID == farmID && (date == nil || f.FlightDate.Equal(*date)) {
			out = append(out, r.withLayers(f))
		}
	}
	return out, nil
}

func (r *fakeRepo) GetOrCreateFlight(_ context.Context, tmpl *models.Flight) (*models.Flight, error) {
	for _, f := range r.flights {
		if f.FarmID == tmpl.FarmID && f.FlightDate.Equal(tmpl.FlightDate) {
			return f, nil
		}
	}
	r.flights[tmpl.ID] = tmpl
	return tmpl, nil
}

func (r *fakeRepo) UpsertLayer(_ context.Context, l *models.ImageryLayer) (*models.ImageryLayer, error) {
	for id, existing := range r.layers {
		if existing.FlightID == l.FlightID && existing.LayerType == l.LayerType {
			cp := *l
			cp.ID = id
			r.layers[id] = &cp
			return &cp, nil
		}
	}
	cp := *l
	r.layers[l.ID] = &cp
	return &cp, nil
}

func (r *fakeRepo) GetLayer(_ context.Context, id uuid.UUID) (*models.ImageryLayer, error) {
	l, ok := r.layers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return l, nil
}

func (r *fakeRepo) DeleteLayer(_ context.Context, id uuid.UUID) error {
	delete(r.layers, id)
	return nil
}

type fakeTiler struct {
	tiler.Client
	err error
}

func (f *fakeTiler) Info(context.Context, string) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"crs":"EPSG:4326","bounds":[75.1,30.2,75.3,30.4]}`), nil
}

func (f *fakeTiler) Statistics(context.Context, string) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"b1":{"mean":0.61}}`), nil
}

type fakeDrive struct {
	files   []drive.File
	content map[string]string
}

func (d *fakeDrive) List(context.Context, string) ([]drive.File, error) {
	return d.files, nil
}

func (d *fakeDrive) Download(_ context.Context, id string) (io.ReadCloser, error) {
	c, ok := d.content[id]
	if !ok {
		return nil, &remote.StatusError{StatusCode: 404}
	}
	return io.NopCloser(strings.NewReader(c)), nil
}

func newTestService(t *testing.T, repo *fakeRepo, tl *fakeTiler, d *fakeDrive) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	tl.Client = *tiler.NewClient("http://tiles:8000", nil, time.Second)
	objects := objectstore.NewLocalStorage(dir, "https://cdn.example.com/imagery")
	svc := NewService(repo, objects, tl, d, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC) }
	return svc, dir
}

func TestUpload_CreatesFlightAndEnrichesLayer(t *testing.T) {
	repo := newFakeRepo()
	svc, dir := newTestService(t, repo, &fakeTiler{}, &fakeDrive{})
	farmID := uuid.New()
	date := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)

	res, err := svc.Upload(context.Background(), UploadRequest{
		FarmID: farmID, FlightDate: date, LayerType: "ndvi", Body: strings.NewReader("geotiff"),
	})
	require.NoError(t, err)

	wantName := farmID.String() + "_20240312_ndvi.tif"
	assert.Equal(t, farmID.String()+"/"+wantName, res.StoragePath)
	assert.Equal(t, "2024-03-12", res.FlightDate)
	assert.Equal(t, wantName, res.Layer.Filename)
	assert.Equal(t, int64(7), res.Layer.FileSizeBytes)
	require.NotNil(t, res.Layer.CRS)
	assert.Equal(t, "EPSG:4326", *res.Layer.CRS)
	assert.Equal(t, []float64{75.1, 30.2, 75.3, 30.4}, res.Layer.Bounds)
	assert.JSONEq(t, `{"b1":{"mean":0.61}}`, string(res.Layer.Statistics))

	data, err := os.ReadFile(filepath.Join(dir, farmID.String(), wantName))
	require.NoError(t, err)
	assert.Equal(t, "geotiff", string(data))

	again, err := svc.Upload(context.Background(), UploadRequest{
		FarmID: farmID, FlightDate: date, LayerType: "rgb", Body: strings.NewReader("rgb"),
	})
	require.NoError(t, err)
	assert.Equal(t, res.FlightID, again.FlightID, "same date reuses the flight")
	assert.Len(t, repo.flights, 1)
}

func TestUpload_TilerDownStillSaves(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo, &fakeTiler{err: remote.ErrUnreachable}, &fakeDrive{})

	res, err := svc.Upload(context.Background(), UploadRequest{
		FarmID: uuid.New(), FlightDate: time.Now(), LayerType: "thermal", Body: strings.NewReader("x"),
	})
	require.NoError(t, err)
	assert.Nil(t, res.Layer.CRS)
	assert.Nil(t, res.Layer.Bounds)
	assert.Len(t, repo.layers, 1)
}

func TestUpload_InvalidLayerType(t *testing.T) {
	svc, _ := newTestService(t, newFakeRepo(), &fakeTiler{}, &fakeDrive{})
	_, err := svc.Upload(context.Background(), UploadRequest{
		FarmID: uuid.New(), LayerType: "infrared", Body: strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, ErrInvalidLayerType)
}

func TestResource(t *testing.T) {
	svc, _ := newTestService(t, newFakeRepo(), &fakeTiler{}, &fakeDrive{})
	farmID := uuid.New()
	layer := &models.ImageryLayer{Filename: "f_20240312_ndvi.tif"}

	local := &models.Flight{FarmID: farmID, StorageLocation: models.StorageLocal}
	assert.Equal(t, "file:///data/f_20240312_ndvi.tif", svc.Resource(local, layer))

	cloud := &models.Flight{FarmID: farmID, StorageLocation: models.StorageCloud}
	assert.Equal(t, "https://cdn.example.com/imagery/"+farmID.String()+"/f_20240312_ndvi.tif", svc.Resource(cloud, layer))
}

func TestListFlights_AddsDisplayURLs(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo, &fakeTiler{}, &fakeDrive{})
	farmID := uuid.New()
	_, err := svc.Upload(context.Background(), UploadRequest{
		FarmID: farmID, FlightDate: time.Now(), LayerType: "ndvi", Body: strings.NewReader("x"),
	})
	require.NoError(t, err)

	flights, err := svc.ListFlights(context.Background(), farmID, nil)
	require.NoError(t, err)
	require.Len(t, flights, 1)
	require.Len(t, flights[0].Layers, 1)
	v := flights[0].Layers[0]
	assert.True(t, strings.HasPrefix(v.TileURL, "http://tiles:8000/cog/tiles/{z}/{x}/{y}?"))
	assert.Contains(t, v.TileURL, "colormap_name=rdylgn")
	assert.Contains(t, v.PreviewURL, "max_size=512")
}

func TestListFlights_ByDate(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(t, repo, &fakeTiler{}, &fakeDrive{})
	farmID := uuid.New()
	march := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	may := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for _, d := range []time.Time{march, may} {
		_, err := svc.Upload(context.Background(), UploadRequest{
			FarmID: farmID, FlightDate: d, LayerType: "rgb", Body: strings.NewReader("x"),
		})
		require.NoError(t, err)
	}

	all, err := svc.ListFlights(context.Background(), farmID, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	got, err := svc.ListFlights(context.Background(), farmID, &may)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, may, got[0].FlightDate)

	none := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err = svc.ListFlights(context.Background(), farmID, &none)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeleteLayer(t *testing.T) {
	repo := newFakeRepo()
	svc, dir := newTestService(t, repo, &fakeTiler{}, &fakeDrive{})
	farmID := uuid.New()
	res, err := svc.Upload(context.Background(), UploadRequest{
		FarmID: farmID, FlightDate: time.Now(), LayerType: "lai", Body: strings.NewReader("x"),
	})
	require.NoError(t, err)

	err = svc.DeleteLayer(context.Background(), uuid.New(), res.Layer.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "other farm's layer")

	require.NoError(t, svc.DeleteLayer(context.Background(), farmID, res.Layer.ID))
	assert.Empty(t, repo.layers)
	_, err = os.Stat(filepath.Join(dir, filepath.FromSlash(res.StoragePath)))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestImportFromDrive_CollectsFailures(t *testing.T) {
	repo := newFakeRepo()
	d := &fakeDrive{
		files: []drive.File{
			{ID: "a", Name: "farm_20240312_ndvi.tif"},
			{ID: "b", Name: "notes.txt", MimeType: "text/plain"},
			{ID: "c", Name: "thermal.tiff"},
			{ID: "gone", Name: "2024-03-12_rgb.tif"},
		},
		content: map[string]string{"a": "ndvi", "c": "thermal"},
	}
	svc, _ := newTestService(t, repo, &fakeTiler{}, d)
	farmID := uuid.New()

	res, err := svc.ImportFromDrive(context.Background(), "folder", farmID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalFound)
	require.Len(t, res.Processed, 3)

	assert.True(t, res.Processed[0].Success)
	assert.Equal(t, "2024-03-12", res.Processed[0].Result.FlightDate)

	assert.True(t, res.Processed[1].Success)
	assert.Equal(t, "2024-05-01", res.Processed[1].Result.FlightDate, "undated files land on today")
	assert.Equal(t, "thermal", res.Processed[1].Result.Layer.LayerType)

	assert.False(t, res.Processed[2].Success)
	assert.Equal(t, "2024-03-12_rgb.tif", res.Processed[2].OriginalName)
	assert.NotEmpty(t, res.Processed[2].Error)
}
