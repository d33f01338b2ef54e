package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/kiranshivaraju/agripay/internal/cache"
	"github.com/kiranshivaraju/agripay/internal/compute"
	"github.com/kiranshivaraju/agripay/internal/mocks"
	"github.com/kiranshivaraju/agripay/internal/poller"
	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/kiranshivaraju/agripay/internal/results"
	"github.com/kiranshivaraju/agripay/internal/store"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

const tick = 5 * time.Millisecond

type fakeResults struct {
	mu     sync.Mutex
	cached map[uuid.UUID]*models.CachedResult
	saved  []results.SaveParams
	// onSave runs before a save is recorded.
	onSave func()
}

func (f *fakeResults) Lookup(_ context.Context, flightID uuid.UUID, _ string) (*models.CachedResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.cached[flightID]
	return r, ok
}

func (f *fakeResults) Save(_ context.Context, p results.SaveParams) {
	if f.onSave != nil {
		f.onSave()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, p)
}

func (f *fakeResults) savedParams() []results.SaveParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]results.SaveParams(nil), f.saved...)
}

type fakeFlights struct {
	flight *models.Flight
}

func (f *fakeFlights) FlightLayer(_ context.Context, id uuid.UUID, layerType string) (*models.Flight, *models.ImageryLayer, error) {
	if f.flight == nil || f.flight.ID != id {
		return nil, nil, store.ErrNotFound
	}
	l, ok := f.flight.Layer(layerType)
	if !ok {
		return f.flight, nil, fmt.Errorf("no %s layer: %w", layerType, store.ErrNotFound)
	}
	return f.flight, l, nil
}

type fakeCache struct {
	mu        sync.Mutex
	values    map[string][]byte
	snapshots map[string][]models.Job
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string][]byte{}, snapshots: map[string][]models.Job{}}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[key]
	return ok
}

func (c *fakeCache) SetJobSnapshot(_ context.Context, job *models.Job, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[job.ID] = append(c.snapshots[job.ID], *job)
	return nil
}

func (c *fakeCache) GetJobSnapshot(_ context.Context, jobID string) (*models.Job, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snaps := c.snapshots[jobID]
	if len(snaps) == 0 {
		return nil, false, nil
	}
	j := snaps[len(snaps)-1]
	return &j, true, nil
}

type fixture struct {
	svc     *Service
	compute *mocks.MockClient
	results *fakeResults
	cache   *fakeCache
	flight  *models.Flight
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)

	flight := &models.Flight{
		ID:         uuid.New(),
		FarmID:     uuid.New(),
		FlightDate: time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC),
	}
	flight.Layers = []models.ImageryLayer{{
		ID:        uuid.New(),
		FlightID:  flight.ID,
		LayerType: "rgb",
		Filename:  "farm_20240312_rgb.tif",
	}}

	f := &fixture{
		compute: client,
		results: &fakeResults{cached: map[uuid.UUID]*models.CachedResult{}},
		cache:   newFakeCache(),
		flight:  flight,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(client, f.results, &fakeFlights{flight: flight}, f.cache,
		poller.New(tick), poller.New(tick), Config{AssetTTL: 2 * time.Hour}, logger)
	// Registered after the controller so it runs before the mock's Finish.
	t.Cleanup(f.svc.CancelAll)
	return f
}

func (f *fixture) waitStatus(t *testing.T, subject string, want Status) State {
	t.Helper()
	require.Eventually(t, func() bool { return f.svc.State(subject).Status == want },
		2*time.Second, tick, "panel never reached %s", want)
	return f.svc.State(subject)
}

func scriptedStatus(snaps ...models.Job) func(context.Context, string) (*models.Job, error) {
	var calls atomic.Int32
	return func(_ context.Context, jobID string) (*models.Job, error) {
		i := int(calls.Add(1)) - 1
		if i >= len(snaps) {
			i = len(snaps) - 1
		}
		j := snaps[i]
		j.ID = jobID
		return &j, nil
	}
}

func TestAnalyzeFlight_SubmitPollSaveFetch(t *testing.T) {
	f := newFixture(t)
	subject := FlightSubject(f.flight.ID)

	f.compute.EXPECT().AnalyzeByFilename(gomock.Any(), "farm_20240312_rgb.tif", models.DefaultModelID).
		Return(&compute.Submission{JobID: "job-1", Status: models.JobStatusQueued}, nil)
	f.compute.EXPECT().JobStatus(gomock.Any(), "job-1").DoAndReturn(scriptedStatus(
		models.Job{Status: models.JobStatusProcessing, Progress: 40, Message: "Counting plants"},
		models.Job{Status: models.JobStatusCompleted, Progress: 100, Result: json.RawMessage(`{"total_count":532,"average_size":18.5}`)},
	)).Times(2)
	f.compute.EXPECT().DownloadResult(gomock.Any(), "job-1", models.AssetCounting).
		Return(&compute.Asset{ContentType: "image/jpeg", Data: []byte("jpeg")}, nil)

	st, err := f.svc.AnalyzeFlight(context.Background(), f.flight.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusAnalyzing, st.Status)
	assert.Equal(t, "job-1", st.JobID)
	assert.Equal(t, MsgSubmitted, st.Message)

	st = f.waitStatus(t, subject, StatusCompleted)
	assert.Equal(t, 100, st.Progress)
	assert.False(t, st.FromCache)
	assert.Equal(t, float64(532), st.Summary["total_count"])
	require.NotNil(t, st.AnalyzedAt)

	saved := f.results.savedParams()
	require.Len(t, saved, 1)
	assert.Equal(t, "job-1", saved[0].JobID)
	assert.Equal(t, f.flight.FarmID, saved[0].FarmID)
	assert.Equal(t, f.flight.ID, *saved[0].FlightID)
	assert.Equal(t, f.flight.Layers[0].ID, *saved[0].LayerID)
	assert.JSONEq(t, `{"total_count":532,"average_size":18.5}`, string(saved[0].Result))

	require.Eventually(t, func() bool { return f.cache.has(cache.AssetKey("job-1", models.AssetCounting)) },
		time.Second, tick, "counting image is prefetched")

	snap, ok := f.svc.JobSnapshot(context.Background(), "job-1")
	require.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, snap.Status)
	f.cache.mu.Lock()
	assert.Equal(t, 40, f.cache.snapshots["job-1"][0].Progress)
	f.cache.mu.Unlock()
}

func TestAnalyzeFlight_CacheHit(t *testing.T) {
	f := newFixture(t)
	jobID := "job-old"
	analyzedAt := time.Date(2024, 3, 13, 9, 0, 0, 0, time.UTC)
	f.results.cached[f.flight.ID] = &models.CachedResult{
		ID: uuid.New(), FlightID: &f.flight.ID, JobID: &jobID,
		ModelID: models.DefaultModelID, ImageFilename: "farm_20240312_rgb.tif",
		ResultData: json.RawMessage(`{"total_count":532}`),
		AnalyzedAt: analyzedAt,
	}

	st, err := f.svc.AnalyzeFlight(context.Background(), f.flight.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.True(t, st.FromCache)
	assert.Equal(t, MsgLoadedFromCache, st.Message)
	assert.Equal(t, "job-old", st.JobID)
	assert.Equal(t, float64(532), st.Summary["total_count"])
	assert.Equal(t, analyzedAt, *st.AnalyzedAt)
	assert.Empty(t, f.results.savedParams())
}

func TestAnalyzeFlight_ForceSkipsCache(t *testing.T) {
	f := newFixture(t)
	f.results.cached[f.flight.ID] = &models.CachedResult{ResultData: json.RawMessage(`{"total_count":1}`)}

	f.compute.EXPECT().AnalyzeByFilename(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&compute.Submission{JobID: "job-2"}, nil)
	f.compute.EXPECT().JobStatus(gomock.Any(), "job-2").
		Return(&models.Job{ID: "job-2", Status: models.JobStatusProcessing}, nil).AnyTimes()

	st, err := f.svc.AnalyzeFlight(context.Background(), f.flight.ID, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, StatusAnalyzing, st.Status)
	assert.False(t, st.FromCache)
	assert.Equal(t, "job-2", st.JobID)
}

func TestAnalyzeFlight_SubmitFailure(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{
			name:    "upstream detail",
			err:     fmt.Errorf("analyze: %w", &remote.StatusError{StatusCode: 404, Detail: "Image not found"}),
			message: "Image not found",
		},
		{
			name:    "transport error",
			err:     fmt.Errorf("analyze: %w", remote.ErrUnreachable),
			message: MsgSubmitFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.compute.EXPECT().AnalyzeByFilename(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, tt.err)

			st, err := f.svc.AnalyzeFlight(context.Background(), f.flight.ID, Options{Force: true})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, StatusFailed, st.Status)
			assert.Equal(t, tt.message, st.Message)
			assert.Empty(t, f.results.savedParams())
		})
	}
}

func TestAnalyzeFlight_LostConnection(t *testing.T) {
	f := newFixture(t)
	f.compute.EXPECT().AnalyzeByFilename(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&compute.Submission{JobID: "job-1"}, nil)
	f.compute.EXPECT().JobStatus(gomock.Any(), "job-1").Return(nil, remote.ErrUnreachable)

	_, err := f.svc.AnalyzeFlight(context.Background(), f.flight.ID, Options{Force: true})
	require.NoError(t, err)

	st := f.waitStatus(t, FlightSubject(f.flight.ID), StatusFailed)
	assert.Equal(t, poller.LostConnectionMessage, st.Message)
	assert.Empty(t, f.results.savedParams())
}

func TestAnalyzeFlight_JobFailed(t *testing.T) {
	f := newFixture(t)
	f.compute.EXPECT().AnalyzeByFilename(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&compute.Submission{JobID: "job-1"}, nil)
	f.compute.EXPECT().JobStatus(gomock.Any(), "job-1").
		Return(&models.Job{ID: "job-1", Status: models.JobStatusFailed, Error: "CUDA out of memory"}, nil)

	_, err := f.svc.AnalyzeFlight(context.Background(), f.flight.ID, Options{Force: true})
	require.NoError(t, err)

	st := f.waitStatus(t, FlightSubject(f.flight.ID), StatusFailed)
	assert.Equal(t, "CUDA out of memory", st.Message)
}

func TestAnalyzeFlight_FailureClearsProgress(t *testing.T) {
	f := newFixture(t)
	subject := FlightSubject(f.flight.ID)
	f.compute.EXPECT().AnalyzeByFilename(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&compute.Submission{JobID: "job-1"}, nil)
	f.compute.EXPECT().JobStatus(gomock.Any(), "job-1").DoAndReturn(scriptedStatus(
		models.Job{Status: models.JobStatusProcessing, Progress: 40},
		models.Job{Status: models.JobStatusFailed, Progress: 40, Error: "CUDA out of memory"},
	)).Times(2)

	_, err := f.svc.AnalyzeFlight(context.Background(), f.flight.ID, Options{Force: true})
	require.NoError(t, err)

	st := f.waitStatus(t, subject, StatusFailed)
	assert.Zero(t, st.Progress)
	assert.Equal(t, "CUDA out of memory", st.Error)
}

func TestAnalyzeFlight_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AnalyzeFlight(context.Background(), uuid.New(), Options{})
	assert.ErrorIs(t, err, ErrFlightNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.AnalyzeFlight(context.Background(), f.flight.ID, Options{LayerType: "thermal"})
	assert.ErrorIs(t, err, ErrLayerNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAnalyzeFlight_ReanalyzeReplacesSequence(t *testing.T) {
	f := newFixture(t)
	subject := FlightSubject(f.flight.ID)

	gomock.InOrder(
		f.compute.EXPECT().AnalyzeByFilename(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&compute.Submission{JobID: "job-1"}, nil),
		f.compute.EXPECT().AnalyzeByFilename(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&compute.Submission{JobID: "job-2"}, nil),
	)
	f.compute.EXPECT().JobStatus(gomock.Any(), "job-1").
		Return(&models.Job{ID: "job-1", Status: models.JobStatusProcessing}, nil).AnyTimes()
	f.compute.EXPECT().JobStatus(gomock.Any(), "job-2").
		Return(&models.Job{ID: "job-2", Status: models.JobStatusCompleted, Result: json.RawMessage(`{"total_count":7}`)}, nil).
		AnyTimes()
	f.compute.EXPECT().DownloadResult(gomock.Any(), "job-2", models.AssetCounting).
		Return(&compute.Asset{ContentType: "image/jpeg"}, nil).AnyTimes()

	_, err := f.svc.AnalyzeFlight(context.Background(), f.flight.ID, Options{Force: true})
	require.NoError(t, err)
	_, err = f.svc.AnalyzeFlight(context.Background(), f.flight.ID, Options{Force: true})
	require.NoError(t, err)

	st := f.waitStatus(t, subject, StatusCompleted)
	assert.Equal(t, "job-2", st.JobID)

	saved := f.results.savedParams()
	require.Len(t, saved, 1)
	assert.Equal(t, "job-2", saved[0].JobID)
}

func TestCancel_ReturnsPanelToIdle(t *testing.T) {
	f := newFixture(t)
	subject := FlightSubject(f.flight.ID)

	var fetches atomic.Int32
	f.compute.EXPECT().AnalyzeByFilename(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&compute.Submission{JobID: "job-1"}, nil)
	f.compute.EXPECT().JobStatus(gomock.Any(), "job-1").DoAndReturn(func(context.Context, string) (*models.Job, error) {
		fetches.Add(1)
		return &models.Job{ID: "job-1", Status: models.JobStatusProcessing, Progress: 10}, nil
	}).AnyTimes()

	_, err := f.svc.AnalyzeFlight(context.Background(), f.flight.ID, Options{Force: true})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return fetches.Load() > 0 }, time.Second, tick)

	f.svc.Cancel(subject)
	after := fetches.Load()
	time.Sleep(5 * tick)

	assert.Equal(t, after, fetches.Load(), "no fetches after cancel")
	st := f.svc.State(subject)
	assert.Equal(t, StatusIdle, st.Status)
	assert.Empty(t, st.JobID)
}

func TestCancel_WaitsForInFlightSave(t *testing.T) {
	f := newFixture(t)
	subject := FlightSubject(f.flight.ID)

	saving := make(chan struct{})
	release := make(chan struct{})
	f.results.onSave = func() {
		close(saving)
		<-release
	}
	f.compute.EXPECT().AnalyzeByFilename(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&compute.Submission{JobID: "job-1"}, nil)
	f.compute.EXPECT().JobStatus(gomock.Any(), "job-1").
		Return(&models.Job{ID: "job-1", Status: models.JobStatusCompleted, Result: json.RawMessage(`{"total_count":3}`)}, nil)
	f.compute.EXPECT().DownloadResult(gomock.Any(), "job-1", models.AssetCounting).
		Return(&compute.Asset{ContentType: "image/jpeg"}, nil).AnyTimes()

	_, err := f.svc.AnalyzeFlight(context.Background(), f.flight.ID, Options{Force: true})
	require.NoError(t, err)
	<-saving

	cancelled := make(chan struct{})
	go func() {
		f.svc.Cancel(subject)
		close(cancelled)
	}()

	assert.Never(t, func() bool {
		select {
		case <-cancelled:
			return true
		default:
		}
		return f.svc.State(subject).Status == StatusIdle
	}, 10*tick, tick, "panel reset while its result was being saved")

	close(release)
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel never returned")
	}
	assert.Equal(t, StatusIdle, f.svc.State(subject).Status)
	assert.Len(t, f.results.savedParams(), 1)
}

func TestState_UnknownSubjectIsIdle(t *testing.T) {
	f := newFixture(t)
	st := f.svc.State("flight:nope")
	assert.Equal(t, StatusIdle, st.Status)
	assert.Equal(t, "flight:nope", st.Subject)
}

func TestUploadAndAnalyze_SavesWithoutFlight(t *testing.T) {
	f := newFixture(t)
	farmID := uuid.New()

	f.compute.EXPECT().Upload(gomock.Any(), "plot.jpg", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, r io.Reader) (*compute.Submission, error) {
			b, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "jpeg-bytes", string(b))
			return &compute.Submission{JobID: "job-u"}, nil
		})
	f.compute.EXPECT().JobStatus(gomock.Any(), "job-u").
		Return(&models.Job{ID: "job-u", Status: models.JobStatusCompleted, Result: json.RawMessage(`{"total_count":12}`)}, nil)
	f.compute.EXPECT().DownloadResult(gomock.Any(), "job-u", models.AssetCounting).
		Return(&compute.Asset{ContentType: "image/jpeg"}, nil).AnyTimes()

	_, err := f.svc.UploadAndAnalyze(context.Background(), farmID, "plot.jpg", []byte("jpeg-bytes"))
	require.NoError(t, err)

	st := f.waitStatus(t, FarmSubject(farmID), StatusCompleted)
	assert.Equal(t, "plot.jpg", st.Filename)

	saved := f.results.savedParams()
	require.Len(t, saved, 1)
	assert.Equal(t, farmID, saved[0].FarmID)
	assert.Nil(t, saved[0].FlightID)
	assert.Nil(t, saved[0].LayerID)
}

func TestAsset_CachedAfterFirstDownload(t *testing.T) {
	f := newFixture(t)
	f.compute.EXPECT().DownloadResult(gomock.Any(), "job-1", models.AssetHeatmap).
		Return(&compute.Asset{ContentType: "image/png", Data: []byte("png")}, nil).Times(1)

	for range 2 {
		a, err := f.svc.Asset(context.Background(), "job-1", models.AssetHeatmap)
		require.NoError(t, err)
		assert.Equal(t, "image/png", a.ContentType)
		assert.Equal(t, []byte("png"), a.Data)
	}
}

func TestAsset_SharedDownloadSurvivesCallerCancel(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})
	f.compute.EXPECT().DownloadResult(gomock.Any(), "job-1", models.AssetHeatmap).
		DoAndReturn(func(ctx context.Context, _, _ string) (*compute.Asset, error) {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &compute.Asset{ContentType: "image/png", Data: []byte("png")}, nil
		}).Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.svc.Asset(ctx, "job-1", models.AssetHeatmap)
		first <- err
	}()
	<-started

	type result struct {
		asset *compute.Asset
		err   error
	}
	second := make(chan result, 1)
	go func() {
		a, err := f.svc.Asset(context.Background(), "job-1", models.AssetHeatmap)
		second <- result{a, err}
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, []byte("png"), got.asset.Data)
	assert.True(t, f.cache.has(cache.AssetKey("job-1", models.AssetHeatmap)))
}

func TestAsset_UnknownType(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Asset(context.Background(), "job-1", "thumbnail")
	require.Error(t, err)
}

func TestCancelAll_RejectsNewWork(t *testing.T) {
	f := newFixture(t)
	f.svc.CancelAll()

	_, err := f.svc.AnalyzeFlight(context.Background(), f.flight.ID, Options{})
	assert.ErrorIs(t, err, ErrShutdown)
}
