// Package analysis runs plant-count analyses for flights and ad-hoc uploads.
//
// Each subject (a flight, or a farm's upload panel) has one panel holding at
// most one polling sequence. A request first consults the result cache,
// then submits a compute job, follows it to completion, saves the result
// and prefetches its annotated image.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kiranshivaraju/agripay/internal/cache"
	"github.com/kiranshivaraju/agripay/internal/compute"
	"github.com/kiranshivaraju/agripay/internal/mlmodel"
	"github.com/kiranshivaraju/agripay/internal/poller"
	"github.com/kiranshivaraju/agripay/internal/remote"
	"github.com/kiranshivaraju/agripay/internal/results"
	"github.com/kiranshivaraju/agripay/internal/store"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

// DefaultLayerType is the layer analyzed when none is named.
const DefaultLayerType = "rgb"

// snapshotTTL bounds how long a job's last status stays readable.
const snapshotTTL = 24 * time.Hour

var (
	ErrFlightNotFound = errors.New("flight not found")
	ErrLayerNotFound  = errors.New("flight has no such layer")
	ErrShutdown       = errors.New("analysis service is shut down")
)

// ResultCache is the persistent store of completed analyses.
type ResultCache interface {
	Lookup(ctx context.Context, flightID uuid.UUID, modelID string) (*models.CachedResult, bool)
	Save(ctx context.Context, p results.SaveParams)
}

// Flights resolves a flight's layer.
type Flights interface {
	FlightLayer(ctx context.Context, flightID uuid.UUID, layerType string) (*models.Flight, *models.ImageryLayer, error)
}

// AssetCache holds downloaded images and job snapshots.
type AssetCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetJobSnapshot(ctx context.Context, job *models.Job, ttl time.Duration) error
	GetJobSnapshot(ctx context.Context, jobID string) (*models.Job, bool, error)
}

// Options tune one flight analysis.
type Options struct {
	ModelID   string
	LayerType string
	// Force skips the result cache and always submits a new job.
	Force bool
}

type Config struct {
	// AssetTTL is how long downloaded result images are kept.
	AssetTTL time.Duration
	// PrefetchAsset is the image fetched as soon as a job completes.
	PrefetchAsset string
}

type Service struct {
	compute      compute.Client
	results      ResultCache
	flights      Flights
	cache        AssetCache
	poller       *poller.Poller
	uploadPoller *poller.Poller
	cfg          Config
	logger       *slog.Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	panels map[string]*panel
	closed bool

	downloads singleflight.Group
}

func NewService(
	c compute.Client,
	rc ResultCache,
	flights Flights,
	ac AssetCache,
	p, uploadPoller *poller.Poller,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if cfg.PrefetchAsset == "" {
		cfg.PrefetchAsset = models.AssetCounting
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Service{
		compute:      c,
		results:      rc,
		flights:      flights,
		cache:        ac,
		poller:       p,
		uploadPoller: uploadPoller,
		cfg:          cfg,
		logger:       logger,
		ctx:          ctx,
		stop:         stop,
		panels:       make(map[string]*panel),
	}
}

func (s *Service) panel(subject string) (*panel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	p, ok := s.panels[subject]
	if !ok {
		p = newPanel(subject)
		s.panels[subject] = p
	}
	return p, nil
}

// State returns the panel of subject. Subjects never analyzed are idle.
func (s *Service) State(subject string) State {
	s.mu.Lock()
	p, ok := s.panels[subject]
	s.mu.Unlock()
	if !ok {
		return State{Subject: subject, Status: StatusIdle}
	}
	return p.snapshot()
}

// AnalyzeFlight shows the cached result of the flight when there is one,
// and otherwise starts a new analysis of the flight's layer. The returned
// state is the panel right after the cache check or the submission. A
// submission failure is returned as an error and also left on the panel.
func (s *Service) AnalyzeFlight(ctx context.Context, flightID uuid.UUID, opts Options) (State, error) {
	model, err := mlmodel.Lookup(opts.ModelID)
	if err != nil {
		return State{}, err
	}
	layerType := opts.LayerType
	if layerType == "" {
		layerType = DefaultLayerType
	}

	flight, layer, err := s.flights.FlightLayer(ctx, flightID, layerType)
	switch {
	case errors.Is(err, store.ErrNotFound) && flight == nil:
		return State{}, fmt.Errorf("%w: %w", ErrFlightNotFound, err)
	case errors.Is(err, store.ErrNotFound):
		return State{}, fmt.Errorf("%w: %w", ErrLayerNotFound, err)
	case err != nil:
		return State{}, err
	}

	p, err := s.panel(FlightSubject(flightID))
	if err != nil {
		return State{}, err
	}
	p.start.Lock()
	defer p.start.Unlock()
	p.slot.Cancel()

	if !opts.Force {
		gen := p.reset(StatusLoadingCache, MsgCheckingCache)
		if cached, ok := s.results.Lookup(ctx, flightID, model.ID); ok {
			p.update(gen, func(st *State) { s.applyCached(st, model, cached) })
			return p.snapshot(), nil
		}
	}

	gen := p.reset(StatusAnalyzing, MsgSubmitting)
	save := results.SaveParams{
		FarmID:        flight.FarmID,
		FlightID:      &flight.ID,
		LayerID:       &layer.ID,
		ModelID:       model.ID,
		ImageFilename: layer.Filename,
	}
	submit := func(ctx context.Context) (*compute.Submission, error) {
		return s.compute.AnalyzeByFilename(ctx, layer.Filename, model.ID)
	}
	return s.run(p, gen, s.poller, model, layer.Filename, save, submit)
}

// UploadAndAnalyze sends an image to the compute server and follows the
// resulting job on the farm's upload panel. Its result is saved without a
// flight.
func (s *Service) UploadAndAnalyze(ctx context.Context, farmID uuid.UUID, filename string, image []byte) (State, error) {
	model, err := mlmodel.Lookup("")
	if err != nil {
		return State{}, err
	}
	p, err := s.panel(FarmSubject(farmID))
	if err != nil {
		return State{}, err
	}
	p.start.Lock()
	defer p.start.Unlock()
	p.slot.Cancel()

	gen := p.reset(StatusAnalyzing, MsgUploading)
	save := results.SaveParams{
		FarmID:        farmID,
		ModelID:       model.ID,
		ImageFilename: filename,
	}
	submit := func(ctx context.Context) (*compute.Submission, error) {
		return s.compute.Upload(ctx, filename, bytes.NewReader(image))
	}
	return s.run(p, gen, s.uploadPoller, model, filename, save, submit)
}

// run submits through the panel's slot and wires the observer. Callers
// cancel the slot before resetting the panel. A cancelled sequence delivers
// no callback after Cancel returns and Cancel waits for one in progress, so
// the generation check in OnComplete and the save it guards cannot
// interleave with a reset.
func (s *Service) run(
	p *panel,
	gen uint64,
	pl *poller.Poller,
	model mlmodel.Model,
	filename string,
	save results.SaveParams,
	submit func(context.Context) (*compute.Submission, error),
) (State, error) {
	p.update(gen, func(st *State) {
		st.ModelID = model.ID
		st.Filename = filename
	})

	submitJob := func(ctx context.Context) (string, error) {
		sub, err := submit(ctx)
		if err != nil {
			return "", err
		}
		p.update(gen, func(st *State) {
			st.JobID = sub.JobID
			st.Message = MsgSubmitted
			st.Progress = sub.Progress
		})
		return sub.JobID, nil
	}

	var saved sync.Once
	obs := poller.Observer{
		OnUpdate: func(job *models.Job) {
			s.snapshotJob(job)
			if job.Status.IsTerminal() {
				return
			}
			p.update(gen, func(st *State) {
				st.Progress = job.Progress
				st.Message = job.Message
				if st.Message == "" {
					st.Message = MsgProcessing
				}
			})
		},
		OnComplete: func(job *models.Job) {
			if !p.current(gen) {
				return
			}
			saved.Do(func() {
				params := save
				params.JobID = job.ID
				params.Result = job.Result
				s.results.Save(s.ctx, params)
			})
			p.update(gen, func(st *State) {
				now := time.Now().UTC()
				st.Status = StatusCompleted
				st.Message = MsgCompleted
				st.Progress = 100
				st.Result = job.Result
				st.Summary = summarize(model, job.Result)
				st.AnalyzedAt = &now
				st.Error = ""
			})
			s.prefetch(job.ID)
		},
		OnFailed: func(err error) {
			p.update(gen, func(st *State) {
				st.Status = StatusFailed
				st.Progress = 0
				st.Message = err.Error()
				st.Error = err.Error()
			})
		},
	}

	_, err := p.slot.Start(s.ctx, pl, submitJob, s.compute.JobStatus, obs)
	if err != nil {
		p.update(gen, func(st *State) {
			st.Status = StatusFailed
			st.Message = submitMessage(err)
			st.Error = st.Message
		})
		s.logger.Warn("analysis submission failed", "subject", p.snapshot().Subject, "error", err)
		return p.snapshot(), err
	}
	return p.snapshot(), nil
}

func (s *Service) applyCached(st *State, model mlmodel.Model, r *models.CachedResult) {
	analyzedAt := r.AnalyzedAt
	st.Status = StatusCompleted
	st.Message = MsgLoadedFromCache
	st.Progress = 100
	st.ModelID = model.ID
	st.Filename = r.ImageFilename
	st.Result = r.ResultData
	st.Summary = summarize(model, r.ResultData)
	st.FromCache = true
	st.AnalyzedAt = &analyzedAt
	if r.JobID != nil {
		st.JobID = *r.JobID
	}
}

// Cancel stops the subject's sequence and returns its panel to idle.
func (s *Service) Cancel(subject string) {
	s.mu.Lock()
	p, ok := s.panels[subject]
	s.mu.Unlock()
	if !ok {
		return
	}
	p.start.Lock()
	defer p.start.Unlock()
	p.slot.Cancel()
	p.reset(StatusIdle, "")
}

// CancelAll stops every sequence and background fetch. The service accepts
// no new work afterwards.
func (s *Service) CancelAll() {
	s.mu.Lock()
	s.closed = true
	panels := make([]*panel, 0, len(s.panels))
	for _, p := range s.panels {
		panels = append(panels, p)
	}
	s.mu.Unlock()

	for _, p := range panels {
		p.start.Lock()
		p.slot.Cancel()
		p.reset(StatusIdle, "")
		p.start.Unlock()
	}
	s.stop()
	s.wg.Wait()
}

// JobSnapshot returns the last status seen for a job.
func (s *Service) JobSnapshot(ctx context.Context, jobID string) (*models.Job, bool) {
	job, ok, err := s.cache.GetJobSnapshot(ctx, jobID)
	if err != nil {
		s.logger.Warn("job snapshot lookup failed", "job_id", jobID, "error", err)
		return nil, false
	}
	return job, ok
}

// Asset returns a result image, from the cache when possible. Concurrent
// misses for the same image share one download.
func (s *Service) Asset(ctx context.Context, jobID, assetType string) (*compute.Asset, error) {
	if !models.ValidAssetType(assetType) {
		return nil, fmt.Errorf("unknown result type %q", assetType)
	}
	key := cache.AssetKey(jobID, assetType)

	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("asset cache read failed", "key", key, "error", err)
	} else if ok {
		var a compute.Asset
		if err := json.Unmarshal(raw, &a); err == nil {
			return &a, nil
		}
	}

	// The shared download runs on the service context so one caller giving
	// up does not fail the others waiting on it.
	ch := s.downloads.DoChan(key, func() (any, error) {
		a, err := s.compute.DownloadResult(s.ctx, jobID, assetType)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(a); err == nil {
			if err := s.cache.Set(s.ctx, key, raw, s.cfg.AssetTTL); err != nil {
				s.logger.Warn("asset cache write failed", "key", key, "error", err)
			}
		}
		return a, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*compute.Asset), nil
	}
}

func (s *Service) prefetch(jobID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Asset(s.ctx, jobID, s.cfg.PrefetchAsset); err != nil && s.ctx.Err() == nil {
			s.logger.Warn("result image prefetch failed", "job_id", jobID, "error", err)
		}
	}()
}

func (s *Service) snapshotJob(job *models.Job) {
	if err := s.cache.SetJobSnapshot(s.ctx, job, snapshotTTL); err != nil && s.ctx.Err() == nil {
		s.logger.Warn("job snapshot write failed", "job_id", job.ID, "error", err)
	}
}

func summarize(model mlmodel.Model, raw json.RawMessage) map[string]any {
	summary, err := model.Summarize(raw)
	if err != nil {
		return nil
	}
	return summary
}

// submitMessage is the panel text for a failed submission: the upstream's
// own explanation when it gave one.
func submitMessage(err error) string {
	var se *remote.StatusError
	if errors.As(err, &se) && se.Detail != "" {
		return se.Detail
	}
	return MsgSubmitFailed
}
