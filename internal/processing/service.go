// Package processing turns a batch of raw drone images into an orthophoto by
// running a WebODM task and mirroring its progress into processing_jobs.
package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agripay/internal/poller"
	"github.com/kiranshivaraju/agripay/internal/store"
	"github.com/kiranshivaraju/agripay/internal/webodm"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

// MinImages is the fewest captures a reconstruction accepts.
const MinImages = 3

var (
	ErrTooFewImages = fmt.Errorf("at least %d images are required", MinImages)
	ErrShutdown     = errors.New("processing service is shut down")
)

// Repository is the persistence the service needs.
type Repository interface {
	GetOrCreateFlight(ctx context.Context, tmpl *models.Flight) (*models.Flight, error)
	UpdateFlightStatus(ctx context.Context, id uuid.UUID, status string) error
	CreateProcessingJob(ctx context.Context, j *models.ProcessingJob) error
	GetProcessingJob(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error)
	ListActiveProcessingJobs(ctx context.Context, farmID uuid.UUID) ([]*models.ProcessingJob, error)
	ListUnfinishedProcessingJobs(ctx context.Context) ([]*models.ProcessingJob, error)
	UpdateProcessingJob(ctx context.Context, id uuid.UUID, status string, opts ...store.ProcessingUpdateOption) error
}

// Photogrammetry is the reconstruction backend.
type Photogrammetry interface {
	CreateProject(ctx context.Context, name, description string) (int, error)
	CreateTask(ctx context.Context, projectID int, name string, images []webodm.Image) (string, error)
	TaskStatus(ctx context.Context, projectID int, taskID string) (*webodm.Task, error)
	Outputs(projectID int, taskID string) models.ProcessingOutputs
}

// Spool holds a batch's images from the upload request until they have been
// sent to WebODM.
type Spool interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// errInterrupted fails jobs whose images never reached WebODM before a
// restart. Their spooled copies are not resubmitted.
var errInterrupted = errors.New("interrupted before the images reached WebODM")

// Request describes one reconstruction.
type Request struct {
	FarmID     uuid.UUID
	FlightDate time.Time
	PilotName  string
	DroneModel string
	Images     []webodm.Image
}

// Service starts reconstructions and tracks them until they finish.
type Service struct {
	repo   Repository
	odm    Photogrammetry
	spool  Spool
	poller *poller.Poller
	logger *slog.Logger

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

func NewService(repo Repository, odm Photogrammetry, spool Spool, p *poller.Poller, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Service{
		repo:   repo,
		odm:    odm,
		spool:  spool,
		poller: p,
		logger: logger,
		ctx:    ctx,
		stop:   stop,
	}
}

// acquire registers a background watch. It fails once Shutdown has begun.
func (s *Service) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func spoolPrefix(jobID uuid.UUID) string {
	return "spool/processing/" + jobID.String()
}

// Start records the flight and the job and copies the images to the spool
// before returning, so the readers may be tied to the request. The upload
// to WebODM and the polling run in the background. The returned job is in
// the uploading state.
func (s *Service) Start(ctx context.Context, req Request) (*models.ProcessingJob, error) {
	if len(req.Images) < MinImages {
		return nil, ErrTooFewImages
	}
	if !s.acquire() {
		return nil, ErrShutdown
	}
	started := false
	defer func() {
		if !started {
			s.wg.Done()
		}
	}()

	now := time.Now().UTC()
	status := models.FlightStatusProcessing
	tmpl := &models.Flight{
		ID:              uuid.New(),
		CreatedAt:       now,
		FarmID:          req.FarmID,
		FlightDate:      req.FlightDate,
		StorageLocation: models.StorageCloud,
		Status:          &status,
	}
	if req.PilotName != "" {
		tmpl.PilotName = &req.PilotName
	}
	if req.DroneModel != "" {
		tmpl.DroneModel = &req.DroneModel
	}
	flight, err := s.repo.GetOrCreateFlight(ctx, tmpl)
	if err != nil {
		return nil, fmt.Errorf("get or create flight: %w", err)
	}
	if err := s.repo.UpdateFlightStatus(ctx, flight.ID, models.FlightStatusProcessing); err != nil {
		return nil, fmt.Errorf("mark flight processing: %w", err)
	}

	job := &models.ProcessingJob{
		ID:          uuid.New(),
		FlightID:    flight.ID,
		Status:      models.ProcessingStatusUploading,
		ImagesCount: len(req.Images),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateProcessingJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create processing job: %w", err)
	}

	logger := s.logger.With("processing_job_id", job.ID, "flight_id", flight.ID)
	spooled, err := s.spoolImages(ctx, job.ID, req.Images)
	if err != nil {
		s.fail(logger, job.ID, flight.ID, err)
		s.dropSpool(logger, job.ID)
		return nil, fmt.Errorf("spool images: %w", err)
	}

	started = true
	go func() {
		defer s.wg.Done()
		s.track(logger, job.ID, flight.ID, s.submitSpooled(logger, job.ID, flight, spooled))
	}()

	return job, nil
}

type spooledImage struct {
	name, key string
}

func (s *Service) spoolImages(ctx context.Context, jobID uuid.UUID, images []webodm.Image) ([]spooledImage, error) {
	prefix := spoolPrefix(jobID)
	out := make([]spooledImage, 0, len(images))
	for i, img := range images {
		key := fmt.Sprintf("%s/%04d", prefix, i)
		if _, err := s.spool.Put(ctx, key, img.Data); err != nil {
			return nil, fmt.Errorf("%s: %w", img.Name, err)
		}
		out = append(out, spooledImage{name: img.Name, key: key})
	}
	return out, nil
}

func (s *Service) dropSpool(logger *slog.Logger, jobID uuid.UUID) {
	if err := s.spool.DeletePrefix(s.ctx, spoolPrefix(jobID)); err != nil {
		logger.Warn("failed to remove spooled images", "error", err)
	}
}

// submitSpooled creates the WebODM project and task from the spooled
// images. The spool is emptied once WebODM has answered either way.
func (s *Service) submitSpooled(logger *slog.Logger, jobID uuid.UUID, flight *models.Flight, spooled []spooledImage) submitFunc {
	return func(ctx context.Context) (int, string, error) {
		defer s.dropSpool(logger, jobID)

		images := make([]webodm.Image, 0, len(spooled))
		files := make([]io.Closer, 0, len(spooled))
		defer func() {
			for _, f := range files {
				f.Close()
			}
		}()
		for _, sp := range spooled {
			rc, err := s.spool.Open(ctx, sp.key)
			if err != nil {
				return 0, "", fmt.Errorf("open spooled %s: %w", sp.name, err)
			}
			files = append(files, rc)
			images = append(images, webodm.Image{Name: sp.name, Data: rc})
		}

		label := "Flight " + flight.FlightDate.Format(time.DateOnly)
		pid, err := s.odm.CreateProject(ctx, fmt.Sprintf("Farm %s", flight.FarmID), label)
		if err != nil {
			return 0, "", err
		}
		taskID, err := s.odm.CreateTask(ctx, pid, label, images)
		if err != nil {
			return 0, "", err
		}
		if err := s.repo.UpdateProcessingJob(ctx, jobID, models.ProcessingStatusQueued,
			store.WithProgress(0), store.WithWebODMTask(pid, taskID)); err != nil {
			logger.Warn("failed to record webodm task", "error", err)
		}
		return pid, taskID, nil
	}
}

// Resume picks up the jobs left unfinished by a previous run. Jobs already
// handed to WebODM are polled again. Jobs that never got that far are
// failed, since their upload request is gone. It returns how many jobs are
// being tracked again.
func (s *Service) Resume(ctx context.Context) (int, error) {
	jobs, err := s.repo.ListUnfinishedProcessingJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished processing jobs: %w", err)
	}

	resumed := 0
	for _, j := range jobs {
		logger := s.logger.With("processing_job_id", j.ID, "flight_id", j.FlightID)
		if j.WebODMProjectID == nil || j.WebODMTaskID == nil {
			s.fail(logger, j.ID, j.FlightID, errInterrupted)
			s.dropSpool(logger, j.ID)
			continue
		}
		if !s.acquire() {
			return resumed, ErrShutdown
		}
		projectID, taskID := *j.WebODMProjectID, *j.WebODMTaskID
		go func() {
			defer s.wg.Done()
			s.track(logger, j.ID, j.FlightID, func(context.Context) (int, string, error) {
				return projectID, taskID, nil
			})
		}()
		resumed++
	}
	return resumed, nil
}

// submitFunc hands a job to WebODM and returns its project and task ids.
type submitFunc func(ctx context.Context) (projectID int, taskID string, err error)

// track follows a WebODM task until it finishes, mirroring its progress
// into the job row.
func (s *Service) track(logger *slog.Logger, jobID, flightID uuid.UUID, submit submitFunc) {
	var (
		projectID int
		last      *webodm.Task
	)

	start := func(ctx context.Context) (string, error) {
		pid, taskID, err := submit(ctx)
		if err != nil {
			return "", err
		}
		projectID = pid
		return taskID, nil
	}

	fetch := func(ctx context.Context, taskID string) (*models.Job, error) {
		task, err := s.odm.TaskStatus(ctx, projectID, taskID)
		if err != nil {
			return nil, err
		}
		last = task
		return taskSnapshot(taskID, task), nil
	}

	obs := poller.Observer{
		OnUpdate: func(job *models.Job) {
			if job.Status.IsTerminal() {
				return
			}
			if err := s.repo.UpdateProcessingJob(s.ctx, jobID, string(job.Status), store.WithProgress(job.Progress)); err != nil {
				logger.Warn("failed to persist processing progress", "error", err)
			}
		},
		OnComplete: func(job *models.Job) {
			s.complete(logger, jobID, flightID, projectID, job.ID, last)
		},
		OnFailed: func(err error) {
			s.fail(logger, jobID, flightID, err)
		},
	}

	h, err := s.poller.Start(s.ctx, start, fetch, obs)
	if err != nil {
		if s.ctx.Err() == nil {
			s.fail(logger, jobID, flightID, err)
		}
		return
	}
	logger.Info("tracking orthophoto processing", "webodm_task_id", h.JobID())
	<-h.Done()
}

func (s *Service) complete(logger *slog.Logger, jobID, flightID uuid.UUID, projectID int, taskID string, task *webodm.Task) {
	outputs, err := json.Marshal(s.odm.Outputs(projectID, taskID))
	if err != nil {
		s.fail(logger, jobID, flightID, err)
		return
	}
	var seconds float64
	if task != nil {
		seconds = float64(task.ProcessingTime) / 1000
	}

	if err := s.repo.UpdateProcessingJob(s.ctx, jobID, models.ProcessingStatusCompleted,
		store.WithProgress(100), store.WithWebODMTask(projectID, taskID), store.WithOutputs(outputs, seconds)); err != nil {
		logger.Error("failed to record processing completion", "error", err)
		return
	}
	if err := s.repo.UpdateFlightStatus(s.ctx, flightID, models.FlightStatusCompleted); err != nil {
		logger.Error("failed to mark flight completed", "error", err)
		return
	}
	logger.Info("orthophoto processing completed", "processing_time_seconds", seconds)
}

func (s *Service) fail(logger *slog.Logger, jobID, flightID uuid.UUID, cause error) {
	msg := "Processing failed: " + cause.Error()
	logger.Warn("orthophoto processing failed", "error", cause)

	if err := s.repo.UpdateProcessingJob(s.ctx, jobID, models.ProcessingStatusFailed, store.WithProcessingError(msg)); err != nil {
		logger.Error("failed to record processing failure", "error", err)
	}
	if err := s.repo.UpdateFlightStatus(s.ctx, flightID, models.FlightStatusFailed); err != nil {
		logger.Error("failed to mark flight failed", "error", err)
	}
}

// taskSnapshot converts a WebODM task into the poller's job view.
func taskSnapshot(taskID string, t *webodm.Task) *models.Job {
	job := &models.Job{ID: taskID, Progress: t.Progress()}
	switch t.StatusLabel() {
	case models.ProcessingStatusCompleted:
		job.Status = models.JobStatusCompleted
		job.Progress = 100
	case models.ProcessingStatusFailed:
		job.Status = models.JobStatusFailed
		job.Error = t.LastError
		if job.Error == "" {
			job.Error = "task failed"
			if t.Status != nil && *t.Status == webodm.StatusCanceled {
				job.Error = "task was canceled"
			}
		}
	case models.ProcessingStatusQueued:
		job.Status = models.JobStatusQueued
	default:
		job.Status = models.JobStatusProcessing
	}
	return job
}

// Get returns one processing job.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	return s.repo.GetProcessingJob(ctx, id)
}

// ListActive returns the farm's unfinished processing jobs, newest first.
func (s *Service) ListActive(ctx context.Context, farmID uuid.UUID) ([]*models.ProcessingJob, error) {
	jobs, err := s.repo.ListActiveProcessingJobs(ctx, farmID)
	if err != nil {
		return nil, fmt.Errorf("list active processing jobs: %w", err)
	}
	return jobs, nil
}

// Shutdown stops every running reconstruction watch and waits for them.
// Jobs keep their last persisted status and are picked up by Resume on the
// next start.
func (s *Service) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()
}
