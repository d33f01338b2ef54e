// Package poller drives a remote asynchronous job from submission to a
// terminal state by fetching its status at a fixed interval.
//
// A sequence is: submit once, then wait an interval, fetch, and repeat until
// the job reports completed or failed, a fetch fails, or the caller cancels
// the returned Handle. Fetches never overlap: the next wait begins only after
// the previous fetch has returned.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/agripay/pkg/models"
)

// DefaultInterval is the fetch cadence used when none is configured.
const DefaultInterval = 2 * time.Second

// User-facing messages for the two failure kinds.
const (
	LostConnectionMessage = "Lost connection to compute server"
	JobFailedMessage      = "Analysis failed"
)

var (
	// ErrLostConnection marks a sequence stopped because a status fetch failed.
	ErrLostConnection = errors.New("lost connection")
	// ErrJobFailed marks a sequence stopped because the job reported failure.
	ErrJobFailed = errors.New("job failed")
)

// SubmitFunc starts the remote job and returns its identifier.
type SubmitFunc func(ctx context.Context) (string, error)

// FetchFunc returns the current snapshot of a job.
type FetchFunc func(ctx context.Context, jobID string) (*models.Job, error)

// Observer receives the progress of a sequence. Nil fields are skipped.
// Callbacks run on the polling goroutine and must not call Cancel on the
// handle that is delivering them.
type Observer struct {
	OnUpdate   func(job *models.Job)
	OnComplete func(job *models.Job)
	OnFailed   func(err error)
}

// Failure is delivered to Observer.OnFailed. Its Error text is suitable for
// display; errors.Is distinguishes ErrLostConnection from ErrJobFailed.
type Failure struct {
	JobID   string
	Message string
	kind    error
	cause   error
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() []error {
	if f.cause == nil {
		return []error{f.kind}
	}
	return []error{f.kind, f.cause}
}

func lostConnection(jobID string, cause error) *Failure {
	return &Failure{JobID: jobID, Message: LostConnectionMessage, kind: ErrLostConnection, cause: cause}
}

func jobFailed(job *models.Job) *Failure {
	msg := job.Error
	if msg == "" {
		msg = JobFailedMessage
	}
	return &Failure{JobID: job.ID, Message: msg, kind: ErrJobFailed}
}

// Poller starts polling sequences. It holds no per-sequence state and is
// safe for concurrent use.
type Poller struct {
	interval       time.Duration
	requestTimeout time.Duration
	logger         *slog.Logger
}

type Option func(*Poller)

// WithRequestTimeout bounds each individual fetch. Expiry counts as a lost
// connection.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Poller) {
		p.requestTimeout = d
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = l
	}
}

// New returns a Poller that fetches every interval. A non-positive interval
// selects DefaultInterval.
func New(interval time.Duration, opts ...Option) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := &Poller{interval: interval, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval returns the fetch cadence.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Start submits the job and begins polling it in the background. A
// submission error is returned directly and nothing is polled. ctx governs
// the whole sequence; cancelling it stops polling without notifying obs.
func (p *Poller) Start(ctx context.Context, submit SubmitFunc, fetch FetchFunc, obs Observer) (*Handle, error) {
	jobID, err := submit(ctx)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		jobID:  jobID,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run(runCtx, h, fetch, obs)
	return h, nil
}

func (p *Poller) run(ctx context.Context, h *Handle, fetch FetchFunc, obs Observer) {
	defer close(h.done)
	defer h.cancel()

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		job, err := p.fetchOnce(ctx, fetch, h.jobID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.logger.Warn("job status fetch failed", "job_id", h.jobID, "error", err)
			h.deliver(func() { obs.failed(lostConnection(h.jobID, err)) })
			return
		}
		if job.ID == "" {
			job.ID = h.jobID
		}

		if !h.deliver(func() { obs.update(job) }) {
			return
		}

		switch job.Status {
		case models.JobStatusCompleted:
			h.deliver(func() { obs.complete(job) })
			return
		case models.JobStatusFailed:
			h.deliver(func() { obs.failed(jobFailed(job)) })
			return
		}

		timer.Reset(p.interval)
	}
}

func (p *Poller) fetchOnce(ctx context.Context, fetch FetchFunc, jobID string) (*models.Job, error) {
	if p.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
	}
	job, err := fetch(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errors.New("empty status response")
	}
	return job, nil
}

func (o Observer) update(job *models.Job) {
	if o.OnUpdate != nil {
		o.OnUpdate(job)
	}
}

func (o Observer) complete(job *models.Job) {
	if o.OnComplete != nil {
		o.OnComplete(job)
	}
}

func (o Observer) failed(err error) {
	if o.OnFailed != nil {
		o.OnFailed(err)
	}
}

// Handle controls one polling sequence.
type Handle struct {
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	stopped bool
}

// JobID returns the identifier the submission produced.
func (h *Handle) JobID() string {
	return h.jobID
}

// Done is closed once the sequence has stopped for any reason.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel stops the sequence. When it returns, no fetch is in flight or
// scheduled and no observer callback will run. Calling it again is a no-op.
func (h *Handle) Cancel() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	h.cancel()
	<-h.done
}

// deliver runs fn unless the handle was cancelled. It reports whether fn ran.
func (h *Handle) deliver(fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	fn()
	return true
}
