// Package health periodically checks upstream services and keeps the last
// result of each check.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CheckFunc reports whether a service is reachable. It must honor ctx.
type CheckFunc func(ctx context.Context) bool

// Status is the last known state of one service.
type Status struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at,omitzero"`
}

type checker struct {
	name  string
	check CheckFunc

	mu     sync.RWMutex
	status Status
}

func (p *checker) run(ctx context.Context, logger *slog.Logger) {
	healthy := p.check(ctx)
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	changed := p.status.Healthy != healthy || p.status.CheckedAt.IsZero()
	p.status = Status{Healthy: healthy, CheckedAt: time.Now().UTC()}
	p.mu.Unlock()

	if changed {
		logger.Info("upstream health changed", "service", p.name, "healthy", healthy)
	}
}

func (p *checker) get() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Monitor runs each registered check on its own schedule. A slow or failing
// check never delays another.
type Monitor struct {
	interval time.Duration
	logger   *slog.Logger
	checkers []*checker
}

func NewMonitor(interval time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{interval: interval, logger: logger}
}

// Register adds a check. It must be called before Run.
func (m *Monitor) Register(name string, check CheckFunc) {
	m.checkers = append(m.checkers, &checker{name: name, check: check})
}

// Run runs every check immediately and then every interval until ctx is
// done. It blocks until all check loops have exited.
func (m *Monitor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range m.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.loop(ctx, p)
		}()
	}
	wg.Wait()
}

func (m *Monitor) loop(ctx context.Context, p *checker) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	p.run(ctx, m.logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.run(ctx, m.logger)
		}
	}
}

// Check runs one check now and returns its fresh status. Unknown names
// report unhealthy.
func (m *Monitor) Check(ctx context.Context, name string) Status {
	for _, p := range m.checkers {
		if p.name == name {
			p.run(ctx, m.logger)
			return p.get()
		}
	}
	return Status{}
}

// Snapshot returns the last status of every check.
func (m *Monitor) Snapshot() map[string]Status {
	out := make(map[string]Status, len(m.checkers))
	for _, p := range m.checkers {
		out[p.name] = p.get()
	}
	return out
}
