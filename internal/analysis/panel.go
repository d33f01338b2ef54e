package analysis

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/agripay/internal/poller"
)

// Status is the lifecycle of a panel.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusLoadingCache Status = "loading_cache"
	StatusAnalyzing    Status = "analyzing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Panel messages.
const (
	MsgCheckingCache   = "Checking for cached results..."
	MsgSubmitting      = "Submitting analysis job..."
	MsgSubmitted       = "Job submitted. Processing..."
	MsgProcessing      = "Processing..."
	MsgSubmitFailed    = "Failed to submit analysis job"
	MsgLoadedFromCache = "Loaded cached results"
	MsgCompleted       = "Analysis complete"
	MsgUploading       = "Uploading image..."
)

// FlightSubject keys the panel of a drone flight.
func FlightSubject(id uuid.UUID) string { return fmt.Sprintf("flight:%s", id) }

// FarmSubject keys the ad-hoc upload panel of a farm.
func FarmSubject(id uuid.UUID) string { return fmt.Sprintf("farm:%s", id) }

// State is what a panel currently shows.
type State struct {
	Subject    string          `json:"subject"`
	Status     Status          `json:"status"`
	Message    string          `json:"message,omitempty"`
	Progress   int             `json:"progress"`
	JobID      string          `json:"job_id,omitempty"`
	ModelID    string          `json:"model_id,omitempty"`
	Filename   string          `json:"filename,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Summary    map[string]any  `json:"summary,omitempty"`
	FromCache  bool            `json:"from_cache"`
	AnalyzedAt *time.Time      `json:"analyzed_at,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// panel owns the state and the single polling slot of one subject.
//
// start serializes analysis requests. Holders of start cancel the slot
// before calling reset. mu guards state and gen and is never held while the
// slot cancels a sequence, since the cancelled sequence's callbacks take mu.
type panel struct {
	start sync.Mutex
	slot  poller.Slot

	mu    sync.Mutex
	state State
	gen   uint64
}

func newPanel(subject string) *panel {
	return &panel{state: State{Subject: subject, Status: StatusIdle}}
}

func (p *panel) snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// reset starts a new generation with a fresh state and returns it.
func (p *panel) reset(status Status, message string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	p.state = State{Subject: p.state.Subject, Status: status, Message: message}
	return p.gen
}

func (p *panel) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.gen
}

// update applies fn if gen is still current. It reports whether it did.
func (p *panel) update(gen uint64, fn func(s *State)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return false
	}
	fn(&p.state)
	return true
}
