package poller

import (
	"context"
	"sync"
)

// Slot holds at most one active sequence. Starting a new sequence cancels
// the previous one first, so two sequences never write to the same owner.
type Slot struct {
	mu     sync.Mutex
	handle *Handle
}

// Start cancels any sequence already in the slot, then starts a new one with
// p. On submission failure the slot is left empty.
func (s *Slot) Start(ctx context.Context, p *Poller, submit SubmitFunc, fetch FetchFunc, obs Observer) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		s.handle.Cancel()
		s.handle = nil
	}

	h, err := p.Start(ctx, submit, fetch, obs)
	if err != nil {
		return nil, err
	}
	s.handle = h
	return h, nil
}

// Cancel stops the active sequence, if any.
func (s *Slot) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		s.handle.Cancel()
		s.handle = nil
	}
}

// Active reports whether the slot holds a sequence that is still polling.
func (s *Slot) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return false
	}
	select {
	case <-s.handle.Done():
		return false
	default:
		return true
	}
}
