// Package sessions tracks the live per-session runtime: the avatar
// connection and the speech capture pipeline attached to each training
// session. The conversational state itself lives in the orchestrator;
// this store only owns the transports around it.
package sessions

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coachsim/pulse/pkg/avatar"
	"github.com/coachsim/pulse/pkg/core"
	"github.com/coachsim/pulse/pkg/core/live"
)

// Runtime bundles the per-session transports.
type Runtime struct {
	ID        string
	Principal string
	Avatar    *avatar.Manager
	Capture   *live.Manager

	cancel context.CancelFunc
}

// NewRuntime creates a runtime. cancel stops the capture run loop.
func NewRuntime(id, principal string, av *avatar.Manager, capture *live.Manager, cancel context.CancelFunc) *Runtime {
	return &Runtime{ID: id, Principal: principal, Avatar: av, Capture: capture, cancel: cancel}
}

// Close tears the runtime down: capture loop stopped, avatar forced off.
func (rt *Runtime) Close() {
	if rt.Capture != nil {
		rt.Capture.Stop()
	}
	if rt.cancel != nil {
		rt.cancel()
	}
	if rt.Avatar != nil {
		_ = rt.Avatar.Disconnect(true)
	}
}

// Store is the in-memory registry of live runtimes.
type Store struct {
	maxPerPrincipal int
	logger          *slog.Logger

	mu      sync.Mutex
	byID    map[string]*Runtime
	empty   chan struct{} // closed when the store drains to zero
	waiting bool
}

func NewStore(maxPerPrincipal int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		maxPerPrincipal: maxPerPrincipal,
		logger:          logger,
		byID:            make(map[string]*Runtime),
	}
}

// Register adds a runtime, enforcing the per-principal session cap.
func (s *Store) Register(rt *Runtime) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxPerPrincipal > 0 {
		n := 0
		for _, existing := range s.byID {
			if existing.Principal == rt.Principal {
				n++
			}
		}
		if n >= s.maxPerPrincipal {
			return core.NewRateLimitError("active session limit reached for this key")
		}
	}
	s.byID[rt.ID] = rt
	return nil
}

func (s *Store) Get(id string) (*Runtime, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.byID[id]
	return rt, ok
}

// Remove takes the runtime out of the store without closing it; the
// caller decides how to tear it down.
func (s *Store) Remove(id string) (*Runtime, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
		s.notifyEmptyLocked()
	}
	return rt, ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// CancelAll closes every runtime and empties the store. Used when the
// drain grace period runs out.
func (s *Store) CancelAll() {
	s.mu.Lock()
	runtimes := make([]*Runtime, 0, len(s.byID))
	for id, rt := range s.byID {
		runtimes = append(runtimes, rt)
		delete(s.byID, id)
	}
	s.notifyEmptyLocked()
	s.mu.Unlock()

	for _, rt := range runtimes {
		rt.Close()
	}
	if len(runtimes) > 0 {
		s.logger.Info("cancelled live sessions", "count", len(runtimes))
	}
}

// Wait blocks until the store is empty or the context expires. Returns
// true when the store drained on its own.
func (s *Store) Wait(ctx context.Context) bool {
	s.mu.Lock()
	if len(s.byID) == 0 {
		s.mu.Unlock()
		return true
	}
	if s.empty == nil {
		s.empty = make(chan struct{})
	}
	s.waiting = true
	ch := s.empty
	s.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Store) notifyEmptyLocked() {
	if s.waiting && len(s.byID) == 0 && s.empty != nil {
		close(s.empty)
		s.empty = nil
		s.waiting = false
	}
}
