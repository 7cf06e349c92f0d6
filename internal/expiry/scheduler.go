// Package expiry schedules deferred cleanup actions.
package expiry

import (
	"sync"
	"time"
)

// Scheduler runs actions after a fixed delay without blocking the caller.
// Actions must be idempotent: the registry's lazy expiry can race ahead of
// a scheduled deletion, so running an action zero or more extra times must
// have the same effect as running it once. There is no cancellation; a
// deletion that finds nothing left to delete is simply a no-op.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
}

// New returns a ready Scheduler.
func New() *Scheduler {
	return &Scheduler{timers: make(map[*time.Timer]struct{})}
}

// Schedule arranges for action to run after the given delay. Fire and
// forget: Schedule returns immediately.
func (s *Scheduler) Schedule(after time.Duration, action func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(after, func() {
		s.mu.Lock()
		delete(s.timers, timer)
		s.mu.Unlock()
		action()
	})
	s.timers[timer] = struct{}{}
}

// Stop cancels all pending actions. Used at shutdown; files a stopped
// action would have deleted are reclaimed by the startup sweep instead.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for timer := range s.timers {
		timer.Stop()
		delete(s.timers, timer)
	}
}

// Pending reports the number of actions not yet fired.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
