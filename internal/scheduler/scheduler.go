// Package scheduler runs keyed deferred tasks that can be cancelled or replaced.
package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type task struct {
	id    uint64
	timer *clock.Timer
}

// Scheduler runs fn after a delay on the injected clock. Scheduling a key that
// is already pending replaces the earlier task.
type Scheduler struct {
	clock clock.Clock

	mu      sync.Mutex
	tasks   map[string]task
	seq     uint64
	stopped bool
}

// New creates a scheduler on clk.
func New(clk clock.Clock) *Scheduler {
	return &Scheduler{
		clock: clk,
		tasks: make(map[string]task),
	}
}

// Clock returns the clock tasks are timed against.
func (s *Scheduler) Clock() clock.Clock {
	return s.clock
}

// Schedule registers fn under key.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if prev, ok := s.tasks[key]; ok {
		prev.timer.Stop()
	}

	s.seq++
	id := s.seq
	timer := s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, ok := s.tasks[key]
		if !ok || cur.id != id {
			// cancelled or replaced after the timer already fired
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.mu.Unlock()

		fn()
	})
	s.tasks[key] = task{id: id, timer: timer}
}

// Cancel drops a pending task. It reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	return true
}

// Pending reports whether key has a task waiting to run.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.tasks[key]
	return ok
}

// Stop cancels everything and refuses new tasks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
}
