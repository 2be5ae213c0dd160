// Package dream implements the idle dream scheduler and strategy set
// (C11): a single background loop per project that, after a configurable
// idle period with no client tool calls, runs a set of pluggable
// strategies to re-evaluate past decisions, discover connections,
// refresh communities, and resolve pending outcomes -- yielding
// cooperatively the moment a new tool call arrives.
package dream

import (
	"context"
	"sync"
	"time"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/logging"
)

// Scheduler monitors tool-call activity for one project and triggers
// dreaming after idleTimeout of inactivity. It mirrors the original's
// asyncio.Event-based cooperative-yield design using a broadcast channel
// instead: userActive is closed to signal "the user is back", and is
// replaced with a fresh channel each time a dream session starts.
type Scheduler struct {
	project     string
	idleTimeout time.Duration
	enabled     bool
	runFn       func(ctx context.Context, s *Scheduler)

	mu           sync.Mutex
	lastToolCall time.Time
	running      bool
	isDreaming   bool
	userActive   chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler for one project. runFn is invoked once per
// dreaming episode; it should check UserActive() at each unit of work and
// return promptly once that channel is closed.
func New(project string, idleTimeout time.Duration, enabled bool, runFn func(ctx context.Context, s *Scheduler)) *Scheduler {
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}
	ch := make(chan struct{})
	close(ch) // user starts active
	return &Scheduler{
		project:     project,
		idleTimeout: idleTimeout,
		enabled:     enabled,
		runFn:       runFn,
		userActive:  ch,
	}
}

// Start launches the idle-monitor loop as a background goroutine. A
// disabled scheduler is a no-op, matching the original's early return.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.enabled {
		logging.Get(logging.CategoryDream).Info("dream scheduler disabled for %s, not starting", s.project)
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.running = true
	s.lastToolCall = time.Now()
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
}

// Stop cancels the monitor loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.signalActiveLocked()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// NotifyToolCall resets the idle timer and, if a dream session is in
// flight, wakes it so strategies can yield at their next checkpoint.
func (s *Scheduler) NotifyToolCall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastToolCall = time.Now()
	if s.isDreaming {
		s.signalActiveLocked()
	}
}

// signalActiveLocked closes userActive if it isn't already closed. Must
// be called with mu held.
func (s *Scheduler) signalActiveLocked() {
	select {
	case <-s.userActive:
		// already closed
	default:
		close(s.userActive)
	}
}

// UserActive returns a channel that is closed when the user has returned
// (a tool call arrived during dreaming, or dreaming hasn't started).
// Strategies select on it at yield points.
func (s *Scheduler) UserActive() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userActive
}

// IsDreaming reports whether a dream session is currently running.
func (s *Scheduler) IsDreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isDreaming
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		idleFor := time.Since(s.lastToolCall)
		running := s.running
		s.mu.Unlock()
		if !running {
			return
		}
		if idleFor < s.idleTimeout {
			continue
		}

		s.enterDream(ctx)

		s.mu.Lock()
		s.lastToolCall = time.Now()
		s.mu.Unlock()
	}
}

func (s *Scheduler) enterDream(ctx context.Context) {
	s.mu.Lock()
	s.isDreaming = true
	s.userActive = make(chan struct{})
	s.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryDream, "DreamSession")
	func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Get(logging.CategoryDream).Error("dream session for %s panicked: %v", s.project, r)
			}
		}()
		if s.runFn != nil {
			s.runFn(ctx, s)
		}
	}()
	timer.Stop()

	s.mu.Lock()
	s.isDreaming = false
	s.signalActiveLocked()
	s.mu.Unlock()
}
