package nfc

import (
	"context"
	"sync"
	"sync/atomic"
)

// strand runs closures one at a time, in submission order, on a single
// goroutine. Post never blocks.
type strand struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake chan struct{}
	done chan struct{}
}

func newStrand() *strand {
	s := &strand{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *strand) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			if s.stopped {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			<-s.wake
			s.mu.Lock()
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}

// Post enqueues fn. It returns false once the strand is stopped.
func (s *strand) Post(fn func()) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

const (
	taskQueued int32 = iota
	taskRunning
	taskAbandoned
)

// Do runs fn on the strand and waits for it. If ctx ends before fn has
// started, fn is skipped and the context error is returned.
func (s *strand) Do(ctx context.Context, fn func()) error {
	var state atomic.Int32
	finished := make(chan struct{})
	ok := s.Post(func() {
		if !state.CompareAndSwap(taskQueued, taskRunning) {
			return
		}
		defer close(finished)
		fn()
	})
	if !ok {
		return errStrandStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(taskQueued, taskAbandoned) {
			return ctx.Err()
		}
		// Already running; its outcome is the caller's verdict.
		<-finished
		return nil
	}
}

// Stop drains queued work and waits for the goroutine to exit.
func (s *strand) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
}

var errStrandStopped = &NFCError{Code: ErrCodeHardwareUnavailable, Op: "strand", Message: "manager closed"}
