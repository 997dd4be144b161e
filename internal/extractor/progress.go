package extractor

import (
	"sync"

	"github.com/haileys/hailsplay/internal/domain"
)

// progressWatch is a mutex+condition-variable latest-wins broadcast:
// new watchers see the current value immediately via Current, and Next
// blocks until a different value is published or the publisher closes.
// Grounded on the ring-buffer reader's mutex+sync.Cond wakeup pattern,
// simplified here to a single latest value with no buffering.
type progressWatch struct {
	mu      sync.Mutex
	cond    *sync.Cond
	current domain.Progress
	closed  bool
}

func newProgressWatch() *progressWatch {
	w := &progressWatch{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *progressWatch) publish(p domain.Progress) {
	w.mu.Lock()
	w.current = p
	w.mu.Unlock()
	w.cond.Broadcast()
}

func (w *progressWatch) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cond.Broadcast()
}

func (w *progressWatch) Current() domain.Progress {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *progressWatch) Next(last domain.Progress) (domain.Progress, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.current == last && !w.closed {
		w.cond.Wait()
	}
	if w.current != last {
		return w.current, true
	}
	return w.current, false
}

// completeSlot is a single-producer, multi-consumer one-shot: resolve is
// called exactly once by the background phase, and every Wait call
// (concurrent or sequential) observes the same result.
type completeSlot struct {
	done chan struct{}
	err  error
}

func newCompleteSlot() *completeSlot {
	return &completeSlot{done: make(chan struct{})}
}

func (s *completeSlot) resolve(err error) {
	s.err = err
	close(s.done)
}

func (s *completeSlot) Wait() error {
	<-s.done
	return s.err
}
