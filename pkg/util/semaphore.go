package util

import (
	"context"
)

// Semaphore bounds the number of concurrent holders. A zero limit is unbounded.
type Semaphore struct {
	slots chan struct{}
}

func NewSemaphore(limit int) *Semaphore {
	if limit <= 0 {
		return &Semaphore{}
	}
	return &Semaphore{
		slots: make(chan struct{}, limit),
	}
}

// Acquire blocks until a slot is free or ctx is done, and reports whether a slot
// was taken.
func (s *Semaphore) Acquire(ctx context.Context) bool {
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Semaphore) Release() {
	if s.slots != nil {
		<-s.slots
	}
}

// InUse returns the number of slots held. It is always 0 when unbounded.
func (s *Semaphore) InUse() int {
	return len(s.slots)
}
