package harness

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// WarmSlot holds one expensive resource for the lifetime of the process.
// Concurrent callers that find it empty share a single construction; if
// that construction fails they all receive the failure and the slot stays
// empty for the next caller.
type WarmSlot[T any] struct {
	mu    sync.Mutex
	value T
	ready bool

	flight singleflight.Group
}

// Load returns the resource if it has been built.
func (s *WarmSlot[T]) Load() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.value, s.ready
}

// Get returns the resource, running build if the slot is empty. The
// boolean is true only for the caller whose build produced the value.
func (s *WarmSlot[T]) Get(build func() (T, error)) (T, bool, error) {
	if v, ok := s.Load(); ok {
		return v, false, nil
	}

	built := false

	v, err, _ := s.flight.Do("warm", func() (any, error) {
		if v, ok := s.Load(); ok {
			return v, nil
		}

		v, err := build()
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.value, s.ready = v, true
		s.mu.Unlock()

		built = true

		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, fmt.Errorf("%w: %w", ErrConstruction, err)
	}

	return v.(T), built, nil
}
