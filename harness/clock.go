package harness

import (
	"sync"
	"time"
)

// Clock is the time source behind every stage measurement.
type Clock interface {
	Now() time.Time
}

// RealClock reads time.Now, whose values carry a monotonic reading that
// time.Time.Sub prefers over the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FakeClock is a manually driven clock. Each call to Now returns the
// current instant and then moves it forward by the configured tick, which
// may be negative to simulate wall-clock steps backwards.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	tick    time.Duration
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{current: start}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.current
	f.current = f.current.Add(f.tick)

	return t
}

func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	f.mu.Unlock()
}

func (f *FakeClock) SetTick(d time.Duration) {
	f.mu.Lock()
	f.tick = d
	f.mu.Unlock()
}
