package harness

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestWarmSlotBuildsOnce(t *testing.T) {
	var slot WarmSlot[int]
	var builds atomic.Int32

	build := func() (int, error) {
		builds.Add(1)
		return 42, nil
	}

	v, built, err := slot.Get(build)
	if err != nil || v != 42 || !built {
		t.Fatalf("first Get = (%d, %v, %v), want (42, true, nil)", v, built, err)
	}

	v, built, err = slot.Get(build)
	if err != nil || v != 42 || built {
		t.Fatalf("second Get = (%d, %v, %v), want (42, false, nil)", v, built, err)
	}

	if builds.Load() != 1 {
		t.Errorf("builds = %d, want 1", builds.Load())
	}
}

func TestWarmSlotConcurrentSingleFlight(t *testing.T) {
	var slot WarmSlot[string]
	var builds atomic.Int32

	started := make(chan struct{})
	release := make(chan struct{})

	build := func() (string, error) {
		builds.Add(1)
		close(started)
		<-release
		return "weights", nil
	}

	const callers = 8

	var wg sync.WaitGroup
	values := make([]string, callers)
	builtBy := make([]bool, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		values[0], builtBy[0], errs[0] = slot.Get(build)
	}()

	<-started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			values[i], builtBy[i], errs[i] = slot.Get(build)
		}(i)
	}

	close(release)
	wg.Wait()

	if builds.Load() != 1 {
		t.Fatalf("builds = %d, want 1", builds.Load())
	}

	constructors := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d: %v", i, errs[i])
		}
		if values[i] != "weights" {
			t.Errorf("caller %d value = %q, want weights", i, values[i])
		}
		if builtBy[i] {
			constructors++
		}
	}

	if constructors != 1 {
		t.Errorf("%d callers reported building, want 1", constructors)
	}
}

func TestWarmSlotFailureReachesWaitersAndRetries(t *testing.T) {
	var slot WarmSlot[int]
	boom := errors.New("weights corrupted")

	started := make(chan struct{})
	release := make(chan struct{})

	failing := func() (int, error) {
		close(started)
		<-release
		return 0, boom
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, errs[0] = slot.Get(failing)
	}()

	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		// Either joins the failing flight or, if it arrives late, runs
		// its own build which also fails.
		_, _, errs[1] = slot.Get(func() (int, error) { return 0, boom })
	}()

	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrConstruction) || !errors.Is(err, boom) {
			t.Errorf("caller %d err = %v, want ErrConstruction wrapping %v", i, err, boom)
		}
	}

	if _, ok := slot.Load(); ok {
		t.Fatal("slot populated after failed construction")
	}

	v, built, err := slot.Get(func() (int, error) { return 7, nil })
	if err != nil || v != 7 || !built {
		t.Errorf("retry Get = (%d, %v, %v), want (7, true, nil)", v, built, err)
	}
}
