package affinity

import (
	"errors"
	"testing"
)

func TestAvailableCPUs(t *testing.T) {
	cpus, err := AvailableCPUs()
	if err != nil {
		t.Fatalf("AvailableCPUs() failed: %v", err)
	}

	if len(cpus) == 0 {
		t.Fatal("expected at least one available CPU")
	}

	for i := 1; i < len(cpus); i++ {
		if cpus[i] <= cpus[i-1] {
			t.Fatalf("CPUs are not strictly ascending: %v", cpus)
		}
	}
}

func TestAssignCores(t *testing.T) {
	cpus, err := AvailableCPUs()
	if err != nil {
		t.Fatal(err)
	}

	cores, err := AssignCores(len(cpus))
	if err != nil {
		t.Fatalf("AssignCores(%d) failed: %v", len(cpus), err)
	}

	seen := map[int]bool{}
	for _, core := range cores {
		if seen[core] {
			t.Fatalf("core %d assigned twice", core)
		}
		seen[core] = true
	}

	if _, err := AssignCores(len(cpus) + 1); !errors.Is(err, ErrNotEnoughCPUs) {
		t.Fatalf("expected ErrNotEnoughCPUs, got %v", err)
	}
}

func TestPinToCore(t *testing.T) {
	cpus, err := AvailableCPUs()
	if err != nil {
		t.Fatal(err)
	}

	core := cpus[len(cpus)-1]

	// The goroutine exits with its thread still locked, so the pinned
	// thread never returns to the test runner.
	errs := make(chan error, 1)
	go func() {
		if err := PinToCore(core); err != nil {
			errs <- err
			return
		}

		pinned, err := PinnedTo(core)
		if err != nil {
			errs <- err
			return
		}
		if !pinned {
			errs <- errors.New("thread is not restricted to the requested core")
			return
		}

		errs <- nil
	}()

	if err := <-errs; err != nil {
		t.Fatalf("PinToCore(%d) failed: %v", core, err)
	}
}

func TestPinToInvalidCore(t *testing.T) {
	errs := make(chan error, 1)
	go func() {
		errs <- PinToCore(-1)
	}()

	var pinErr *PinError
	if err := <-errs; !errors.As(err, &pinErr) {
		t.Fatalf("expected *PinError, got %v", err)
	}
	if pinErr.CoreID != -1 {
		t.Fatalf("expected core id -1 in error, got %d", pinErr.CoreID)
	}
}
