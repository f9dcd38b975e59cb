package affinity

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

var (
	ErrNotEnoughCPUs = errors.New("not enough CPUs in the affinity mask")
	ErrNotPinned     = errors.New("thread mask does not match the requested core")
)

type PinError struct {
	CoreID int
	Err    error
}

func (e *PinError) Error() string {
	return fmt.Sprintf("could not pin thread to core id %v: %v", e.CoreID, e.Err)
}

func (e *PinError) Unwrap() error {
	return e.Err
}

// maxCPUs is CPU_SETSIZE, the number of CPUs a unix.CPUSet can describe.
const maxCPUs = 1024

// AvailableCPUs returns the logical CPUs the process may run on, in
// ascending order.
func AvailableCPUs() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, err
	}

	cpus := make([]int, 0, set.Count())
	for cpu := 0; cpu < maxCPUs; cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}

	return cpus, nil
}

// AssignCores picks one distinct core per worker before any worker is
// dispatched.
func AssignCores(workers int) ([]int, error) {
	cpus, err := AvailableCPUs()
	if err != nil {
		return nil, err
	}

	if workers > len(cpus) {
		return nil, fmt.Errorf("%w: need %v, have %v", ErrNotEnoughCPUs, workers, len(cpus))
	}

	return cpus[:workers], nil
}

// PinToCore locks the calling goroutine to its OS thread and restricts that
// thread to exactly coreID. The thread is never unlocked again: when the
// goroutine exits, the runtime discards the thread together with its mask.
func PinToCore(coreID int) error {
	if coreID < 0 || coreID >= maxCPUs {
		return &PinError{CoreID: coreID, Err: unix.EINVAL}
	}

	runtime.LockOSThread()

	var set unix.CPUSet
	set.Set(coreID)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return &PinError{CoreID: coreID, Err: err}
	}

	pinned, err := PinnedTo(coreID)
	if err != nil {
		return &PinError{CoreID: coreID, Err: err}
	}

	if !pinned {
		return &PinError{CoreID: coreID, Err: ErrNotPinned}
	}

	return nil
}

// PinnedTo reports whether the calling thread may only run on coreID.
func PinnedTo(coreID int) (bool, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return false, err
	}

	return set.Count() == 1 && set.IsSet(coreID), nil
}
