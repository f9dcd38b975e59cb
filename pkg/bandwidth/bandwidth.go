package bandwidth

import (
	"errors"
	"fmt"
	"time"
	"unsafe"
)

const GiB = 1 << 30

// WordSize is the number of bytes a single access reads.
const WordSize = uint64(unsafe.Sizeof(uint64(0)))

var ErrDegenerateTiming = errors.New("elapsed time must be positive")

func TotalBytes(threads int, accessCount, repeatCount uint64) uint64 {
	return uint64(threads) * accessCount * repeatCount * WordSize
}

// GiBPerSecond returns the aggregate read throughput of a run.
func GiBPerSecond(elapsedSeconds float64, threads int, accessCount, repeatCount uint64) (float64, error) {
	if !(elapsedSeconds > 0) {
		return 0, fmt.Errorf("%w: got %v seconds", ErrDegenerateTiming, elapsedSeconds)
	}

	return float64(TotalBytes(threads, accessCount, repeatCount)) / elapsedSeconds / GiB, nil
}

// Stopwatch measures a single wall-clock interval on the monotonic clock.
type Stopwatch struct {
	start time.Time
}

func Start() Stopwatch {
	return Stopwatch{start: time.Now()}
}

func (s Stopwatch) Seconds() float64 {
	return time.Since(s.start).Seconds()
}
