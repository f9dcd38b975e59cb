package workspace

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"github.com/pojntfx/membench/pkg/pattern"
)

const (
	// BufferFill is written to every buffer byte so that the allocator
	// can't hand out shared zero pages and first-touch faults happen here.
	BufferFill = 0xCC
)

var (
	ErrInvalidSize     = errors.New("invalid size")
	ErrAlreadyTornDown = errors.New("workspace already torn down")
)

// GuardSize is the padding mapped on either side of a buffer.
func GuardSize() int {
	return os.Getpagesize() / 2
}

type AllocationError struct {
	What string
	Size int
	Err  error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("could not allocate %v of %v bytes: %v", e.What, e.Size, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// Workspace is the private state of one worker. It must only be touched by
// the goroutine that created it.
type Workspace struct {
	CoreID int

	Buffer  []byte
	Offsets []uint64
	Rand    *rand.Rand

	AccumulatedSum uint64

	bufferRegion  mmap.MMap
	offsetsRegion mmap.MMap
}

func mapAnonymous(what string, size int) (mmap.MMap, error) {
	region, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, &AllocationError{What: what, Size: size, Err: err}
	}

	return region, nil
}

// fill writes b over all of p, doubling the copied prefix every round.
func fill(p []byte, b byte) {
	if len(p) == 0 {
		return
	}

	p[0] = b
	for i := 1; i < len(p); i *= 2 {
		copy(p[i:], p[:i])
	}
}

// Setup maps and fills the buffer, maps the offset table and generates the
// offsets for accessType. Call it after pinning so the pages are first
// touched on the worker's core.
func Setup(coreID int, bufferSize int, accessCount int, accessType pattern.AccessType) (*Workspace, error) {
	if bufferSize < pattern.CacheLineSize {
		return nil, fmt.Errorf("%w: buffer of %v bytes is smaller than a cache line", ErrInvalidSize, bufferSize)
	}

	if accessCount <= 0 {
		return nil, fmt.Errorf("%w: access count %v", ErrInvalidSize, accessCount)
	}

	guard := GuardSize()

	if bufferSize > math.MaxInt-2*guard {
		return nil, fmt.Errorf("%w: buffer of %v bytes can't be mapped with its guard region", ErrInvalidSize, bufferSize)
	}

	if accessCount > math.MaxInt/int(unsafe.Sizeof(uint64(0))) {
		return nil, fmt.Errorf("%w: offset table for %v accesses can't be mapped", ErrInvalidSize, accessCount)
	}

	bufferRegion, err := mapAnonymous("buffer", bufferSize+2*guard)
	if err != nil {
		return nil, err
	}

	fill(bufferRegion, BufferFill)

	offsetsRegion, err := mapAnonymous("offset table", accessCount*int(unsafe.Sizeof(uint64(0))))
	if err != nil {
		_ = bufferRegion.Unmap()

		return nil, err
	}

	w := &Workspace{
		CoreID: coreID,

		Buffer:  bufferRegion[guard : guard+bufferSize],
		Offsets: unsafe.Slice((*uint64)(unsafe.Pointer(&offsetsRegion[0])), accessCount),
		Rand:    pattern.NewRand(coreID),

		bufferRegion:  bufferRegion,
		offsetsRegion: offsetsRegion,
	}

	if err := pattern.Generate(w.Offsets, uint64(bufferSize), w.Rand, accessType); err != nil {
		_ = w.Teardown()

		return nil, err
	}

	return w, nil
}

// Teardown unmaps the buffer and the offset table. Calling it again
// returns ErrAlreadyTornDown.
func (w *Workspace) Teardown() error {
	if w.bufferRegion == nil && w.offsetsRegion == nil {
		return ErrAlreadyTornDown
	}

	w.Buffer = nil
	w.Offsets = nil

	var errs []error
	if w.bufferRegion != nil {
		errs = append(errs, w.bufferRegion.Unmap())
		w.bufferRegion = nil
	}

	if w.offsetsRegion != nil {
		errs = append(errs, w.offsetsRegion.Unmap())
		w.offsetsRegion = nil
	}

	return errors.Join(errs...)
}

func (w *Workspace) tornDown() bool {
	return w.bufferRegion == nil && w.offsetsRegion == nil
}
