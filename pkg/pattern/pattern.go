package pattern

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

const (
	CacheLineSize = 64

	// Skewed patterns draw one of SkewBins bins from a normal distribution;
	// with these parameters ~90% of the draws land in the central ~10% of bins.
	SkewBins   = 1024
	SkewMean   = 511
	SkewStdDev = 31
)

var (
	ErrUnknownAccessType = errors.New("unknown access type")
	ErrBufferTooSmall    = errors.New("buffer is smaller than a cache line")
)

type AccessType int

const (
	Sequential AccessType = iota
	Random
	RandomSkewed
	MovingRandomSkewed
)

var accessTypeNames = [...]string{
	Sequential:         "sequential",
	Random:             "random",
	RandomSkewed:       "random_skewed",
	MovingRandomSkewed: "moving_random_skewed",
}

func (t AccessType) String() string {
	if t < 0 || int(t) >= len(accessTypeNames) {
		return fmt.Sprintf("AccessType(%d)", int(t))
	}

	return accessTypeNames[t]
}

func (t AccessType) Valid() bool {
	return t >= Sequential && t <= MovingRandomSkewed
}

// AccessTypes lists every supported pattern in declaration order.
func AccessTypes() []AccessType {
	return []AccessType{Sequential, Random, RandomSkewed, MovingRandomSkewed}
}

func ParseAccessType(name string) (AccessType, error) {
	for i, candidate := range accessTypeNames {
		if candidate == name {
			return AccessType(i), nil
		}
	}

	return -1, fmt.Errorf("%w: %q", ErrUnknownAccessType, name)
}

// NewRand returns the per-worker generator; the seed is the core id so
// that a core always replays the same offset sequence.
func NewRand(coreID int) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(coreID), 0))
}

// Generate fills offsets in place with byte offsets into a buffer of
// bufferSize bytes. Every offset is cache-line aligned and smaller than
// bufferSize. The output depends only on the state of rng.
func Generate(offsets []uint64, bufferSize uint64, rng *rand.Rand, accessType AccessType) error {
	if bufferSize < CacheLineSize {
		return ErrBufferTooSmall
	}

	// A trailing partial line is never addressed.
	bufferSize &^= CacheLineSize - 1

	switch accessType {
	case Sequential:
		sequential(offsets, bufferSize)
	case Random:
		random(offsets, bufferSize, rng)
	case RandomSkewed:
		randomSkewed(offsets, bufferSize, rng)
	case MovingRandomSkewed:
		movingRandomSkewed(offsets, bufferSize, rng)
	default:
		return fmt.Errorf("%w: %v", ErrUnknownAccessType, accessType)
	}

	return nil
}

func linesPerBuffer(bufferSize uint64) uint64 {
	return bufferSize / CacheLineSize
}

func sequential(offsets []uint64, bufferSize uint64) {
	perBuffer := linesPerBuffer(bufferSize)

	for i := range offsets {
		offsets[i] = (uint64(i) % perBuffer) * CacheLineSize
	}
}

func random(offsets []uint64, bufferSize uint64, rng *rand.Rand) {
	perBuffer := linesPerBuffer(bufferSize)

	for i := range offsets {
		offsets[i] = (uint64(rng.Uint32()) % perBuffer) * CacheLineSize
	}
}

// skewBin draws a bin index in [0, SkewBins).
func skewBin(rng *rand.Rand) uint64 {
	bin := int64(math.Floor(rng.NormFloat64()*SkewStdDev + SkewMean))

	bin %= SkewBins
	if bin < 0 {
		bin += SkewBins
	}

	return uint64(bin)
}

type skewer struct {
	bufferSize  uint64
	linesPerBin uint64
}

func newSkewer(bufferSize uint64) skewer {
	linesPerBin := bufferSize / SkewBins / CacheLineSize
	if linesPerBin == 0 {
		linesPerBin = 1
	}

	return skewer{
		bufferSize:  bufferSize,
		linesPerBin: linesPerBin,
	}
}

// offset maps a fresh bin draw to a line inside that bin; the line within
// the bin is picked by the access index.
func (s skewer) offset(i uint64, rng *rand.Rand) uint64 {
	binStart := skewBin(rng) * s.bufferSize / SkewBins

	off := (binStart + (i%s.linesPerBin)*CacheLineSize) &^ (CacheLineSize - 1)
	if off >= s.bufferSize {
		off = binStart &^ (CacheLineSize - 1)
	}

	return off
}

func randomSkewed(offsets []uint64, bufferSize uint64, rng *rand.Rand) {
	s := newSkewer(bufferSize)

	for i := range offsets {
		offsets[i] = s.offset(uint64(i), rng)
	}
}

// TenthOfBuffer returns how many accesses make up a tenth of the buffer and
// how many bytes the hot region of MovingRandomSkewed moves per step.
func TenthOfBuffer(bufferSize uint64) (accesses, bytes uint64) {
	accesses = linesPerBuffer(bufferSize) / 10
	if accesses == 0 {
		accesses = 1
	}

	return accesses, (bufferSize / 10) &^ (CacheLineSize - 1)
}

func movingRandomSkewed(offsets []uint64, bufferSize uint64, rng *rand.Rand) {
	s := newSkewer(bufferSize)
	accessesPerTenth, bytesPerTenth := TenthOfBuffer(bufferSize)

	for i := range offsets {
		idx := uint64(i)
		shift := (idx / accessesPerTenth) % 10 * bytesPerTenth

		offsets[i] = (s.offset(idx, rng) + shift) % bufferSize
	}
}
