package config

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"unsafe"

	"github.com/pojntfx/membench/pkg/flush"
	"github.com/pojntfx/membench/pkg/pattern"
	"github.com/pojntfx/membench/pkg/workspace"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/spf13/viper"
)

const (
	KeyThreads     = "threads_num"
	KeyBufferSize  = "buffer_size"
	KeyAccessCount = "access_num"
	KeyAccessType  = "access_type"
	KeyRepeatCount = "repeat_num"
	KeyFlushSize   = "flush_size"
	KeyVerbose     = "verbose"
	KeyJSON        = "json"

	// Buffer and flush sizes are given in MiB, access counts in units of
	// 2^20 accesses.
	SizeUnit  = 1024 * 1024
	CountUnit = 1024 * 1024
)

var ErrInvalidConfig = errors.New("invalid configuration")

// wordSize is the size of one offset table entry.
const wordSize = uint64(unsafe.Sizeof(uint64(0)))

type Benchmark struct {
	Threads     int
	BufferSize  uint64
	AccessCount uint64
	AccessType  pattern.AccessType
	RepeatCount uint64
	FlushSize   uint64
}

// SetDefaults registers the defaults for every benchmark key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyThreads, 1)
	v.SetDefault(KeyBufferSize, 64)
	v.SetDefault(KeyAccessCount, 16)
	v.SetDefault(KeyAccessType, pattern.Sequential.String())
	v.SetDefault(KeyRepeatCount, 1)
	v.SetDefault(KeyFlushSize, flush.DefaultSize/SizeUnit)
	v.SetDefault(KeyVerbose, false)
	v.SetDefault(KeyJSON, false)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %v", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Load reads the benchmark keys from v and scales them to bytes and
// access counts. It does not validate the result.
func Load(v *viper.Viper) (Benchmark, error) {
	accessType, err := pattern.ParseAccessType(v.GetString(KeyAccessType))
	if err != nil {
		return Benchmark{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	threads := v.GetInt(KeyThreads)
	bufferSize := v.GetInt64(KeyBufferSize)
	accessCount := v.GetInt64(KeyAccessCount)
	repeatCount := v.GetInt64(KeyRepeatCount)
	flushSize := v.GetInt64(KeyFlushSize)

	for key, value := range map[string]struct {
		n    int64
		unit int64
	}{
		KeyBufferSize:  {bufferSize, SizeUnit},
		KeyAccessCount: {accessCount, CountUnit},
		KeyRepeatCount: {repeatCount, 1},
		KeyFlushSize:   {flushSize, SizeUnit},
	} {
		if value.n < 0 {
			return Benchmark{}, invalid("%v must not be negative, got %v", key, value.n)
		}

		if value.n > math.MaxInt64/value.unit {
			return Benchmark{}, invalid("%v of %v is too large, at most %v is supported", key, value.n, math.MaxInt64/value.unit)
		}
	}

	return Benchmark{
		Threads:     threads,
		BufferSize:  uint64(bufferSize) * SizeUnit,
		AccessCount: uint64(accessCount) * CountUnit,
		AccessType:  accessType,
		RepeatCount: uint64(repeatCount),
		FlushSize:   uint64(flushSize) * SizeUnit,
	}, nil
}

// Validate rejects configurations that can't produce a meaningful run on a
// host with availableCPUs usable logical CPUs.
func (b Benchmark) Validate(availableCPUs int) error {
	if b.Threads < 1 || b.Threads > availableCPUs {
		return invalid("invalid threads num [%v] must be between 1-%v", b.Threads, availableCPUs)
	}

	if b.BufferSize < pattern.CacheLineSize {
		return invalid("invalid thread buffer size [%v] must be at least %v bytes", b.BufferSize, pattern.CacheLineSize)
	}

	if b.BufferSize%pattern.CacheLineSize != 0 {
		return invalid("invalid thread buffer size [%v] must be a multiple of %v bytes", b.BufferSize, pattern.CacheLineSize)
	}

	if guard := uint64(workspace.GuardSize()); b.BufferSize > math.MaxInt-2*guard {
		return invalid("invalid thread buffer size [%v] can't be mapped with its guard region", b.BufferSize)
	}

	if b.AccessCount == 0 {
		return invalid("invalid access num [%v] must be greater than 0", b.AccessCount)
	}

	if b.AccessCount > math.MaxInt/wordSize {
		return invalid("invalid access num [%v] offset table can't be mapped", b.AccessCount)
	}

	if b.RepeatCount == 0 {
		return invalid("invalid repeat num [%v] must be greater than 0", b.RepeatCount)
	}

	if b.FlushSize == 0 {
		return invalid("invalid flush size [%v] must be greater than 0", b.FlushSize)
	}

	if b.FlushSize > math.MaxInt {
		return invalid("invalid flush size [%v] can't be mapped", b.FlushSize)
	}

	if !b.AccessType.Valid() {
		return invalid("invalid access type [%v]", b.AccessType)
	}

	return nil
}

// WithFlushFloor returns b with FlushSize raised to the host's cache-size
// floor.
func (b Benchmark) WithFlushFloor() Benchmark {
	if b.FlushSize <= math.MaxInt {
		b.FlushSize = uint64(flush.SizeFor(int(b.FlushSize)))
	}

	return b
}

func saturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}

	return sum
}

func saturatingMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}

	return lo
}

// Footprint is the number of bytes a run maps at its peak: every worker's
// buffer (with guards) and offset table plus the two flush regions. It
// saturates instead of wrapping.
func (b Benchmark) Footprint(guardSize uint64) uint64 {
	perWorker := saturatingAdd(
		saturatingAdd(b.BufferSize, saturatingMul(2, guardSize)),
		saturatingMul(b.AccessCount, wordSize),
	)

	return saturatingAdd(saturatingMul(uint64(b.Threads), perWorker), saturatingMul(2, b.FlushSize))
}

type Host struct {
	LogicalCPUs     int
	PhysicalCores   int
	AvailableMemory uint64
}

// Inspect queries the host for the figures Preflight needs.
func Inspect() (Host, error) {
	logical, err := cpu.Counts(true)
	if err != nil {
		return Host{}, err
	}

	physical, err := cpu.Counts(false)
	if err != nil {
		return Host{}, err
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return Host{}, err
	}

	return Host{
		LogicalCPUs:     logical,
		PhysicalCores:   physical,
		AvailableMemory: vm.Available,
	}, nil
}

// Preflight rejects a configuration whose footprint does not fit into the
// host's available memory.
func (b Benchmark) Preflight(host Host, guardSize uint64) error {
	if footprint := b.Footprint(guardSize); footprint > host.AvailableMemory {
		return invalid("run needs %v bytes but only %v bytes are available", footprint, host.AvailableMemory)
	}

	return nil
}

// SharesPhysicalCores reports whether the workers can't all get a physical
// core of their own.
func (b Benchmark) SharesPhysicalCores(host Host) bool {
	return host.PhysicalCores > 0 && b.Threads > host.PhysicalCores
}
