package flush

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sys/unix"
)

const (
	DefaultSize = 128 * 1024 * 1024

	scratchFill = 0xAB

	// Scratch regions are sized to at least this multiple of the largest
	// reported cache.
	cacheMultiple = 4
)

var ErrInvalidSize = errors.New("invalid flush size")

// SizeFor returns requested, raised to cacheMultiple times the largest
// cache the host reports. Hosts that report no cache size keep requested.
func SizeFor(requested int) int {
	infos, err := cpu.Info()
	if err != nil {
		return requested
	}

	largest := 0
	for _, info := range infos {
		if size := int(info.CacheSize) * 1024; size > largest {
			largest = size
		}
	}

	if floor := largest * cacheMultiple; floor > requested {
		return floor
	}

	return requested
}

func mapScratch(size int) ([]byte, error) {
	b, err := unix.Mmap(
		-1,
		0,
		size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_POPULATE,
	)
	if err != nil {
		return nil, fmt.Errorf("could not map %v byte scratch region: %w", size, err)
	}

	return b, nil
}

// Caches writes one scratch region of size bytes and copies it into a
// second one, evicting whatever was cached before. Both regions are
// released before it returns.
func Caches(size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSize, size)
	}

	src, err := mapScratch(size)
	if err != nil {
		return err
	}
	defer unix.Munmap(src)

	dst, err := mapScratch(size)
	if err != nil {
		return err
	}
	defer unix.Munmap(dst)

	for i := range src {
		src[i] = scratchFill
	}

	copy(dst, src)

	return nil
}
