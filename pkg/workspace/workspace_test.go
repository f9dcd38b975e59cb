package workspace

import (
	"errors"
	"math"
	"testing"
	"unsafe"

	"github.com/pojntfx/membench/pkg/pattern"
)

func TestSetup(t *testing.T) {
	const (
		bufferSize  = 256 * 1024
		accessCount = 10_000
	)

	w, err := Setup(3, bufferSize, accessCount, pattern.Random)
	if err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}
	defer w.Teardown()

	if w.CoreID != 3 {
		t.Fatalf("expected core id 3, got %d", w.CoreID)
	}

	if len(w.Buffer) != bufferSize {
		t.Fatalf("expected buffer of %d bytes, got %d", bufferSize, len(w.Buffer))
	}

	if addr := uintptr(unsafe.Pointer(&w.Buffer[0])); addr%pattern.CacheLineSize != 0 {
		t.Fatalf("buffer at %#x is not cache-line aligned", addr)
	}

	if addr := uintptr(unsafe.Pointer(&w.Offsets[0])); addr%pattern.CacheLineSize != 0 {
		t.Fatalf("offset table at %#x is not cache-line aligned", addr)
	}

	for i, b := range w.Buffer {
		if b != BufferFill {
			t.Fatalf("buffer byte %d is %#x, expected %#x", i, b, BufferFill)
		}
	}

	if len(w.Offsets) != accessCount {
		t.Fatalf("expected %d offsets, got %d", accessCount, len(w.Offsets))
	}

	for i, off := range w.Offsets {
		if off >= bufferSize || off%8 != 0 {
			t.Fatalf("invalid offset %d at index %d", off, i)
		}
	}
}

func TestSetupSeedsFromCoreID(t *testing.T) {
	a, err := Setup(5, 64*1024, 1_000, pattern.RandomSkewed)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Teardown()

	b, err := Setup(5, 64*1024, 1_000, pattern.RandomSkewed)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Teardown()

	for i := range a.Offsets {
		if a.Offsets[i] != b.Offsets[i] {
			t.Fatalf("workspaces for the same core diverge at index %d", i)
		}
	}
}

func TestSetupRejectsInvalidSizes(t *testing.T) {
	if _, err := Setup(0, pattern.CacheLineSize-1, 10, pattern.Sequential); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("expected ErrInvalidSize for tiny buffer, got %v", err)
	}

	if _, err := Setup(0, 4096, 0, pattern.Sequential); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("expected ErrInvalidSize for zero accesses, got %v", err)
	}

	if _, err := Setup(0, math.MaxInt-GuardSize(), 10, pattern.Sequential); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("expected ErrInvalidSize for a buffer that overflows with its guards, got %v", err)
	}

	if _, err := Setup(0, 4096, math.MaxInt/4, pattern.Sequential); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("expected ErrInvalidSize for an offset table that overflows, got %v", err)
	}
}

func TestSetupRejectsUnknownAccessType(t *testing.T) {
	if _, err := Setup(0, 4096, 10, pattern.AccessType(9)); !errors.Is(err, pattern.ErrUnknownAccessType) {
		t.Fatalf("expected ErrUnknownAccessType, got %v", err)
	}
}

func TestTeardown(t *testing.T) {
	w, err := Setup(0, 4096, 16, pattern.Sequential)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Teardown(); err != nil {
		t.Fatalf("Teardown() failed: %v", err)
	}

	if !w.tornDown() || w.Buffer != nil || w.Offsets != nil {
		t.Fatal("workspace still references its regions after teardown")
	}

	if err := w.Teardown(); !errors.Is(err, ErrAlreadyTornDown) {
		t.Fatalf("expected ErrAlreadyTornDown on second teardown, got %v", err)
	}
}

func TestFill(t *testing.T) {
	for _, size := range []int{0, 1, 7, 64, 1000} {
		p := make([]byte, size)
		fill(p, 0xAB)

		for i, b := range p {
			if b != 0xAB {
				t.Fatalf("size %d: byte %d is %#x", size, i, b)
			}
		}
	}
}
