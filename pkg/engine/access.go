package engine

import (
	"unsafe"

	"github.com/pojntfx/membench/pkg/workspace"
)

// Access reads one 64-bit word at every offset of ws, repeatCount times
// over, and returns the sum of everything it read. The sum is also added to
// ws.AccumulatedSum so the reads stay observable.
func Access(ws *workspace.Workspace, repeatCount uint64) uint64 {
	if len(ws.Buffer) == 0 || len(ws.Offsets) == 0 {
		return 0
	}

	base := unsafe.Pointer(unsafe.SliceData(ws.Buffer))
	offsets := ws.Offsets
	grouped := len(offsets) &^ 7

	var sum uint64
	for r := uint64(0); r < repeatCount; r++ {
		i := 0
		for ; i < grouped; i += 8 {
			o := offsets[i : i+8 : i+8]

			sum += *(*uint64)(unsafe.Add(base, o[0])) +
				*(*uint64)(unsafe.Add(base, o[1])) +
				*(*uint64)(unsafe.Add(base, o[2])) +
				*(*uint64)(unsafe.Add(base, o[3])) +
				*(*uint64)(unsafe.Add(base, o[4])) +
				*(*uint64)(unsafe.Add(base, o[5])) +
				*(*uint64)(unsafe.Add(base, o[6])) +
				*(*uint64)(unsafe.Add(base, o[7]))
		}

		for ; i < len(offsets); i++ {
			sum += *(*uint64)(unsafe.Add(base, offsets[i]))
		}
	}

	ws.AccumulatedSum += sum

	return sum
}
