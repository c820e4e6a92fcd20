//go:build !linux

package buf

import "fmt"

// mapping on non-Linux platforms falls back to a plain heap allocation: a
// real guard page needs a host-specific VirtualAlloc/VirtualProtect
// equivalent (spec section 1 scopes the host runtime's platform layer out of
// this module's concern), so HandleFault here is only reachable by a caller
// that explicitly detects and reports an out-of-bounds store, not by an
// actual hardware trap.
type mapping struct {
	data       []byte
	base       uintptr
	mappedSize uintptr
	dataPages  uintptr
}

func pageSize() uintptr { return 4096 }

func roundUpPage(n uintptr) uintptr {
	ps := pageSize()
	return (n + ps - 1) / ps * ps
}

func newGuardedMapping(size uintptr) (*mapping, error) {
	dataPages := roundUpPage(size)
	total := dataPages + pageSize()

	data := make([]byte, total)
	if len(data) == 0 {
		return nil, fmt.Errorf("allocate %d bytes", total)
	}

	return &mapping{data: data, base: addrOf(data), mappedSize: total, dataPages: dataPages}, nil
}

func (m *mapping) unmap() error {
	return nil
}
