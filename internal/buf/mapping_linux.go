//go:build linux

package buf

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapping is a real guard-paged allocation: size rounded up to a whole
// number of pages, plus one extra page mapped PROT_NONE immediately after
// it, so a store that walks off the end of the buffer faults instead of
// corrupting adjacent memory (spec section 4.3, "guard page technique").
type mapping struct {
	data       []byte
	base       uintptr
	mappedSize uintptr
	dataPages  uintptr
}

func pageSize() uintptr { return uintptr(unix.Getpagesize()) }

func roundUpPage(n uintptr) uintptr {
	ps := pageSize()
	return (n + ps - 1) / ps * ps
}

func newGuardedMapping(size uintptr) (*mapping, error) {
	ps := pageSize()
	dataPages := roundUpPage(size)
	total := dataPages + ps

	data, err := unix.Mmap(-1, 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", total, err)
	}

	guard := data[dataPages:]
	if err := unix.Mprotect(guard, unix.PROT_NONE); err != nil {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("mprotect guard page: %w", err)
	}

	return &mapping{
		data:       data,
		base:       uintptr(addrOf(data)),
		mappedSize: total,
		dataPages:  dataPages,
	}, nil
}

func (m *mapping) unmap() error {
	return unix.Munmap(m.data)
}
