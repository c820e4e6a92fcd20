package main

import (
	"sync/atomic"

	"github.com/tracehook/dbicore/internal/hostabi"
)

// fakeTLSAllocator stands in for the host runtime's raw TLS allocator (spec
// section 2, component B): this harness has no real thread-local storage to
// hand out, so it just counts out distinct offsets.
type fakeTLSAllocator struct {
	next uint64
}

func (a *fakeTLSAllocator) AllocateRawTLS(nSlots int) (hostabi.SegmentSelector, uintptr, error) {
	offset := atomic.AddUint64(&a.next, uint64(nSlots)*8)
	return hostabi.SegmentSelector(1), uintptr(offset), nil
}

func (a *fakeTLSAllocator) FreeRawTLS(hostabi.SegmentSelector, uintptr) error {
	return nil
}
