//go:build linux && amd64

package tls

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// arch_prctl ARCH_GET_FS is how glibc (and DynamoRIO) read the running
// thread's %fs segment base on linux/amd64; this is the real mechanism a
// host runtime would use under the hood to hand the core a raw,
// segment-relative TLS address for emitted code to index into directly
// (spec section 2, component B).
const archGetFS = 0x1003

// SegmentBase reads the calling OS thread's current %fs base address. It is
// exposed so a thin TLSAllocator implementation can compute real
// segment-relative offsets instead of the portable simulation used when the
// real syscall is unavailable (see seg_other.go).
func SegmentBase() (uintptr, error) {
	var base uint64

	_, _, errno := unix.RawSyscall(unix.SYS_ARCH_PRCTL, archGetFS, uintptr(unsafe.Pointer(&base)), 0)
	if errno != 0 {
		return 0, errno
	}

	return uintptr(base), nil
}
