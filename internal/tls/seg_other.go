//go:build !(linux && amd64)

package tls

import "errors"

// SegmentBase has no portable equivalent outside linux/amd64 in this build;
// a real host runtime on other platforms supplies its own mechanism (e.g.
// TEB access on Windows, pthread TSD on other unixes). Callers needing a
// real segment base on those platforms must come from the host's
// TLSAllocator implementation instead.
func SegmentBase() (uintptr, error) {
	return 0, errors.New("tls: SegmentBase is only implemented for linux/amd64")
}
