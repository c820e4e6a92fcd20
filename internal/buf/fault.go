package buf

import (
	"github.com/tracehook/dbicore/internal/ilist"
	"github.com/tracehook/dbicore/internal/tls"
)

// FaultResult reports what HandleFault decided.
type FaultResult struct {
	// Buf is the owning buffer, set whenever the fault fell inside one of
	// this thread's guard pages.
	Buf *Buf

	// Resumed reports whether the fault was handled by resetting the
	// buffer's pointer to base and invoking its full_cb; false means the
	// fault must be passed through to whatever other handler the host has
	// registered (spec section 4.3: "If the decoded instruction is not a
	// Buf-style store, the fault is passed through unchanged").
	Resumed bool

	UsedBytes uintptr
}

// HandleFault implements the Buf component's fault-handling half of spec
// section 4.3: identify which thread-local buffer, if any, owns the faulting
// address, confirm the faulting instruction is a Buf-style store (base+const
// displacement, as every insert_buf_store/insert_buf_memcpy emission uses),
// invoke the buffer's full_cb with its base and the number of bytes written
// so far, and reset its pointer to base so the instrumented code can resume.
//
// faultingInsn may be nil when the caller has no decoded instruction handy
// (e.g. a test driving the handler directly); in that case the address match
// alone is trusted.
func HandleFault(tc *tls.ThreadContext, addr uintptr, faultingInsn ilist.Insn) *FaultResult {
	for _, st := range threadBufStates(tc) {
		if st.mem == nil || !st.faultRange.contains(addr) {
			continue
		}

		if faultingInsn != nil {
			if sm, ok := faultingInsn.(ilist.StoreMem); !ok || sm.Disp < 0 {
				return &FaultResult{Buf: st.Buf, Resumed: false}
			}
		}

		used := st.Ptr - st.Base

		if st.Buf.FullCB != nil {
			st.Buf.FullCB(st.Base, used)
		}

		st.Ptr = st.Base

		return &FaultResult{Buf: st.Buf, Resumed: true, UsedBytes: used}
	}

	return &FaultResult{Resumed: false}
}
