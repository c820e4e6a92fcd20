package buf

import (
	"github.com/tracehook/dbicore/internal/hostabi"
	"github.com/tracehook/dbicore/internal/ilist"
)

// tlsBaseReg is the placeholder base register the emitted loads/stores use
// to address the per-thread buffer pointer slot. A real host maps this to
// its raw-TLS segment register the same way RegMgr's spill/restore sequences
// do (internal/tls); this package only needs a stable textual name for the
// instructions it emits.
const tlsBaseReg ilist.Reg = "tls_seg"

// InsertLoadBufPtr emits the load of s's current buffer pointer into dst
// (spec section 4.3, insert_load_buf_ptr).
func InsertLoadBufPtr(block *ilist.List, where int, dst ilist.Reg, s *PerThreadBufState) {
	block.InsertAt(where, ilist.LoadMem{Dst: dst, Base: tlsBaseReg, Disp: s.TLSDisp})
}

// InsertUpdateBufPtr emits the store that advances s's buffer pointer by
// delta bytes and writes the updated value back to the thread-local slot
// (spec section 4.3, insert_update_buf_ptr). newVal must already hold
// old-pointer+delta; the caller arranges that arithmetic with ordinary ilist
// App instructions, since pointer arithmetic itself isn't this package's
// concern.
func InsertUpdateBufPtr(block *ilist.List, where int, newVal ilist.Reg, s *PerThreadBufState) {
	block.InsertAt(where, ilist.StoreMem{Base: tlsBaseReg, Src: newVal, Disp: s.TLSDisp})
}

// InsertBufStore emits a single store of src to [ptrReg+disp], the common
// case of appending one value to the buffer at its current pointer (spec
// section 4.3, insert_buf_store).
func InsertBufStore(block *ilist.List, where int, ptrReg ilist.Reg, disp int, src ilist.Reg, size int) {
	block.InsertAt(where, ilist.StoreMem{Base: ptrReg, Src: src, Disp: disp, Size: size})
}

// InsertBufMemcpy emits a bulk copy of n bytes from srcReg to the buffer at
// ptrReg (spec section 4.3, insert_buf_memcpy). Anything beyond a few words
// is emitted as a clean call out to a memcpy helper rather than an inline
// unrolled copy, mirroring how Wrap's InsertionPass emits on_entry/on_return
// as clean calls rather than inline sequences.
func InsertBufMemcpy(block *ilist.List, where int, emitter hostabi.CleanCallEmitter, ptrReg, srcReg ilist.Reg, n int) {
	if n <= 4*8 {
		for i := 0; i < n; i += 8 {
			sz := n - i
			if sz > 8 {
				sz = 8
			}

			block.InsertAt(where+i/8, ilist.StoreMem{Base: ptrReg, Src: srcReg, Disp: i, Size: sz})
		}

		return
	}

	emitter.InsertCleanCall(block, where, "buf_memcpy", hostabi.ReadsAppContext, ptrReg, srcReg)
}
