package buf

import (
	"testing"

	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"

	"github.com/tracehook/dbicore/internal/hostabi"
	"github.com/tracehook/dbicore/internal/hostabi/hostmock"
	"github.com/tracehook/dbicore/internal/ilist"
	"github.com/tracehook/dbicore/internal/tls"
)

func newTestThread(t *testing.T) *tls.ThreadContext {
	t.Helper()

	ctrl := gomock.NewController(t)
	alloc := hostmock.NewMockTLSAllocator(ctrl)
	alloc.EXPECT().AllocateRawTLS(gomock.Any()).Return(hostabi.SegmentSelector(1), uintptr(0x200), nil)

	store := tls.NewStore(alloc, 4)

	tc, err := store.Init(1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	return tc
}

func TestCreateCircularBufferPicksFastRing(t *testing.T) {
	m := NewManager()

	b, err := m.CreateCircularBuffer(fastRingMagicSize)
	if err != nil {
		t.Fatalf("CreateCircularBuffer: %v", err)
	}

	if b.Kind != CircularFast {
		t.Fatalf("Kind = %v, want CircularFast", b.Kind)
	}

	b2, err := m.CreateCircularBuffer(3000)
	if err != nil {
		t.Fatalf("CreateCircularBuffer: %v", err)
	}

	if b2.Kind != Circular {
		t.Fatalf("Kind = %v, want Circular", b2.Kind)
	}
}

func TestCreateCircularBufferRejectsZeroSize(t *testing.T) {
	m := NewManager()

	if _, err := m.CreateCircularBuffer(0); err == nil {
		t.Fatalf("expected InvalidSize error")
	}
}

func TestCreateTraceBufferRejectsSubPageSize(t *testing.T) {
	m := NewManager()

	if _, err := m.CreateTraceBuffer(1, nil); err == nil {
		t.Fatalf("expected InvalidSize error")
	}
}

func TestInitThreadAllocatesGuardedMapping(t *testing.T) {
	m := NewManager()
	tc := newTestThread(t)

	b, err := m.CreateTraceBuffer(8192, nil)
	if err != nil {
		t.Fatalf("CreateTraceBuffer: %v", err)
	}

	st, err := m.InitThread(tc, b)
	if err != nil {
		t.Fatalf("InitThread: %v", err)
	}

	if st.GetBufferBase() == 0 {
		t.Fatalf("expected non-zero base")
	}

	if st.GetBufferSize() != 8192 {
		t.Fatalf("GetBufferSize = %d, want 8192", st.GetBufferSize())
	}

	if st.GetBufferPtr() != st.GetBufferBase() {
		t.Fatalf("expected ptr initialized to base")
	}
}

func TestHandleFaultInvokesFullCBAndResetsPointer(t *testing.T) {
	m := NewManager()
	tc := newTestThread(t)

	var gotBase, gotUsed uintptr

	b, err := m.CreateTraceBuffer(4096, func(base, used uintptr) {
		gotBase, gotUsed = base, used
	})
	if err != nil {
		t.Fatalf("CreateTraceBuffer: %v", err)
	}

	st, err := m.InitThread(tc, b)
	if err != nil {
		t.Fatalf("InitThread: %v", err)
	}

	st.SetBufferPtr(st.GetBufferBase() + 4000)

	faultAddr := st.faultRange.lo
	store := ilist.StoreMem{Base: "buf_ptr", Src: "rax", Disp: 0, Size: 8}

	res := HandleFault(tc, faultAddr, store)
	if !res.Resumed {
		t.Fatalf("expected fault to be resumed")
	}

	if gotBase != st.GetBufferBase() || gotUsed != 4000 {
		t.Fatalf("full_cb got base=%x used=%d, want base=%x used=4000", gotBase, gotUsed, st.GetBufferBase())
	}

	if st.GetBufferPtr() != st.GetBufferBase() {
		t.Fatalf("expected pointer reset to base after fault")
	}
}

func TestHandleFaultPassesThroughUnrelatedAddress(t *testing.T) {
	m := NewManager()
	tc := newTestThread(t)

	b, err := m.CreateTraceBuffer(4096, nil)
	if err != nil {
		t.Fatalf("CreateTraceBuffer: %v", err)
	}

	if _, err := m.InitThread(tc, b); err != nil {
		t.Fatalf("InitThread: %v", err)
	}

	res := HandleFault(tc, 0xDEADBEEF, nil)
	if res.Resumed {
		t.Fatalf("expected pass-through for an address outside every buffer")
	}
}

func TestInsertLoadBufPtrAndUpdateEmitCorrectDisp(t *testing.T) {
	m := NewManager()
	tc := newTestThread(t)

	b, err := m.CreateTraceBuffer(4096, nil)
	if err != nil {
		t.Fatalf("CreateTraceBuffer: %v", err)
	}

	st, err := m.InitThread(tc, b)
	if err != nil {
		t.Fatalf("InitThread: %v", err)
	}

	block := &ilist.List{}
	InsertLoadBufPtr(block, 0, "r10", st)
	InsertUpdateBufPtr(block, 1, "r10", st)

	load, ok := block.Insns[0].(ilist.LoadMem)
	if !ok || load.Disp != st.TLSDisp {
		t.Fatalf("expected load at disp %d, got %+v", st.TLSDisp, block.Insns[0])
	}

	store, ok := block.Insns[1].(ilist.StoreMem)
	if !ok || store.Disp != st.TLSDisp {
		t.Fatalf("expected store at disp %d, got %+v", st.TLSDisp, block.Insns[1])
	}
}

// TestConcurrentThreadsGetIndependentBufferStates drives several simulated
// application threads concurrently with errgroup (spec section 5's "one
// logical execution context per application thread" model) and checks each
// gets its own untangled buffer pointer and base.
func TestConcurrentThreadsGetIndependentBufferStates(t *testing.T) {
	ctrl := gomock.NewController(t)
	alloc := hostmock.NewMockTLSAllocator(ctrl)
	alloc.EXPECT().AllocateRawTLS(gomock.Any()).Return(hostabi.SegmentSelector(1), uintptr(0), nil).AnyTimes()

	store := tls.NewStore(alloc, 4)

	m := NewManager()

	b, err := m.CreateCircularBuffer(3000)
	if err != nil {
		t.Fatalf("CreateCircularBuffer: %v", err)
	}

	const n = 8

	bases := make([]uintptr, n)

	var g errgroup.Group

	for i := 0; i < n; i++ {
		i := i

		g.Go(func() error {
			tc, err := store.Init(tls.ThreadID(i + 1))
			if err != nil {
				return err
			}

			st, err := m.InitThread(tc, b)
			if err != nil {
				return err
			}

			bases[i] = st.GetBufferBase()
			st.SetBufferPtr(st.GetBufferBase() + uintptr(i))

			if st.GetBufferPtr() != st.GetBufferBase()+uintptr(i) {
				t.Errorf("thread %d: pointer arithmetic clobbered by another goroutine", i)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("g.Wait: %v", err)
	}

	seen := map[uintptr]bool{}
	for _, base := range bases {
		if seen[base] {
			t.Fatalf("two threads were handed the same buffer base %#x", base)
		}

		seen[base] = true
	}
}
