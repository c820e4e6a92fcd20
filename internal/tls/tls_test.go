package tls

import (
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/tracehook/dbicore/internal/hostabi"
	"github.com/tracehook/dbicore/internal/hostabi/hostmock"
	"github.com/tracehook/dbicore/internal/ilist"
)

func newStore(t *testing.T) *Store {
	t.Helper()

	ctrl := gomock.NewController(t)
	alloc := hostmock.NewMockTLSAllocator(ctrl)
	alloc.EXPECT().AllocateRawTLS(4).Return(hostabi.SegmentSelector(1), uintptr(0x300), nil)
	alloc.EXPECT().FreeRawTLS(hostabi.SegmentSelector(1), uintptr(0x300)).Return(nil)

	return NewStore(alloc, 4)
}

func TestSlotTableAcquireReleaseRoundTrip(t *testing.T) {
	st := NewSlotTable(2)

	s1, err := st.Acquire("rax")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	s2, err := st.Acquire("rbx")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if s1 == s2 {
		t.Fatalf("expected distinct slots")
	}

	if st.Free() != 0 {
		t.Fatalf("Free() = %d, want 0", st.Free())
	}

	if _, err := st.Acquire("rcx"); err == nil {
		t.Fatalf("expected OutOfSlots once the table is exhausted")
	}

	st.Release(s1)

	if st.Free() != 1 {
		t.Fatalf("Free() = %d, want 1 after release", st.Free())
	}

	if owner, ok := st.OwnerOf(s2); !ok || owner != "rbx" {
		t.Fatalf("OwnerOf(s2) = (%q, %v), want (rbx, true)", owner, ok)
	}

	if _, ok := st.OwnerOf(s1); ok {
		t.Fatalf("expected s1 to report no owner after release")
	}
}

func TestStoreInitAndLookup(t *testing.T) {
	store := newStore(t)

	tc, err := store.Init(7)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if tc.Seg != hostabi.SegmentSelector(1) || tc.TLSOffset != 0x300 {
		t.Fatalf("unexpected seg/offset: %v/%v", tc.Seg, tc.TLSOffset)
	}

	got, ok := store.Lookup(7)
	if !ok || got != tc {
		t.Fatalf("Lookup did not return the initialized context")
	}

	if store.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", store.Count())
	}

	if err := store.Exit(7); err != nil {
		t.Fatalf("Exit: %v", err)
	}

	if _, ok := store.Lookup(7); ok {
		t.Fatalf("expected the context to be gone after Exit")
	}
}

func TestStoreExitRunsHooksInOrder(t *testing.T) {
	store := newStore(t)

	tc, err := store.Init(1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	var order []string
	tc.ExitHooks = append(tc.ExitHooks,
		func(*ThreadContext) { order = append(order, "first") },
		func(*ThreadContext) { order = append(order, "second") },
	)

	if err := store.Exit(1); err != nil {
		t.Fatalf("Exit: %v", err)
	}

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("order = %v, want [first second]", order)
	}
}

func TestThreadContextExtensions(t *testing.T) {
	tc := &ThreadContext{}

	if _, ok := tc.Get("missing"); ok {
		t.Fatalf("expected Get on an empty extension map to report not-found")
	}

	tc.Set("key", 42)

	v, ok := tc.Get("key")
	if !ok || v.(int) != 42 {
		t.Fatalf("Get(%q) = (%v, %v), want (42, true)", "key", v, ok)
	}
}

func TestSlotMemoryReadWrite(t *testing.T) {
	tc := &ThreadContext{SlotMemory: make([]uint64, 4)}

	tc.WriteSlot(ilist.Slot(2), 0xABCD)

	if got := tc.ReadSlot(ilist.Slot(2)); got != 0xABCD {
		t.Fatalf("ReadSlot(2) = %x, want 0xABCD", got)
	}
}
