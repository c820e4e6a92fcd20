// Package tls implements the core's thread context store (spec section 2,
// component A) and the raw TLS slot table (component B) that RegMgr, Wrap,
// and Buf all build on. Per spec section 5, everything reachable only from
// the owning thread's ThreadContext is lock-free; the table mapping thread
// ids to contexts is a global resource guarded by an explicit lock.
package tls

import (
	"sync"

	"github.com/tracehook/dbicore/internal/corerr"
	"github.com/tracehook/dbicore/internal/hostabi"
	"github.com/tracehook/dbicore/internal/ilist"
)

// ThreadID identifies an application thread, as assigned by the host
// runtime.
type ThreadID uint64

// NoSlotOwner marks a slot-table entry as free.
const NoSlotOwner = ilist.NoReg

// SlotKind distinguishes a private slot (from a contiguous raw-TLS region
// owned by RegMgr, guaranteed live across app instructions) from a host
// slot (borrowed from the runtime, valid only between adjacent app
// instructions) per spec section 3.
type SlotKind int

const (
	SlotPrivate SlotKind = iota
	SlotHost
)

// SlotEntry is one entry of the per-thread slot table.
type SlotEntry struct {
	Owner ilist.Reg // the register whose app value this slot holds, or NoSlotOwner
	Kind  SlotKind
}

// SlotTable is the per-thread array of MAX_SPILLS entries (spec section 3).
type SlotTable struct {
	Entries []SlotEntry
}

// NewSlotTable allocates a slot table with n private slots.
func NewSlotTable(n int) *SlotTable {
	entries := make([]SlotEntry, n)
	for i := range entries {
		entries[i].Owner = NoSlotOwner
	}

	return &SlotTable{Entries: entries}
}

// Acquire finds a free private slot and marks it owned by reg.
func (t *SlotTable) Acquire(reg ilist.Reg) (ilist.Slot, error) {
	for i := range t.Entries {
		if t.Entries[i].Owner == NoSlotOwner {
			t.Entries[i].Owner = reg
			t.Entries[i].Kind = SlotPrivate

			return ilist.Slot(i), nil
		}
	}

	return ilist.NoSlot, corerr.New(corerr.OutOfSlots, "tls.SlotTable.Acquire",
		"no free private TLS slot", map[string]interface{}{"capacity": len(t.Entries)})
}

// Release frees slot, which must currently be owned.
func (t *SlotTable) Release(slot ilist.Slot) {
	if slot < 0 || int(slot) >= len(t.Entries) {
		return
	}

	t.Entries[slot] = SlotEntry{Owner: NoSlotOwner}
}

// OwnerOf returns the register owning slot, if any.
func (t *SlotTable) OwnerOf(slot ilist.Slot) (ilist.Reg, bool) {
	if slot < 0 || int(slot) >= len(t.Entries) {
		return NoSlotOwner, false
	}

	if t.Entries[slot].Owner == NoSlotOwner {
		return NoSlotOwner, false
	}

	return t.Entries[slot].Owner, true
}

// Free reports the number of unused private slots.
func (t *SlotTable) Free() int {
	n := 0

	for _, e := range t.Entries {
		if e.Owner == NoSlotOwner {
			n++
		}
	}

	return n
}

// ThreadContext is the per-thread state block (spec section 2, component A).
// Only the owning thread touches it while running; no internal locking is
// used (spec section 5).
type ThreadContext struct {
	ID        ThreadID
	Seg       hostabi.SegmentSelector
	TLSOffset uintptr
	Slots     *SlotTable

	// SlotMemory simulates the addressable contents of the thread's raw TLS
	// slot pool: one pointer-sized word per slot. A real host allocates this
	// as actual thread-local storage reachable from emitted code via Seg and
	// TLSOffset; here it lets the core's own spill/restore emission and fault
	// reconstruction logic be exercised end-to-end without a real JIT.
	SlotMemory []uint64

	// ExitHooks run in registration order on thread teardown (e.g. Buf
	// flushing remaining bytes through the user callback, spec section 3
	// "Lifecycles").
	ExitHooks []func(*ThreadContext)

	// Extensions lets RegMgr/Wrap/Buf attach their own per-thread state
	// without this package knowing about them.
	Extensions map[string]interface{}
}

func (tc *ThreadContext) Get(key string) (interface{}, bool) {
	v, ok := tc.Extensions[key]
	return v, ok
}

func (tc *ThreadContext) Set(key string, v interface{}) {
	if tc.Extensions == nil {
		tc.Extensions = map[string]interface{}{}
	}

	tc.Extensions[key] = v
}

// ReadSlot and WriteSlot access the simulated raw TLS slot pool (see
// SlotMemory). Out-of-range indices are a programming error in this package's
// callers, not a runtime condition a host would ever observe, so they panic.
func (tc *ThreadContext) ReadSlot(slot ilist.Slot) uint64 {
	return tc.SlotMemory[slot]
}

func (tc *ThreadContext) WriteSlot(slot ilist.Slot, v uint64) {
	tc.SlotMemory[slot] = v
}

// Store is the global, lock-guarded table of live thread contexts (spec
// section 5, "global tables guarded by explicit locks").
type Store struct {
	alloc hostabi.TLSAllocator

	mu       sync.RWMutex
	contexts map[ThreadID]*ThreadContext

	numSlots int
}

// NewStore creates a thread context store backed by the host's raw TLS
// allocator, reserving numSlots private slots per thread.
func NewStore(alloc hostabi.TLSAllocator, numSlots int) *Store {
	return &Store{alloc: alloc, contexts: map[ThreadID]*ThreadContext{}, numSlots: numSlots}
}

// Init is the host-driven thread-init hook: it allocates raw TLS for the new
// thread and creates its context (spec section 3, "Lifecycles").
func (s *Store) Init(id ThreadID) (*ThreadContext, error) {
	seg, offset, err := s.alloc.AllocateRawTLS(s.numSlots)
	if err != nil {
		return nil, corerr.New(corerr.FeatureNotAvailable, "tls.Store.Init",
			"host runtime could not allocate raw TLS", map[string]interface{}{"err": err.Error()})
	}

	tc := &ThreadContext{
		ID:         id,
		Seg:        seg,
		TLSOffset:  offset,
		Slots:      NewSlotTable(s.numSlots),
		SlotMemory: make([]uint64, s.numSlots),
	}

	s.mu.Lock()
	s.contexts[id] = tc
	s.mu.Unlock()

	return tc, nil
}

// Lookup returns the context for id, if the thread is still live.
func (s *Store) Lookup(id ThreadID) (*ThreadContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tc, ok := s.contexts[id]

	return tc, ok
}

// Exit is the host-driven thread-exit hook: it runs exit hooks (e.g. Buf
// flush) then tears down the context and frees its raw TLS.
func (s *Store) Exit(id ThreadID) error {
	s.mu.Lock()
	tc, ok := s.contexts[id]
	delete(s.contexts, id)
	s.mu.Unlock()

	if !ok {
		return corerr.New(corerr.InvalidParam, "tls.Store.Exit",
			"unknown thread id", map[string]interface{}{"thread_id": uint64(id)})
	}

	for _, hook := range tc.ExitHooks {
		hook(tc)
	}

	return s.alloc.FreeRawTLS(tc.Seg, tc.TLSOffset)
}

// Count returns the number of live thread contexts.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.contexts)
}
