// Package buf implements the thread-local streaming buffer component of
// spec section 4.3 ("Buf"): circular and trace buffers backed by real guard
// pages, with the fast zero-branch ring variant, plus the insertion-phase
// emission helpers tools use to advance and store into a buffer from
// instrumented code.
//
// Guard-page allocation is grounded on the teacher's region/pool allocators
// (runtime/region_alloc.go, allocator/pool.go) generalized from a pure-Go
// backing slice to a real mmap/mprotect-backed mapping via
// golang.org/x/sys/unix, split by build tag the way the teacher splits
// zerocopy_unix_file.go / zerocopy_windows_file.go.
package buf

import (
	"sync"
	"sync/atomic"

	"github.com/tracehook/dbicore/internal/corerr"
	"github.com/tracehook/dbicore/internal/tls"
)

// Kind is the concrete buffer strategy spec section 4.3 selects between.
type Kind int

const (
	CircularFast Kind = iota
	Circular
	Trace
)

func (k Kind) String() string {
	switch k {
	case CircularFast:
		return "CircularFast"
	case Circular:
		return "Circular"
	case Trace:
		return "Trace"
	default:
		return "Unknown"
	}
}

// fastRingMagicSize is the size create_circular_buffer treats specially
// (spec section 4.3, "typically 64 KiB").
const fastRingMagicSize = 64 * 1024

// FullCB is invoked when a Trace buffer (or a plain Circular buffer that
// chooses to set one) reaches capacity.
type FullCB func(base, used uintptr)

// Buf is the client-visible handle: the configuration shared by every
// thread's instance of this buffer (spec glossary, "Buf").
type Buf struct {
	id      int
	Kind    Kind
	Size    uintptr
	FullCB  FullCB
	pageSz  uintptr
	guarded bool // Trace and Circular use a guard page; CircularFast does not
}

// Manager owns the global clients vector (spec section 5: "Global clients
// vector for Buf: guarded by a reader/writer lock; readers include every
// per-thread init/exit and the fault handler") and hands out per-thread
// buffer instances.
type Manager struct {
	mu      sync.RWMutex
	clients []*Buf
	nextID  int

	// anyCreated is the supplemented fast-path flag (drx_buf.c's
	// any_bufs_created), set by the first registration and readable without
	// mu through AnyCreated. InitThread and HandleFault do not consult it,
	// and neither reads the clients vector.
	anyCreated atomic.Bool
}

func NewManager() *Manager {
	return &Manager{}
}

// AnyCreated reports whether any buffer has ever been created, letting
// callers skip Buf-related per-thread work entirely on the common path where
// no tool uses Buf at all, without taking mu.
func (m *Manager) AnyCreated() bool {
	return m.anyCreated.Load()
}

func isPow2(n uintptr) bool { return n != 0 && n&(n-1) == 0 }

// CreateCircularBuffer implements create_circular_buffer(size): a
// power-of-two size equal to the fast-ring magic size produces a
// zero-branch CircularFast buffer; any other size produces an ordinary
// guard-paged Circular buffer.
func (m *Manager) CreateCircularBuffer(size uintptr) (*Buf, error) {
	if size == 0 {
		return nil, corerr.New(corerr.InvalidSize, "buf.CreateCircularBuffer", "size must be non-zero", nil)
	}

	b := &Buf{Size: size}

	if size == fastRingMagicSize && isPow2(size) {
		b.Kind = CircularFast
	} else {
		b.Kind = Circular
		b.guarded = true
	}

	m.register(b)

	return b, nil
}

// CreateTraceBuffer implements create_trace_buffer(size, full_cb).
func (m *Manager) CreateTraceBuffer(size uintptr, cb FullCB) (*Buf, error) {
	if size < pageSize() {
		return nil, corerr.New(corerr.InvalidSize, "buf.CreateTraceBuffer",
			"trace buffer must be at least one page", map[string]interface{}{"size": uint64(size)})
	}

	b := &Buf{Kind: Trace, Size: size, FullCB: cb, guarded: true}
	m.register(b)

	return b, nil
}

func (m *Manager) register(b *Buf) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	b.id = m.nextID
	m.clients = append(m.clients, b)
	m.anyCreated.Store(true)
}

// PerThreadBufState is the thread-local instance of a Buf (spec section 5,
// "Buf TLS pointer: strictly thread-local, no locking"): its own mapped
// memory, current pointer, and (textual) TLS displacement used by the
// emission helpers.
type PerThreadBufState struct {
	Buf        *Buf
	Base       uintptr
	Ptr        uintptr
	TLSDisp    int
	mem        *mapping
	faultRange addrRange
}

type addrRange struct{ lo, hi uintptr }

func (r addrRange) contains(addr uintptr) bool { return addr >= r.lo && addr < r.hi }

// InitThread allocates buf's per-thread instance for tc: mapped guard-page
// memory for Circular/Trace, or a bare pointer origin for CircularFast,
// which never reads or branches on capacity.
func (m *Manager) InitThread(tc *tls.ThreadContext, b *Buf) (*PerThreadBufState, error) {
	st := &PerThreadBufState{Buf: b, TLSDisp: nextTLSDisp(tc)}

	if b.guarded {
		mp, err := newGuardedMapping(b.Size)
		if err != nil {
			return nil, corerr.New(corerr.OutOfMemory, "buf.InitThread",
				"failed to map guarded buffer memory", map[string]interface{}{"size": uint64(b.Size), "err": err.Error()})
		}

		st.mem = mp
		st.Base = mp.base
		st.faultRange = addrRange{lo: mp.base + b.Size - 1, hi: mp.base + mp.mappedSize}
	} else {
		// CircularFast needs no real mapping: the low-order bits of an
		// arbitrary, sufficiently-aligned address serve as the ring index.
		st.Base = allocFastRingBase(b.Size)
	}

	st.Ptr = st.Base

	states := threadBufStates(tc)
	states[b] = st

	tc.ExitHooks = append(tc.ExitHooks, func(tc *tls.ThreadContext) {
		if st.mem != nil {
			_ = st.mem.unmap()
		}
	})

	return st, nil
}

const bufStatesKey = "buf.states"

func threadBufStates(tc *tls.ThreadContext) map[*Buf]*PerThreadBufState {
	if v, ok := tc.Get(bufStatesKey); ok {
		return v.(map[*Buf]*PerThreadBufState)
	}

	m := map[*Buf]*PerThreadBufState{}
	tc.Set(bufStatesKey, m)

	return m
}

func nextTLSDisp(tc *tls.ThreadContext) int {
	states := threadBufStates(tc)
	return len(states) * 8
}

// StateFor returns tc's instance of b, if InitThread has run for it.
func StateFor(tc *tls.ThreadContext, b *Buf) (*PerThreadBufState, bool) {
	st, ok := threadBufStates(tc)[b]
	return st, ok
}

// GetBufferPtr/SetBufferPtr/GetBufferBase/GetBufferSize implement the
// corresponding spec section 4.3 accessors.
func (s *PerThreadBufState) GetBufferPtr() uintptr  { return s.Ptr }
func (s *PerThreadBufState) SetBufferPtr(p uintptr) { s.Ptr = p }
func (s *PerThreadBufState) GetBufferBase() uintptr { return s.Base }
func (s *PerThreadBufState) GetBufferSize() uintptr { return s.Buf.Size }
