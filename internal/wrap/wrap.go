// Package wrap implements the function wrap/replace engine (spec section
// 4.2, component "Wrap"): registering pre/post callbacks around a function's
// entry and return, redirecting a function to a replacement, and the
// REPLACE_RETADDR sentinel technique for avoiding a flush at every wrapped
// function's return sites.
//
// Grounded on the teacher's exception-handling/prologue-emission machinery
// (exception/x64_integration.go) for the emission half, and its allocator
// pool patterns (allocator/pool.go) for the fixed-size generated return-point
// table idiom reused here for the sentinel stub table.
package wrap

import (
	"sync"

	"github.com/tracehook/dbicore/internal/corerr"
	"github.com/tracehook/dbicore/internal/coreinit"
	"github.com/tracehook/dbicore/internal/hostabi"
	"github.com/tracehook/dbicore/internal/ilist"
)

// PreCB runs on function entry; PostCB runs on function return (or abnormal
// unwind, with ctx.Null set).
type PreCB func(ctx *WrapContext)
type PostCB func(ctx *WrapContext)

// WrapEntry is one registration against a function PC. Entries for the same
// PC form a singly-linked list, most-recently-registered first, which is
// exactly the "outer" order spec section 4.2 describes: pre_cbs run head to
// tail, post_cbs run tail to head.
type WrapEntry struct {
	FuncPC   uintptr
	Pre      PreCB
	Post     PostCB
	UserData interface{}
	Flags    coreinit.WrapFlags
	Enabled  bool
	Next     *WrapEntry
}

// ReplaceEntry is one registration against the replace_table.
type ReplaceEntry struct {
	ReplacementPC uintptr
	Native        bool
	AtEntry       bool
	StackAdjust   int
	UserData      interface{}
}

// Manager is the process-wide Wrap state: the wrap_table and replace_table
// of spec section 5, both guarded by locks per that section's discipline
// ("wrap_table and replace_table: guarded by a recursive lock").
type Manager struct {
	mu sync.Mutex // not reentrant: OnEntry/OnReturn (frame.go) release mu
	// before invoking any pre_cb/post_cb, so a callback may call Unwrap.

	wrapTable    map[uintptr]*WrapEntry
	replaceTable map[uintptr]*ReplaceEntry

	disabledCount     int
	disabledThreshold int

	pcc *postCallTable

	emitter hostabi.CleanCallEmitter
	ccc     hostabi.CodeCacheControl

	conv hostabi.CallConvention

	noFrills                bool
	restrictAbnormalToOptIn bool
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Emitter           hostabi.CleanCallEmitter
	CodeCache         hostabi.CodeCacheControl
	Convention        hostabi.CallConvention
	NoFrills          bool // spec section 6's NO_FRILLS global flag
	DisabledThreshold int  // batch-flush threshold for lazy unregistration
	// RestrictAbnormalPostToOptIn implements spec section 4.2's "optional
	// flag [that] causes this abnormal post to be invoked only for wraps
	// that opted in" (via UNWIND_ON_EXCEPTION); the default delivers
	// abnormal post_cbs to every outstanding frame unconditionally.
	RestrictAbnormalPostToOptIn bool
}

func NewManager(opts ManagerOptions) *Manager {
	thresh := opts.DisabledThreshold
	if thresh <= 0 {
		thresh = 32
	}

	return &Manager{
		wrapTable:               map[uintptr]*WrapEntry{},
		replaceTable:            map[uintptr]*ReplaceEntry{},
		disabledThreshold:       thresh,
		pcc:                     newPostCallTable(),
		emitter:                 opts.Emitter,
		ccc:                     opts.CodeCache,
		conv:                    opts.Convention,
		noFrills:                opts.NoFrills,
		restrictAbnormalToOptIn: opts.RestrictAbnormalPostToOptIn,
	}
}

// Wrap implements wrap(func, pre_cb, post_cb, user_data, flags). At least
// one of pre/post must be non-nil.
func (m *Manager) Wrap(funcPC uintptr, pre PreCB, post PostCB, userData interface{}, flags coreinit.WrapFlags) error {
	if pre == nil && post == nil {
		return corerr.New(corerr.InvalidParam, "wrap.Wrap",
			"at least one of pre_cb or post_cb must be non-nil", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.noFrills {
		if head, ok := m.wrapTable[funcPC]; ok && head != nil {
			return corerr.New(corerr.AlreadyExists, "wrap.Wrap",
				"NO_FRILLS permits at most one wrap per function",
				map[string]interface{}{"func_pc": funcPC})
		}
	}

	entry := &WrapEntry{
		FuncPC: funcPC, Pre: pre, Post: post, UserData: userData,
		Flags: flags, Enabled: true, Next: m.wrapTable[funcPC],
	}
	m.wrapTable[funcPC] = entry

	return nil
}

// Unwrap implements unwrap(func, pre_cb, post_cb): it only clears the
// entry's enabled flag (spec section 4.2, "Lazy unregistration and
// flushing"); actual removal and code flush happen in batch once
// disabledCount crosses the threshold.
func (m *Manager) Unwrap(funcPC uintptr, pre PreCB, post PostCB) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for e := m.wrapTable[funcPC]; e != nil; e = e.Next {
		if e.Enabled && samePre(e.Pre, pre) && samePost(e.Post, post) {
			e.Enabled = false
			m.disabledCount++

			if m.disabledCount >= m.disabledThreshold {
				m.flushDisabledLocked()
			}

			return nil
		}
	}

	return corerr.New(corerr.InvalidParam, "wrap.Unwrap", "no matching wrap registration found", nil)
}

// flushDisabledLocked removes every tombstoned entry and asks the host to
// flush the affected code regions (spec section 4.2). Caller must hold mu.
func (m *Manager) flushDisabledLocked() {
	for pc, head := range m.wrapTable {
		filtered := (*WrapEntry)(nil)

		var tail *WrapEntry

		flushed := false

		for e := head; e != nil; e = e.Next {
			if !e.Enabled {
				flushed = true
				continue
			}

			cp := &WrapEntry{FuncPC: e.FuncPC, Pre: e.Pre, Post: e.Post, UserData: e.UserData, Flags: e.Flags, Enabled: true}
			if filtered == nil {
				filtered = cp
			} else {
				tail.Next = cp
			}

			tail = cp
		}

		if filtered == nil {
			delete(m.wrapTable, pc)
		} else {
			m.wrapTable[pc] = filtered
		}

		if flushed && m.ccc != nil {
			_ = m.ccc.FlushRegion(pc, 1)
		}
	}

	m.disabledCount = 0
}

// Replace implements replace(orig, replacement): a regular replacement where
// both control flows stay in the code cache.
func (m *Manager) Replace(orig, replacement uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replaceTable[orig] = &ReplaceEntry{ReplacementPC: replacement}

	return nil
}

// ReplaceNative records a replace_native(orig, replacement, at_entry,
// stack_adjust, user_data) registration: a redirect to a routine that runs
// natively outside the code cache. The entry is only stored in the
// replace_table for lookup through ReplacementFor; this package generates no
// return-point stub for stackAdjust.
func (m *Manager) ReplaceNative(orig, replacement uintptr, atEntry bool, stackAdjust int, userData interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replaceTable[orig] = &ReplaceEntry{
		ReplacementPC: replacement, Native: true, AtEntry: atEntry,
		StackAdjust: stackAdjust, UserData: userData,
	}

	return nil
}

// ReplacementFor returns the replace_table entry for orig, if any.
func (m *Manager) ReplacementFor(orig uintptr) (*ReplaceEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.replaceTable[orig]

	return e, ok
}

// entriesFor returns the (possibly empty) list of enabled entries for pc, in
// registration order (head first = most recently registered).
func (m *Manager) entriesFor(pc uintptr) []*WrapEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*WrapEntry

	for e := m.wrapTable[pc]; e != nil; e = e.Next {
		if e.Enabled {
			out = append(out, e)
		}
	}

	return out
}

func samePre(a, b PreCB) bool {
	return fnEqual(a, b)
}

func samePost(a, b PostCB) bool {
	return fnEqual(a, b)
}

// InsertionPass implements the app2app/insertion-phase protocol of spec
// section 4.2: for each app instruction, emit an on_entry clean call if it
// is a wrap entry PC, and an on_return clean call if it is a known post-call
// site, recording fall-through PCs of direct calls to wrapped functions as
// new post-call sites for future translations.
func (m *Manager) InsertionPass(block *ilist.List) error {
	if m.emitter == nil {
		return corerr.New(corerr.FeatureNotAvailable, "wrap.InsertionPass",
			"no CleanCallEmitter configured", nil)
	}

	// Walk a snapshot of the original app instructions: insertions shift
	// indices, so we resolve positions by re-scanning for the same PC each
	// time rather than trusting a stale index.
	type site struct {
		pc       uintptr
		isEntry  bool
		isReturn bool
	}

	var sites []site

	for _, insn := range block.Insns {
		app, ok := insn.(ilist.App)
		if !ok || !app.IsAppInstr() {
			continue
		}

		hasEntry := len(m.entriesFor(app.PC)) > 0
		hasReturn := m.pcc.isPostCallSite(app.PC)

		if hasEntry || hasReturn {
			sites = append(sites, site{pc: app.PC, isEntry: hasEntry, isReturn: hasReturn})
		}

		if app.Call {
			for _, e := range m.entriesFor(app.CallTarget) {
				if e.Post != nil {
					m.pcc.registerPostCallSite(app.CallTarget)
					break
				}
			}
		}
	}

	for _, s := range sites {
		idx := indexOfPC(block, s.pc)
		if idx < 0 {
			continue
		}

		if s.isReturn {
			m.emitter.InsertCleanCall(block, idx, "on_return", hostabi.WritesAppContext, "sp")
		}

		if s.isEntry {
			m.emitter.InsertCleanCall(block, idx, "on_entry", hostabi.ReadsAppContext|hostabi.WritesAppContext, "sp")
		}
	}

	return nil
}

func indexOfPC(block *ilist.List, pc uintptr) int {
	for i, insn := range block.Insns {
		if app, ok := insn.(ilist.App); ok && app.PC == pc {
			return i
		}
	}

	return -1
}
