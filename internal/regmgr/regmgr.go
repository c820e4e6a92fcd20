// Package regmgr implements the register and flags reservation manager
// (spec section 4.1, "RegMgr"): cooperative, lifetime-scoped ownership of
// general-purpose registers and the arithmetic flags for instrumentation
// passes, with spilling to a private TLS slot pool, lazy restore, and the
// two fault-reconstruction algorithms of spec section 4.1.
//
// This is grounded on the teacher's linear-scan register allocator
// (internal/codegen/regalloc in the source corpus): RegMgr reuses its
// candidate-selection shape (idle-then-dead-then-least-used) but adapts it
// from whole-function compile-time allocation to block-scoped, call-by-call
// reservation with lazy, possibly-never-materialized restores.
package regmgr

import (
	"sort"

	"github.com/tracehook/dbicore/internal/corerr"
	"github.com/tracehook/dbicore/internal/hostabi"
	"github.com/tracehook/dbicore/internal/ilist"
	"github.com/tracehook/dbicore/internal/tls"
)

// DefaultGPRUniverse is the general-purpose register set this build manages,
// in allocation-preference order, grounded on the teacher's GPRRegisters
// table (internal/codegen/regalloc/regalloc.go).
var DefaultGPRUniverse = []ilist.Reg{
	"rax", "rcx", "rdx", "r8", "r9", "r10", "r11", "rbx", "r12", "r13", "r14", "r15",
}

// DefaultAFlagsHolder is the GPR used to transport the arithmetic flags to
// and from a private slot on ISAs (like x86) where flags cannot be spilled
// directly (spec section 3, "Flags state").
const DefaultAFlagsHolder ilist.Reg = "rax"

// RegSet restricts candidate registers for a reservation (spec section 4.1,
// "allowed_set?"). A nil RegSet means "no restriction".
type RegSet map[ilist.Reg]bool

func (s RegSet) allows(r ilist.Reg) bool {
	if s == nil {
		return true
	}

	return s[r]
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	GPRUniverse        []ilist.Reg
	AFlagsHolder       ilist.Reg
	ConservativeSpills bool
	ErrorCallback      corerr.Callback
	// PendingUnreservedFlushThreshold bounds lazy-restore slot pressure (spec
	// section 4.1, "Lazy restore policy").
	PendingUnreservedFlushThreshold int
}

// Manager is the process-wide (well: per-core) RegMgr configuration. Actual
// reservation state lives in a per-block Block, scoped to one translated
// block on one thread, matching spec section 4.1's block-scoped operations.
type Manager struct {
	universe     []ilist.Reg
	aflagsHolder ilist.Reg
	conservative bool
	errCB        corerr.Callback
	flushThresh  int
}

func NewManager(opts ManagerOptions) *Manager {
	universe := opts.GPRUniverse
	if universe == nil {
		universe = DefaultGPRUniverse
	}

	holder := opts.AFlagsHolder
	if holder == "" {
		holder = DefaultAFlagsHolder
	}

	thresh := opts.PendingUnreservedFlushThreshold
	if thresh <= 0 {
		thresh = 4
	}

	return &Manager{
		universe:     universe,
		aflagsHolder: holder,
		conservative: opts.ConservativeSpills,
		errCB:        opts.ErrorCallback,
		flushThresh:  thresh,
	}
}

// regState is the per-GPR bookkeeping of spec section 3 ("Register state").
type regState struct {
	inUse       bool
	everSpilled bool
	native      bool
	slot        ilist.Slot
	xchg        ilist.Reg
	idleSince   int // sequence number at which in_use became false, for the lazy-restore queue
}

// flagsState mirrors regState but tracks whether the flags currently live in
// the holder GPR (spec section 3, "the flags may be held in a designated
// GPR... that GPR is treated as reserved").
type flagsState struct {
	inUse       bool
	everSpilled bool
	heldInReg   bool
	slot        ilist.Slot
	idleSince   int
}

// Block is RegMgr scoped to one translated block on one thread (spec section
// 4.1's operations all take a block argument).
type Block struct {
	mgr  *Manager
	list *ilist.List
	tc   *tls.ThreadContext

	live *Liveness

	regs              map[ilist.Reg]*regState
	flags             flagsState
	pendingUnreserved int
	seq               int
}

// BeginBlock starts a RegMgr session for list on tc. It runs the backward
// liveness scan immediately (spec section 4.1, "Liveness algorithm") so that
// reserve_register and friends can consult it at any insertion point within
// the block.
func (m *Manager) BeginBlock(tc *tls.ThreadContext, list *ilist.List) *Block {
	b := &Block{mgr: m, list: list, tc: tc, regs: map[ilist.Reg]*regState{}}
	for _, r := range m.universe {
		b.regs[r] = &regState{slot: ilist.NoSlot, xchg: ilist.NoReg}
	}

	b.flags.slot = ilist.NoSlot
	b.live = computeLiveness(list, m.universe)

	return b
}

// ReserveRegister implements spec section 4.1's reserve_register.
func (b *Block) ReserveRegister(where int, allowed RegSet) (ilist.Reg, error) {
	return b.reserve(where, allowed, false)
}

// ReserveDeadRegister implements reserve_register's dead-only variant.
func (b *Block) ReserveDeadRegister(where int, allowed RegSet) (ilist.Reg, error) {
	return b.reserve(where, allowed, true)
}

func (b *Block) reserve(where int, allowed RegSet, deadOnly bool) (ilist.Reg, error) {
	if reg, ok := b.pickIdleAlreadySpilled(allowed); ok {
		b.takeOwnership(reg, where)
		return reg, nil
	}

	if reg, ok := b.pickDead(where, allowed); ok {
		if err := b.spillIfLiveAndTake(reg, where); err != nil {
			return ilist.NoReg, err
		}

		return reg, nil
	}

	if deadOnly {
		return ilist.NoReg, corerr.New(corerr.NoDeadReg, "regmgr.ReserveDeadRegister",
			"no register is dead at the requested insertion point", nil)
	}

	if reg, ok := b.pickLeastUsed(allowed); ok {
		if err := b.spillIfLiveAndTake(reg, where); err != nil {
			return ilist.NoReg, err
		}

		return reg, nil
	}

	// Edge case (spec section 4.1): flags may be cached in the holder GPR,
	// which marks that GPR reserved even though no caller holds it directly;
	// reclaim it by flushing the flags encoding to a slot rather than
	// failing the caller's reservation outright.
	if b.flags.heldInReg && allowed.allows(b.mgr.aflagsHolder) {
		if err := b.evictAFlagsFromHolder(where); err != nil {
			return ilist.NoReg, err
		}

		if err := b.spillIfLiveAndTake(b.mgr.aflagsHolder, where); err != nil {
			return ilist.NoReg, err
		}

		return b.mgr.aflagsHolder, nil
	}

	return ilist.NoReg, corerr.New(corerr.OutOfSlots, "regmgr.ReserveRegister",
		"no general-purpose register is available", nil)
}

func (b *Block) pickIdleAlreadySpilled(allowed RegSet) (ilist.Reg, bool) {
	var best ilist.Reg

	bestIdle := -1

	for _, r := range b.mgr.universe {
		st := b.regs[r]
		if st.inUse || !st.everSpilled || !allowed.allows(r) {
			continue
		}
		// Among idle-but-already-spilled candidates prefer the one idle
		// longest, to keep the lazy-restore queue drained fairly.
		if bestIdle < 0 || st.idleSince < bestIdle {
			bestIdle = st.idleSince
			best = r
		}
	}

	return best, bestIdle >= 0
}

func (b *Block) pickDead(where int, allowed RegSet) (ilist.Reg, bool) {
	for _, r := range b.mgr.universe {
		st := b.regs[r]
		if st.inUse || !allowed.allows(r) {
			continue
		}

		if !b.live.IsLive(r, where) {
			return r, true
		}
	}

	return ilist.NoReg, false
}

func (b *Block) pickLeastUsed(allowed RegSet) (ilist.Reg, bool) {
	candidates := make([]ilist.Reg, 0, len(b.mgr.universe))

	for _, r := range b.mgr.universe {
		if !b.regs[r].inUse && allowed.allows(r) {
			candidates = append(candidates, r)
		}
	}

	if len(candidates) == 0 {
		return ilist.NoReg, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		return b.live.AppUses[candidates[i]] < b.live.AppUses[candidates[j]]
	})

	return candidates[0], true
}

// takeOwnership marks an idle-but-already-spilled register as reserved again
// without re-spilling (it is already parked in its slot).
func (b *Block) takeOwnership(reg ilist.Reg, _ int) {
	st := b.regs[reg]
	st.inUse = true
	st.native = false
}

// spillIfLiveAndTake spills reg's app value (if the register is currently
// native, i.e. holds the app value) into a private slot, then marks it
// reserved. The slot table is sized to cover the whole GPR universe plus
// the flags holder (see ManagerOptions / NewSlotTable call site), so
// acquireSlotFor failing here means RegMgr's own slot accounting has
// drifted from its bookkeeping — an internal-consistency violation, not a
// normal out-of-slots condition, so it goes through the error-callback
// policy rather than an ordinary returned error.
func (b *Block) spillIfLiveAndTake(reg ilist.Reg, where int) error {
	st := b.regs[reg]

	wasNative := st.native || (!st.everSpilled && st.slot == ilist.NoSlot)
	if wasNative {
		live, err := b.acquireSlotFor(reg)
		if err != nil {
			return corerr.Raise(b.mgr.errCB, corerr.OutOfSlots, "regmgr.spillIfLiveAndTake",
				"slot table exhausted while spilling a live register the allocator selected")
		}

		b.list.InsertAt(where, ilist.Spill{Reg: reg, Slot: live})
		st.slot = live
		st.everSpilled = true
		st.native = false
	}

	st.inUse = true

	return nil
}

func (b *Block) acquireSlotFor(owner ilist.Reg) (ilist.Slot, error) {
	return b.tc.Slots.Acquire(owner)
}

// UnreserveRegister implements unreserve_register: lazy restore (spec
// section 4.1, "Lazy restore policy").
func (b *Block) UnreserveRegister(reg ilist.Reg) error {
	st, ok := b.regs[reg]
	if !ok || !st.inUse {
		return corerr.New(corerr.InvalidParam, "regmgr.UnreserveRegister",
			"register is not currently reserved", map[string]interface{}{"reg": string(reg)})
	}

	b.seq++
	st.inUse = false
	st.idleSince = b.seq
	b.pendingUnreserved++

	if b.pendingUnreserved > b.mgr.flushThresh || b.mgr.conservative {
		b.flushOnePending(len(b.list.Insns))
	}

	return nil
}

// flushOnePending forces the actual restore of the longest-idle spilled
// register to bound slot pressure (spec section 4.1, lazy-restore bullet
// "to avoid unbounded slot pressure").
func (b *Block) flushOnePending(where int) {
	var target ilist.Reg

	oldest := -1

	for _, r := range b.mgr.universe {
		st := b.regs[r]
		if st.inUse || !st.everSpilled || st.slot == ilist.NoSlot {
			continue
		}

		if oldest == -1 || st.idleSince < oldest {
			oldest = st.idleSince
			target = r
		}
	}

	if target == "" {
		return
	}

	b.materializeRestore(target, where)
}

func (b *Block) materializeRestore(reg ilist.Reg, where int) {
	st := b.regs[reg]
	if st.slot == ilist.NoSlot {
		return
	}

	b.list.InsertAt(where, ilist.Restore{Reg: reg, Slot: st.slot})
	b.tc.Slots.Release(st.slot)
	st.slot = ilist.NoSlot
	st.everSpilled = false
	st.native = true

	if b.pendingUnreserved > 0 {
		b.pendingUnreserved--
	}
}

// GetAppValue implements get_app_value: materialize appReg's original app
// value into dstReg at where, without releasing the reservation.
func (b *Block) GetAppValue(where int, appReg, dstReg ilist.Reg) error {
	st, tracked := b.regs[appReg]
	if !tracked || (!st.inUse && !st.everSpilled) {
		if appReg == dstReg {
			return nil
		}

		b.list.InsertAt(where, ilist.Mov{Dst: dstReg, Src: appReg})

		return nil
	}

	switch {
	case st.xchg != ilist.NoReg:
		b.list.InsertAt(where, ilist.Mov{Dst: dstReg, Src: st.xchg})
	case st.slot != ilist.NoSlot:
		b.list.InsertAt(where, ilist.Restore{Reg: dstReg, Slot: st.slot})
	case st.native:
		if appReg != dstReg {
			b.list.InsertAt(where, ilist.Mov{Dst: dstReg, Src: appReg})
		}
	default:
		return corerr.New(corerr.NoAppValue, "regmgr.GetAppValue",
			"no recorded app value for register", map[string]interface{}{"reg": string(appReg)})
	}

	return nil
}

// StatelesslyRestoreAppValue implements statelessly_restore_app_value: emits
// a restore at whereRestore and a matching respill at whereRespill without
// mutating RegMgr's logical state, for read-only clean calls. When all is
// true every register whose app value currently sits in a slot is
// restored/respilled (spec.md original_source supplement:
// drreg_statelessly_restore_app_value's reg==DR_REG_NULL "restore everything"
// mode); the arithmetic flags are not restored by this call.
func (b *Block) StatelesslyRestoreAppValue(reg ilist.Reg, all bool, whereRestore, whereRespill int) error {
	targets := []ilist.Reg{reg}
	if all {
		targets = targets[:0]

		for _, r := range b.mgr.universe {
			if b.regs[r].everSpilled && b.regs[r].slot != ilist.NoSlot {
				targets = append(targets, r)
			}
		}
	}

	for _, r := range targets {
		st, ok := b.regs[r]
		if !ok || st.slot == ilist.NoSlot {
			continue
		}

		b.list.InsertAt(whereRestore, ilist.Restore{Reg: r, Slot: st.slot})
		b.list.InsertAt(whereRespill, ilist.Spill{Reg: r, Slot: st.slot})
	}

	return nil
}

// MemOperand names the registers a memory reference touches (spec section
// 4.1, restore_app_values).
type MemOperand struct {
	Base  ilist.Reg
	Index ilist.Reg
}

// RestoreAppValues implements restore_app_values: ensures every register
// operand of memOp holds its app value at where. If the host has stolen one
// of these registers for its own use, swap names the register currently
// holding that stolen register's app value (spec glossary, "Stolen
// register").
func (b *Block) RestoreAppValues(where int, memOp MemOperand, swap *ilist.Reg) error {
	for _, r := range []ilist.Reg{memOp.Base, memOp.Index} {
		if r == ilist.NoReg {
			continue
		}

		if err := b.restoreInPlace(where, r, swap); err != nil {
			return err
		}
	}

	return nil
}

func (b *Block) restoreInPlace(where int, reg ilist.Reg, swap *ilist.Reg) error {
	st, tracked := b.regs[reg]
	if !tracked || (!st.inUse && !st.everSpilled) {
		return nil // untouched register already holds its app value
	}

	switch {
	case st.xchg != ilist.NoReg:
		b.list.InsertAt(where, ilist.Xchg{A: reg, B: st.xchg})
		st.xchg, st.native = ilist.NoReg, true
	case st.slot != ilist.NoSlot:
		b.list.InsertAt(where, ilist.Restore{Reg: reg, Slot: st.slot})
		b.tc.Slots.Release(st.slot)
		st.slot, st.native, st.everSpilled = ilist.NoSlot, true, false
	case swap != nil && *swap != ilist.NoReg:
		b.list.InsertAt(where, ilist.Mov{Dst: reg, Src: *swap})
		st.native = true
	default:
		return corerr.New(corerr.NoAppValue, "regmgr.RestoreAppValues",
			"no recorded app value to restore", map[string]interface{}{"reg": string(reg)})
	}

	return nil
}

// RestoreAll implements restore_all: force-restores every currently-reserved
// register and the flags at where.
func (b *Block) RestoreAll(where int) error {
	for _, r := range b.mgr.universe {
		st := b.regs[r]
		if st.slot != ilist.NoSlot {
			b.materializeRestore(r, where)
		}

		st.inUse = false
	}

	if b.flags.heldInReg || b.flags.slot != ilist.NoSlot {
		if err := b.restoreAFlags(where); err != nil {
			return err
		}
	}

	b.pendingUnreserved = 0

	return nil
}

// EndBlock finalizes the block: any registers/flags still idle-but-spilled
// are restored (lazy-restore policy bullet (b), "end of the translated
// block"). It returns the final instruction list for the instr2instr phase.
func (b *Block) EndBlock() *ilist.List {
	_ = b.RestoreAll(len(b.list.Insns))
	return b.list
}

// InsertionPoint returns the instruction list being built, for callers that
// need to pass it to hostabi.CleanCallEmitter directly.
func (b *Block) InsertionPoint() *ilist.List { return b.list }
