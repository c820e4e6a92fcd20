package regmgr

import (
	"github.com/tracehook/dbicore/internal/corerr"
	"github.com/tracehook/dbicore/internal/ilist"
)

// ReserveAFlags implements reserve_aflags: the arithmetic flags are saved
// into the holder GPR (spec section 3), spilling that GPR first if it
// currently holds a live app value.
func (b *Block) ReserveAFlags(where int) error {
	if b.flags.inUse {
		return corerr.New(corerr.InvalidParam, "regmgr.ReserveAFlags",
			"flags are already reserved", nil)
	}

	holder := b.mgr.aflagsHolder
	hst := b.regs[holder]

	if hst.inUse {
		return corerr.New(corerr.RegConflict, "regmgr.ReserveAFlags",
			"the flags holder register is already reserved by the caller",
			map[string]interface{}{"holder": string(holder)})
	}

	saveAt := where

	wasNative := hst.native || (!hst.everSpilled && hst.slot == ilist.NoSlot)
	if wasNative {
		slot, err := b.acquireSlotFor(holder)
		if err != nil {
			return corerr.Raise(b.mgr.errCB, corerr.OutOfSlots, "regmgr.ReserveAFlags",
				"slot table exhausted while spilling the flags holder register")
		}

		b.list.InsertAt(where, ilist.Spill{Reg: holder, Slot: slot})
		hst.slot = slot
		hst.everSpilled = true
		hst.native = false
		saveAt = where + 1
	}

	hst.inUse = true
	b.list.InsertAt(saveAt, ilist.SaveFlagsToReg{Holder: holder})
	b.flags.inUse = true
	b.flags.heldInReg = true

	return nil
}

// UnreserveAFlags implements unreserve_aflags: lazily defers restoring the
// holder GPR's app value the same way UnreserveRegister does, but always
// restores the flags themselves eagerly, since nothing else can hold them
// meanwhile.
func (b *Block) UnreserveAFlags(where int) error {
	if !b.flags.inUse {
		return corerr.New(corerr.InvalidParam, "regmgr.UnreserveAFlags",
			"flags are not currently reserved", nil)
	}

	if err := b.restoreAFlags(where); err != nil {
		return err
	}

	return b.UnreserveRegister(b.mgr.aflagsHolder)
}

// restoreAFlags emits RestoreFlagsFromReg and marks the flags free. If the
// flags were evicted to a slot by evictAFlagsFromHolder, it first restores
// the holder GPR's flags encoding from that slot.
func (b *Block) restoreAFlags(where int) error {
	if !b.flags.heldInReg && b.flags.slot == ilist.NoSlot {
		return nil
	}

	restoreAt := where

	if !b.flags.heldInReg && b.flags.slot != ilist.NoSlot {
		b.list.InsertAt(where, ilist.Restore{Reg: b.mgr.aflagsHolder, Slot: b.flags.slot, Flags: true})
		b.tc.Slots.Release(b.flags.slot)
		b.flags.slot = ilist.NoSlot
		b.flags.heldInReg = true
		restoreAt = where + 1
	}

	if b.flags.heldInReg {
		b.list.InsertAt(restoreAt, ilist.RestoreFlagsFromReg{Holder: b.mgr.aflagsHolder})
	}

	b.flags.inUse = false
	b.flags.heldInReg = false

	return nil
}

// evictAFlagsFromHolder is the supplemented recovery path (spec.md
// original_source supplement: reclaiming the flags-holder GPR when the
// reservation pool is otherwise exhausted is recoverable, not fatal). The
// holder GPR currently carries the flags encoding, not the app's value for
// that register, so this spill is tagged Flags: true — distinct in the
// instruction stream from whatever ordinary Spill preserved the holder's
// actual app value when ReserveAFlags first reserved it (spec section 4.1's
// fault reconstruction must be able to tell these apart, since both can
// target the same register within one block).
func (b *Block) evictAFlagsFromHolder(where int) error {
	if !b.flags.heldInReg {
		return nil
	}

	slot, err := b.acquireSlotFor(b.mgr.aflagsHolder)
	if err != nil {
		return corerr.New(corerr.OutOfSlots, "regmgr.evictAFlagsFromHolder",
			"no slot available to evict the flags holder", nil)
	}

	b.list.InsertAt(where, ilist.Spill{Reg: b.mgr.aflagsHolder, Slot: slot, Flags: true})
	b.flags.slot = slot
	b.flags.heldInReg = false

	return nil
}
