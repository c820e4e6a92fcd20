package regmgr

import (
	"github.com/tracehook/dbicore/internal/corerr"
	"github.com/tracehook/dbicore/internal/hostabi"
	"github.com/tracehook/dbicore/internal/ilist"
	"github.com/tracehook/dbicore/internal/tls"
)

// Patch describes one correction fault reconstruction must apply to the raw
// machine context the host captured at a fault point: either "this register
// actually holds its app value at reg, not the spilled/scratch value the
// raw context shows" or "the flags need restoring from a slot" (spec
// section 4.1, "Fault reconstruction").
type Patch struct {
	Reg     ilist.Reg
	Slot    ilist.Slot
	IsFlags bool
}

// ReconstructWithoutIL implements the first fault-reconstruction algorithm
// of spec section 4.1: the host gives only the faulting fragment's raw
// machine context and its start PC, with no reconstructed instrumented IL
// to walk. RegMgr must replay its own bookkeeping up to fragmentPC using
// only the block's final (already-built) instruction list, since that is
// the best approximation of what executed.
//
// It walks list looking for RegMgr-authored Spill/Restore/SaveFlagsToReg/
// RestoreFlagsFromReg instructions before fragmentPC and folds them into the
// running state, ignoring any App instruction entirely (an app instruction
// that happens to look like a spill sequence must never be mistaken for
// one, per spec section 4.1's edge case bullet).
func ReconstructWithoutIL(list *ilist.List, fragmentPC int) []Patch {
	return reconstruct(list, fragmentPC)
}

// ReconstructWithIL is the second algorithm: the host supplies a
// reconstructed IL (the instrumented instruction stream actually placed in
// the code cache, with a faulting-instruction marker) rather than asking
// RegMgr to re-derive position from a raw PC. It is otherwise the same walk,
// just driven by info.IL and info.FragmentPC-as-index into that IL instead
// of into the original block list.
func ReconstructWithIL(info *hostabi.FaultInfo) []Patch {
	if info.IL == nil {
		return nil
	}

	return reconstruct(info.IL, int(info.FragmentPC))
}

func reconstruct(list *ilist.List, uptoIndex int) []Patch {
	state := map[ilist.Reg]ilist.Slot{}
	flagsSlot := ilist.NoSlot
	flagsInHolder := ilist.Reg("")

	limit := uptoIndex
	if limit > len(list.Insns) {
		limit = len(list.Insns)
	}

	for i := 0; i < limit; i++ {
		switch insn := list.Insns[i].(type) {
		case ilist.Spill:
			if insn.Flags {
				// evictAFlagsFromHolder: the holder register carries the
				// flags encoding, not its own app value, at this point.
				// Track it separately from state so it can never collide
				// with (or overwrite) an ordinary app-value spill of the
				// same register.
				flagsSlot = insn.Slot
				flagsInHolder = ""
				continue
			}

			state[insn.Reg] = insn.Slot
		case ilist.Restore:
			if insn.Flags {
				// restoreAFlags reloading the flags encoding back into the
				// holder register out of the eviction slot.
				flagsInHolder = insn.Reg
				flagsSlot = ilist.NoSlot
				continue
			}

			delete(state, insn.Reg)
		case ilist.SaveFlagsToReg:
			flagsInHolder = insn.Holder
		case ilist.RestoreFlagsFromReg:
			flagsInHolder = ""
		default:
			// App and other non-RegMgr instructions never affect
			// reconstruction state: only RegMgr's own emitted spill/restore
			// sequence carries meaning here, exactly so an app instruction
			// that happens to resemble one cannot be misread as one.
		}
	}

	patches := make([]Patch, 0, len(state)+1)
	for reg, slot := range state {
		patches = append(patches, Patch{Reg: reg, Slot: slot})
	}

	if flagsInHolder != "" {
		patches = append(patches, Patch{Reg: flagsInHolder, IsFlags: true})
	} else if flagsSlot != ilist.NoSlot {
		patches = append(patches, Patch{Slot: flagsSlot, IsFlags: true})
	}

	return patches
}

// ApplyPatches implements the final step of fault reconstruction: producing
// the application-visible machine context (info.AppMContext) the host
// delivers to instrumentation fault handlers, by correcting info.RawMContext
// register-by-register according to patches. Slot contents are read from
// the simulated per-thread slot memory (tls.ThreadContext.SlotMemory) in the
// absence of a real backing JIT.
func ApplyPatches(tc *tls.ThreadContext, raw *hostabi.MContext, patches []Patch) (*hostabi.MContext, error) {
	app := raw.Clone()

	for _, p := range patches {
		if p.IsFlags {
			if p.Reg != "" {
				v, ok := app.GPR[p.Reg]
				if !ok {
					return nil, corerr.New(corerr.NoAppValue, "regmgr.ApplyPatches",
						"raw context has no value for the flags holder register", nil)
				}

				app.Flags = v

				continue
			}

			if int(p.Slot) < 0 || int(p.Slot) >= len(tc.SlotMemory) {
				return nil, corerr.New(corerr.InvalidParam, "regmgr.ApplyPatches",
					"flags patch references an out-of-range slot", nil)
			}

			app.Flags = tc.ReadSlot(p.Slot)

			continue
		}

		if int(p.Slot) < 0 || int(p.Slot) >= len(tc.SlotMemory) {
			return nil, corerr.New(corerr.InvalidParam, "regmgr.ApplyPatches",
				"register patch references an out-of-range slot", map[string]interface{}{"reg": string(p.Reg)})
		}

		app.GPR[p.Reg] = tc.ReadSlot(p.Slot)
	}

	return app, nil
}
