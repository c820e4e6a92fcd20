package regmgr

import "github.com/tracehook/dbicore/internal/ilist"

// Liveness holds the result of the backward liveness scan (spec section
// 4.1, "Liveness algorithm"): for each register, the set of instruction
// indices at which it is live, plus a use count for least-used
// tie-breaking among candidates with no liveness information to prefer.
type Liveness struct {
	// liveAt[r] is a bitset-by-index of positions at which r is live on
	// entry to that instruction.
	liveAt map[ilist.Reg][]bool
	// AppUses counts every app read and write of each register (doubled
	// for memory operands), used to break ties toward the least-used register (spec section
	// 4.1's reservation priority list, bullet 3).
	AppUses map[ilist.Reg]int
}

// IsLive reports whether r holds a value some later app instruction will
// read, as of instruction index i (spec section 4.1, "a register is
// considered live at a program point if some later app instruction will
// read its current value before it is next written").
func (l *Liveness) IsLive(r ilist.Reg, i int) bool {
	bits, ok := l.liveAt[r]
	if !ok || i < 0 || i >= len(bits) {
		return false
	}

	return bits[i]
}

// computeLiveness runs a single backward scan over list for every register
// in universe. Spec section 4.1 calls out that the scan "must correctly
// treat instrumentation-inserted spill/restore sequences as not defining or
// using the app's register state" — this implementation only looks at
// ilist.App instructions (IsAppInstr() == true) when computing def/use,
// exactly for that reason: Spill/Restore/Mov/etc. emitted by RegMgr itself
// never participate in liveness.
func computeLiveness(list *ilist.List, universe []ilist.Reg) *Liveness {
	n := len(list.Insns)
	l := &Liveness{liveAt: map[ilist.Reg][]bool{}, AppUses: map[ilist.Reg]int{}}

	for _, r := range universe {
		l.liveAt[r] = make([]bool, n+1)
	}

	live := map[ilist.Reg]bool{}

	for i := n - 1; i >= 0; i-- {
		insn := list.Insns[i]

		// live holds the state on entry to instruction i+1 at this point.
		for _, r := range universe {
			l.liveAt[r][i+1] = live[r]
		}

		app, ok := insn.(ilist.App)
		if !ok || !app.IsAppInstr() {
			continue
		}

		// app_uses counts every read and write this instruction makes to a
		// tracked register, doubled when the register is a memory operand
		// (addressing regs are used twice as often by tools) — spec section
		// 4.1's data model, not just dead->live transitions.
		uses := 1
		if app.MemOperand {
			uses = 2
		}

		for _, r := range app.Writes {
			if _, tracked := l.liveAt[r]; tracked {
				l.AppUses[r] += uses
				// A write not marked in WritesWhole is a sub-register write:
				// the rest of r is preserved, so it also reads r.
				live[r] = !app.WritesWhole[r]
			}
		}

		for r := range app.WritesWhole {
			if _, tracked := l.liveAt[r]; tracked {
				l.AppUses[r] += uses
				live[r] = false
			}
		}

		for _, r := range app.Reads {
			if _, tracked := l.liveAt[r]; tracked {
				l.AppUses[r] += uses
				live[r] = true
			}
		}

		if app.Terminator {
			for _, r := range universe {
				live[r] = true
			}
		}
	}

	for _, r := range universe {
		l.liveAt[r][0] = live[r]
	}

	return l
}

// IsFlagsLive reports whether the arithmetic flags are live at instruction
// index i, by scanning forward from i for the first app instruction that
// reads or writes them (the flags have no dedicated register identity to
// backward-scan the way GPRs do, so this is computed on demand rather than
// precomputed, matching spec section 4.1's separate treatment of "Flags
// reservation").
func IsFlagsLive(list *ilist.List, i int) bool {
	for j := i; j < len(list.Insns); j++ {
		app, ok := list.Insns[j].(ilist.App)
		if !ok || !app.IsAppInstr() {
			continue
		}

		if app.ReadsFlags != 0 {
			return true
		}

		if app.WritesFlags != 0 {
			return false
		}
	}

	return false
}
