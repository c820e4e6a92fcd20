// Package ilist defines a target-agnostic instruction list used to describe
// the spill, restore, and clean-call sequences emitted by the core. Real ISA
// encoding is the host runtime's concern (spec section 1); this package only
// carries enough structure for the core to reason about ordering, for tests
// to assert on emitted sequences, and for fault reconstruction to recognize
// its own instrumentation.
package ilist

import (
	"fmt"
	"strings"
)

// Reg names a logical general-purpose register. The core never interprets
// the string beyond equality; the host runtime owns the mapping to a real
// machine register.
type Reg string

// NoReg is the sentinel for "no register".
const NoReg Reg = ""

// Slot identifies a private or host TLS slot by index.
type Slot int

// NoSlot is the sentinel slot value.
const NoSlot Slot = -1

// Insn is one instruction-list entry. AppInstr distinguishes an instruction
// that came from the original application stream from one inserted by the
// core; fault reconstruction must ignore spill-like sequences that happen to
// appear on app instructions (spec section 4.1, "Fault reconstruction").
type Insn interface {
	Op() string
	fmt.Stringer
	IsAppInstr() bool
}

type base struct{ App bool }

func (b base) IsAppInstr() bool { return b.App }

// Spill stores Reg's current value into Slot. Flags marks that Reg does not
// currently hold the app's value for that register at all, but the
// arithmetic-flags encoding transported there by SaveFlagsToReg (spec
// section 4.1's fault reconstruction must not confuse the two: an ordinary
// Spill of a register's app value and this flags-transport spill can target
// the same Reg at different points in the same block).
type Spill struct {
	base

	Reg   Reg
	Slot  Slot
	Flags bool
}

func (Spill) Op() string { return "spill" }
func (s Spill) String() string {
	if s.Flags {
		return fmt.Sprintf("spill(flags) %s -> slot[%d]", s.Reg, s.Slot)
	}

	return fmt.Sprintf("spill %s -> slot[%d]", s.Reg, s.Slot)
}

// Restore loads Slot's value back into Reg. Flags is Spill's Flags, mirrored.
type Restore struct {
	base

	Reg   Reg
	Slot  Slot
	Flags bool
}

func (Restore) Op() string { return "restore" }
func (r Restore) String() string {
	if r.Flags {
		return fmt.Sprintf("restore(flags) %s <- slot[%d]", r.Reg, r.Slot)
	}

	return fmt.Sprintf("restore %s <- slot[%d]", r.Reg, r.Slot)
}

// Xchg swaps the values of two registers in place, used instead of a spill
// when a free register is available to hold the displaced value.
type Xchg struct {
	base

	A, B Reg
}

func (Xchg) Op() string       { return "xchg" }
func (x Xchg) String() string { return fmt.Sprintf("xchg %s, %s", x.A, x.B) }

// Mov copies Src into Dst.
type Mov struct {
	base

	Dst, Src Reg
}

func (Mov) Op() string       { return "mov" }
func (m Mov) String() string { return fmt.Sprintf("mov %s, %s", m.Dst, m.Src) }

// LoadMem loads from [Base+Disp] into Dst.
type LoadMem struct {
	base

	Dst, Base Reg
	Disp      int
	Size      int // bytes: 1, 2, 4, or pointer-width (0 means pointer-width)
}

func (LoadMem) Op() string { return "load" }
func (l LoadMem) String() string {
	return fmt.Sprintf("load%d %s, [%s+%d]", sizeOrPtr(l.Size), l.Dst, l.Base, l.Disp)
}

// StoreMem stores Src into [Base+Disp].
type StoreMem struct {
	base

	Base, Src Reg
	Disp      int
	Size      int
}

func (StoreMem) Op() string { return "store" }
func (s StoreMem) String() string {
	return fmt.Sprintf("store%d [%s+%d], %s", sizeOrPtr(s.Size), s.Base, s.Disp, s.Src)
}

func sizeOrPtr(size int) int {
	if size == 0 {
		return 8
	}

	return size
}

// SaveFlagsToReg and RestoreFlagsFromReg model the ISA-specific
// flags<->holder-GPR transport half of the aflags spill/restore sequence
// (spec section 4.1, "Spill/restore emission").
type SaveFlagsToReg struct {
	base

	Holder Reg
}

func (SaveFlagsToReg) Op() string       { return "save_flags" }
func (s SaveFlagsToReg) String() string { return fmt.Sprintf("save_flags -> %s", s.Holder) }

type RestoreFlagsFromReg struct {
	base

	Holder Reg
}

func (RestoreFlagsFromReg) Op() string       { return "restore_flags" }
func (r RestoreFlagsFromReg) String() string { return fmt.Sprintf("restore_flags <- %s", r.Holder) }

// CleanCall models a full app-state-preserving call out to native tool code
// (spec glossary, "Clean call").
type CleanCall struct {
	base

	Fn   string
	Args []Reg
}

func (CleanCall) Op() string { return "cleancall" }
func (c CleanCall) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = string(a)
	}

	return fmt.Sprintf("cleancall %s(%s)", c.Fn, strings.Join(args, ", "))
}

// Jmp is an unconditional jump to Target, used for sentinel stub emission.
type Jmp struct {
	base

	Target string
}

func (Jmp) Op() string       { return "jmp" }
func (j Jmp) String() string { return fmt.Sprintf("jmp %s", j.Target) }

// App wraps an arbitrary application instruction for liveness analysis. Reads
// and Writes name the registers the instruction touches; WritesWhole marks a
// full-register write (as opposed to a sub-register write, which liveness
// treats as a read-then-write per spec section 4.1).
type App struct {
	base

	Mnemonic    string
	Reads       []Reg
	Writes      []Reg
	WritesWhole map[Reg]bool
	ReadsFlags  uint32
	WritesFlags uint32
	Terminator  bool // control transfer: ends the backward liveness walk as LIVE
	MemOperand  bool // addressing registers are used twice as often (app_uses)
	PC          uintptr
	Call        bool    // direct call to CallTarget
	CallTarget  uintptr
}

func (a App) Op() string { return a.Mnemonic }
func (a App) String() string {
	return fmt.Sprintf("app %s r=%v w=%v", a.Mnemonic, a.Reads, a.Writes)
}

func NewApp(mnemonic string) App {
	return App{base: base{App: true}, Mnemonic: mnemonic, WritesWhole: map[Reg]bool{}}
}

// List is a linear sequence of instructions for one translated block.
type List struct {
	Insns []Insn
}

// InsertAt inserts insn before index i (i may equal len(Insns) to append).
func (l *List) InsertAt(i int, insn Insn) {
	l.Insns = append(l.Insns, nil)
	copy(l.Insns[i+1:], l.Insns[i:])
	l.Insns[i] = insn
}

// Append adds insn at the end of the list.
func (l *List) Append(insn Insn) { l.Insns = append(l.Insns, insn) }

func (l *List) String() string {
	var b strings.Builder

	for i, insn := range l.Insns {
		fmt.Fprintf(&b, "%3d: %s\n", i, insn.String())
	}

	return b.String()
}
