// Package hostabi defines the host-facing contracts of spec section 6: the
// interfaces the core consumes from the underlying code-cache runtime. The
// runtime itself (instruction encoding, block translation, TLS allocation,
// memory protection) is out of scope (spec section 1) and is represented
// here purely as interfaces the core calls into and is called back from.
package hostabi

import "github.com/tracehook/dbicore/internal/ilist"

// SegmentSelector identifies the segment/base register used for raw TLS
// addressing from emitted code (spec section 2, component B).
type SegmentSelector int

// TLSAllocator is the host's raw TLS slot allocator.
type TLSAllocator interface {
	// AllocateRawTLS reserves nSlots contiguous pointer-sized slots and
	// returns the segment selector and byte offset of the first slot.
	AllocateRawTLS(nSlots int) (seg SegmentSelector, offset uintptr, err error)
	FreeRawTLS(seg SegmentSelector, offset uintptr) error
}

// Phase identifies one of the four ordered block-translation phases (spec
// section 2, component C).
type Phase int

const (
	PhaseApp2App Phase = iota
	PhaseAnalysis
	PhaseInsertion
	PhaseInstrToInstr
)

func (p Phase) String() string {
	switch p {
	case PhaseApp2App:
		return "app2app"
	case PhaseAnalysis:
		return "analysis"
	case PhaseInsertion:
		return "insertion"
	case PhaseInstrToInstr:
		return "instr2instr"
	default:
		return "unknown"
	}
}

// PassFunc is one registered pass invoked for a phase with the block's
// instruction list.
type PassFunc func(block *ilist.List) error

// PipelineHooks lets the core register passes, keyed by priority, for each
// block-translation phase.
type PipelineHooks interface {
	Register(phase Phase, priority int, fn PassFunc)
}

// CleanCallFlags mirror spec section 6's insert_clean_call flags.
type CleanCallFlags uint32

const (
	ReadsAppContext CleanCallFlags = 1 << iota
	WritesAppContext
	Multipath
)

// CleanCallEmitter inserts a full app-state-preserving call into a block at
// a given instruction index.
type CleanCallEmitter interface {
	InsertCleanCall(block *ilist.List, where int, fn string, flags CleanCallFlags, args ...ilist.Reg)
}

// MContext is a generic, POD machine-context snapshot: general-purpose
// registers, flags, and control registers. It stands in for the host's
// native mcontext type (spec section 9, "pass the mcontext as a mutable
// reference whose fields are all POD").
type MContext struct {
	GPR   map[ilist.Reg]uint64
	Flags uint64
	PC    uintptr
	SP    uintptr
	LR    uintptr // link register, used on ARM-style ISAs

	// StackWords simulates the application stack's contents, keyed by
	// address, for the subset of Wrap/Buf behavior that needs to read or
	// rewrite in-memory return addresses (spec section 4.2, REPLACE_RETADDR)
	// without a real process backing the mcontext. A real host needs no
	// such field: it reads/writes actual process memory directly.
	StackWords map[uintptr]uint64
}

// Clone returns a deep copy of mc.
func (mc *MContext) Clone() *MContext {
	cp := &MContext{Flags: mc.Flags, PC: mc.PC, SP: mc.SP, LR: mc.LR}
	cp.GPR = make(map[ilist.Reg]uint64, len(mc.GPR))

	for k, v := range mc.GPR {
		cp.GPR[k] = v
	}

	if mc.StackWords != nil {
		cp.StackWords = make(map[uintptr]uint64, len(mc.StackWords))
		for k, v := range mc.StackWords {
			cp.StackWords[k] = v
		}
	}

	return cp
}

// FaultInfo carries the information available on a fault/exception event
// (spec section 6).
type FaultInfo struct {
	RawMContext     *MContext
	AppMContext     *MContext
	FragmentPC      uintptr
	FragmentStartPC uintptr
	IL              *ilist.List // optional reconstructed instruction list
}

// FaultSource lets the core register its state_restore handler.
type FaultSource interface {
	RegisterStateRestore(fn func(restoreMemory bool, info *FaultInfo) (*MContext, error))
}

// CodeCacheControl is the host's code-cache management surface.
type CodeCacheControl interface {
	FlushRegion(pc uintptr, length uintptr) error
	DelayFlushRegion(pc uintptr, length uintptr) error
	RedirectExecution(mc *MContext) error
}

// CallConvention is the closed set of calling conventions from spec section
// 4.2.
type CallConvention int

const (
	Cdecl CallConvention = iota
	Fastcall
	MSx64
	SysVx64
	ARM32
	AArch64
	RISCVLP64
)

// ConventionABI describes how to find the i-th argument and the return
// value for one calling convention (spec section 9, design note on
// representing the calling-convention table as a small per-convention
// struct rather than a big switch).
type ConventionABI struct {
	RegArgs      []ilist.Reg // first K arguments, in order
	StackHeader  int         // bytes reserved before stack args (retaddr + shadow space)
	WordSize     int
	RetvalReg    ilist.Reg
	RetvalXMM    ilist.Reg // set when the ABI returns floating point in a separate register
	LinkRegister ilist.Reg // non-empty on link-register ISAs (ARM32, AArch64, RISCVLP64)
}

// ConventionTable is the compile-time ABI table for every supported calling
// convention.
var ConventionTable = map[CallConvention]ConventionABI{
	Cdecl: {
		RegArgs: nil, StackHeader: 4, WordSize: 4, RetvalReg: "eax",
	},
	Fastcall: {
		RegArgs: []ilist.Reg{"ecx", "edx"}, StackHeader: 4, WordSize: 4, RetvalReg: "eax",
	},
	MSx64: {
		RegArgs: []ilist.Reg{"rcx", "rdx", "r8", "r9"}, StackHeader: 8 + 32, WordSize: 8,
		RetvalReg: "rax", RetvalXMM: "xmm0",
	},
	SysVx64: {
		RegArgs: []ilist.Reg{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}, StackHeader: 8, WordSize: 8,
		RetvalReg: "rax", RetvalXMM: "xmm0",
	},
	ARM32: {
		RegArgs: []ilist.Reg{"r0", "r1", "r2", "r3"}, StackHeader: 0, WordSize: 4,
		RetvalReg: "r0", LinkRegister: "lr",
	},
	AArch64: {
		RegArgs: []ilist.Reg{"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7"}, StackHeader: 0, WordSize: 8,
		RetvalReg: "x0", LinkRegister: "lr",
	},
	RISCVLP64: {
		RegArgs: []ilist.Reg{"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7"}, StackHeader: 0, WordSize: 8,
		RetvalReg: "a0", LinkRegister: "ra",
	},
}

// ArgLocation resolves where the i-th argument lives under conv: either a
// register (onStack false, reg != "") or a stack offset from sp (onStack
// true) (spec section 4.2).
func ArgLocation(conv CallConvention, i int) (reg ilist.Reg, stackOffset int, onStack bool) {
	abi := ConventionTable[conv]
	if i < len(abi.RegArgs) {
		return abi.RegArgs[i], 0, false
	}

	stackIdx := i - len(abi.RegArgs)

	return "", abi.StackHeader + stackIdx*abi.WordSize, true
}
