package regmgr

import (
	"testing"

	"go.uber.org/mock/gomock"
	"golang.org/x/sync/errgroup"

	"github.com/tracehook/dbicore/internal/corerr"
	"github.com/tracehook/dbicore/internal/hostabi"
	"github.com/tracehook/dbicore/internal/hostabi/hostmock"
	"github.com/tracehook/dbicore/internal/ilist"
	"github.com/tracehook/dbicore/internal/tls"
)

func newTestBlock(t *testing.T, insns []ilist.Insn, universe []ilist.Reg) (*Manager, *Block, *tls.ThreadContext) {
	t.Helper()

	ctrl := gomock.NewController(t)
	alloc := hostmock.NewMockTLSAllocator(ctrl)
	alloc.EXPECT().AllocateRawTLS(gomock.Any()).Return(hostabi.SegmentSelector(1), uintptr(0x100), nil)

	store := tls.NewStore(alloc, len(universe)+1)

	tc, err := store.Init(1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	mgr := NewManager(ManagerOptions{GPRUniverse: universe})
	list := &ilist.List{Insns: insns}
	block := mgr.BeginBlock(tc, list)

	return mgr, block, tc
}

func TestReserveRegisterPrefersDeadOverLeastUsed(t *testing.T) {
	universe := []ilist.Reg{"rax", "rcx"}
	app := ilist.NewApp("mov")
	app.Reads = []ilist.Reg{"rax"}
	app.Writes = []ilist.Reg{"rcx"}
	app.WritesWhole["rcx"] = true

	_, block, _ := newTestBlock(t, []ilist.Insn{app}, universe)

	// rcx is written whole (and never read after), so it is dead at index 0;
	// rax is read by the one app instruction, so it is live throughout.
	reg, err := block.ReserveRegister(0, nil)
	if err != nil {
		t.Fatalf("ReserveRegister: %v", err)
	}

	if reg != "rcx" {
		t.Fatalf("expected dead register rcx, got %s", reg)
	}
}

func TestReserveRegisterSpillsWhenAllLive(t *testing.T) {
	universe := []ilist.Reg{"rax"}
	app := ilist.NewApp("add")
	app.Reads = []ilist.Reg{"rax"}

	_, block, tc := newTestBlock(t, []ilist.Insn{app}, universe)

	reg, err := block.ReserveRegister(0, nil)
	if err != nil {
		t.Fatalf("ReserveRegister: %v", err)
	}

	if reg != "rax" {
		t.Fatalf("expected rax, got %s", reg)
	}

	if len(block.list.Insns) != 2 {
		t.Fatalf("expected a spill instruction inserted, got %d instructions", len(block.list.Insns))
	}

	if _, ok := block.list.Insns[0].(ilist.Spill); !ok {
		t.Fatalf("expected Spill at index 0, got %T", block.list.Insns[0])
	}

	if tc.Slots.Free() != len(tc.SlotMemory)-1 {
		t.Fatalf("expected exactly one of the %d slots to be consumed, free=%d", len(tc.SlotMemory), tc.Slots.Free())
	}
}

func TestReserveDeadRegisterFailsWhenNoneDead(t *testing.T) {
	universe := []ilist.Reg{"rax"}
	app := ilist.NewApp("add")
	app.Reads = []ilist.Reg{"rax"}

	_, block, _ := newTestBlock(t, []ilist.Insn{app}, universe)

	_, err := block.ReserveDeadRegister(0, nil)
	if !corerr.Is(err, corerr.NoDeadReg) {
		t.Fatalf("expected NoDeadReg, got %v", err)
	}
}

func TestUnreserveRegisterIsLazy(t *testing.T) {
	universe := []ilist.Reg{"rax"}
	app := ilist.NewApp("add")
	app.Reads = []ilist.Reg{"rax"}

	_, block, _ := newTestBlock(t, []ilist.Insn{app}, universe)

	reg, err := block.ReserveRegister(0, nil)
	if err != nil {
		t.Fatalf("ReserveRegister: %v", err)
	}

	before := len(block.list.Insns)

	if err := block.UnreserveRegister(reg); err != nil {
		t.Fatalf("UnreserveRegister: %v", err)
	}

	if len(block.list.Insns) != before {
		t.Fatalf("unreserve below the flush threshold must not emit a restore yet, went from %d to %d insns",
			before, len(block.list.Insns))
	}
}

func TestEndBlockRestoresOutstandingSpills(t *testing.T) {
	universe := []ilist.Reg{"rax"}
	app := ilist.NewApp("add")
	app.Reads = []ilist.Reg{"rax"}

	_, block, tc := newTestBlock(t, []ilist.Insn{app}, universe)

	reg, err := block.ReserveRegister(0, nil)
	if err != nil {
		t.Fatalf("ReserveRegister: %v", err)
	}

	if err := block.UnreserveRegister(reg); err != nil {
		t.Fatalf("UnreserveRegister: %v", err)
	}

	final := block.EndBlock()

	foundRestore := false

	for _, insn := range final.Insns {
		if r, ok := insn.(ilist.Restore); ok && r.Reg == reg {
			foundRestore = true
		}
	}

	if !foundRestore {
		t.Fatalf("expected EndBlock to restore %s, insns: %s", reg, final.String())
	}

	if tc.Slots.Free() != len(tc.SlotMemory) {
		t.Fatalf("expected all slots released after EndBlock, free=%d cap=%d", tc.Slots.Free(), len(tc.SlotMemory))
	}
}

func TestReserveAFlagsSpillsHolderThenReclaimsOnExhaustion(t *testing.T) {
	universe := []ilist.Reg{"rax"}
	app := ilist.NewApp("add")
	app.Reads = []ilist.Reg{"rax"}

	mgr, block, _ := newTestBlock(t, []ilist.Insn{app}, universe)
	_ = mgr

	if err := block.ReserveAFlags(0); err != nil {
		t.Fatalf("ReserveAFlags: %v", err)
	}

	if !block.flags.heldInReg {
		t.Fatalf("expected flags held in holder register after ReserveAFlags")
	}

	// rax is now reserved by the flags holder; requesting a GPR with the
	// universe exhausted should reclaim the holder rather than fail.
	reg, err := block.ReserveRegister(len(block.list.Insns), nil)
	if err != nil {
		t.Fatalf("ReserveRegister after aflags reservation: %v", err)
	}

	if reg != "rax" {
		t.Fatalf("expected the reclaimed holder register rax, got %s", reg)
	}

	if block.flags.heldInReg {
		t.Fatalf("expected flags to have been evicted out of the holder register")
	}
}

// TestFaultReconstructionDistinguishesFlagsEvictionFromAppValueSpill combines
// the aflags-holder reclaim path above with fault reconstruction: the
// holder's original app-value spill and the later flags-eviction spill both
// target the same register, and reconstruction must patch each back to its
// own source (the app's original register value from the first slot, the
// arithmetic flags from the second) rather than letting the second spill
// clobber tracking for the first.
func TestFaultReconstructionDistinguishesFlagsEvictionFromAppValueSpill(t *testing.T) {
	universe := []ilist.Reg{"rax"}
	app := ilist.NewApp("add")
	app.Reads = []ilist.Reg{"rax"}

	_, block, tc := newTestBlock(t, []ilist.Insn{app}, universe)

	if err := block.ReserveAFlags(0); err != nil {
		t.Fatalf("ReserveAFlags: %v", err)
	}

	if _, err := block.ReserveRegister(len(block.list.Insns), nil); err != nil {
		t.Fatalf("ReserveRegister after aflags reservation: %v", err)
	}

	var appValueSlot, flagsSlot ilist.Slot = ilist.NoSlot, ilist.NoSlot

	for _, insn := range block.list.Insns {
		spill, ok := insn.(ilist.Spill)
		if !ok || spill.Reg != "rax" {
			continue
		}

		if spill.Flags {
			flagsSlot = spill.Slot
		} else {
			appValueSlot = spill.Slot
		}
	}

	if appValueSlot == ilist.NoSlot || flagsSlot == ilist.NoSlot {
		t.Fatalf("expected two distinct spills of rax, one app-value and one flags, got %s", block.list.String())
	}

	const wantAppValue = uint64(0xAAAA)
	const wantFlags = uint64(0x46) // an arbitrary encoded flags value

	tc.WriteSlot(appValueSlot, wantAppValue)
	tc.WriteSlot(flagsSlot, wantFlags)

	patches := ReconstructWithoutIL(block.list, len(block.list.Insns))

	raw := &hostabi.MContext{GPR: map[ilist.Reg]uint64{"rax": 0xDEAD}}

	reconstructed, err := ApplyPatches(tc, raw, patches)
	if err != nil {
		t.Fatalf("ApplyPatches: %v", err)
	}

	if reconstructed.GPR["rax"] != wantAppValue {
		t.Fatalf("reconstructed rax = %#x, want the app value %#x (not the flags encoding)",
			reconstructed.GPR["rax"], wantAppValue)
	}

	if reconstructed.Flags != wantFlags {
		t.Fatalf("reconstructed flags = %#x, want %#x", reconstructed.Flags, wantFlags)
	}
}

func TestGetAppValueFallsBackToDirectNameWhenUntracked(t *testing.T) {
	universe := []ilist.Reg{"rax", "rcx"}
	_, block, _ := newTestBlock(t, nil, universe)

	if err := block.GetAppValue(0, "rdx", "rcx"); err != nil {
		t.Fatalf("GetAppValue: %v", err)
	}

	mov, ok := block.list.Insns[0].(ilist.Mov)
	if !ok {
		t.Fatalf("expected a Mov, got %T", block.list.Insns[0])
	}

	if mov.Dst != "rcx" || mov.Src != "rdx" {
		t.Fatalf("unexpected mov operands: %+v", mov)
	}
}

func TestReconstructWithoutILIgnoresAppInstructions(t *testing.T) {
	list := &ilist.List{Insns: []ilist.Insn{
		ilist.Spill{Reg: "rax", Slot: 0},
		func() ilist.Insn {
			app := ilist.NewApp("mov")
			app.Reads = []ilist.Reg{"rax"}

			return app
		}(),
		ilist.Restore{Reg: "rcx", Slot: 1}, // a restore of a different register; rax stays unresolved
	}}

	patches := ReconstructWithoutIL(list, len(list.Insns))

	foundRax := false

	for _, p := range patches {
		if p.Reg == "rax" {
			foundRax = true
		}

		if p.Reg == "rcx" {
			t.Fatalf("rcx was restored before the cutoff and must not appear as a pending patch")
		}
	}

	if !foundRax {
		t.Fatalf("expected a pending patch for rax, got %+v", patches)
	}
}

// TestConcurrentThreadsEachGetAnIndependentBlock exercises the "one logical
// execution context per application thread" concurrency model (spec section
// 5): RegMgr's universe/options are shared, but each goroutine carries its
// own ThreadContext and Block, so concurrent reservations never interleave.
func TestConcurrentThreadsEachGetAnIndependentBlock(t *testing.T) {
	universe := []ilist.Reg{"rax", "rcx"}

	ctrl := gomock.NewController(t)
	alloc := hostmock.NewMockTLSAllocator(ctrl)
	alloc.EXPECT().AllocateRawTLS(gomock.Any()).Return(hostabi.SegmentSelector(1), uintptr(0x100), nil).AnyTimes()

	store := tls.NewStore(alloc, len(universe)+1)
	mgr := NewManager(ManagerOptions{GPRUniverse: universe})

	const n = 8

	var g errgroup.Group

	for i := 0; i < n; i++ {
		i := i

		g.Go(func() error {
			tc, err := store.Init(tls.ThreadID(i + 1))
			if err != nil {
				return err
			}

			app := ilist.NewApp("add")
			app.Reads = []ilist.Reg{"rax"}

			block := mgr.BeginBlock(tc, &ilist.List{Insns: []ilist.Insn{app}})

			reg, err := block.ReserveRegister(0, nil)
			if err != nil {
				return err
			}

			if err := block.UnreserveRegister(reg); err != nil {
				return err
			}

			block.EndBlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("g.Wait: %v", err)
	}
}
