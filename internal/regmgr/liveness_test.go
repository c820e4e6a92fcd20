package regmgr

import (
	"testing"

	"github.com/tracehook/dbicore/internal/ilist"
)

func TestComputeLivenessCountsReadsAndWritesDoublingMemOperands(t *testing.T) {
	universe := []ilist.Reg{"rax", "rcx", "rdx"}

	plain := ilist.NewApp("add")
	plain.Reads = []ilist.Reg{"rax"}

	memOperand := ilist.NewApp("mov")
	memOperand.Reads = []ilist.Reg{"rcx"}
	memOperand.MemOperand = true

	readWrite := ilist.NewApp("inc")
	readWrite.Reads = []ilist.Reg{"rdx"}
	readWrite.Writes = []ilist.Reg{"rdx"}

	list := &ilist.List{Insns: []ilist.Insn{plain, memOperand, readWrite}}

	l := computeLiveness(list, universe)

	if l.AppUses["rax"] != 1 {
		t.Fatalf("rax AppUses = %d, want 1", l.AppUses["rax"])
	}

	if l.AppUses["rcx"] != 2 {
		t.Fatalf("rcx AppUses = %d, want 2 (memory operand doubling)", l.AppUses["rcx"])
	}

	// rdx is both read and written by the same instruction: each occurrence
	// counts ("Count of app reads+writes in current block").
	if l.AppUses["rdx"] != 2 {
		t.Fatalf("rdx AppUses = %d, want 2 (one read + one write)", l.AppUses["rdx"])
	}
}

func TestComputeLivenessRepeatedReadsAccumulate(t *testing.T) {
	universe := []ilist.Reg{"rax"}

	first := ilist.NewApp("add")
	first.Reads = []ilist.Reg{"rax"}

	second := ilist.NewApp("sub")
	second.Reads = []ilist.Reg{"rax"}

	list := &ilist.List{Insns: []ilist.Insn{first, second}}

	l := computeLiveness(list, universe)

	if l.AppUses["rax"] != 2 {
		t.Fatalf("rax AppUses = %d, want 2 (repeated reads must each count, not just the dead->live edge)", l.AppUses["rax"])
	}
}
