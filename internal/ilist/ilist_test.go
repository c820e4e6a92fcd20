package ilist

import "testing"

func TestInsertAtShiftsSubsequentInstructions(t *testing.T) {
	l := &List{}
	l.Append(Mov{Dst: "rax", Src: "rbx"})
	l.Append(Mov{Dst: "rcx", Src: "rdx"})

	l.InsertAt(1, Spill{Reg: "rax", Slot: 0})

	if len(l.Insns) != 3 {
		t.Fatalf("len = %d, want 3", len(l.Insns))
	}

	if _, ok := l.Insns[1].(Spill); !ok {
		t.Fatalf("expected the inserted Spill at index 1, got %T", l.Insns[1])
	}

	if mv, ok := l.Insns[2].(Mov); !ok || mv.Dst != "rcx" {
		t.Fatalf("expected the original second instruction to shift to index 2, got %+v", l.Insns[2])
	}
}

func TestInsertAtAppendsAtEnd(t *testing.T) {
	l := &List{}
	l.Append(Mov{Dst: "rax", Src: "rbx"})
	l.InsertAt(1, Restore{Reg: "rcx", Slot: 2})

	if len(l.Insns) != 2 {
		t.Fatalf("len = %d, want 2", len(l.Insns))
	}

	if _, ok := l.Insns[1].(Restore); !ok {
		t.Fatalf("expected Restore appended at the end, got %T", l.Insns[1])
	}
}

func TestAppIsAppInstrDistinguishesCoreEmittedInstructions(t *testing.T) {
	app := NewApp("add")
	if !app.IsAppInstr() {
		t.Fatalf("expected NewApp to produce an app instruction")
	}

	spill := Spill{Reg: "rax", Slot: 0}
	if spill.IsAppInstr() {
		t.Fatalf("expected a core-emitted Spill to not be an app instruction")
	}
}

func TestStringRendersEveryInstruction(t *testing.T) {
	l := &List{}
	l.Append(NewApp("add"))
	l.Append(Spill{Reg: "rax", Slot: 1})
	l.Append(SaveFlagsToReg{Holder: "rbx"})

	s := l.String()
	if s == "" {
		t.Fatalf("expected non-empty rendering")
	}
}
