package hostabi

import (
	"testing"

	"github.com/tracehook/dbicore/internal/ilist"
)

func TestArgLocationRegisterVsStack(t *testing.T) {
	reg, _, onStack := ArgLocation(SysVx64, 0)
	if onStack || reg != "rdi" {
		t.Fatalf("arg 0 = (%q, onStack=%v), want (rdi, false)", reg, onStack)
	}

	_, off, onStack := ArgLocation(SysVx64, 6)
	if !onStack || off != 8 {
		t.Fatalf("arg 6 = (off=%d, onStack=%v), want (8, true)", off, onStack)
	}
}

func TestArgLocationLinkRegisterISAHasNoStackHeader(t *testing.T) {
	reg, _, onStack := ArgLocation(AArch64, 0)
	if onStack || reg != "x0" {
		t.Fatalf("arg 0 = (%q, onStack=%v), want (x0, false)", reg, onStack)
	}

	abi := ConventionTable[AArch64]
	if abi.LinkRegister != "lr" {
		t.Fatalf("expected AArch64 to carry a link register, got %q", abi.LinkRegister)
	}

	if abi.StackHeader != 0 {
		t.Fatalf("expected AArch64 StackHeader 0 (no pushed return address), got %d", abi.StackHeader)
	}
}

func TestMContextCloneIsDeep(t *testing.T) {
	mc := &MContext{
		GPR:        map[ilist.Reg]uint64{"rax": 1},
		StackWords: map[uintptr]uint64{0x1000: 0xDEAD},
	}

	cp := mc.Clone()
	cp.GPR["rax"] = 2
	cp.StackWords[0x1000] = 0xBEEF

	if mc.GPR["rax"] != 1 {
		t.Fatalf("mutating the clone's GPR map affected the original")
	}

	if mc.StackWords[0x1000] != 0xDEAD {
		t.Fatalf("mutating the clone's StackWords map affected the original")
	}
}

func TestMContextCloneHandlesNilStackWords(t *testing.T) {
	mc := &MContext{GPR: map[ilist.Reg]uint64{}}

	cp := mc.Clone()
	if cp.StackWords != nil {
		t.Fatalf("expected a nil StackWords to stay nil after Clone")
	}
}
