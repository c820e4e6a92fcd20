package pipeline

import (
	"errors"
	"testing"

	"github.com/tracehook/dbicore/internal/hostabi"
	"github.com/tracehook/dbicore/internal/ilist"
)

func TestRunOrdersByPriorityThenRegistration(t *testing.T) {
	m := NewManager()

	var order []string

	m.Register(hostabi.PhaseAnalysis, PriorityRegMgrAnalysis, func(*ilist.List) error {
		order = append(order, "regmgr")
		return nil
	})
	m.Register(hostabi.PhaseAnalysis, 10, func(*ilist.List) error {
		order = append(order, "early")
		return nil
	})
	m.Register(hostabi.PhaseAnalysis, 10, func(*ilist.List) error {
		order = append(order, "early-second")
		return nil
	})

	if err := m.Run(hostabi.PhaseAnalysis, &ilist.List{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"early", "early-second", "regmgr"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}

	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRunBlockRunsAllFourPhasesInOrder(t *testing.T) {
	m := NewManager()

	var order []string

	for _, phase := range []hostabi.Phase{
		hostabi.PhaseApp2App, hostabi.PhaseAnalysis, hostabi.PhaseInsertion, hostabi.PhaseInstrToInstr,
	} {
		phase := phase
		m.Register(phase, 0, func(*ilist.List) error {
			order = append(order, phase.String())
			return nil
		})
	}

	if err := m.RunBlock(&ilist.List{}); err != nil {
		t.Fatalf("RunBlock: %v", err)
	}

	want := []string{"app2app", "analysis", "insertion", "instr2instr"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRunStopsOnFirstError(t *testing.T) {
	m := NewManager()

	ran := false

	m.Register(hostabi.PhaseInsertion, 0, func(*ilist.List) error {
		return errors.New("boom")
	})
	m.Register(hostabi.PhaseInsertion, 1, func(*ilist.List) error {
		ran = true
		return nil
	})

	if err := m.Run(hostabi.PhaseInsertion, &ilist.List{}); err == nil {
		t.Fatalf("expected error")
	}

	if ran {
		t.Fatalf("expected second pass to be skipped after the first errors")
	}
}
