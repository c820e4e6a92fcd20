// Package pipeline models the host's four ordered block-translation phases
// (spec section 2, component C) as a registration-time total order keyed by
// priority, per the design note in spec section 9 ("model the pass ordering
// as a compile-time or registration-time total order with explicit priority
// numbers; each phase hook is a function object keyed by priority").
package pipeline

import (
	"sort"
	"sync"

	"github.com/tracehook/dbicore/internal/hostabi"
	"github.com/tracehook/dbicore/internal/ilist"
)

type registration struct {
	priority int
	seq      int // registration order, for stable sort among equal priorities
	fn       hostabi.PassFunc
}

// Manager implements hostabi.PipelineHooks and drives the four phases in
// priority order (ascending: a lower priority number runs earlier within its
// phase, matching the replace engine's app2app priority of -100 running
// ahead of ordinary app2app passes).
type Manager struct {
	mu   sync.Mutex
	seq  int
	byPh map[hostabi.Phase][]registration
}

func NewManager() *Manager {
	return &Manager{byPh: map[hostabi.Phase][]registration{}}
}

// Register implements hostabi.PipelineHooks.
func (m *Manager) Register(phase hostabi.Phase, priority int, fn hostabi.PassFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	m.byPh[phase] = append(m.byPh[phase], registration{priority: priority, seq: m.seq, fn: fn})
	sort.SliceStable(m.byPh[phase], func(i, j int) bool {
		a, b := m.byPh[phase][i], m.byPh[phase][j]
		if a.priority != b.priority {
			return a.priority < b.priority
		}

		return a.seq < b.seq
	})
}

// Run executes every pass registered for phase, in priority order, against
// block. It stops and returns the first error encountered.
func (m *Manager) Run(phase hostabi.Phase, block *ilist.List) error {
	m.mu.Lock()
	regs := append([]registration(nil), m.byPh[phase]...)
	m.mu.Unlock()

	for _, r := range regs {
		if err := r.fn(block); err != nil {
			return err
		}
	}

	return nil
}

// RunBlock drives all four phases in order for one translated block (spec
// section 2, "Data flow per translated block").
func (m *Manager) RunBlock(block *ilist.List) error {
	for _, phase := range []hostabi.Phase{
		hostabi.PhaseApp2App, hostabi.PhaseAnalysis, hostabi.PhaseInsertion, hostabi.PhaseInstrToInstr,
	} {
		if err := m.Run(phase, block); err != nil {
			return err
		}
	}

	return nil
}

// Documented priorities (spec section 6).
const (
	PriorityReplaceApp2App = -100
	PriorityRegMgrAnalysis = 1000 // low priority: runs after analysis passes with smaller numbers
	PriorityInsertionLow   = 0
	PriorityInsertionMid   = 100
	PriorityInsertionHigh  = 200
)
