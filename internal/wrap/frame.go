package wrap

import (
	"github.com/tracehook/dbicore/internal/coreinit"
	"github.com/tracehook/dbicore/internal/corerr"
	"github.com/tracehook/dbicore/internal/hostabi"
	"github.com/tracehook/dbicore/internal/tls"
)

// MaxWrapNesting bounds the per-thread wrap frame stack (spec section 4.2,
// "NestingLimitExceeded (silently: skip instrumentation for too-deep
// frames)").
const MaxWrapNesting = 64

// WrapFrame is one pushed call frame (spec section 4.2's "push frame").
type WrapFrame struct {
	FuncPC  uintptr
	Entries []*WrapEntry
	AppSP   uintptr

	// RetAddr is the value now sitting where the host believes the return
	// address lives: the real one normally, or the sentinel PC under
	// REPLACE_RETADDR.
	RetAddr           uintptr
	RealRetAddr       uintptr
	SentinelInstalled bool

	PreRan map[*WrapEntry]bool
	slots  map[*WrapEntry]*interface{}
}

type threadState struct {
	stack []*WrapFrame
}

const wrapStateKey = "wrap.threadState"

func state(tc *tls.ThreadContext) *threadState {
	if v, ok := tc.Get(wrapStateKey); ok {
		return v.(*threadState)
	}

	ts := &threadState{}
	tc.Set(wrapStateKey, ts)

	return ts
}

// EntryResult reports what OnEntry decided: whether to skip the wrapped
// function's body and/or redirect execution.
type EntryResult struct {
	Skip       bool
	SkipRetval uint64
	Redirect   *hostabi.MContext
}

// OnEntry implements the on_entry protocol of spec section 4.2. It performs
// abnormal-unwind detection against outer frames, pushes a new frame,
// installs the REPLACE_RETADDR sentinel if any matching entry requests it,
// ensures the real return address is a known post-call site otherwise, and
// invokes every pre_cb in registration (head-first, i.e. most-recently
// registered first) order.
func (m *Manager) OnEntry(tc *tls.ThreadContext, funcPC uintptr, mc *hostabi.MContext, appSP uintptr) (*EntryResult, error) {
	ts := state(tc)

	m.detectAbnormalUnwind(ts, appSP)

	entries := m.entriesFor(funcPC)
	if len(entries) == 0 {
		return nil, nil
	}

	if len(ts.stack) >= MaxWrapNesting {
		return nil, corerr.New(corerr.NestingLimitExceeded, "wrap.OnEntry",
			"wrap frame stack depth exceeded; skipping instrumentation for this call",
			map[string]interface{}{"func_pc": funcPC})
	}

	frame := &WrapFrame{
		FuncPC: funcPC, Entries: entries, AppSP: appSP,
		PreRan: map[*WrapEntry]bool{}, slots: map[*WrapEntry]*interface{}{},
	}

	real := m.readRetAddr(mc)
	frame.RealRetAddr = real
	frame.RetAddr = real

	replaceRetaddr := false

	for _, e := range entries {
		if e.Flags.Has(coreinit.ReplaceRetaddr) {
			replaceRetaddr = true
		}
	}

	res := &EntryResult{}

	if replaceRetaddr {
		m.installSentinel(mc, frame)
	} else if !m.pcc.isPostCallSite(real) {
		m.pcc.registerPostCallSite(real)

		if m.ccc != nil {
			_ = m.ccc.FlushRegion(real, 1)
		}

		res.Redirect = mc
	}

	ts.stack = append(ts.stack, frame)

	for _, e := range entries {
		if e.Pre == nil {
			continue
		}

		slot := new(interface{})
		*slot = e.UserData
		frame.slots[e] = slot

		ctx := &WrapContext{Entry: e, Frame: frame, MC: mc, Conv: m.conv, UserDataSlot: slot}
		e.Pre(ctx)
		frame.PreRan[e] = true

		if v, skipped := ctx.Skipped(); skipped {
			res.Skip = true
			res.SkipRetval = v

			break
		}

		if r := ctx.Redirected(); r != nil {
			res.Redirect = r
		}
	}

	return res, nil
}

// OnReturn implements the on_return protocol: pop every frame whose
// recorded AppSP the current sp has reached or passed, invoking each
// popped frame's post_cbs in reverse registration order (tail-first, so the
// outermost pre's matching post runs last), for entries whose pre_cb
// actually ran.
func (m *Manager) OnReturn(tc *tls.ThreadContext, mc *hostabi.MContext, curSP uintptr) error {
	ts := state(tc)

	for len(ts.stack) > 0 {
		top := ts.stack[len(ts.stack)-1]
		if curSP < top.AppSP {
			break
		}

		ts.stack = ts.stack[:len(ts.stack)-1]
		m.invokePost(top, mc, false)
	}

	return nil
}

// ForceUnwindAll implements the host's exception/signal hook path: every
// outstanding frame is popped unconditionally, each post_cb invoked with a
// null wrapcxt indicator (spec section 4.2, "abnormal unwind detection"; the
// host's exception hooks do this unconditionally for every frame).
func (m *Manager) ForceUnwindAll(tc *tls.ThreadContext, mc *hostabi.MContext) {
	ts := state(tc)

	for len(ts.stack) > 0 {
		top := ts.stack[len(ts.stack)-1]
		ts.stack = ts.stack[:len(ts.stack)-1]
		m.invokePost(top, mc, true)
	}
}

// detectAbnormalUnwind implements "on each on_entry, compare sp with each
// outer frame's recorded sp; a frame whose sp has been numerically passed
// (the new call's sp sits above where that frame's call was entered, i.e.
// the stack has unwound past it) is treated as abnormally exited" (spec
// section 4.2).
func (m *Manager) detectAbnormalUnwind(ts *threadState, newAppSP uintptr) {
	for len(ts.stack) > 0 {
		top := ts.stack[len(ts.stack)-1]
		if newAppSP <= top.AppSP {
			break
		}

		ts.stack = ts.stack[:len(ts.stack)-1]
		m.invokePost(top, nil, true)
	}
}

func (m *Manager) invokePost(frame *WrapFrame, mc *hostabi.MContext, abnormal bool) {
	for i := len(frame.Entries) - 1; i >= 0; i-- {
		e := frame.Entries[i]
		if e.Post == nil || !frame.PreRan[e] {
			continue
		}

		if abnormal && m.restrictAbnormalToOptIn && !e.Flags.Has(coreinit.UnwindOnException) {
			continue
		}

		ctx := &WrapContext{Entry: e, Frame: frame, MC: mc, Conv: m.conv, Null: abnormal, UserDataSlot: frame.slots[e]}
		e.Post(ctx)
	}
}

// FrameStack returns a snapshot of tc's outstanding wrap frames, most recent
// last, for use by RewriteFaultMContext.
func FrameStack(tc *tls.ThreadContext) []*WrapFrame {
	ts := state(tc)
	return append([]*WrapFrame(nil), ts.stack...)
}

// readRetAddr reads the return address from the link register (ARM-style
// ISAs) or, lacking one, from the simulated stack word at mc.SP (x86-style).
func (m *Manager) readRetAddr(mc *hostabi.MContext) uintptr {
	abi := hostabi.ConventionTable[m.conv]
	if abi.LinkRegister != "" {
		return mc.LR
	}

	if mc.StackWords != nil {
		if v, ok := mc.StackWords[mc.SP]; ok {
			return uintptr(v)
		}
	}

	return mc.LR
}
