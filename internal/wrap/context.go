package wrap

import (
	"github.com/tracehook/dbicore/internal/corerr"
	"github.com/tracehook/dbicore/internal/hostabi"
)

// WrapContext is the "wrapcxt" of spec section 4.2: the per-invocation
// object pre_cb/post_cb use to inspect and mutate the call. Null is set on
// abnormal-unwind-triggered post_cb invocations, where no retval is
// available (spec section 4.2, "Abnormal unwind detection").
type WrapContext struct {
	Entry *WrapEntry
	Frame *WrapFrame
	MC    *hostabi.MContext
	Conv  hostabi.CallConvention

	Null bool

	// UserDataSlot is the per-wrap user_data slot of spec section 4.2's
	// on_entry protocol: a pre_cb may write to it and the paired post_cb
	// for the same WrapEntry reads it back.
	UserDataSlot *interface{}

	skip       bool
	skipRetval uint64
	redirect   *hostabi.MContext
}

// UserData reads the current value of the per-wrap user data slot.
func (c *WrapContext) UserData() interface{} {
	if c.UserDataSlot == nil {
		return nil
	}

	return *c.UserDataSlot
}

// SetUserData writes the per-wrap user data slot.
func (c *WrapContext) SetUserData(v interface{}) {
	if c.UserDataSlot != nil {
		*c.UserDataSlot = v
	}
}

// GetArg implements get_arg(i): resolves the i-th argument per the active
// calling convention and reads it from the mcontext. Stack-resident
// arguments require reading application memory, which this in-process model
// has no access to outside the mcontext snapshot, so those return
// FeatureNotAvailable rather than silently fabricating a value.
func (c *WrapContext) GetArg(i int) (uint64, error) {
	reg, _, onStack := hostabi.ArgLocation(c.Conv, i)
	if onStack {
		return 0, corerr.New(corerr.FeatureNotAvailable, "wrap.WrapContext.GetArg",
			"stack-resident argument access requires host memory access", map[string]interface{}{"index": i})
	}

	v, ok := c.MC.GPR[reg]
	if !ok {
		return 0, corerr.New(corerr.NoAppValue, "wrap.WrapContext.GetArg",
			"mcontext has no recorded value for the argument register", map[string]interface{}{"index": i})
	}

	return v, nil
}

// SetArg implements set_arg(i, value).
func (c *WrapContext) SetArg(i int, value uint64) error {
	reg, _, onStack := hostabi.ArgLocation(c.Conv, i)
	if onStack {
		return corerr.New(corerr.FeatureNotAvailable, "wrap.WrapContext.SetArg",
			"stack-resident argument access requires host memory access", map[string]interface{}{"index": i})
	}

	c.MC.GPR[reg] = value

	return nil
}

// GetRetval implements get_retval.
func (c *WrapContext) GetRetval() (uint64, error) {
	abi := hostabi.ConventionTable[c.Conv]

	v, ok := c.MC.GPR[abi.RetvalReg]
	if !ok {
		return 0, corerr.New(corerr.NoAppValue, "wrap.WrapContext.GetRetval",
			"mcontext has no recorded value for the return register", nil)
	}

	return v, nil
}

// SetRetval implements set_retval.
func (c *WrapContext) SetRetval(value uint64) {
	abi := hostabi.ConventionTable[c.Conv]
	c.MC.GPR[abi.RetvalReg] = value
}

// GetMContext/SetMContext implement get_mcontext/set_mcontext.
func (c *WrapContext) GetMContext() *hostabi.MContext { return c.MC }
func (c *WrapContext) SetMContext(mc *hostabi.MContext) { c.MC = mc }

// SkipCall implements skip_call(return_val): bypass the wrapped function
// entirely, setting retval and marking the frame for redirect past the call.
func (c *WrapContext) SkipCall(retval uint64) {
	c.skip = true
	c.skipRetval = retval
	c.SetRetval(retval)
}

// Skipped reports whether SkipCall was invoked during this pre_cb.
func (c *WrapContext) Skipped() (uint64, bool) { return c.skipRetval, c.skip }

// RedirectExecution implements redirect_execution(mcontext): requests that
// the host's mcontext be updated and execution redirected after the current
// clean call.
func (c *WrapContext) RedirectExecution(mc *hostabi.MContext) { c.redirect = mc }

// Redirected reports the mcontext requested by RedirectExecution, if any.
func (c *WrapContext) Redirected() *hostabi.MContext { return c.redirect }
