package wrap

import "github.com/tracehook/dbicore/internal/hostabi"

// SentinelPC is the fixed address of the generated one-instruction stub
// REPLACE_RETADDR redirects real return addresses to (spec section 4.2).
// Real deployments generate this stub at core-init time in a writable,
// executable page the host allocates; a constant stands in for it here
// since code generation itself is the host's concern (spec section 1).
const SentinelPC uintptr = 0xDBC0DE00

// installSentinel overwrites the in-memory return address (or link
// register, on link-register ISAs) with SentinelPC; frame.RealRetAddr was
// already set by the caller so on_return and fault reconstruction can
// recover it.
func (m *Manager) installSentinel(mc *hostabi.MContext, frame *WrapFrame) {
	frame.RetAddr = SentinelPC
	frame.SentinelInstalled = true

	abi := hostabi.ConventionTable[m.conv]
	if abi.LinkRegister != "" {
		mc.LR = SentinelPC
		return
	}

	if mc.StackWords == nil {
		mc.StackWords = map[uintptr]uint64{}
	}

	mc.StackWords[mc.SP] = uint64(SentinelPC)
}

// RewriteFaultMContext implements the fault-translation hook of spec section
// 7: "REPLACE_RETADDR translates the sentinel PC/LR and sentinel stack
// entries back to the real values before the host observes the mcontext on
// fault." It walks every live frame of stack and corrects any occurrence
// of SentinelPC in the raw mcontext.
func RewriteFaultMContext(stack []*WrapFrame, mc *hostabi.MContext) {
	for _, frame := range stack {
		if !frame.SentinelInstalled {
			continue
		}

		if mc.LR == SentinelPC {
			mc.LR = frame.RealRetAddr
		}

		if mc.PC == SentinelPC {
			mc.PC = frame.RealRetAddr
		}

		for addr, v := range mc.StackWords {
			if v == uint64(SentinelPC) {
				mc.StackWords[addr] = uint64(frame.RealRetAddr)
			}
		}
	}
}
