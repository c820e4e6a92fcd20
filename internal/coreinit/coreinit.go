// Package coreinit provides the core's process-wide, reference-counted
// two-phase initialization: a global flags bitmap accumulated across
// multiple Init callers and committed at first use (spec section 9, design
// note on "global tables with a global flags bitmap touched on init").
package coreinit

import (
	"fmt"
	"log"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/tracehook/dbicore/internal/corerr"
)

// GlobalFlags is the process-wide flags bitmap from spec section 6.
type GlobalFlags uint32

const (
	SafeReadRetaddr GlobalFlags = 1 << iota
	SafeReadArgs
	NoFrills
	FastCleanCalls
	InvertControl
	NoDynamicRetaddrs
)

func (f GlobalFlags) Has(bit GlobalFlags) bool { return f&bit != 0 }

// WrapFlags are per-wrap flags (spec section 6).
type WrapFlags uint32

const (
	UnwindOnException WrapFlags = 1 << iota
	ReplaceRetaddr
)

func (f WrapFlags) Has(bit WrapFlags) bool { return f&bit != 0 }

// Logger is the core's sole logging hook; it defaults to log.Printf and can
// be overridden by the host at init. No third-party logging library is used
// anywhere in the core (see DESIGN.md).
type Logger func(format string, args ...interface{})

// Options configures the core. There is no CLI or environment-variable
// surface (spec section 6): a host sets these fields directly at link/init
// time.
type Options struct {
	NumSpillSlots      int
	ConservativeSpills bool
	ErrorCallback      corerr.Callback
	GlobalFlags        GlobalFlags
	// HostABIVersion is checked against hostABIConstraint with semver; hosts
	// presenting an incompatible version fail Init with FeatureNotAvailable.
	HostABIVersion string
	Logger         Logger
}

// hostABIConstraint is the range of host-runtime ABI versions this build of
// the core supports.
const hostABIConstraint = ">= 1.0.0, < 2.0.0"

// Core is the committed, process-wide state produced by the first Init call.
type Core struct {
	Options Options
}

var (
	mu       sync.Mutex
	refCount int
	pending  Options
	haveOpts bool
	core     *Core
)

// Init accumulates opts into the pending process-wide configuration and
// increments the reference count. The first caller's ErrorCallback and
// Logger win if later callers leave those fields zero; flag bitmaps are
// OR-combined. The committed Core is returned to every caller.
func Init(opts Options) (*Core, error) {
	mu.Lock()
	defer mu.Unlock()

	if !haveOpts {
		pending = opts
		haveOpts = true
	} else {
		pending.GlobalFlags |= opts.GlobalFlags

		if opts.NumSpillSlots > pending.NumSpillSlots {
			pending.NumSpillSlots = opts.NumSpillSlots
		}

		if opts.ConservativeSpills {
			pending.ConservativeSpills = true
		}

		if pending.ErrorCallback == nil {
			pending.ErrorCallback = opts.ErrorCallback
		}

		if pending.Logger == nil {
			pending.Logger = opts.Logger
		}

		if opts.HostABIVersion != "" {
			pending.HostABIVersion = opts.HostABIVersion
		}
	}

	if refCount == 0 {
		if err := checkHostABI(pending.HostABIVersion); err != nil {
			haveOpts = false

			return nil, err
		}

		if pending.Logger == nil {
			pending.Logger = log.Printf
		}

		if pending.NumSpillSlots <= 0 {
			pending.NumSpillSlots = 32
		}

		core = &Core{Options: pending}
	} else {
		core.Options = pending
	}

	refCount++

	return core, nil
}

// Exit decrements the reference count, tearing down the committed state when
// it reaches zero.
func Exit() {
	mu.Lock()
	defer mu.Unlock()

	if refCount == 0 {
		return
	}

	refCount--
	if refCount == 0 {
		core = nil
		haveOpts = false
		pending = Options{}
	}
}

// RefCount reports the current reference count, for tests and diagnostics.
func RefCount() int {
	mu.Lock()
	defer mu.Unlock()

	return refCount
}

func checkHostABI(version string) error {
	if version == "" {
		return corerr.New(corerr.InvalidParam, "coreinit.Init",
			"HostABIVersion must be set by the host runtime", nil)
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return corerr.New(corerr.InvalidParam, "coreinit.Init",
			fmt.Sprintf("HostABIVersion %q is not a valid semantic version: %v", version, err), nil)
	}

	c, err := semver.NewConstraint(hostABIConstraint)
	if err != nil {
		// Constant is controlled by this package; a parse failure here is a
		// programming error, not a runtime condition.
		panic(fmt.Sprintf("coreinit: invalid built-in constraint %q: %v", hostABIConstraint, err))
	}

	if !c.Check(v) {
		return corerr.New(corerr.FeatureNotAvailable, "coreinit.Init",
			fmt.Sprintf("host ABI version %s does not satisfy %s", version, hostABIConstraint),
			map[string]interface{}{"host_abi_version": version, "constraint": hostABIConstraint})
	}

	return nil
}
