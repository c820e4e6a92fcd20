// Command dbicore-harness is a standalone demo host runtime for dbicore: it
// plays the role spec.md assigns to the host code-cache runtime, driving
// RegMgr, Wrap, and Buf against a scripted scenario of simulated application
// threads. It is not part of the core library; a real host replaces every
// piece of this file with its actual JIT, TLS allocator, and fault delivery.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/tracehook/dbicore/internal/buf"
	"github.com/tracehook/dbicore/internal/coreinit"
	"github.com/tracehook/dbicore/internal/hostabi"
	"github.com/tracehook/dbicore/internal/ilist"
	"github.com/tracehook/dbicore/internal/regmgr"
	"github.com/tracehook/dbicore/internal/tls"
	"github.com/tracehook/dbicore/internal/wrap"
)

func main() {
	var (
		scenarioPath string
		watch        bool
		threadMul    int
	)

	flag.StringVar(&scenarioPath, "scenario", "", "path to a scenario JSON file (built-in demo scenario if unset)")
	flag.BoolVar(&watch, "watch", false, "re-run the scenario whenever the scenario file changes")
	flag.IntVar(&threadMul, "threads", 1, "replicate each scripted thread this many times")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "dbicore-harness drives RegMgr, Wrap, and Buf through a scripted scenario.\n\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if threadMul < 1 {
		threadMul = 1
	}

	if err := run(scenarioPath, watch, threadMul); err != nil {
		log.Fatalf("dbicore-harness: %v", err)
	}
}

func run(scenarioPath string, watch bool, threadMul int) error {
	if watch {
		if scenarioPath == "" {
			return fmt.Errorf("-watch requires -scenario")
		}

		return runWatching(scenarioPath, threadMul)
	}

	sc, err := resolveScenario(scenarioPath)
	if err != nil {
		return err
	}

	return runOnce(sc, threadMul)
}

func resolveScenario(path string) (*Scenario, error) {
	if path == "" {
		return defaultScenario(), nil
	}

	return loadScenario(path)
}

func runWatching(path string, threadMul int) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	sc, err := loadScenario(path)
	if err != nil {
		return err
	}

	if err := runOnce(sc, threadMul); err != nil {
		log.Printf("scenario run failed: %v", err)
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			sc, err := loadScenario(path)
			if err != nil {
				log.Printf("reloading scenario: %v", err)
				continue
			}

			log.Printf("scenario file changed, re-running")

			if err := runOnce(sc, threadMul); err != nil {
				log.Printf("scenario run failed: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			log.Printf("watcher error: %v", err)
		}
	}
}

// runOnce sets up a fresh core (RegMgr, Wrap, Buf managers over a shared
// thread-context store) and plays every thread's script concurrently, one
// goroutine per simulated application thread (spec section 5's "one logical
// execution context per application thread" concurrency model).
func runOnce(sc *Scenario, threadMul int) error {
	core, err := coreinit.Init(coreinit.Options{HostABIVersion: "1.0.0"})
	if err != nil {
		return fmt.Errorf("core init: %w", err)
	}
	defer coreinit.Exit()

	logf := core.Options.Logger

	alloc := &fakeTLSAllocator{}
	store := tls.NewStore(alloc, core.Options.NumSpillSlots)

	emitter := &loggingEmitter{logf: logf}

	regMgr := regmgr.NewManager(regmgr.ManagerOptions{})
	wrapMgr := wrap.NewManager(wrap.ManagerOptions{Emitter: emitter, CodeCache: emitter, Convention: hostabi.SysVx64})
	bufMgr := buf.NewManager()

	traceBuf, err := bufMgr.CreateTraceBuffer(4096, func(base, used uintptr) {
		logf("trace buffer full: base=%#x used=%d bytes, flushing", base, used)
	})
	if err != nil {
		return fmt.Errorf("creating trace buffer: %w", err)
	}

	if err := wireDemoWraps(wrapMgr, logf); err != nil {
		return fmt.Errorf("registering demo wraps: %w", err)
	}

	var g errgroup.Group

	threadID := uint64(0)

	for _, script := range sc.Threads {
		for rep := 0; rep < threadMul; rep++ {
			script := script
			rep := rep
			threadID++
			id := tls.ThreadID(threadID)

			g.Go(func() error {
				name := script.Name
				if rep > 0 {
					name = fmt.Sprintf("%s#%d", script.Name, rep)
				}

				return runThread(name, id, store, bufMgr, traceBuf, regMgr, wrapMgr, script, logf)
			})
		}
	}

	return g.Wait()
}

func wireDemoWraps(wrapMgr *wrap.Manager, logf coreinit.Logger) error {
	pre := func(ctx *wrap.WrapContext) { logf("pre_cb fired for entry %#x", ctx.Entry.FuncPC) }
	post := func(ctx *wrap.WrapContext) { logf("post_cb fired for entry %#x (null=%v)", ctx.Entry.FuncPC, ctx.Null) }

	return wrapMgr.Wrap(0x4000, pre, post, nil, 0)
}

func runThread(
	name string,
	id tls.ThreadID,
	store *tls.Store,
	bufMgr *buf.Manager,
	traceBuf *buf.Buf,
	regMgr *regmgr.Manager,
	wrapMgr *wrap.Manager,
	script ThreadScript,
	logf coreinit.Logger,
) error {
	tc, err := store.Init(id)
	if err != nil {
		return fmt.Errorf("thread %s: init: %w", name, err)
	}
	defer store.Exit(id)

	bufState, err := bufMgr.InitThread(tc, traceBuf)
	if err != nil {
		return fmt.Errorf("thread %s: buf init: %w", name, err)
	}

	appSP := uintptr(0x1000)

	for _, step := range script.Calls {
		pc, err := parsePC(step.FuncPC)
		if err != nil {
			return fmt.Errorf("thread %s: %w", name, err)
		}

		if err := simulateCall(name, tc, regMgr, wrapMgr, pc, appSP, logf); err != nil {
			return err
		}

		appSP += 0x10

		if step.BufStoreBytes > 0 {
			advanceBuf(name, bufMgr, tc, bufState, step.BufStoreBytes, logf)
		}
	}

	return nil
}

func simulateCall(name string, tc *tls.ThreadContext, regMgr *regmgr.Manager, wrapMgr *wrap.Manager, pc, appSP uintptr, logf coreinit.Logger) error {
	block := &ilist.List{}
	block.Append(ilist.NewApp("call"))

	b := regMgr.BeginBlock(tc, block)

	reg, err := b.ReserveRegister(0, nil)
	if err != nil {
		return fmt.Errorf("thread %s: reserve register: %w", name, err)
	}

	logf("thread %s: reserved %s ahead of call to %#x", name, reg, pc)

	if err := b.UnreserveRegister(reg); err != nil {
		return fmt.Errorf("thread %s: unreserve register: %w", name, err)
	}

	b.EndBlock()

	mc := &hostabi.MContext{GPR: map[ilist.Reg]uint64{}, SP: appSP, StackWords: map[uintptr]uint64{appSP: uint64(pc + 4)}}

	if _, err := wrapMgr.OnEntry(tc, pc, mc, appSP); err != nil {
		return fmt.Errorf("thread %s: on_entry: %w", name, err)
	}

	if err := wrapMgr.OnReturn(tc, mc, appSP); err != nil {
		return fmt.Errorf("thread %s: on_return: %w", name, err)
	}

	return nil
}

func advanceBuf(name string, bufMgr *buf.Manager, tc *tls.ThreadContext, st *buf.PerThreadBufState, n int, logf coreinit.Logger) {
	next := st.GetBufferPtr() + uintptr(n)
	limit := st.GetBufferBase() + st.GetBufferSize()

	if next > limit {
		res := buf.HandleFault(tc, limit, ilist.StoreMem{Base: "buf_ptr", Disp: 0, Size: n})
		if res.Resumed {
			logf("thread %s: buffer refilled after %d bytes", name, res.UsedBytes)
		}

		next = st.GetBufferBase() + uintptr(n)
	}

	st.SetBufferPtr(next)
}

func parsePC(s string) (uintptr, error) {
	s = strings.TrimPrefix(s, "0x")

	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid func_pc %q: %w", s, err)
	}

	return uintptr(v), nil
}
