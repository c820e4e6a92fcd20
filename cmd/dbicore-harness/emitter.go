package main

import (
	"github.com/tracehook/dbicore/internal/coreinit"
	"github.com/tracehook/dbicore/internal/hostabi"
	"github.com/tracehook/dbicore/internal/ilist"
)

// loggingEmitter plays the host's code-cache role just enough to show where
// the core would insert a clean call and flush a code region; a real host
// replaces this with its actual code generator and cache invalidation.
type loggingEmitter struct {
	logf coreinit.Logger
}

func (e *loggingEmitter) InsertCleanCall(block *ilist.List, where int, fn string, flags hostabi.CleanCallFlags, args ...ilist.Reg) {
	block.InsertAt(where, ilist.CleanCall{Fn: fn, Args: args})
	e.logf("clean call inserted: %s at index %d (flags=%d)", fn, where, flags)
}

func (e *loggingEmitter) FlushRegion(pc uintptr, length uintptr) error {
	e.logf("flush region pc=%#x length=%d", pc, length)
	return nil
}

func (e *loggingEmitter) DelayFlushRegion(pc uintptr, length uintptr) error {
	e.logf("delay-flush region pc=%#x length=%d", pc, length)
	return nil
}

func (e *loggingEmitter) RedirectExecution(mc *hostabi.MContext) error {
	e.logf("redirect execution requested, pc=%#x", mc.PC)
	return nil
}
