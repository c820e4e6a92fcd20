package corerr

import "testing"

func TestNewCapturesCaller(t *testing.T) {
	err := New(InvalidParam, "corerr_test.wrapper", "bad thing", nil)

	if err.Kind != InvalidParam {
		t.Fatalf("Kind = %v, want InvalidParam", err.Kind)
	}

	if err.Caller == "" || err.Caller == "unknown" {
		t.Fatalf("expected a resolved caller, got %q", err.Caller)
	}
}

func TestErrorStringIncludesMessageWhenSet(t *testing.T) {
	err := New(OutOfSlots, "regmgr.reserve", "no free slot", nil)

	got := err.Error()
	if got == "" {
		t.Fatalf("expected non-empty error string")
	}

	withoutMsg := New(OutOfSlots, "regmgr.reserve", "", nil).Error()
	if got == withoutMsg {
		t.Fatalf("expected message-bearing and message-less strings to differ")
	}
}

func TestIsMatchesKind(t *testing.T) {
	err := New(AlreadyExists, "wrap.Wrap", "", nil)

	if !Is(err, AlreadyExists) {
		t.Fatalf("expected Is to match AlreadyExists")
	}

	if Is(err, InvalidParam) {
		t.Fatalf("expected Is to reject a mismatched kind")
	}

	if Is(nil, AlreadyExists) {
		t.Fatalf("expected Is to reject a nil error")
	}
}

func TestRaisePanicsWithoutCallback(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Raise to panic when cb is nil")
		}
	}()

	_ = Raise(nil, OutOfSlots, "regmgr.spill", "slot table desync")
}

func TestRaiseReturnsErrorWhenCallbackHandles(t *testing.T) {
	cb := func(kind Kind) Disposition { return Handled }

	err := Raise(cb, OutOfSlots, "regmgr.spill", "slot table desync")
	if err == nil {
		t.Fatalf("expected a non-nil error")
	}

	if !Is(err, OutOfSlots) {
		t.Fatalf("expected OutOfSlots, got %v", err)
	}
}

func TestRaisePanicsWhenCallbackLeavesUnhandled(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Raise to panic when cb returns Unhandled")
		}
	}()

	cb := func(kind Kind) Disposition { return Unhandled }
	_ = Raise(cb, OutOfSlots, "regmgr.spill", "slot table desync")
}
