package wrap

import "reflect"

// fnEqual compares two callback values by identity, the way spec section
// 4.2's "matched by (pre_cb, post_cb) identity" requires. Go forbids
// comparing func values directly (except against nil); reflect.Value.Pointer
// gives the underlying code pointer, which is the closest equivalent to the
// original's function-pointer comparison for non-closure callbacks.
func fnEqual(a, b interface{}) bool {
	av := reflect.ValueOf(a)
	bv := reflect.ValueOf(b)

	if av.IsValid() != bv.IsValid() {
		return false
	}

	if !av.IsValid() {
		return true
	}

	if av.IsNil() != bv.IsNil() {
		return false
	}

	if av.IsNil() {
		return true
	}

	return av.Pointer() == bv.Pointer()
}
