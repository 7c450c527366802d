package value

import "testing"

func assert(t *testing.T, cond bool, format string, args ...any) {
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestNumberRoundTrip(t *testing.T) {
	cases := []float64{0, 1, -1, 3.5, -99999.125, 1e300}
	for _, f := range cases {
		v := Number(f)
		assert(t, v.IsNumber(), "expected %v to be a number", f)
		assert(t, v.AsNumber() == f, "round trip mismatch: got %v want %v", v.AsNumber(), f)
	}
}

func TestSingletons(t *testing.T) {
	assert(t, !Null.IsNumber(), "null must not be a number")
	assert(t, !True.IsNumber(), "true must not be a number")
	assert(t, !False.IsNumber(), "false must not be a number")

	assert(t, Null.IsNull(), "Null.IsNull()")
	assert(t, !Null.IsTruthy(), "null is falsy")
	assert(t, False.IsFalse(), "False.IsFalse()")
	assert(t, !False.IsTruthy(), "false is falsy")
	assert(t, True.IsTruthy(), "true is truthy")

	assert(t, Bool(true) == True, "Bool(true) == True")
	assert(t, Bool(false) == False, "Bool(false) == False")
}

func TestObjectEncoding(t *testing.T) {
	for _, ptr := range []uint64{0, 1, 0xdeadbeef, 0xFFFFFFFFFFFF} {
		v := Object(ptr)
		assert(t, !v.IsNumber(), "object must not look like a number")
		assert(t, v.IsObject(), "expected IsObject for ptr %x", ptr)
		assert(t, v.AsObject() == ptr, "object round trip mismatch: got %x want %x", v.AsObject(), ptr)
	}
}

func TestIntegerEncoding(t *testing.T) {
	for _, i := range []int32{0, 1, -1, 1000000, -2147483648} {
		v := Int(i)
		assert(t, !v.IsNumber(), "boxed integer must not look like a number")
		assert(t, v.IsInteger(), "expected IsInteger for %d", i)
		assert(t, v.AsInt() == i, "integer round trip mismatch: got %d want %d", v.AsInt(), i)
	}
}

func TestTagsAreDisjoint(t *testing.T) {
	vals := []Value{Null, True, False, Int(0), Int(-1), Object(0), Object(1)}
	for i := range vals {
		for j := range vals {
			if i == j {
				continue
			}
			if vals[i] == vals[j] {
				t.Fatalf("values at %d and %d collide: %x", i, j, vals[i])
			}
		}
	}
}

func TestNumberNeverCollidesWithTags(t *testing.T) {
	// A handful of finite doubles must never be mistaken for non-numbers.
	for _, f := range []float64{0, 1, -1, 3.14159, 1e10, -1e-10} {
		v := Number(f)
		assert(t, v != Null && v != True && v != False, "number %v collided with a singleton tag", f)
	}
}
