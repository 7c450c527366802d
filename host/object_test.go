package host

import "testing"

func TestHeapAllocAndFieldAccessRoundTrips(t *testing.T) {
	heap := &Heap{}
	class := &Class{ID: 7, Name: "Point", FieldCount: 2}
	handle, obj := heap.Alloc(class)

	assert(t, heap.ClassOf(handle) == 7, "expected class 7, got %d", heap.ClassOf(handle))
	assert(t, heap.FieldCount(handle) == 2, "expected 2 fields, got %d", heap.FieldCount(handle))

	heap.StoreField(handle, 0, 111)
	heap.StoreField(handle, 1, 222)
	assert(t, heap.LoadField(handle, 0) == 111, "expected field 0 == 111")
	assert(t, heap.LoadField(handle, 1) == 222, "expected field 1 == 222")
	assert(t, obj.Fields[0] == 111, "expected the Go-level Object to reflect the same store")
}

func TestHeapHandleZeroAndOutOfRangeAreInvalid(t *testing.T) {
	heap := &Heap{}
	assert(t, heap.Get(0) == nil, "handle 0 must never resolve to an object")
	assert(t, heap.ClassOf(0) == -1, "ClassOf on an invalid handle must report -1")
	assert(t, heap.FieldCount(0) == 0, "FieldCount on an invalid handle must report 0")

	class := &Class{ID: 1, Name: "Empty", FieldCount: 0}
	handle, _ := heap.Alloc(class)
	assert(t, heap.Get(handle+1) == nil, "a handle past the table's length must not resolve")
}
