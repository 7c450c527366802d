// Package host is the interpreter half of the system: a slot-addressed,
// NaN-boxed bytecode VM that drives a jit.State through its hot counters
// and, for compiled traces, through asmcontract's ObjectAccess contract.
// Grounded on GVM's newer bytecode generation (bytecode.go/compile.go/
// devices.go) generalized from raw uint32 registers to value.Value words
// and from a flat global heap to a per-VM object table.
package host

// Class describes one object layout: a fixed field count and the handle
// a compiled trace's class guard compares against (spec §6 "object
// header layout: type tag + class pointer").
type Class struct {
	ID         int64
	Name       string
	FieldCount int32
}

// Object is one heap instance: its class plus its field slots, stored as
// raw NaN-boxed bits so a trace can read/write a field without going
// through package value at all.
type Object struct {
	Class  *Class
	Fields []uint64
}

func newObject(class *Class) *Object {
	return &Object{Class: class, Fields: make([]uint64, class.FieldCount)}
}

// Heap is the VM's object table. A handle is a 1-based index into
// objects, boxed into a Value via value.Object and never dereferenced as
// a real pointer — asmcontract's ObjectAccess only ever sees the handle,
// never the Object itself, so genasm stays independent of package host.
type Heap struct {
	objects []*Object
}

// Alloc creates a new instance of class and returns its handle together
// with the Object itself, for the interpreter's own immediate use.
func (h *Heap) Alloc(class *Class) (handle uint64, obj *Object) {
	obj = newObject(class)
	h.objects = append(h.objects, obj)
	return uint64(len(h.objects)), obj
}

// Get resolves a handle back to its Object, or nil if the handle is out
// of range (handle 0 is reserved and never valid).
func (h *Heap) Get(handle uint64) *Object {
	if handle == 0 || int(handle) > len(h.objects) {
		return nil
	}
	return h.objects[handle-1]
}

// ClassOf implements asmcontract.ObjectAccess (spec §4.5's class-guard
// lowering reads this through a compiled trace's entry arguments).
func (h *Heap) ClassOf(handle uint64) int64 {
	obj := h.Get(handle)
	if obj == nil {
		return -1
	}
	return obj.Class.ID
}

// FieldCount implements asmcontract.ObjectAccess.
func (h *Heap) FieldCount(handle uint64) int {
	obj := h.Get(handle)
	if obj == nil {
		return 0
	}
	return len(obj.Fields)
}

// LoadField implements asmcontract.ObjectAccess.
func (h *Heap) LoadField(handle uint64, field int32) uint64 {
	obj := h.Get(handle)
	if obj == nil || int(field) >= len(obj.Fields) {
		return 0
	}
	return obj.Fields[field]
}

// StoreField implements asmcontract.ObjectAccess.
func (h *Heap) StoreField(handle uint64, field int32, bits uint64) {
	obj := h.Get(handle)
	if obj == nil || int(field) >= len(obj.Fields) {
		return
	}
	obj.Fields[field] = bits
}
