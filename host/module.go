package host

// Module holds one compilation unit's module-level variable storage,
// addressed by OpModLoad/OpModStore's immediate index (spec §4 "host.Module
// ... module-variable storage").
type Module struct {
	Name string
	Vars []uint64
}

// NewModule allocates a module with size module-variable slots, all
// zero-initialized — which, per value's NaN-boxing, is the valid boxed
// float64 0.0 for every slot until something stores into it.
func NewModule(name string, size int) *Module {
	return &Module{Name: name, Vars: make([]uint64, size)}
}
