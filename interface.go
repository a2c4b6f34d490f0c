package distsys

import (
	"fmt"

	"github.com/mpcal-runtime/distsys/tla"
)

// ArchetypeResourceHandle names a resource bound into a context, insulating
// generated code from caring about how that resource is stored or looked up.
type ArchetypeResourceHandle string

// ArchetypeInterface is the API generated archetype code is compiled
// against: reading/writing/indexing resources by handle, looking up
// constants, requesting a ref/val parameter's handle, jumping between
// critical sections, and drawing a fairness counter at an `either` branch.
// It is a thin wrapper around an ArchetypeContext, kept separate so internal
// bookkeeping (dirty-tracking, the jump table) stays out of generated code's
// view.
type ArchetypeInterface struct {
	ctx *ArchetypeContext
}

// Self returns the archetype's `self` binding.
func (iface ArchetypeInterface) Self() tla.Value {
	return iface.ctx.self
}

// RequireArchetypeResource resolves a resource name (a ref/val parameter, or
// an internal name like ".pc") to its handle, panicking if it was never
// configured — a configuration bug, not a runtime condition.
func (iface ArchetypeInterface) RequireArchetypeResource(name string) ArchetypeResourceHandle {
	handle := ArchetypeResourceHandle(name)
	if _, ok := iface.ctx.resources[handle]; !ok {
		panic(fmt.Errorf("archetype resource %s was required but never configured", name))
	}
	return handle
}

// RequireArchetypeResourceRef resolves a `ref`-qualified parameter name: the
// resource actually bound to that ref, wherever it came from.
func (iface ArchetypeInterface) RequireArchetypeResourceRef(name string) ArchetypeResourceHandle {
	refHandle := iface.RequireArchetypeResource(name)
	indirection, err := iface.Read(refHandle, nil)
	if err != nil {
		panic(fmt.Errorf("could not resolve ref resource %s: %w", name, err))
	}
	return ArchetypeResourceHandle(indirection.AsString())
}

// Read reads the resource at handle, applying indices in order via Index,
// and marks the resource at handle dirty so it (and, for an indexed
// collection, its sub-resources) is included in the next commit.
func (iface ArchetypeInterface) Read(handle ArchetypeResourceHandle, indices []tla.Value) (tla.Value, error) {
	res, err := iface.ctx.resolveIndices(handle, indices)
	if err != nil {
		return tla.Value{}, err
	}
	iface.ctx.markDirty(handle)
	return res.ReadValue()
}

// Write writes value to the resource at handle, applying indices in order,
// and marks the resource at handle dirty so it is included in the next
// commit.
func (iface ArchetypeInterface) Write(handle ArchetypeResourceHandle, indices []tla.Value, value tla.Value) error {
	res, err := iface.ctx.resolveIndices(handle, indices)
	if err != nil {
		return err
	}
	iface.ctx.markDirty(handle)
	return res.WriteValue(value)
}

// EnsureArchetypeResourceLocal binds name to a fresh local register resource
// initialized to value, unless a resource is already bound at that name.
// Archetype PreAmble functions use this to declare the plain (non-ref,
// non-const) local variables an archetype body reads and writes.
func (iface ArchetypeInterface) EnsureArchetypeResourceLocal(name string, value tla.Value) ArchetypeResourceHandle {
	handle := ArchetypeResourceHandle(name)
	if _, ok := iface.ctx.resources[handle]; !ok {
		iface.ctx.bindResource(name, NewLocalResource(value))
	}
	return handle
}

// GetConstant looks up a constant operator bound into the context via
// DefineConstantValue/DefineConstantOperator.
func (iface ArchetypeInterface) GetConstant(name string) func(args ...tla.Value) tla.Value {
	defn, ok := iface.ctx.constantDefns[name]
	if !ok {
		panic(fmt.Errorf("constant %s was never defined", name))
	}
	return defn
}

// Goto sets the archetype's program counter to label, to run as the next
// critical section once the current one commits.
func (iface ArchetypeInterface) Goto(label string) error {
	pc := iface.RequireArchetypeResource(".pc")
	return iface.Write(pc, nil, tla.Str(label))
}

// NextFairnessCounter draws the next round-robin value for a non-deterministic
// `either` branch point identified by id, out of ceiling possibilities.
func (iface ArchetypeInterface) NextFairnessCounter(id string, ceiling uint) uint {
	return iface.ctx.fairnessCounter.NextFairnessCounter(id, ceiling)
}

func (ctx *ArchetypeContext) resolveIndices(handle ArchetypeResourceHandle, indices []tla.Value) (ArchetypeResource, error) {
	res := ctx.getResourceByHandle(handle)
	for _, index := range indices {
		var err error
		res, err = res.Index(index)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}
