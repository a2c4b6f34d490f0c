package distsys

import (
	"github.com/mpcal-runtime/distsys/tla"
)

// localResource is the in-process register resource backing plain MPCal
// local variables, the internal ".pc" program counter, and every ref/val
// parameter binding. A write is staged as speculative state; Commit makes it
// permanent, Abort restores the value as of the last Commit, matching the
// two-phase protocol every other resource follows.
//
// Index returns a view over one path into the held Value (treating it as a
// nested function/tuple), so generated code for `x[k1][k2] := v` composes
// naturally out of Read/Write/Index on the same underlying resource.
type localResource struct {
	committed  tla.Value
	hasPending bool
	pending    tla.Value
}

var _ ArchetypeResource = &localResource{}

// localResourceMaker constructs an ArchetypeResourceMaker for a local
// register resource initialized to value.
func localResourceMaker(value tla.Value) ArchetypeResourceMaker {
	return ArchetypeResourceMakerFn(func() ArchetypeResource {
		return &localResource{committed: value}
	})
}

// NewLocalResource constructs a local register resource directly,
// initialized to value. Generated code for plain (non-ref) archetype
// variables binds one of these per variable.
func NewLocalResource(value tla.Value) ArchetypeResource {
	return &localResource{committed: value}
}

func (res *localResource) current() tla.Value {
	if res.hasPending {
		return res.pending
	}
	return res.committed
}

func (res *localResource) ReadValue() (tla.Value, error) {
	return res.current(), nil
}

func (res *localResource) WriteValue(value tla.Value) error {
	res.pending = value
	res.hasPending = true
	return nil
}

func (res *localResource) Index(index tla.Value) (ArchetypeResource, error) {
	return &localResourceView{parent: res, indices: []tla.Value{index}}, nil
}

func (res *localResource) PreCommit() chan error { return nil }

func (res *localResource) Commit() chan struct{} {
	if res.hasPending {
		res.committed = res.pending
		res.pending = tla.Value{}
		res.hasPending = false
	}
	return nil
}

func (res *localResource) Abort() chan struct{} {
	res.pending = tla.Value{}
	res.hasPending = false
	return nil
}

func (res *localResource) Close() error { return nil }

// localResourceView addresses one indexing path (x[k1][k2]...) into a
// localResource's held Value, reading/writing through ApplyFunction and
// FunctionSubstitution on the parent's current value.
type localResourceView struct {
	parent  *localResource
	indices []tla.Value
}

var _ ArchetypeResource = &localResourceView{}

func (view *localResourceView) Index(index tla.Value) (ArchetypeResource, error) {
	return &localResourceView{parent: view.parent, indices: append(append([]tla.Value(nil), view.indices...), index)}, nil
}

func (view *localResourceView) ReadValue() (tla.Value, error) {
	v := view.parent.current()
	for _, index := range view.indices {
		v = v.ApplyFunction(index)
	}
	return v, nil
}

func (view *localResourceView) WriteValue(value tla.Value) error {
	updated := tla.FunctionSubstitution(view.parent.current(), []tla.FunctionSubstitutionRecord{{
		Keys: view.indices,
		Value: func(tla.Value) tla.Value {
			return value
		},
	}})
	return view.parent.WriteValue(updated)
}

func (view *localResourceView) PreCommit() chan error { return nil }
func (view *localResourceView) Commit() chan struct{} { return nil }
func (view *localResourceView) Abort() chan struct{}  { return nil }
func (view *localResourceView) Close() error          { return nil }
