package distsys

import (
	"errors"
	"testing"

	"github.com/mpcal-runtime/distsys/tla"
)

func TestArchetypeResourceLeafMixinRejectsIndex(t *testing.T) {
	var mixin ArchetypeResourceLeafMixin
	_, err := mixin.Index(tla.Number(0))
	if !errors.Is(err, ErrProtocolMisuse) {
		t.Errorf("got %v, want ErrProtocolMisuse", err)
	}
}

func TestArchetypeResourceMapMixinRejectsReadWrite(t *testing.T) {
	var mixin ArchetypeResourceMapMixin
	if _, err := mixin.ReadValue(); !errors.Is(err, ErrProtocolMisuse) {
		t.Errorf("ReadValue: got %v, want ErrProtocolMisuse", err)
	}
	if err := mixin.WriteValue(tla.Number(0)); !errors.Is(err, ErrProtocolMisuse) {
		t.Errorf("WriteValue: got %v, want ErrProtocolMisuse", err)
	}
}

func TestIncMapMaterializesOnFirstIndex(t *testing.T) {
	var built []tla.Value
	m := NewIncMap(func(index tla.Value) ArchetypeResource {
		built = append(built, index)
		return NewLocalResource(tla.Number(0))
	})

	if _, err := m.Index(tla.Number(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Index(tla.Number(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(built) != 1 {
		t.Errorf("sub-resource built %d times for the same key, want 1", len(built))
	}

	if _, err := m.Index(tla.Number(2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(built) != 2 {
		t.Errorf("got %d distinct sub-resources, want 2", len(built))
	}
}

func TestIncMapRejectsDirectReadWrite(t *testing.T) {
	m := NewIncMap(func(tla.Value) ArchetypeResource { return NewLocalResource(tla.Number(0)) })
	if _, err := m.ReadValue(); !errors.Is(err, ErrProtocolMisuse) {
		t.Errorf("ReadValue: got %v, want ErrProtocolMisuse", err)
	}
	if err := m.WriteValue(tla.Number(0)); !errors.Is(err, ErrProtocolMisuse) {
		t.Errorf("WriteValue: got %v, want ErrProtocolMisuse", err)
	}
}

func TestIncMapCommitFansOutToEverySubResource(t *testing.T) {
	m := NewIncMap(func(tla.Value) ArchetypeResource { return NewLocalResource(tla.Number(0)) })
	a, _ := m.Index(tla.Number(1))
	b, _ := m.Index(tla.Number(2))

	if err := a.WriteValue(tla.Number(10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.WriteValue(tla.Number(20)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	<-drainOrNil(m.Commit())

	av, _ := a.ReadValue()
	bv, _ := b.ReadValue()
	if !av.Equal(tla.Number(10)) || !bv.Equal(tla.Number(20)) {
		t.Errorf("commit did not propagate to all sub-resources: a=%v b=%v", av, bv)
	}
}

func TestIncMapAbortFansOutToEverySubResource(t *testing.T) {
	m := NewIncMap(func(tla.Value) ArchetypeResource { return NewLocalResource(tla.Number(0)) })
	a, _ := m.Index(tla.Number(1))

	if err := a.WriteValue(tla.Number(99)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-drainOrNil(m.Abort())

	av, _ := a.ReadValue()
	if !av.Equal(tla.Number(0)) {
		t.Errorf("abort did not roll back sub-resource: got %v, want 0", av)
	}
}

func TestIncMapCloseAggregatesSubResourceErrors(t *testing.T) {
	boom := errors.New("boom")
	m := NewIncMap(func(tla.Value) ArchetypeResource { return &closeErrResource{err: boom} })
	if _, err := m.Index(tla.Number(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Index(tla.Number(2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := m.Close()
	if err == nil {
		t.Fatal("expected aggregated close error, got nil")
	}
	if !errors.Is(err, boom) {
		t.Errorf("aggregated error does not wrap the sub-resource error: %v", err)
	}
}

type closeErrResource struct {
	ArchetypeResourceLeafMixin
	err error
}

func (r *closeErrResource) ReadValue() (tla.Value, error)  { return tla.Value{}, nil }
func (r *closeErrResource) WriteValue(tla.Value) error     { return nil }
func (r *closeErrResource) PreCommit() chan error          { return nil }
func (r *closeErrResource) Commit() chan struct{}          { return nil }
func (r *closeErrResource) Abort() chan struct{}           { return nil }
func (r *closeErrResource) Close() error                   { return r.err }
