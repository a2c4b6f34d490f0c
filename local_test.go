package distsys

import (
	"testing"

	"github.com/mpcal-runtime/distsys/tla"
)

func TestLocalResourceInitialRead(t *testing.T) {
	res := NewLocalResource(tla.Number(42))
	v, err := res.ReadValue()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Equal(tla.Number(42)) {
		t.Errorf("got %v, want 42", v)
	}
}

func TestLocalResourceWriteIsPendingUntilCommit(t *testing.T) {
	res := NewLocalResource(tla.Number(1))
	if err := res.WriteValue(tla.Number(2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, _ := res.ReadValue()
	if !v.Equal(tla.Number(2)) {
		t.Errorf("pending write not visible to ReadValue: got %v", v)
	}
	<-drainOrNil(res.Commit())
	v, _ = res.ReadValue()
	if !v.Equal(tla.Number(2)) {
		t.Errorf("after commit: got %v, want 2", v)
	}
}

func TestLocalResourceAbortRestoresLastCommitted(t *testing.T) {
	res := NewLocalResource(tla.Number(1))
	if err := res.WriteValue(tla.Number(99)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-drainOrNil(res.Abort())
	v, _ := res.ReadValue()
	if !v.Equal(tla.Number(1)) {
		t.Errorf("after abort: got %v, want 1", v)
	}
}

func TestLocalResourceIndexReadsNestedFunction(t *testing.T) {
	fn := buildTestFunction([]tla.Value{tla.Str("a"), tla.Str("b")}, tla.Number(0))
	res := NewLocalResource(fn)
	view, err := res.Index(tla.Str("a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := view.ReadValue()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Equal(tla.Number(0)) {
		t.Errorf("got %v, want 0", v)
	}
}

func TestLocalResourceIndexWritePropagatesToParent(t *testing.T) {
	fn := buildTestFunction([]tla.Value{tla.Str("a"), tla.Str("b")}, tla.Number(0))
	res := NewLocalResource(fn)
	view, err := res.Index(tla.Str("a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := view.WriteValue(tla.Number(7)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-drainOrNil(res.Commit())

	updated, _ := res.ReadValue()
	if !updated.ApplyFunction(tla.Str("a")).Equal(tla.Number(7)) {
		t.Errorf("write through Index did not update parent function")
	}
	if !updated.ApplyFunction(tla.Str("b")).Equal(tla.Number(0)) {
		t.Errorf("write through Index disturbed unrelated key")
	}
}

// drainOrNil lets tests treat the resource protocol's (possibly nil) commit
// channels uniformly, since most resources signal synchronous completion by
// returning a nil channel.
func drainOrNil(ch chan struct{}) chan struct{} {
	if ch == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return ch
}

func buildTestFunction(domain []tla.Value, value tla.Value) tla.Value {
	fields := make([]tla.RecordField, len(domain))
	for i, k := range domain {
		fields[i] = tla.RecordField{Key: k, Value: value}
	}
	return tla.Record(fields)
}
