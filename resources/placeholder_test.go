package resources

import (
	"testing"

	"github.com/mpcal-runtime/distsys/tla"
)

func expectPlaceholderPanic(t *testing.T, op func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic, got none")
		}
		if err, ok := r.(error); !ok || err != ErrPlaceholderAccess {
			t.Errorf("got panic value %v, want ErrPlaceholderAccess", r)
		}
	}()
	op()
}

func TestPlaceholderPanicsOnEveryOperation(t *testing.T) {
	res := NewPlaceholder()

	expectPlaceholderPanic(t, func() { _, _ = res.ReadValue() })
	expectPlaceholderPanic(t, func() { _ = res.WriteValue(tla.Number(0)) })
	expectPlaceholderPanic(t, func() { _, _ = res.Index(tla.Number(0)) })
	expectPlaceholderPanic(t, func() { res.PreCommit() })
	expectPlaceholderPanic(t, func() { res.Commit() })
	expectPlaceholderPanic(t, func() { res.Abort() })
}

func TestPlaceholderCloseIsANoOp(t *testing.T) {
	res := NewPlaceholder()
	if err := res.Close(); err != nil {
		t.Errorf("Close: got %v, want nil", err)
	}
}
