package hashmap

import (
	"testing"

	"github.com/mpcal-runtime/distsys/tla"
)

func TestGetOnEmptyMapIsNotOK(t *testing.T) {
	h := New[string]()
	if _, ok := h.Get(tla.Number(1)); ok {
		t.Error("expected not ok for an empty map")
	}
}

func TestSetThenGetReturnsTheBoundValue(t *testing.T) {
	h := New[string]()
	h.Set(tla.Str("a"), "first")
	v, ok := h.Get(tla.Str("a"))
	if !ok {
		t.Fatal("expected ok")
	}
	if v != "first" {
		t.Errorf("got %q, want %q", v, "first")
	}
}

func TestSetOverwritesAnExistingKey(t *testing.T) {
	h := New[string]()
	h.Set(tla.Str("a"), "first")
	h.Set(tla.Str("a"), "second")

	v, ok := h.Get(tla.Str("a"))
	if !ok || v != "second" {
		t.Errorf("got (%q, %v), want (\"second\", true)", v, ok)
	}
	if len(h.Keys) != 1 {
		t.Errorf("Keys: got %d entries, want 1 (overwrite must not duplicate)", len(h.Keys))
	}
}

func TestDeleteRemovesKeyAndTracking(t *testing.T) {
	h := New[string]()
	h.Set(tla.Str("a"), "first")
	h.Set(tla.Str("b"), "second")

	h.Delete(tla.Str("a"))

	if _, ok := h.Get(tla.Str("a")); ok {
		t.Error("deleted key still present")
	}
	if _, ok := h.Get(tla.Str("b")); !ok {
		t.Error("unrelated key was removed")
	}
	if len(h.Keys) != 1 || !h.Keys[0].Equal(tla.Str("b")) {
		t.Errorf("Keys: got %v, want only \"b\"", h.Keys)
	}
}

func TestClearEmptiesTheMap(t *testing.T) {
	h := New[string]()
	h.Set(tla.Str("a"), "first")
	h.Set(tla.Str("b"), "second")

	h.Clear()

	if _, ok := h.Get(tla.Str("a")); ok {
		t.Error("expected empty map after Clear")
	}
	if len(h.Keys) != 0 {
		t.Errorf("Keys: got %v, want empty", h.Keys)
	}
}
