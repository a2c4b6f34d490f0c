package distsys

import (
	"testing"

	"github.com/mpcal-runtime/distsys/tla"
)

func TestMakeJumpTableIndexesByName(t *testing.T) {
	step := CriticalSection{Name: "A.step", Body: func(ArchetypeInterface) error { return nil }}
	done := CriticalSection{Name: "A.Done", Body: func(ArchetypeInterface) error { return ErrDone }}

	jt := MakeJumpTable(step, done)

	if len(jt) != 2 {
		t.Fatalf("got %d entries, want 2", len(jt))
	}
	if jt["A.step"].Name != "A.step" {
		t.Errorf("A.step: got %+v", jt["A.step"])
	}
	if jt["A.Done"].Name != "A.Done" {
		t.Errorf("A.Done: got %+v", jt["A.Done"])
	}
}

func TestGetCriticalSectionPanicsOnUnknownLabel(t *testing.T) {
	archetype := Archetype{Name: "A", Label: "A.step", JumpTable: MakeJumpTable()}
	ctx := NewArchetypeContext(tla.Str("node"), archetype)

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for an unregistered label")
		}
	}()
	ctx.getCriticalSection("A.nope")
}
