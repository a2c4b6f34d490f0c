package resources

import (
	"testing"

	"github.com/mpcal-runtime/distsys"
	"github.com/mpcal-runtime/distsys/tla"
)

func TestInputChannelReadsInOrder(t *testing.T) {
	ch := make(chan tla.Value, 2)
	ch <- tla.Number(1)
	ch <- tla.Number(2)
	close(ch)

	res := NewInputChannel(ch)

	v1, err := res.ReadValue()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v1.Equal(tla.Number(1)) {
		t.Errorf("first read: got %v, want 1", v1)
	}

	res.Commit()

	v2, err := res.ReadValue()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v2.Equal(tla.Number(2)) {
		t.Errorf("second read: got %v, want 2", v2)
	}
}

func TestInputChannelRereadWithinSectionReturnsSameValue(t *testing.T) {
	ch := make(chan tla.Value, 1)
	ch <- tla.Number(7)
	res := NewInputChannel(ch)

	v1, _ := res.ReadValue()
	if !v1.Equal(tla.Number(7)) {
		t.Fatalf("got %v, want 7", v1)
	}

	again, err := res.ReadValue()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !again.Equal(tla.Number(7)) {
		t.Errorf("re-read within the section got %v, want the same value 7", again)
	}

	res.Abort()

	v2, err := res.ReadValue()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v2.Equal(tla.Number(7)) {
		t.Errorf("after abort, re-read got %v, want the same value 7 back", v2)
	}
}

func TestInputChannelReadTimesOutAsAbortedSection(t *testing.T) {
	ch := make(chan tla.Value)
	res := NewInputChannel(ch)

	_, err := res.ReadValue()
	if err != distsys.ErrCriticalSectionAborted {
		t.Errorf("got %v, want ErrCriticalSectionAborted", err)
	}
}

func TestOutputChannelBuffersUntilCommit(t *testing.T) {
	ch := make(chan tla.Value, 1)
	res := NewOutputChannel(ch)

	if err := res.WriteValue(tla.Number(5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case v := <-ch:
		t.Fatalf("value %v delivered before Commit", v)
	default:
	}

	done := res.Commit()
	if done != nil {
		<-done
	}

	select {
	case v := <-ch:
		if !v.Equal(tla.Number(5)) {
			t.Errorf("got %v, want 5", v)
		}
	default:
		t.Fatal("Commit did not flush the buffered write")
	}
}

func TestOutputChannelAbortDiscardsBufferedWrites(t *testing.T) {
	ch := make(chan tla.Value, 1)
	res := NewOutputChannel(ch)

	if err := res.WriteValue(tla.Number(5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res.Abort()
	done := res.Commit()
	if done != nil {
		<-done
	}

	select {
	case v := <-ch:
		t.Fatalf("aborted write %v was delivered anyway", v)
	default:
	}
}
