package resources

import (
	"fmt"
	"time"

	"github.com/mpcal-runtime/distsys"
	"github.com/mpcal-runtime/distsys/tla"
)

const inputChannelReadTimeout = 20 * time.Millisecond

// InputChannel is the read half of the §4.4.3 host bridge: ReadValue waits
// up to inputChannelReadTimeout for the next host-supplied value (returning
// ErrCriticalSectionAborted if none arrives), holding it in a backlog until
// Commit so re-reads within the same critical section return the same value
// and Abort can hand it back to the front of the channel.
type InputChannel struct {
	distsys.ArchetypeResourceLeafMixin

	channel <-chan tla.Value
	buffer  []tla.Value
	backlog []tla.Value
}

var _ distsys.ArchetypeResource = &InputChannel{}

// NewInputChannel wraps channel as the Input resource of an archetype.
func NewInputChannel(channel <-chan tla.Value) *InputChannel {
	return &InputChannel{channel: channel}
}

func (res *InputChannel) Abort() chan struct{} {
	res.buffer = append(res.backlog, res.buffer...)
	res.backlog = nil
	return nil
}

func (res *InputChannel) PreCommit() chan error { return nil }

func (res *InputChannel) Commit() chan struct{} {
	res.backlog = nil
	return nil
}

func (res *InputChannel) ReadValue() (tla.Value, error) {
	// A value already read in this critical section is returned again until
	// Commit consumes it or Abort hands it back.
	if len(res.backlog) > 0 {
		return res.backlog[0], nil
	}
	if len(res.buffer) > 0 {
		value := res.buffer[0]
		res.buffer = res.buffer[1:]
		res.backlog = append(res.backlog, value)
		return value, nil
	}

	select {
	case value := <-res.channel:
		res.backlog = append(res.backlog, value)
		return value, nil
	case <-time.After(inputChannelReadTimeout):
		return tla.Value{}, distsys.ErrCriticalSectionAborted
	}
}

func (res *InputChannel) WriteValue(value tla.Value) error {
	panic(fmt.Errorf("attempted to write %v to an input channel resource", value))
}

func (res *InputChannel) Close() error { return nil }

// OutputChannel is the write half of the §4.4.3 host bridge: WriteValue
// buffers within the section, Commit flushes the buffer to the host channel
// so a write is delivered exactly at commit.
type OutputChannel struct {
	distsys.ArchetypeResourceLeafMixin

	channel chan<- tla.Value
	buffer  []tla.Value
}

var _ distsys.ArchetypeResource = &OutputChannel{}

// NewOutputChannel wraps channel as the Output resource of an archetype.
func NewOutputChannel(channel chan<- tla.Value) *OutputChannel {
	return &OutputChannel{channel: channel}
}

func (res *OutputChannel) Abort() chan struct{} {
	res.buffer = nil
	return nil
}

func (res *OutputChannel) PreCommit() chan error { return nil }

func (res *OutputChannel) Commit() chan struct{} {
	pending := res.buffer
	res.buffer = nil
	if len(pending) == 0 {
		return nil
	}
	done := make(chan struct{})
	go func() {
		for _, value := range pending {
			res.channel <- value
		}
		close(done)
	}()
	return done
}

func (res *OutputChannel) ReadValue() (tla.Value, error) {
	panic(fmt.Errorf("attempted to read from an output channel resource"))
}

func (res *OutputChannel) WriteValue(value tla.Value) error {
	res.buffer = append(res.buffer, value)
	return nil
}

func (res *OutputChannel) Close() error { return nil }
