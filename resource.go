package distsys

import (
	"sync"

	"github.com/mpcal-runtime/distsys/tla"
	"go.uber.org/multierr"
)

// ArchetypeResource is the interface between a running archetype and some
// piece of external state: a local variable, a network mailbox, a failure
// detector, an input/output channel. A critical section reads and writes
// resources freely; at the end of the section every touched resource is
// driven through PreCommit then Commit (or, on any error, Abort) so that the
// section's effects appear atomically or not at all.
//
// Implementations of the leaf operations (ReadValue/WriteValue/Index) should
// embed ArchetypeResourceLeafMixin or ArchetypeResourceMapMixin to get a
// correct ErrProtocolMisuse response for the operation that doesn't apply to
// them, rather than reimplementing the panic/error boilerplate.
type ArchetypeResource interface {
	// ReadValue returns the resource's current value. May return
	// ErrCriticalSectionAborted alongside a zero Value if the resource isn't
	// ready yet (a mailbox has nothing buffered, a failure detector hasn't
	// completed its first poll, and so on). Must not block indefinitely.
	ReadValue() (tla.Value, error)
	// WriteValue updates the resource's current value, under the same
	// blocking and error-return conventions as ReadValue.
	WriteValue(value tla.Value) error
	// Index returns the sub-resource addressed by index, for resources that
	// behave like an indexed collection (mailboxes and failure detectors,
	// keyed by peer). Leaf resources return ErrProtocolMisuse.
	Index(index tla.Value) (ArchetypeResource, error)

	// PreCommit signals that the critical section is about to commit. It may
	// return a non-nil channel yielding exactly one error; a nil error (or a
	// nil channel) means Commit may proceed. A non-nil error means the
	// section must abort instead.
	PreCommit() chan error
	// Commit unconditionally persists the resource's speculative state. It
	// may return a non-nil channel that is closed once the commit completes;
	// a nil channel means the commit is already complete.
	Commit() chan struct{}
	// Abort discards the resource's speculative state, restoring it to its
	// state as of the last Commit. Conventions mirror Commit.
	Abort() chan struct{}

	// Close releases anything the resource owns (listeners, connections,
	// background goroutines). Called at most once, when the owning context
	// stops running.
	Close() error
}

// ArchetypeResourceLeafMixin rejects Index on a resource that never behaves
// like a collection.
type ArchetypeResourceLeafMixin struct{}

func (ArchetypeResourceLeafMixin) Index(tla.Value) (ArchetypeResource, error) {
	return nil, ErrProtocolMisuse
}

// ArchetypeResourceMapMixin rejects ReadValue/WriteValue on a resource that
// only makes sense as an indexed collection.
type ArchetypeResourceMapMixin struct{}

func (ArchetypeResourceMapMixin) ReadValue() (tla.Value, error) {
	return tla.Value{}, ErrProtocolMisuse
}

func (ArchetypeResourceMapMixin) WriteValue(tla.Value) error {
	return ErrProtocolMisuse
}

// ArchetypeResourceMaker constructs one ArchetypeResource instance. The
// context builds the local registers it binds itself (the .pc counter, ref
// indirections, value params) through a maker; EnsureArchetypeRefParam takes
// an already-constructed resource instead.
type ArchetypeResourceMaker interface {
	Make() ArchetypeResource
}

// ArchetypeResourceMakerFn adapts a plain function to ArchetypeResourceMaker.
type ArchetypeResourceMakerFn func() ArchetypeResource

func (fn ArchetypeResourceMakerFn) Make() ArchetypeResource { return fn() }

// IncMap is a lazily-populated map resource: Index(k) constructs and caches a
// sub-resource for k the first time it is seen, via makeResource. This is the
// shape shared by TCP mailboxes and failure detectors, both indexed by peer.
type IncMap struct {
	ArchetypeResourceMapMixin

	makeResource func(index tla.Value) ArchetypeResource

	lock      sync.Mutex
	resources map[uint32]ArchetypeResource
	keys      map[uint32]tla.Value
}

var _ ArchetypeResource = &IncMap{}

// NewIncMap constructs an IncMap whose sub-resources are built on demand by
// makeResource.
func NewIncMap(makeResource func(index tla.Value) ArchetypeResource) *IncMap {
	return &IncMap{
		makeResource: makeResource,
		resources:    make(map[uint32]ArchetypeResource),
		keys:         make(map[uint32]tla.Value),
	}
}

func (m *IncMap) Index(index tla.Value) (ArchetypeResource, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	h := index.Hash()
	res, ok := m.resources[h]
	if !ok {
		res = m.makeResource(index)
		m.resources[h] = res
		m.keys[h] = index
	}
	return res, nil
}

func (m *IncMap) forEach(fn func(ArchetypeResource) chan struct{}) chan struct{} {
	m.lock.Lock()
	defer m.lock.Unlock()
	var pending []chan struct{}
	for _, res := range m.resources {
		if ch := fn(res); ch != nil {
			pending = append(pending, ch)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	done := make(chan struct{})
	go func() {
		for _, ch := range pending {
			<-ch
		}
		close(done)
	}()
	return done
}

func (m *IncMap) Abort() chan struct{} {
	return m.forEach(func(res ArchetypeResource) chan struct{} { return res.Abort() })
}

func (m *IncMap) Commit() chan struct{} {
	return m.forEach(func(res ArchetypeResource) chan struct{} { return res.Commit() })
}

func (m *IncMap) PreCommit() chan error {
	m.lock.Lock()
	var pending []chan error
	for _, res := range m.resources {
		if ch := res.PreCommit(); ch != nil {
			pending = append(pending, ch)
		}
	}
	m.lock.Unlock()
	if len(pending) == 0 {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		var firstErr error
		for _, ch := range pending {
			if err := <-ch; err != nil && firstErr == nil {
				firstErr = err
			}
		}
		done <- firstErr
	}()
	return done
}

func (m *IncMap) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	var err error
	for _, res := range m.resources {
		err = multierr.Append(err, res.Close())
	}
	return err
}
