package resources

import (
	"errors"

	"github.com/mpcal-runtime/distsys"
	"github.com/mpcal-runtime/distsys/tla"
)

// ErrPlaceholderAccess is the panic value raised by every Placeholder
// operation: reaching one means a deployment forgot to bind a resource for
// an archetype ref/val parameter that this particular archetype body does
// use, which is a configuration bug rather than a runtime condition.
var ErrPlaceholderAccess = errors.New("distsys: no access is allowed to a placeholder resource")

// Placeholder is the §4.4.4 no-op resource: it is bound to a ref/val
// parameter an archetype declares but a particular deployment never
// exercises. Any operation panics, diagnosing the misuse immediately rather
// than silently returning zero values.
type Placeholder struct{}

var _ distsys.ArchetypeResource = &Placeholder{}

// NewPlaceholder constructs a Placeholder resource.
func NewPlaceholder() *Placeholder { return &Placeholder{} }

func (res *Placeholder) Abort() chan struct{}  { panic(ErrPlaceholderAccess) }
func (res *Placeholder) PreCommit() chan error { panic(ErrPlaceholderAccess) }
func (res *Placeholder) Commit() chan struct{} { panic(ErrPlaceholderAccess) }

func (res *Placeholder) ReadValue() (tla.Value, error) {
	panic(ErrPlaceholderAccess)
}

func (res *Placeholder) WriteValue(tla.Value) error {
	panic(ErrPlaceholderAccess)
}

func (res *Placeholder) Index(tla.Value) (distsys.ArchetypeResource, error) {
	panic(ErrPlaceholderAccess)
}

func (res *Placeholder) Close() error { return nil }
