package distsys

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/mpcal-runtime/distsys/tla"
	"go.uber.org/multierr"
)

// ArchetypeContext owns the full runtime lifecycle of one running archetype:
// its bound resources, constant definitions, fairness counter, and the
// commit/abort bookkeeping that makes each critical section atomic. Build one
// with NewArchetypeContext, configure it with the ContextConfigFn options
// below, then call Run.
type ArchetypeContext struct {
	archetype Archetype

	self      tla.Value
	resources map[ArchetypeResourceHandle]ArchetypeResource

	fairnessCounter FairnessCounter

	jumpTable JumpTable

	dirtyResourceHandles map[ArchetypeResourceHandle]bool

	iface ArchetypeInterface

	constantDefns map[string]func(args ...tla.Value) tla.Value

	allowRun bool

	runStateLock  sync.Mutex
	exitRequested bool
	requestExit   chan struct{}
	awaitExit     chan struct{}
}

// ContextConfigFn applies one piece of configuration (a resource binding, a
// constant definition, a fairness counter override) to a freshly constructed
// ArchetypeContext.
type ContextConfigFn func(ctx *ArchetypeContext)

// NewArchetypeContext constructs a context ready to run archetype as self,
// applying every configFn in order. Resource and constant configuration
// (EnsureArchetypeRefParam, EnsureArchetypeValueParam, DefineConstantValue,
// ...) must be supplied this way before Run is called.
func NewArchetypeContext(self tla.Value, archetype Archetype, configFns ...ContextConfigFn) *ArchetypeContext {
	ctx := &ArchetypeContext{
		archetype: archetype,

		self:            self,
		resources:       make(map[ArchetypeResourceHandle]ArchetypeResource),
		fairnessCounter: MakeRoundRobinFairnessCounter(),

		jumpTable: archetype.JumpTable,

		dirtyResourceHandles: make(map[ArchetypeResourceHandle]bool),

		constantDefns: make(map[string]func(args ...tla.Value) tla.Value),

		allowRun: true,

		awaitExit: make(chan struct{}),
	}
	ctx.iface = ArchetypeInterface{ctx: ctx}

	ctx.bindResource(".pc", localResourceMaker(tla.Str(archetype.Label)).Make())
	for _, configFn := range configFns {
		configFn(ctx)
	}
	return ctx
}

// NewContextWithoutArchetype builds an almost-bare context, useful only for
// evaluating constant-operator definitions outside of any running archetype.
func NewContextWithoutArchetype(configFns ...ContextConfigFn) *ArchetypeContext {
	ctx := &ArchetypeContext{
		constantDefns: make(map[string]func(args ...tla.Value) tla.Value),
	}
	ctx.iface = ArchetypeInterface{ctx: ctx}
	for _, configFn := range configFns {
		configFn(ctx)
	}
	return ctx
}

func (ctx *ArchetypeContext) requireRunnable() {
	if !ctx.allowRun {
		panic(fmt.Errorf("this operation requires a context built by NewArchetypeContext"))
	}
}

// IFace exposes the ArchetypeInterface for this context, mainly useful when
// the context was built via NewContextWithoutArchetype just to evaluate pure
// TLA+ expressions.
func (ctx *ArchetypeContext) IFace() ArchetypeInterface {
	return ctx.iface
}

func (ctx *ArchetypeContext) bindResource(name string, res ArchetypeResource) ArchetypeResourceHandle {
	handle := ArchetypeResourceHandle(name)
	ctx.resources[handle] = res
	return handle
}

func (ctx *ArchetypeContext) getResourceByHandle(handle ArchetypeResourceHandle) ArchetypeResource {
	res, ok := ctx.resources[handle]
	if !ok {
		panic(fmt.Errorf("could not find archetype resource %v", handle))
	}
	return res
}

func (ctx *ArchetypeContext) markDirty(handle ArchetypeResourceHandle) {
	ctx.dirtyResourceHandles[handle] = true
}

// EnsureArchetypeRefParam binds res as the resource backing the ref
// parameter name. The generated ref-lookup indirection (a local resource
// holding the bound resource's own handle name) is set up alongside it.
func EnsureArchetypeRefParam(name string, res ArchetypeResource) ContextConfigFn {
	return func(ctx *ArchetypeContext) {
		ctx.requireRunnable()
		resourceName := "&" + ctx.archetype.Name + "." + name
		refName := ctx.archetype.Name + "." + name
		ctx.bindResource(resourceName, res)
		ctx.bindResource(refName, localResourceMaker(tla.Str(resourceName)).Make())
	}
}

// EnsureArchetypeValueParam binds value as a non-ref parameter's value.
func EnsureArchetypeValueParam(name string, value tla.Value) ContextConfigFn {
	return func(ctx *ArchetypeContext) {
		ctx.requireRunnable()
		ctx.bindResource(ctx.archetype.Name+"."+name, localResourceMaker(value).Make())
	}
}

// DefineConstantValue binds name to a fixed Value.
func DefineConstantValue(name string, value tla.Value) ContextConfigFn {
	return DefineConstantOperator(name, func() tla.Value {
		return value
	})
}

// DefineConstantOperator binds name to an arbitrary-arity operator over
// Values, implemented via reflection so ordinary Go functions of the shape
// func(a, b, ... Value) Value can be passed directly.
func DefineConstantOperator(name string, defn interface{}) ContextConfigFn {
	checkDouble := func(ctx *ArchetypeContext) {
		if _, ok := ctx.constantDefns[name]; ok {
			panic(fmt.Errorf("constant %s defined twice", name))
		}
	}

	if variadicDefn, ok := defn.(func(args ...tla.Value) tla.Value); ok {
		return func(ctx *ArchetypeContext) {
			checkDouble(ctx)
			ctx.constantDefns[name] = variadicDefn
		}
	}

	defnVal := reflect.ValueOf(defn)
	defnTyp := reflect.TypeOf(defn)
	valueTyp := reflect.TypeOf(tla.Value{})

	if defnTyp.Kind() != reflect.Func {
		panic(fmt.Errorf("constant operator %s is not a function: %v", name, defn))
	}
	if defnTyp.NumOut() != 1 || !valueTyp.AssignableTo(defnTyp.Out(0)) {
		panic(fmt.Errorf("constant operator %s must return exactly one tla.Value", name))
	}
	argCount := defnTyp.NumIn()
	for i := 0; i < argCount; i++ {
		if !valueTyp.AssignableTo(defnTyp.In(i)) {
			panic(fmt.Errorf("constant operator %s argument %d must be tla.Value", name, i))
		}
	}

	return func(ctx *ArchetypeContext) {
		checkDouble(ctx)
		ctx.constantDefns[name] = func(args ...tla.Value) tla.Value {
			if len(args) != argCount {
				panic(fmt.Errorf("constant operator %s called with %d arguments, expected %d", name, len(args), argCount))
			}
			argVals := make([]reflect.Value, argCount)
			for i, arg := range args {
				argVals[i] = reflect.ValueOf(arg)
			}
			result := defnVal.Call(argVals)
			return result[0].Interface().(tla.Value)
		}
	}
}

// SetFairnessCounter overrides the context's FairnessCounter policy.
func SetFairnessCounter(fairnessCounter FairnessCounter) ContextConfigFn {
	return func(ctx *ArchetypeContext) {
		ctx.fairnessCounter = fairnessCounter
	}
}

func (ctx *ArchetypeContext) abort() {
	var pending []chan struct{}
	for handle := range ctx.dirtyResourceHandles {
		if ch := ctx.getResourceByHandle(handle).Abort(); ch != nil {
			pending = append(pending, ch)
		}
	}
	for _, ch := range pending {
		<-ch
	}
	for handle := range ctx.dirtyResourceHandles {
		delete(ctx.dirtyResourceHandles, handle)
	}
}

func (ctx *ArchetypeContext) commit() (err error) {
	var pendingPreCommits []chan error
	for handle := range ctx.dirtyResourceHandles {
		if ch := ctx.getResourceByHandle(handle).PreCommit(); ch != nil {
			pendingPreCommits = append(pendingPreCommits, ch)
		}
	}
	for _, ch := range pendingPreCommits {
		if localErr := <-ch; localErr != nil {
			err = localErr
		}
	}
	if err != nil {
		return
	}

	var pendingCommits []chan struct{}
	for handle := range ctx.dirtyResourceHandles {
		if ch := ctx.getResourceByHandle(handle).Commit(); ch != nil {
			pendingCommits = append(pendingCommits, ch)
		}
	}
	for _, ch := range pendingCommits {
		<-ch
	}

	for handle := range ctx.dirtyResourceHandles {
		delete(ctx.dirtyResourceHandles, handle)
	}
	return
}

func (ctx *ArchetypeContext) preRun() {
	for _, valParam := range ctx.archetype.RequiredValParams {
		if _, ok := ctx.resources[ArchetypeResourceHandle(valParam)]; !ok {
			panic(fmt.Errorf("archetype value param unconfigured: %s", valParam))
		}
	}
	for _, refParam := range ctx.archetype.RequiredRefParams {
		if _, ok := ctx.resources[ArchetypeResourceHandle("&"+refParam)]; !ok {
			panic(fmt.Errorf("archetype ref param unconfigured: %s", refParam))
		}
	}
	if ctx.archetype.PreAmble != nil {
		ctx.archetype.PreAmble(ctx.iface)
	}
}

func (ctx *ArchetypeContext) getCriticalSection(label string) CriticalSection {
	cs, ok := ctx.jumpTable[label]
	if !ok {
		panic(fmt.Errorf("no critical section registered for label %s", label))
	}
	return cs
}

// Run drives the archetype to completion: it repeatedly reads the .pc
// resource, executes the named critical section, and commits, looping until
// a critical section signals ErrDone (success), an unrecoverable error
// escapes (failure), or Stop is called (graceful external shutdown).
//
// Possible return values:
//   - nil: the archetype reached its Done label, or Stop was called
//   - any other error a resource produced and did not resolve via abort/retry
//
// A panic raised inside a critical section (a failing tla.Assert, a TLA+
// type error) is not recovered and propagates out of Run.
func (ctx *ArchetypeContext) Run() (err error) {
	ctx.requireRunnable()

	alreadyStopped := func() bool {
		ctx.runStateLock.Lock()
		defer ctx.runStateLock.Unlock()
		if ctx.requestExit != nil {
			panic(fmt.Errorf("context is already running; Run may not be called twice"))
		}
		if ctx.exitRequested {
			return true
		}
		ctx.requestExit = make(chan struct{}, 1)
		return false
	}()
	if alreadyStopped {
		return nil
	}

	defer func() {
		err = multierr.Append(err, ctx.cleanupResources())
		ctx.runStateLock.Lock()
		defer ctx.runStateLock.Unlock()
		close(ctx.awaitExit)
		ctx.requestExit = nil
	}()

	ctx.preRun()

	pc := ctx.iface.RequireArchetypeResource(".pc")
	for {
		switch err {
		case nil:
		case ErrCriticalSectionAborted:
			ctx.abort()
			//nolint:ineffassign
			err = nil
		case ErrDone:
			return nil
		default:
			return err
		}

		select {
		case <-ctx.requestExit:
			return nil
		default:
		}

		var pcVal tla.Value
		pcVal, err = ctx.iface.Read(pc, nil)
		if err != nil {
			continue
		}
		pcValStr := pcVal.AsString()

		ctx.fairnessCounter.BeginCriticalSection(pcValStr)
		cs := ctx.getCriticalSection(pcValStr)
		err = cs.Body(ctx.iface)
		if err != nil {
			continue
		}
		err = ctx.commit()
	}
}

// Stop requests that the running archetype exit at the next label boundary,
// and blocks until it has fully stopped and its resources are closed. If the
// archetype never started, Run will now return immediately without ever
// running a critical section.
func (ctx *ArchetypeContext) Stop() {
	ctx.requireRunnable()

	func() {
		ctx.runStateLock.Lock()
		defer ctx.runStateLock.Unlock()
		if ctx.requestExit != nil {
			if !ctx.exitRequested {
				ctx.requestExit <- struct{}{}
			}
		} else if !ctx.exitRequested {
			ctx.exitRequested = true
			select {
			case <-ctx.awaitExit:
			default:
				close(ctx.awaitExit)
			}
		}
	}()
	<-ctx.awaitExit
}

func (ctx *ArchetypeContext) cleanupResources() (err error) {
	for _, res := range ctx.resources {
		err = multierr.Append(err, res.Close())
	}
	return
}
