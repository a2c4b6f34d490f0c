package tla

import (
	"fmt"
	"math"

	"github.com/benbjohnson/immutable"
)

// This file implements the built-in TLA+ operators (arithmetic, set algebra,
// sequence operators, and quantifiers) as plain Go functions over Value.

// Plus implements TLA+ `+`.
func Plus(lhs, rhs Value) Value { return Number(lhs.AsNumber() + rhs.AsNumber()) }

// Minus implements TLA+ `-`.
func Minus(lhs, rhs Value) Value { return Number(lhs.AsNumber() - rhs.AsNumber()) }

// Times implements TLA+ `*`.
func Times(lhs, rhs Value) Value { return Number(lhs.AsNumber() * rhs.AsNumber()) }

// Negate implements unary `-`.
func Negate(v Value) Value { return Number(-v.AsNumber()) }

// FloorDiv implements TLA+ `\div`.
func FloorDiv(lhs, rhs Value) Value {
	r := rhs.AsNumber()
	requireValid(r != 0, "division by zero")
	l := lhs.AsNumber()
	q := l / r
	if (l%r != 0) && ((l < 0) != (r < 0)) {
		q--
	}
	return Number(q)
}

// Mod implements TLA+ `%`.
func Mod(lhs, rhs Value) Value {
	r := rhs.AsNumber()
	requireValid(r != 0, "modulo by zero")
	l := lhs.AsNumber()
	m := l % r
	if m != 0 && ((m < 0) != (r < 0)) {
		m += r
	}
	return Number(m)
}

// Power implements TLA+ `^`.
func Power(lhs, rhs Value) Value {
	base, exp := lhs.AsNumber(), rhs.AsNumber()
	requireValid(exp >= 0, "negative exponent")
	rawResult := math.Pow(float64(base), float64(exp))
	// Go silently wraps an out-of-range int32 conversion; report it as an
	// overflow instead, the way TLC does.
	requireValid(rawResult <= math.MaxInt32 && rawResult >= math.MinInt32, "integer exponentiation must remain within int32 range")
	return Number(int32(rawResult))
}

// Lt implements TLA+ `<`.
func Lt(lhs, rhs Value) Value { return Bool(lhs.AsNumber() < rhs.AsNumber()) }

// Leq implements TLA+ `<=`/`=<`.
func Leq(lhs, rhs Value) Value { return Bool(lhs.AsNumber() <= rhs.AsNumber()) }

// Gt implements TLA+ `>`.
func Gt(lhs, rhs Value) Value { return Bool(lhs.AsNumber() > rhs.AsNumber()) }

// Geq implements TLA+ `>=`.
func Geq(lhs, rhs Value) Value { return Bool(lhs.AsNumber() >= rhs.AsNumber()) }

// Eq implements TLA+ `=`.
func Eq(lhs, rhs Value) Value { return Bool(lhs.Equal(rhs)) }

// NotEq implements TLA+ `/=` (`#`).
func NotEq(lhs, rhs Value) Value { return Bool(!lhs.Equal(rhs)) }

// Not implements TLA+ `~`.
func Not(v Value) Value { return Bool(!v.AsBool()) }

// Equiv implements TLA+ `<=>`.
func Equiv(lhs, rhs Value) Value { return Bool(lhs.AsBool() == rhs.AsBool()) }

// In implements TLA+ `\in`.
func In(lhs, rhs Value) Value {
	_, ok := rhs.AsSet().Get(lhs)
	return Bool(ok)
}

// NotIn implements TLA+ `\notin`.
func NotIn(lhs, rhs Value) Value {
	_, ok := rhs.AsSet().Get(lhs)
	return Bool(!ok)
}

// Union implements TLA+ `\cup`/`\union`.
func Union(lhs, rhs Value) Value {
	result := lhs.AsSet()
	it := rhs.AsSet().Iterator()
	for !it.Done() {
		elem, _, _ := it.Next()
		result = result.Set(elem, true)
	}
	return SetFromMap(result)
}

// Intersect implements TLA+ `\cap`/`\intersect`.
func Intersect(lhs, rhs Value) Value {
	l, r := lhs.AsSet(), rhs.AsSet()
	builder := immutable.NewMapBuilder[Value, bool](ValueHasher{})
	it := l.Iterator()
	for !it.Done() {
		elem, _, _ := it.Next()
		if _, ok := r.Get(elem); ok {
			builder.Set(elem, true)
		}
	}
	return SetFromMap(builder.Map())
}

// Difference implements TLA+ `\`.
func Difference(lhs, rhs Value) Value {
	l, r := lhs.AsSet(), rhs.AsSet()
	builder := immutable.NewMapBuilder[Value, bool](ValueHasher{})
	it := l.Iterator()
	for !it.Done() {
		elem, _, _ := it.Next()
		if _, ok := r.Get(elem); !ok {
			builder.Set(elem, true)
		}
	}
	return SetFromMap(builder.Map())
}

// IsSubsetEq implements TLA+ `\subseteq`.
func IsSubsetEq(lhs, rhs Value) Value {
	l, r := lhs.AsSet(), rhs.AsSet()
	it := l.Iterator()
	for !it.Done() {
		elem, _, _ := it.Next()
		if _, ok := r.Get(elem); !ok {
			return Bool(false)
		}
	}
	return Bool(true)
}

// PowerSet implements TLA+ `SUBSET`.
func PowerSet(setVal Value) Value {
	members := sortedMembers(setVal.AsSet())
	builder := immutable.NewMapBuilder[Value, bool](ValueHasher{})
	builder.Set(Set(), true)
	for _, elem := range members {
		it := builder.Map().Iterator()
		var toAdd []Value
		for !it.Done() {
			acc, _, _ := it.Next()
			toAdd = append(toAdd, Union(acc, Set(elem)))
		}
		for _, v := range toAdd {
			builder.Set(v, true)
		}
	}
	return SetFromMap(builder.Map())
}

// FlattenUnion implements TLA+ `UNION` (union of a set of sets).
func FlattenUnion(setOfSets Value) Value {
	result := immutable.NewMap[Value, bool](ValueHasher{})
	it := setOfSets.AsSet().Iterator()
	for !it.Done() {
		inner, _, _ := it.Next()
		innerIt := inner.AsSet().Iterator()
		for !innerIt.Done() {
			elem, _, _ := innerIt.Next()
			result = result.Set(elem, true)
		}
	}
	return SetFromMap(result)
}

// Cardinality implements TLA+ `Cardinality`.
func Cardinality(setVal Value) Value { return Number(int32(setVal.AsSet().Len())) }

// IsFiniteSet implements TLA+ `IsFiniteSet`. All Set values in this runtime
// are finite by construction, so this always holds.
func IsFiniteSet(Value) Value { return Bool(true) }

// Len implements TLA+ `Len`.
func Len(tuple Value) Value { return Number(int32(tuple.AsTuple().Len())) }

// Head implements TLA+ `Head`.
func Head(tuple Value) Value {
	t := tuple.AsTuple()
	requireValid(t.Len() > 0, "Head of empty sequence")
	return t.Get(0)
}

// Tail implements TLA+ `Tail`.
func Tail(tuple Value) Value {
	t := tuple.AsTuple()
	requireValid(t.Len() > 0, "Tail of empty sequence")
	builder := immutable.NewListBuilder[Value]()
	for i := 1; i < t.Len(); i++ {
		builder.Append(t.Get(i))
	}
	return TupleFromList(builder.List())
}

// Append implements TLA+ `Append`.
func Append(tuple, elem Value) Value {
	t := tuple.AsTuple()
	builder := immutable.NewListBuilder[Value]()
	it := t.Iterator()
	for !it.Done() {
		_, v := it.Next()
		builder.Append(v)
	}
	builder.Append(elem)
	return TupleFromList(builder.List())
}

// Concat implements TLA+ `\o` (sequence concatenation).
func Concat(lhs, rhs Value) Value {
	builder := immutable.NewListBuilder[Value]()
	li := lhs.AsTuple().Iterator()
	for !li.Done() {
		_, v := li.Next()
		builder.Append(v)
	}
	ri := rhs.AsTuple().Iterator()
	for !ri.Done() {
		_, v := ri.Next()
		builder.Append(v)
	}
	return TupleFromList(builder.List())
}

// SubSeq implements TLA+ `SubSeq(s, m, n)`, both bounds inclusive and 1-indexed.
func SubSeq(tuple, m, n Value) Value {
	t := tuple.AsTuple()
	lo, hi := int(m.AsNumber()), int(n.AsNumber())
	builder := immutable.NewListBuilder[Value]()
	for i := lo; i <= hi; i++ {
		requireValid(i >= 1 && i <= t.Len(), "SubSeq index out of range")
		builder.Append(t.Get(i - 1))
	}
	return TupleFromList(builder.List())
}

// SelectSeq implements TLA+ `SelectSeq`.
func SelectSeq(tuple Value, test func(Value) bool) Value {
	t := tuple.AsTuple()
	builder := immutable.NewListBuilder[Value]()
	it := t.Iterator()
	for !it.Done() {
		_, v := it.Next()
		if test(v) {
			builder.Append(v)
		}
	}
	return TupleFromList(builder.List())
}

// Domain implements TLA+ `DOMAIN`, over both Function and Tuple values (a
// Tuple's domain is 1..Len(tuple)).
func Domain(v Value) Value {
	switch {
	case v.IsFunction():
		builder := immutable.NewMapBuilder[Value, bool](ValueHasher{})
		it := v.AsFunction().Iterator()
		for !it.Done() {
			k, _, _ := it.Next()
			builder.Set(k, true)
		}
		return SetFromMap(builder.Map())
	case v.IsTuple():
		builder := immutable.NewMapBuilder[Value, bool](ValueHasher{})
		n := v.AsTuple().Len()
		for i := 1; i <= n; i++ {
			builder.Set(Number(int32(i)), true)
		}
		return SetFromMap(builder.Map())
	default:
		panic(fmt.Errorf("%w: DOMAIN is only defined for functions and tuples, got %v", ErrType, v))
	}
}

// Merge implements TLA+ `@@`, the disjoint-ish function merge operator: keys
// present in lhs win over rhs.
func Merge(lhs, rhs Value) Value {
	result := rhs.AsFunction()
	it := lhs.AsFunction().Iterator()
	for !it.Done() {
		k, v, _ := it.Next()
		result = result.Set(k, v)
	}
	return RecordFromMap(result)
}

// SingletonFunction implements TLA+ `:>`, the single-mapping function
// constructor typically used with `@@` to build up a record/function.
func SingletonFunction(key, value Value) Value {
	return Record([]RecordField{{Key: key, Value: value}})
}

// DotDot implements TLA+ `..`, the inclusive integer range.
func DotDot(lo, hi Value) Value {
	l, h := lo.AsNumber(), hi.AsNumber()
	builder := immutable.NewMapBuilder[Value, bool](ValueHasher{})
	for i := l; i <= h; i++ {
		builder.Set(Number(i), true)
	}
	return SetFromMap(builder.Map())
}

// ToString implements TLA+ `ToString`.
func ToString(v Value) Value { return Str(v.String()) }

// Assert implements TLA+ `Assert`, panicking with the given message Value
// if cond does not hold.
func Assert(cond Value, message Value) Value {
	if !cond.AsBool() {
		panic(fmt.Errorf("%w: %s", ErrAssertionFailed, message.AsString()))
	}
	return Bool(true)
}

// ErrAssertionFailed is the error wrapped by a failing Assert call.
var ErrAssertionFailed = fmt.Errorf("assertion failed")

// QuantifiedUniversal implements TLA+ `\A x \in S, y \in T : P(x, y)`.
func QuantifiedUniversal(setVals []Value, pred func([]Value) bool) Value {
	var sets []*immutable.Map[Value, bool]
	for _, val := range setVals {
		sets = append(sets, val.AsSet())
	}

	predArgs := make([]Value, len(sets))

	var helper func(idx int) bool
	helper = func(idx int) bool {
		if idx == len(sets) {
			return pred(predArgs)
		}

		it := sets[idx].Iterator()
		for !it.Done() {
			elem, _, _ := it.Next()
			predArgs[idx] = elem
			if !helper(idx + 1) {
				return false
			}
		}
		return true
	}

	return Bool(helper(0))
}

// QuantifiedExistential implements TLA+ `\E x \in S, y \in T : P(x, y)`.
func QuantifiedExistential(setVals []Value, pred func([]Value) bool) Value {
	var sets []*immutable.Map[Value, bool]
	for _, val := range setVals {
		sets = append(sets, val.AsSet())
	}

	predArgs := make([]Value, len(sets))

	var helper func(idx int) bool
	helper = func(idx int) bool {
		if idx == len(sets) {
			return pred(predArgs)
		}

		it := sets[idx].Iterator()
		for !it.Done() {
			elem, _, _ := it.Next()
			predArgs[idx] = elem
			if helper(idx + 1) {
				return true
			}
		}
		return false
	}

	return Bool(helper(0))
}

// SetRefinement implements TLA+ `{x \in S : P(x)}`.
func SetRefinement(setVal Value, pred func(Value) bool) Value {
	set := setVal.AsSet()
	builder := immutable.NewMapBuilder[Value, bool](ValueHasher{})
	it := set.Iterator()
	for !it.Done() {
		elem, _, _ := it.Next()
		if pred(elem) {
			builder.Set(elem, true)
		}
	}
	return SetFromMap(builder.Map())
}

// SetComprehension implements TLA+ `{e(x, y) : x \in S, y \in T}`.
func SetComprehension(setVals []Value, body func([]Value) Value) Value {
	var sets []*immutable.Map[Value, bool]
	for _, val := range setVals {
		sets = append(sets, val.AsSet())
	}

	builder := immutable.NewMapBuilder[Value, bool](ValueHasher{})
	bodyArgs := make([]Value, len(sets))

	var helper func(idx int)
	helper = func(idx int) {
		if idx == len(sets) {
			builder.Set(body(bodyArgs), true)
		} else {
			it := sets[idx].Iterator()
			for !it.Done() {
				elem, _, _ := it.Next()
				bodyArgs[idx] = elem
				helper(idx + 1)
			}
		}
	}

	helper(0)
	return SetFromMap(builder.Map())
}

// CrossProduct implements TLA+ `S \X T \X ...`.
func CrossProduct(vs ...Value) Value {
	var sets []*immutable.Map[Value, bool]
	for _, v := range vs {
		sets = append(sets, v.AsSet())
	}

	builder := immutable.NewMapBuilder[Value, bool](ValueHasher{})

	var helper func(tuple *immutable.List[Value], idx int)
	helper = func(tuple *immutable.List[Value], idx int) {
		if idx < len(sets) {
			set := sets[idx]
			it := set.Iterator()
			for !it.Done() {
				elem, _, _ := it.Next()
				helper(tuple.Append(elem), idx+1)
			}
		} else {
			builder.Set(TupleFromList(tuple), true)
		}
	}

	helper(immutable.NewList[Value](), 0)

	return SetFromMap(builder.Map())
}

// FunctionSubstitutionRecord describes one `![k1][k2]... = f(@)` clause of a
// TLA+ EXCEPT expression.
type FunctionSubstitutionRecord struct {
	Keys  []Value
	Value func(anchor Value) Value
}

// FunctionSubstitution implements TLA+ `[f EXCEPT ![k1] = v1, ![k2] = v2, ...]`.
func FunctionSubstitution(source Value, substitutions []FunctionSubstitutionRecord) Value {
	var keysHelper func(source Value, keys []Value, value func(anchor Value) Value) Value
	keysHelper = func(source Value, keys []Value, value func(anchor Value) Value) Value {
		if len(keys) == 0 {
			return value(source)
		}
		if source.IsFunction() {
			sourceFn := source.AsFunction()
			val, keyOk := sourceFn.Get(keys[0])
			requireValid(keyOk, "invalid key during function substitution")
			sourceFn = sourceFn.Set(keys[0], keysHelper(val, keys[1:], value))
			return RecordFromMap(sourceFn)
		}
		if source.IsTuple() {
			sourceTuple := source.AsTuple()
			idx := int(keys[0].AsNumber())
			requireValid(idx >= 1 && idx <= sourceTuple.Len(), "invalid key during function substitution")
			val := sourceTuple.Get(idx - 1)
			sourceTuple = sourceTuple.Set(idx-1, keysHelper(val, keys[1:], value))
			return TupleFromList(sourceTuple)
		}
		panic(fmt.Errorf("%w: during function substitution, %v was neither a function nor a tuple", ErrType, source))
	}
	for _, substitution := range substitutions {
		source = keysHelper(source, substitution.Keys, substitution.Value)
	}
	return source
}

// Choose implements TLA+ `CHOOSE x \in S : P(x)`.
func Choose(setVal Value, pred func(value Value) bool) Value {
	set := setVal.AsSet()
	it := set.Iterator()
	for !it.Done() {
		elem, _, _ := it.Next()
		if pred(elem) {
			return elem
		}
	}

	requireValid(false, "CHOOSE could not be satisfied; entire set of candidates exhausted")
	panic("UNREACHABLE")
}
