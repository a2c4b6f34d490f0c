// Package tla implements the TLA+ value algebra consumed and produced by
// compiled MPCal archetypes: immutable, structurally-equal, totally-ordered
// values with a canonical binary encoding.
package tla

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/segmentio/fasthash/fnv1a"
)

// encoder is implemented by every impl variant, backing the canonical
// binary encoding in encode.go.
type encoder interface {
	encode(w io.Writer) error
}

// ErrType is wrapped into the panic raised whenever an operation is applied
// to a Value of the wrong variant, or otherwise cannot produce a result under
// TLA+ semantics (division by zero, an out-of-domain function application, an
// out-of-range tuple index, and so on). Decode also returns it (wrapped) for
// an unrecognized wire tag.
var ErrType = errors.New("TLA+ type error")

func init() {
	gob.Register(&valueBool{})
	gob.Register(&valueNumber{})
	gob.Register(&valueString{})
	gob.Register(&valueSet{})
	gob.Register(&valueTuple{})
	gob.Register(&valueFunction{})
}

// Value is an immutable TLA+ value: one of Bool, Number, String, Set, Tuple,
// or Function (records and sequences are Functions/Tuples, respectively, by
// convention; see RecordField and the Record constructors below).
type Value struct {
	data impl
}

var _ fmt.Stringer = Value{}
var _ gob.GobDecoder = &Value{}
var _ gob.GobEncoder = &Value{}

func requireValid(cond bool, msg string) {
	if !cond {
		panic(fmt.Errorf("%w: %s", ErrType, msg))
	}
}

func (v Value) checkNil() {
	if v.data == nil {
		panic(fmt.Errorf("%w: value is uninitialized", ErrType))
	}
}

// Hash returns a hash suitable for use as an immutable.Map / Go map key,
// consistent with Equal (equal values hash equal).
func (v Value) Hash() uint32 {
	if v.data == nil {
		return 0
	}
	return v.data.Hash()
}

// Equal reports structural equality: same variant, same contents, recursively.
func (v Value) Equal(other Value) bool {
	if v.data == nil || other.data == nil {
		return v.data == nil && other.data == nil
	}
	return v.data.Equal(other)
}

func (v Value) String() string {
	if v.data == nil {
		return "defaultInitValue"
	}
	return v.data.String()
}

func (v *Value) GobDecode(input []byte) error {
	buf := bytes.NewBuffer(input)
	return gob.NewDecoder(buf).Decode(&v.data)
}

func (v Value) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(&v.data)
	return buf.Bytes(), err
}

func (v Value) IsBool() bool     { return v.data != nil && v.data.IsBool() }
func (v Value) IsNumber() bool   { return v.data != nil && v.data.IsNumber() }
func (v Value) IsString() bool   { return v.data != nil && v.data.IsString() }
func (v Value) IsSet() bool      { return v.data != nil && v.data.IsSet() }
func (v Value) IsTuple() bool    { return v.data != nil && v.data.IsTuple() }
func (v Value) IsFunction() bool { return v.data != nil && v.data.IsFunction() }

func (v Value) AsBool() bool {
	v.checkNil()
	return v.data.AsBool()
}

func (v Value) AsNumber() int32 {
	v.checkNil()
	return v.data.AsNumber()
}

func (v Value) AsString() string {
	v.checkNil()
	return v.data.AsString()
}

func (v Value) AsSet() *immutable.Map[Value, bool] {
	v.checkNil()
	return v.data.AsSet()
}

func (v Value) AsTuple() *immutable.List[Value] {
	v.checkNil()
	return v.data.AsTuple()
}

func (v Value) AsFunction() *immutable.Map[Value, Value] {
	v.checkNil()
	return v.data.AsFunction()
}

// variantRank orders the variants relative to each other, for Compare.
func (v Value) variantRank() int {
	switch {
	case v.IsBool():
		return 0
	case v.IsNumber():
		return 1
	case v.IsString():
		return 2
	case v.IsTuple():
		return 3
	case v.IsSet():
		return 4
	case v.IsFunction():
		return 5
	default:
		return -1
	}
}

// Compare implements a total order over all Values, used for set
// canonicalization and deterministic encoding/iteration. Values of different
// variants order by variantRank; within a variant, by the natural order for
// that variant (numeric for Number, lexicographic for String, and so on).
// Equal Values compare equal under Compare.
func (v Value) Compare(other Value) int {
	if v.data == nil || other.data == nil {
		switch {
		case v.data == nil && other.data == nil:
			return 0
		case v.data == nil:
			return -1
		default:
			return 1
		}
	}
	rv, ro := v.variantRank(), other.variantRank()
	if rv != ro {
		return rv - ro
	}
	switch {
	case v.IsBool():
		a, b := v.AsBool(), other.AsBool()
		if a == b {
			return 0
		} else if !a {
			return -1
		}
		return 1
	case v.IsNumber():
		a, b := v.AsNumber(), other.AsNumber()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	case v.IsString():
		return strings.Compare(v.AsString(), other.AsString())
	case v.IsTuple():
		a, b := v.AsTuple(), other.AsTuple()
		ai, bi := a.Iterator(), b.Iterator()
		for !ai.Done() && !bi.Done() {
			_, av := ai.Next()
			_, bv := bi.Next()
			if c := av.Compare(bv); c != 0 {
				return c
			}
		}
		return a.Len() - b.Len()
	case v.IsSet():
		a := sortedMembers(v.AsSet())
		b := sortedMembers(other.AsSet())
		for i := 0; i < len(a) && i < len(b); i++ {
			if c := a[i].Compare(b[i]); c != 0 {
				return c
			}
		}
		return len(a) - len(b)
	case v.IsFunction():
		a := sortedFields(v.AsFunction())
		b := sortedFields(other.AsFunction())
		for i := 0; i < len(a) && i < len(b); i++ {
			if c := a[i].Key.Compare(b[i].Key); c != 0 {
				return c
			}
			if c := a[i].Value.Compare(b[i].Value); c != 0 {
				return c
			}
		}
		return len(a) - len(b)
	default:
		return 0
	}
}

// sortedMembers returns a Set's elements in Compare order, used by set
// String/Compare/encoding to produce deterministic output.
func sortedMembers(m *immutable.Map[Value, bool]) []Value {
	out := make([]Value, 0, m.Len())
	it := m.Iterator()
	for !it.Done() {
		k, _, _ := it.Next()
		out = append(out, k)
	}
	sortValues(out)
	return out
}

func sortedFields(m *immutable.Map[Value, Value]) []RecordField {
	out := make([]RecordField, 0, m.Len())
	it := m.Iterator()
	for !it.Done() {
		k, val, _ := it.Next()
		out = append(out, RecordField{Key: k, Value: val})
	}
	sortFields(out)
	return out
}

func sortValues(vs []Value) {
	// insertion sort: these collections are small enough in practice
	// (archetype-local state, not bulk data) that O(n^2) is not a concern,
	// and it keeps this file free of a sort.Interface boilerplate type.
	for i := 1; i < len(vs); i++ {
		for j := i; j > 0 && vs[j-1].Compare(vs[j]) > 0; j-- {
			vs[j-1], vs[j] = vs[j], vs[j-1]
		}
	}
}

func sortFields(fs []RecordField) {
	for i := 1; i < len(fs); i++ {
		for j := i; j > 0 && fs[j-1].Key.Compare(fs[j].Key) > 0; j-- {
			fs[j-1], fs[j] = fs[j], fs[j-1]
		}
	}
}

// SelectElement returns the idx-th element (0-based) of a Set, in Compare
// order. Used by generated code implementing quantifier/CHOOSE-adjacent
// deterministic enumeration.
func (v Value) SelectElement(idx uint) Value {
	members := sortedMembers(v.AsSet())
	if idx >= uint(len(members)) {
		panic(fmt.Errorf("%w: tried to select element %d of %v, which does not exist", ErrType, idx, v))
	}
	return members[idx]
}

// ApplyFunction implements both tuple indexing (1-based) and function
// application.
func (v Value) ApplyFunction(argument Value) Value {
	switch {
	case v.IsTuple():
		data := v.AsTuple()
		idx := int(argument.AsNumber())
		requireValid(idx >= 1 && idx <= data.Len(),
			fmt.Sprintf("tuple indices must be in range; tuples are 1-indexed; idx=%v, len=%v", idx, data.Len()))
		return data.Get(idx - 1)
	case v.IsFunction():
		data := v.AsFunction()
		value, ok := data.Get(argument)
		if !ok {
			panic(fmt.Errorf("%w: function %v's domain does not contain index %v", ErrType, v, argument))
		}
		return value
	default:
		panic(fmt.Errorf("%w: could not apply %v as a function", ErrType, v))
	}
}

// ValueHasher adapts Value's Hash/Equal to immutable.Hasher, so Values can
// key an immutable.Map/List directly.
type ValueHasher struct{}

var _ immutable.Hasher[Value] = ValueHasher{}

func (ValueHasher) Hash(key Value) uint32 { return key.Hash() }
func (ValueHasher) Equal(a, b Value) bool { return a.Equal(b) }

type impl interface {
	encoder

	Hash() uint32
	Equal(other Value) bool
	String() string

	IsBool() bool
	IsNumber() bool
	IsString() bool
	IsSet() bool
	IsTuple() bool
	IsFunction() bool

	AsBool() bool
	AsNumber() int32
	AsString() string
	AsSet() *immutable.Map[Value, bool]
	AsTuple() *immutable.List[Value]
	AsFunction() *immutable.Map[Value, Value]
}

type implStubs struct{}

func (implStubs) IsBool() bool     { return false }
func (implStubs) IsNumber() bool   { return false }
func (implStubs) IsString() bool   { return false }
func (implStubs) IsSet() bool      { return false }
func (implStubs) IsTuple() bool    { return false }
func (implStubs) IsFunction() bool { return false }

func (implStubs) AsBool() bool     { panic(fmt.Errorf("%w: is not a boolean", ErrType)) }
func (implStubs) AsNumber() int32  { panic(fmt.Errorf("%w: is not a number", ErrType)) }
func (implStubs) AsString() string { panic(fmt.Errorf("%w: is not a string", ErrType)) }
func (implStubs) AsSet() *immutable.Map[Value, bool] {
	panic(fmt.Errorf("%w: is not a set", ErrType))
}
func (implStubs) AsTuple() *immutable.List[Value] {
	panic(fmt.Errorf("%w: is not a tuple", ErrType))
}
func (implStubs) AsFunction() *immutable.Map[Value, Value] {
	panic(fmt.Errorf("%w: is not a function", ErrType))
}

type valueBool struct {
	implStubs
	V bool // exported for gob
}

var _ impl = &valueBool{}

var (
	trueValue  = Value{&valueBool{V: true}}
	falseValue = Value{&valueBool{V: false}}
)

// True and False are the two boolean Values, exported for convenient
// comparison and as defaults in generated code.
var (
	True  = trueValue
	False = falseValue
)

// Bool constructs a boolean Value.
func Bool(v bool) Value {
	if v {
		return trueValue
	}
	return falseValue
}

func (v *valueBool) Hash() uint32 {
	if v.V {
		return fnv1a.HashUint32(1)
	}
	return fnv1a.HashUint32(0)
}
func (v *valueBool) Equal(other Value) bool { return other.IsBool() && v.V == other.AsBool() }
func (v *valueBool) String() string {
	if v.V {
		return "TRUE"
	}
	return "FALSE"
}
func (v *valueBool) IsBool() bool { return true }
func (v *valueBool) AsBool() bool { return v.V }

type valueNumber struct {
	implStubs
	V int32
}

var _ impl = &valueNumber{}

// Number constructs an integer Value.
func Number(num int32) Value { return Value{&valueNumber{V: num}} }

func (v *valueNumber) Hash() uint32 { return fnv1a.HashUint32(uint32(v.V)) }
func (v *valueNumber) Equal(other Value) bool {
	return other.IsNumber() && v.V == other.AsNumber()
}
func (v *valueNumber) String() string  { return strconv.FormatInt(int64(v.V), 10) }
func (v *valueNumber) IsNumber() bool  { return true }
func (v *valueNumber) AsNumber() int32 { return v.V }

type valueString struct {
	implStubs
	V string
}

var _ impl = &valueString{}

// Str constructs a string Value.
func Str(value string) Value { return Value{&valueString{V: value}} }

func (v *valueString) Hash() uint32 { return fnv1a.HashString32(v.V) }
func (v *valueString) Equal(other Value) bool {
	return other.IsString() && v.V == other.AsString()
}
func (v *valueString) String() string   { return strconv.Quote(v.V) }
func (v *valueString) IsString() bool   { return true }
func (v *valueString) AsString() string { return v.V }

type valueSet struct {
	implStubs
	v *immutable.Map[Value, bool]
}

var _ impl = &valueSet{}

// Set constructs a Set Value from the given members, deduplicated by
// structural equality.
func Set(members ...Value) Value {
	builder := immutable.NewMapBuilder[Value, bool](ValueHasher{})
	for _, m := range members {
		builder.Set(m, true)
	}
	return Value{&valueSet{v: builder.Map()}}
}

// SetFromMap wraps an already-built immutable.Map as a Set Value.
func SetFromMap(m *immutable.Map[Value, bool]) Value {
	return Value{&valueSet{v: m}}
}

func (v *valueSet) Hash() uint32 {
	var hash uint32
	it := v.v.Iterator()
	for !it.Done() {
		key, _, _ := it.Next()
		hash ^= key.Hash()
	}
	return fnv1a.HashUint32(hash)
}

func (v *valueSet) Equal(other Value) bool {
	if !other.IsSet() {
		return false
	}
	oC := other.AsSet()
	if v.v.Len() != oC.Len() {
		return false
	}
	it := v.v.Iterator()
	for !it.Done() {
		k, _, _ := it.Next()
		if _, ok := oC.Get(k); !ok {
			return false
		}
	}
	return true
}

func (v *valueSet) String() string {
	var b strings.Builder
	b.WriteString("{")
	for i, elem := range sortedMembers(v.v) {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(elem.String())
	}
	b.WriteString("}")
	return b.String()
}

func (v *valueSet) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	for _, elem := range sortedMembers(v.v) {
		elem := elem
		if err := enc.Encode(&elem); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (v *valueSet) GobDecode(input []byte) error {
	dec := gob.NewDecoder(bytes.NewBuffer(input))
	builder := immutable.NewMapBuilder[Value, bool](ValueHasher{})
	for {
		var elem Value
		if err := dec.Decode(&elem); err != nil {
			if errors.Is(err, io.EOF) {
				v.v = builder.Map()
				return nil
			}
			return err
		}
		builder.Set(elem, true)
	}
}

func (v *valueSet) IsSet() bool                        { return true }
func (v *valueSet) AsSet() *immutable.Map[Value, bool] { return v.v }

type valueTuple struct {
	implStubs
	v *immutable.List[Value]
}

var _ impl = &valueTuple{}

// Tuple constructs an ordered-sequence Value.
func Tuple(members ...Value) Value {
	builder := immutable.NewListBuilder[Value]()
	for _, m := range members {
		builder.Append(m)
	}
	return Value{&valueTuple{v: builder.List()}}
}

// TupleFromList wraps an already-built immutable.List as a Tuple Value.
func TupleFromList(list *immutable.List[Value]) Value {
	return Value{&valueTuple{v: list}}
}

func (v *valueTuple) Hash() uint32 {
	h := fnv1a.Init32
	it := v.v.Iterator()
	for !it.Done() {
		_, m := it.Next()
		h = fnv1a.AddUint32(h, m.Hash())
	}
	return h
}

func (v *valueTuple) Equal(other Value) bool {
	if !other.IsTuple() {
		return false
	}
	o := other.AsTuple()
	if v.v.Len() != o.Len() {
		return false
	}
	ai, bi := v.v.Iterator(), o.Iterator()
	for !ai.Done() && !bi.Done() {
		_, a := ai.Next()
		_, b := bi.Next()
		if !a.Equal(b) {
			return false
		}
	}
	return true
}

func (v *valueTuple) String() string {
	var b strings.Builder
	b.WriteString("<<")
	it := v.v.Iterator()
	first := true
	for !it.Done() {
		if !first {
			b.WriteString(", ")
		}
		first = false
		_, elem := it.Next()
		b.WriteString(elem.String())
	}
	b.WriteString(">>")
	return b.String()
}

func (v *valueTuple) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	it := v.v.Iterator()
	for !it.Done() {
		_, elem := it.Next()
		if err := enc.Encode(&elem); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (v *valueTuple) GobDecode(input []byte) error {
	dec := gob.NewDecoder(bytes.NewBuffer(input))
	builder := immutable.NewListBuilder[Value]()
	for {
		var elem Value
		if err := dec.Decode(&elem); err != nil {
			if errors.Is(err, io.EOF) {
				v.v = builder.List()
				return nil
			}
			return err
		}
		builder.Append(elem)
	}
}

func (v *valueTuple) IsTuple() bool                   { return true }
func (v *valueTuple) AsTuple() *immutable.List[Value] { return v.v }

type valueFunction struct {
	implStubs
	v *immutable.Map[Value, Value]
}

// RecordField is a key/value pair used to build Functions and Records.
type RecordField struct {
	Key, Value Value
}

func (field RecordField) Hash() uint32 {
	h := fnv1a.Init32
	h = fnv1a.AddUint32(h, field.Key.Hash())
	h = fnv1a.AddUint32(h, field.Value.Hash())
	return h
}

var _ impl = &valueFunction{}

// Function constructs the function with the given domain (the cross product
// of setVals) and the given pointwise body.
func Function(setVals []Value, body func([]Value) Value) Value {
	requireValid(len(setVals) > 0, "the domain of a function cannot be the product of zero sets")
	builder := immutable.NewMapBuilder[Value, Value](ValueHasher{})

	sets := make([]*immutable.Map[Value, bool], len(setVals))
	for i, val := range setVals {
		sets[i] = val.AsSet()
	}
	bodyArgs := make([]Value, len(sets))

	var helper func(idx int)
	helper = func(idx int) {
		if idx == len(bodyArgs) {
			if len(bodyArgs) == 1 {
				builder.Set(bodyArgs[0], body(bodyArgs))
			} else {
				builder.Set(Tuple(bodyArgs...), body(bodyArgs))
			}
			return
		}
		it := sets[idx].Iterator()
		for !it.Done() {
			elem, _, _ := it.Next()
			bodyArgs[idx] = elem
			helper(idx + 1)
		}
	}
	helper(0)
	return Value{&valueFunction{v: builder.Map()}}
}

// Record constructs a record (a Function over string-valued keys).
func Record(fields []RecordField) Value {
	builder := immutable.NewMapBuilder[Value, Value](ValueHasher{})
	for _, f := range fields {
		builder.Set(f.Key, f.Value)
	}
	return Value{&valueFunction{v: builder.Map()}}
}

// RecordFromMap wraps an already-built immutable.Map as a Function Value.
func RecordFromMap(m *immutable.Map[Value, Value]) Value {
	return Value{&valueFunction{v: m}}
}

// RecordSet builds the set of all records having, for each field, a value
// drawn from that field's given set.
func RecordSet(fields []RecordField) Value {
	recordSet := immutable.NewMap[Value, bool](ValueHasher{})
	recordSet = recordSet.Set(Value{&valueFunction{v: immutable.NewMap[Value, Value](ValueHasher{})}}, true)
	for _, field := range fields {
		valueSetForField := field.Value.AsSet()
		builder := immutable.NewMapBuilder[Value, bool](ValueHasher{})
		it := recordSet.Iterator()
		for !it.Done() {
			acc, _, _ := it.Next()
			accFn := acc.AsFunction()
			valIt := valueSetForField.Iterator()
			for !valIt.Done() {
				val, _, _ := valIt.Next()
				builder.Set(Value{&valueFunction{v: accFn.Set(field.Key, val)}}, true)
			}
		}
		recordSet = builder.Map()
	}
	return Value{&valueSet{v: recordSet}}
}

// FunctionSet builds the set of all functions from `from` to `to`.
func FunctionSet(from, to Value) Value {
	fromSet := from.AsSet()
	var fields []RecordField
	it := fromSet.Iterator()
	for !it.Done() {
		key, _, _ := it.Next()
		fields = append(fields, RecordField{Key: key, Value: to})
	}
	return RecordSet(fields)
}

func (v *valueFunction) Hash() uint32 {
	var hash uint32
	it := v.v.Iterator()
	for !it.Done() {
		key, value, _ := it.Next()
		hash ^= RecordField{Key: key, Value: value}.Hash()
	}
	return fnv1a.HashUint32(hash)
}

func (v *valueFunction) Equal(other Value) bool {
	if !other.IsFunction() {
		return false
	}
	o := other.AsFunction()
	if v.v.Len() != o.Len() {
		return false
	}
	it := v.v.Iterator()
	for !it.Done() {
		key, value, _ := it.Next()
		ov, ok := o.Get(key)
		if !ok || !value.Equal(ov) {
			return false
		}
	}
	return true
}

func (v *valueFunction) String() string {
	if v.v.Len() == 0 {
		return "[x \\in {} |-> x]"
	}
	var b strings.Builder
	b.WriteString("(")
	for i, field := range sortedFields(v.v) {
		if i > 0 {
			b.WriteString(" @@ ")
		}
		b.WriteString("(")
		b.WriteString(field.Key.String())
		b.WriteString(") :> (")
		b.WriteString(field.Value.String())
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

func (v *valueFunction) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	for _, field := range sortedFields(v.v) {
		field := field
		if err := enc.Encode(&field); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (v *valueFunction) GobDecode(input []byte) error {
	dec := gob.NewDecoder(bytes.NewBuffer(input))
	builder := immutable.NewMapBuilder[Value, Value](ValueHasher{})
	for {
		var field RecordField
		if err := dec.Decode(&field); err != nil {
			if errors.Is(err, io.EOF) {
				v.v = builder.Map()
				return nil
			}
			return err
		}
		builder.Set(field.Key, field.Value)
	}
}

func (v *valueFunction) IsFunction() bool                         { return true }
func (v *valueFunction) AsFunction() *immutable.Map[Value, Value] { return v.v }
