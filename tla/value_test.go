package tla

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueModel(t *testing.T) {
	type testCase struct {
		Name           string
		Operation      func() Value
		ExpectedResult string
	}

	tests := []testCase{
		{
			Name: "DotDot(1, 0)",
			Operation: func() Value {
				return DotDot(Number(1), Number(0))
			},
			ExpectedResult: "{}",
		},
		{
			Name: "\\E foo \\in {} : TRUE",
			Operation: func() Value {
				return QuantifiedExistential([]Value{Set()}, func([]Value) bool {
					return true
				})
			},
			ExpectedResult: "FALSE",
		},
		{
			Name: "[x \\in {} |-> x]",
			Operation: func() Value {
				return Record(nil)
			},
			ExpectedResult: "[x \\in {} |-> x]",
		},
		{
			Name: "1 .. 4",
			Operation: func() Value {
				return DotDot(Number(1), Number(4))
			},
			ExpectedResult: "{1, 2, 3, 4}",
		},
		{
			Name: "function over empty set short-circuit",
			Operation: func() Value {
				return Function([]Value{Set(Number(12)), Set()}, func([]Value) Value {
					panic("should not be called")
				})
			},
			ExpectedResult: "[x \\in {} |-> x]",
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			actualValue := test.Operation()
			actualStr := actualValue.String()
			if actualStr != test.ExpectedResult {
				t.Errorf("result %s did not equal expected value %s", actualStr, test.ExpectedResult)
			}
		})
	}
}

func TestCompareTotalOrder(t *testing.T) {
	values := []Value{
		Bool(false),
		Bool(true),
		Number(-5),
		Number(0),
		Number(5),
		Str("a"),
		Str("b"),
		Tuple(Number(1), Number(2)),
		Set(Number(1), Number(2)),
		Record([]RecordField{{Key: Str("x"), Value: Number(1)}}),
	}
	for i := range values {
		for j := range values {
			c := values[i].Compare(values[j])
			switch {
			case i == j:
				require.Zero(t, c, "%v should compare equal to itself", values[i])
			case i < j:
				require.Negative(t, c, "%v should sort before %v", values[i], values[j])
			default:
				require.Positive(t, c, "%v should sort after %v", values[i], values[j])
			}
		}
	}
}

func TestCompareSetOrderIndependence(t *testing.T) {
	a := Set(Number(3), Number(1), Number(2))
	b := Set(Number(1), Number(2), Number(3))
	require.Zero(t, a.Compare(b))
	require.True(t, a.Equal(b))
	require.Equal(t, a.String(), b.String())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	values := []Value{
		Bool(true),
		Bool(false),
		Number(42),
		Number(-7),
		Str("hello world"),
		Tuple(Number(1), Str("two"), Bool(true)),
		Set(Number(3), Number(1), Number(2)),
		Record([]RecordField{
			{Key: Str("name"), Value: Str("proxy0")},
			{Key: Str("load"), Value: Number(3)},
		}),
	}

	for _, v := range values {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, v))
		decoded, err := Decode(&buf)
		require.NoError(t, err)
		require.True(t, v.Equal(decoded), "round-tripped value %v should equal original %v", decoded, v)
	}
}

func TestEncodeCanonicalAcrossConstructionOrder(t *testing.T) {
	a := Set(Number(3), Number(1), Number(2))
	b := Set(Number(1), Number(2), Number(3))

	var bufA, bufB bytes.Buffer
	require.NoError(t, Encode(&bufA, a))
	require.NoError(t, Encode(&bufB, b))
	require.Equal(t, bufA.Bytes(), bufB.Bytes())
}

func TestApplyFunctionTupleIndexing(t *testing.T) {
	tuple := Tuple(Str("a"), Str("b"), Str("c"))
	require.True(t, tuple.ApplyFunction(Number(2)).Equal(Str("b")))
}

func TestArithmeticOperators(t *testing.T) {
	require.True(t, Plus(Number(2), Number(3)).Equal(Number(5)))
	require.True(t, Minus(Number(2), Number(3)).Equal(Number(-1)))
	require.True(t, FloorDiv(Number(-7), Number(2)).Equal(Number(-4)))
	require.True(t, Mod(Number(-7), Number(2)).Equal(Number(1)))
	require.True(t, Power(Number(2), Number(5)).Equal(Number(32)))
}

func TestSequenceOperators(t *testing.T) {
	s := Tuple(Number(1), Number(2), Number(3))
	require.True(t, Head(s).Equal(Number(1)))
	require.True(t, Tail(s).Equal(Tuple(Number(2), Number(3))))
	require.True(t, Append(s, Number(4)).Equal(Tuple(Number(1), Number(2), Number(3), Number(4))))
	require.True(t, Concat(s, Tuple(Number(4))).Equal(Tuple(Number(1), Number(2), Number(3), Number(4))))
	require.True(t, SubSeq(s, Number(2), Number(3)).Equal(Tuple(Number(2), Number(3))))
}
