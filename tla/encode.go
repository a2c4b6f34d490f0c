package tla

import (
	"encoding/binary"
	"fmt"
	"io"
)

// wire tags for the canonical binary encoding. Values are self-describing:
// the tag byte disambiguates the variant on decode.
const (
	tagBool byte = iota
	tagNumber
	tagString
	tagTuple
	tagSet
	tagFunction
)

// Encode writes v's canonical binary encoding to w. Two Equal values always
// produce byte-identical output: Set and Function members are written in
// Compare order rather than map-iteration order, so encoding is independent
// of how a value was built.
func Encode(w io.Writer, v Value) error {
	v.checkNil()
	return v.data.encode(w)
}

// Decode reads a Value previously written by Encode.
func Decode(r io.Reader) (Value, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return Value{}, err
	}
	switch tag[0] {
	case tagBool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, err
		}
		return Bool(b[0] != 0), nil
	case tagNumber:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Value{}, err
		}
		return Number(int32(binary.BigEndian.Uint32(buf[:]))), nil
	case tagString:
		s, err := decodeString(r)
		if err != nil {
			return Value{}, err
		}
		return Str(s), nil
	case tagTuple:
		n, err := decodeLength(r)
		if err != nil {
			return Value{}, err
		}
		elems := make([]Value, n)
		for i := range elems {
			elem, err := Decode(r)
			if err != nil {
				return Value{}, err
			}
			elems[i] = elem
		}
		return Tuple(elems...), nil
	case tagSet:
		n, err := decodeLength(r)
		if err != nil {
			return Value{}, err
		}
		elems := make([]Value, n)
		for i := range elems {
			elem, err := Decode(r)
			if err != nil {
				return Value{}, err
			}
			elems[i] = elem
		}
		return Set(elems...), nil
	case tagFunction:
		n, err := decodeLength(r)
		if err != nil {
			return Value{}, err
		}
		fields := make([]RecordField, n)
		for i := range fields {
			key, err := Decode(r)
			if err != nil {
				return Value{}, err
			}
			val, err := Decode(r)
			if err != nil {
				return Value{}, err
			}
			fields[i] = RecordField{Key: key, Value: val}
		}
		return Record(fields), nil
	default:
		return Value{}, fmt.Errorf("%w: unrecognized wire tag %d", ErrType, tag[0])
	}
}

func encodeLength(w io.Writer, n int) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n))
	_, err := w.Write(buf[:])
	return err
}

func decodeLength(r io.Reader) (int, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint32(buf[:])), nil
}

func encodeString(w io.Writer, s string) error {
	if err := encodeLength(w, len(s)); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func decodeString(r io.Reader) (string, error) {
	n, err := decodeLength(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (v *valueBool) encode(w io.Writer) error {
	b := byte(0)
	if v.V {
		b = 1
	}
	_, err := w.Write([]byte{tagBool, b})
	return err
}

func (v *valueNumber) encode(w io.Writer) error {
	if _, err := w.Write([]byte{tagNumber}); err != nil {
		return err
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v.V))
	_, err := w.Write(buf[:])
	return err
}

func (v *valueString) encode(w io.Writer) error {
	if _, err := w.Write([]byte{tagString}); err != nil {
		return err
	}
	return encodeString(w, v.V)
}

func (v *valueTuple) encode(w io.Writer) error {
	if _, err := w.Write([]byte{tagTuple}); err != nil {
		return err
	}
	if err := encodeLength(w, v.v.Len()); err != nil {
		return err
	}
	it := v.v.Iterator()
	for !it.Done() {
		_, elem := it.Next()
		if err := Encode(w, elem); err != nil {
			return err
		}
	}
	return nil
}

func (v *valueSet) encode(w io.Writer) error {
	if _, err := w.Write([]byte{tagSet}); err != nil {
		return err
	}
	members := sortedMembers(v.v)
	if err := encodeLength(w, len(members)); err != nil {
		return err
	}
	for _, elem := range members {
		if err := Encode(w, elem); err != nil {
			return err
		}
	}
	return nil
}

func (v *valueFunction) encode(w io.Writer) error {
	if _, err := w.Write([]byte{tagFunction}); err != nil {
		return err
	}
	fields := sortedFields(v.v)
	if err := encodeLength(w, len(fields)); err != nil {
		return err
	}
	for _, field := range fields {
		if err := Encode(w, field.Key); err != nil {
			return err
		}
		if err := Encode(w, field.Value); err != nil {
			return err
		}
	}
	return nil
}
