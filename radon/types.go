// Package radon implements the RAD (Retrieve-Aggregate-Tally) engine: the
// tagged value space data requests compute over, and the three execution
// stages that turn raw retrievals into a single consensus result.
package radon

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/radon/radonerr"
)

// Kind discriminates the tagged Value variant over the
// {Array, Float, Map, String, Bytes, Error} value space.
type Kind uint8

const (
	KindArray Kind = iota
	KindFloat
	KindMap
	KindString
	KindBytes
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindArray:
		return "Array"
	case KindFloat:
		return "Float"
	case KindMap:
		return "Map"
	case KindString:
		return "String"
	case KindBytes:
		return "Bytes"
	case KindError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Value is a RADON value: exactly one of its kind-specific fields is
// meaningful, selected by Kind. This mirrors the tagged-union shape already
// used for chain.Output, rather than a Go interface with six
// implementations, so that encoding/decoding and equality stay trivial.
type Value struct {
	Kind Kind

	ArrayValue  []Value
	FloatValue  float64
	MapValue    map[string]Value
	StringValue string
	BytesValue  []byte
	ErrorValue  *radonerr.Error
}

func NewArray(v []Value) Value       { return Value{Kind: KindArray, ArrayValue: v} }
func NewFloat(v float64) Value       { return Value{Kind: KindFloat, FloatValue: v} }
func NewMap(v map[string]Value) Value { return Value{Kind: KindMap, MapValue: v} }
func NewString(v string) Value       { return Value{Kind: KindString, StringValue: v} }
func NewBytes(v []byte) Value        { return Value{Kind: KindBytes, BytesValue: v} }
func NewError(e *radonerr.Error) Value {
	return Value{Kind: KindError, ErrorValue: e}
}

// IsError reports whether v carries a RadonError rather than a result.
func (v Value) IsError() bool {
	return v.Kind == KindError
}

func (v Value) String() string {
	switch v.Kind {
	case KindArray:
		return fmt.Sprintf("Array(%d)", len(v.ArrayValue))
	case KindFloat:
		return fmt.Sprintf("Float(%v)", v.FloatValue)
	case KindMap:
		return fmt.Sprintf("Map(%d)", len(v.MapValue))
	case KindString:
		return fmt.Sprintf("String(%q)", v.StringValue)
	case KindBytes:
		return fmt.Sprintf("Bytes(%d)", len(v.BytesValue))
	case KindError:
		return v.ErrorValue.Error()
	default:
		return "Unknown"
	}
}

// cborValue is the plain-CBOR shape Value (de)serializes through: a
// discriminant plus whichever payload matches it. Kept unexported since it
// is purely a wire-format detail.
type cborValue struct {
	Kind    Kind             `cbor:"0,keyasint"`
	Array   []Value          `cbor:"1,keyasint,omitempty"`
	Float   float64          `cbor:"2,keyasint,omitempty"`
	Map     map[string]Value `cbor:"3,keyasint,omitempty"`
	String  string           `cbor:"4,keyasint,omitempty"`
	Bytes   []byte           `cbor:"5,keyasint,omitempty"`
	ErrCode uint8            `cbor:"6,keyasint,omitempty"`
	ErrArgs []interface{}    `cbor:"7,keyasint,omitempty"`
}

// Encode canonically serializes v to CBOR. RadonError values are wrapped in
// CBOR tag 39 exactly as radonerr.Error does on its own, so that a Tally
// output's Result bytes decode identically whether read through
// radon.Value or directly through radonerr.Error.
func (v Value) Encode() ([]byte, error) {
	if v.Kind == KindError {
		return v.ErrorValue.MarshalCBOR()
	}

	cv := cborValue{Kind: v.Kind}
	switch v.Kind {
	case KindArray:
		cv.Array = v.ArrayValue
	case KindFloat:
		cv.Float = v.FloatValue
	case KindMap:
		cv.Map = v.MapValue
	case KindString:
		cv.String = v.StringValue
	case KindBytes:
		cv.Bytes = v.BytesValue
	}

	data, err := cbor.Marshal(cv)
	if err != nil {
		return nil, fmt.Errorf("radon: failed to encode value: %w", err)
	}
	return data, nil
}

// Decode parses a CBOR-encoded Value, recognizing tag-39 RadonError blobs.
func Decode(data []byte) (Value, error) {
	var tag cbor.RawTag
	if err := cbor.Unmarshal(data, &tag); err == nil && tag.Number == 39 {
		var radErr radonerr.Error
		if err := radErr.UnmarshalCBOR(data); err != nil {
			return Value{}, err
		}
		return NewError(&radErr), nil
	}

	var cv cborValue
	if err := cbor.Unmarshal(data, &cv); err != nil {
		return Value{}, fmt.Errorf("radon: failed to decode value: %w", err)
	}

	switch cv.Kind {
	case KindArray:
		return NewArray(cv.Array), nil
	case KindFloat:
		return NewFloat(cv.Float), nil
	case KindMap:
		return NewMap(cv.Map), nil
	case KindString:
		return NewString(cv.String), nil
	case KindBytes:
		return NewBytes(cv.Bytes), nil
	default:
		return Value{}, fmt.Errorf("radon: unknown value kind %d", cv.Kind)
	}
}

// Hash returns the content hash of v's canonical encoding, the same
// identity rule transactions and blocks use.
func (v Value) Hash() (chain.Hash, error) {
	data, err := v.Encode()
	if err != nil {
		return chain.Hash{}, err
	}
	return chain.HashFromBytes(data), nil
}
