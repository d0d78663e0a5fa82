package radon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/witnet/witnet-go/radon/radonerr"
)

// ParseJSON decodes a JSON document carried by a String value into the
// corresponding RADON value tree. Malformed JSON converts to a RadonError
// value (SourceScriptNotRADON) rather than a Go error, since a retrieval
// script failing to parse its source is an expected, consensus-visible
// outcome, not an infrastructure fault.
func ParseJSON(input Value) Value {
	if input.Kind != KindString {
		return NewError(radonerr.New(radonerr.UnsupportedOperator, "ParseJSON expects a String input"))
	}

	var decoded interface{}
	if err := json.Unmarshal([]byte(input.StringValue), &decoded); err != nil {
		return NewError(radonerr.New(radonerr.SourceScriptNotRADON, err.Error()))
	}

	return jsonToValue(decoded)
}

func jsonToValue(v interface{}) Value {
	switch x := v.(type) {
	case nil:
		return NewString("")
	case bool:
		if x {
			return NewFloat(1)
		}
		return NewFloat(0)
	case float64:
		return NewFloat(x)
	case string:
		return NewString(x)
	case []interface{}:
		out := make([]Value, len(x))
		for i, elem := range x {
			out[i] = jsonToValue(elem)
		}
		return NewArray(out)
	case map[string]interface{}:
		out := make(map[string]Value, len(x))
		for k, elem := range x {
			out[k] = jsonToValue(elem)
		}
		return NewMap(out)
	default:
		return NewString(fmt.Sprintf("%v", x))
	}
}

// HashFunction selects the digest algorithm for the Hash operator. Only
// SHA-256 is implemented; every other code is a legitimate, RADON-level
// "unsupported" outcome rather than an engine bug.
type HashFunction int64

const HashFunctionSHA256 HashFunction = 0x0A

// Hash hex-encodes the digest of a String value's bytes under fn.
func Hash(input Value, fn HashFunction) Value {
	if input.Kind != KindString {
		return NewError(radonerr.New(radonerr.UnsupportedOperator, "Hash expects a String input"))
	}

	switch fn {
	case HashFunctionSHA256:
		digest := sha256.Sum256([]byte(input.StringValue))
		return NewString(hex.EncodeToString(digest[:]))
	default:
		return NewError(radonerr.New(radonerr.UnsupportedOperator, fmt.Sprintf("unsupported hash function %d", fn)))
	}
}

// AsFloat coerces a String value holding a numeric literal into a Float
// value, or a RadonError if the string does not parse as a number.
func AsFloat(input Value) Value {
	if input.Kind != KindString {
		return NewError(radonerr.New(radonerr.UnsupportedOperator, "AsFloat expects a String input"))
	}

	var f float64
	if _, err := fmt.Sscanf(input.StringValue, "%g", &f); err != nil {
		return NewError(radonerr.New(radonerr.UnsupportedOperator, "value is not a float"))
	}
	return NewFloat(f)
}

// MapGet looks up a key inside a Map value.
func MapGet(input Value, key string) Value {
	if input.Kind != KindMap {
		return NewError(radonerr.New(radonerr.UnsupportedOperator, "MapGet expects a Map input"))
	}
	v, ok := input.MapValue[key]
	if !ok {
		return NewError(radonerr.New(radonerr.UnsupportedOperator, fmt.Sprintf("key %q not found", key)))
	}
	return v
}

// ArrayGet indexes into an Array value.
func ArrayGet(input Value, index int) Value {
	if input.Kind != KindArray {
		return NewError(radonerr.New(radonerr.UnsupportedOperator, "ArrayGet expects an Array input"))
	}
	if index < 0 || index >= len(input.ArrayValue) {
		return NewError(radonerr.New(radonerr.UnsupportedOperator, fmt.Sprintf("index %d out of range", index)))
	}
	return input.ArrayValue[index]
}
