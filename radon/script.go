package radon

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/witnet/witnet-go/radon/radonerr"
)

// Call is one step of a RAD script: an operator name plus its arguments.
// Scripts are CBOR arrays of arrays, `[[opName, ...args], ...]`: the
// packed-call convention RADON scripts travel the wire in.
type Call struct {
	Operator string
	Args     []interface{}
}

// UnpackScript decodes raw RAD script bytes into an ordered list of calls.
// A script that is not valid CBOR, not an array, or not shaped like a RADON
// script is an infrastructure-level failure (the request itself is
// malformed), so this returns a Go error rather than a RadonError value;
// callers surface it before ever touching network retrieval.
func UnpackScript(raw []byte) ([]Call, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var rawCalls [][]interface{}
	if err := cbor.Unmarshal(raw, &rawCalls); err != nil {
		return nil, fmt.Errorf("radon: script is not a valid CBOR array of calls: %w", err)
	}

	calls := make([]Call, 0, len(rawCalls))
	for i, rc := range rawCalls {
		if len(rc) == 0 {
			return nil, fmt.Errorf("radon: call %d is empty", i)
		}
		op, ok := rc[0].(string)
		if !ok {
			return nil, fmt.Errorf("radon: call %d operator is not a string", i)
		}
		calls = append(calls, Call{Operator: op, Args: rc[1:]})
	}
	return calls, nil
}

// operatorFunc applies one named operator to a running value.
type operatorFunc func(Value, []interface{}) Value

var operatorRegistry = map[string]operatorFunc{
	"ParseJSON": func(v Value, _ []interface{}) Value {
		return ParseJSON(v)
	},
	"Hash": func(v Value, args []interface{}) Value {
		code, ok := argAsInt64(args, 0)
		if !ok {
			return NewError(radonerr.New(radonerr.UnsupportedOperator, "Hash requires one integer argument"))
		}
		return Hash(v, HashFunction(code))
	},
	"AsFloat": func(v Value, _ []interface{}) Value {
		return AsFloat(v)
	},
	"ArrayGet": func(v Value, args []interface{}) Value {
		idx, ok := argAsInt64(args, 0)
		if !ok {
			return NewError(radonerr.New(radonerr.UnsupportedOperator, "ArrayGet requires one integer argument"))
		}
		return ArrayGet(v, int(idx))
	},
	"MapGet": func(v Value, args []interface{}) Value {
		if len(args) != 1 {
			return NewError(radonerr.New(radonerr.UnsupportedOperator, "MapGet requires one string argument"))
		}
		key, ok := args[0].(string)
		if !ok {
			return NewError(radonerr.New(radonerr.UnsupportedOperator, "MapGet argument is not a string"))
		}
		return MapGet(v, key)
	},
}

func argAsInt64(args []interface{}, i int) (int64, bool) {
	if i >= len(args) {
		return 0, false
	}
	switch v := args[i].(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// ExecuteScript applies calls to input in order, short-circuiting on the
// first RadonError (a value stage never recovers from an error mid-script;
// it just carries the error forward to the final result). An unrecognized
// operator converts to UnsupportedOperator rather than failing the whole
// engine, since a script calling an unimplemented operator is a RADON-level
// outcome, not a host bug.
func ExecuteScript(input Value, calls []Call) Value {
	current := input
	for _, call := range calls {
		if current.IsError() {
			return current
		}

		op, ok := operatorRegistry[call.Operator]
		if !ok {
			return NewError(radonerr.New(radonerr.UnsupportedOperator, call.Operator))
		}
		current = op(current, call.Args)
	}
	return current
}
