// Package radonerr defines the consensus-critical RadonError taxonomy: the
// fixed numeric codes a Tally output may embed in place of a value when a
// data request's retrieval, aggregation or tally stage fails in a way that
// the network as a whole must agree on.
package radonerr

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Code is a RadonError code. These codes are consensus-critical: a code may
// be renamed but must never be re-assigned to a different failure, since
// that would silently change what every node agrees a Tally output means.
type Code uint8

const (
	Unknown Code = 0x00

	SourceScriptNotCBOR  Code = 0x01
	SourceScriptNotArray Code = 0x02
	SourceScriptNotRADON Code = 0x03

	RequestTooManySources Code = 0x10
	ScriptTooManyCalls    Code = 0x11

	UnsupportedOperator Code = 0x20

	HTTPError      Code = 0x30
	RetrieveTimeout Code = 0x31

	Underflow      Code = 0x40
	Overflow       Code = 0x41
	DivisionByZero Code = 0x42

	NoReveals             Code = 0x50
	InsufficientConsensus Code = 0x51
	InsufficientCommits   Code = 0x52
	TallyExecution        Code = 0x53

	MalformedReveal Code = 0x60

	// UnhandledIntercept marks a tally execution failure that escaped every
	// known error path (e.g. a recovered panic). Its presence in a Tally
	// output always indicates a bug in the engine, never a legitimate data
	// request outcome.
	UnhandledIntercept Code = 0xFF
)

func (c Code) String() string {
	switch c {
	case Unknown:
		return "Unknown"
	case SourceScriptNotCBOR:
		return "SourceScriptNotCBOR"
	case SourceScriptNotArray:
		return "SourceScriptNotArray"
	case SourceScriptNotRADON:
		return "SourceScriptNotRADON"
	case RequestTooManySources:
		return "RequestTooManySources"
	case ScriptTooManyCalls:
		return "ScriptTooManyCalls"
	case UnsupportedOperator:
		return "UnsupportedOperator"
	case HTTPError:
		return "HTTPError"
	case RetrieveTimeout:
		return "RetrieveTimeout"
	case Underflow:
		return "Underflow"
	case Overflow:
		return "Overflow"
	case DivisionByZero:
		return "DivisionByZero"
	case NoReveals:
		return "NoReveals"
	case InsufficientConsensus:
		return "InsufficientConsensus"
	case InsufficientCommits:
		return "InsufficientCommits"
	case TallyExecution:
		return "TallyExecution"
	case MalformedReveal:
		return "MalformedReveal"
	case UnhandledIntercept:
		return "UnhandledIntercept"
	default:
		return fmt.Sprintf("Code(0x%02X)", uint8(c))
	}
}

// cborTagRadonError is the CBOR tag wrapping a RadonError's [code, ...args]
// array: the consensus-critical wire format every node must reproduce.
const cborTagRadonError = 39

// Error is a RadonError value: a consensus-critical failure code plus the
// arguments that explain it (e.g. the offending HTTP status, the operator
// name). It implements the error interface so Go code can treat it like any
// other error, but it is also a first-class RadonTypes value that can be
// embedded into a Tally output.
type Error struct {
	Code Code
	Args []interface{}
}

// New constructs a RadonError with the given code and arguments.
func New(code Code, args ...interface{}) *Error {
	return &Error{Code: code, Args: args}
}

func (e *Error) Error() string {
	if len(e.Args) == 0 {
		return fmt.Sprintf("radon error: %s", e.Code)
	}
	return fmt.Sprintf("radon error: %s %v", e.Code, e.Args)
}

// MarshalCBOR encodes the error as CBOR tag 39 wrapping [code, ...args].
func (e *Error) MarshalCBOR() ([]byte, error) {
	array := make([]interface{}, 0, len(e.Args)+1)
	array = append(array, uint8(e.Code))
	array = append(array, e.Args...)

	tag := cbor.Tag{Number: cborTagRadonError, Content: array}
	return cbor.Marshal(tag)
}

// UnmarshalCBOR decodes a CBOR tag-39-wrapped [code, ...args] array.
func (e *Error) UnmarshalCBOR(data []byte) error {
	var tag cbor.RawTag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("radonerr: invalid CBOR: %w", err)
	}
	if tag.Number != cborTagRadonError {
		return fmt.Errorf("radonerr: expected CBOR tag %d, got %d", cborTagRadonError, tag.Number)
	}

	var array []interface{}
	if err := cbor.Unmarshal(tag.Content, &array); err != nil {
		return fmt.Errorf("radonerr: malformed error array: %w", err)
	}
	if len(array) == 0 {
		return fmt.Errorf("radonerr: empty error array")
	}

	codeVal, ok := array[0].(uint64)
	if !ok {
		return fmt.Errorf("radonerr: error code is not an unsigned integer")
	}

	e.Code = Code(codeVal)
	e.Args = array[1:]
	return nil
}
