package radonerr_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/witnet/witnet-go/radon/radonerr"
)

func TestErrorCodesMatchFixedNumericValues(t *testing.T) {
	require.Equal(t, radonerr.Code(0x00), radonerr.Unknown)
	require.Equal(t, radonerr.Code(0x01), radonerr.SourceScriptNotCBOR)
	require.Equal(t, radonerr.Code(0x60), radonerr.MalformedReveal)
	require.Equal(t, radonerr.Code(0xFF), radonerr.UnhandledIntercept)
}

func TestErrorMarshalUnmarshalRoundTrip(t *testing.T) {
	e := radonerr.New(radonerr.HTTPError, uint64(404), "not found")

	data, err := e.MarshalCBOR()
	require.NoError(t, err)

	var out radonerr.Error
	require.NoError(t, out.UnmarshalCBOR(data))
	require.Equal(t, radonerr.HTTPError, out.Code)
	require.Len(t, out.Args, 2)
}

func TestUnmarshalRejectsWrongTag(t *testing.T) {
	var out radonerr.Error
	err := out.UnmarshalCBOR([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)
}

func TestErrorStringContainsCodeName(t *testing.T) {
	e := radonerr.New(radonerr.NoReveals)
	require.Contains(t, e.Error(), "NoReveals")
}
