package chain_test

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
	"github.com/witnet/witnet-go/chain"
)

func TestSerializeTransactionIsDeterministic(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	tx := chain.Transaction{
		Version: chain.TransactionVersion,
		Inputs: []chain.OutputPointer{
			{TransactionHash: chain.HashFromBytes([]byte("in")), OutputIndex: 1},
		},
		Outputs: []chain.Output{vtOutput(42)},
		Signatures: []chain.KeyedSignature{
			{Signature: []byte{0x01, 0x02}, PublicKey: priv.PubKey()},
		},
	}

	a := chain.SerializeTransaction(tx)
	b := chain.SerializeTransaction(tx)
	require.True(t, bytes.Equal(a, b))
}

func TestSerializeTransactionDiffersOnAnyFieldChange(t *testing.T) {
	tx := chain.Transaction{Version: chain.TransactionVersion, Outputs: []chain.Output{vtOutput(1)}}
	base := chain.SerializeTransaction(tx)

	tx.Outputs[0].ValueNanoWit = 2
	changed := chain.SerializeTransaction(tx)

	require.False(t, bytes.Equal(base, changed))
}

func TestSerializeOutputEncodesKindSpecificPayload(t *testing.T) {
	dr := chain.Output{
		Kind: chain.OutputDataRequest,
		DataRequest: &chain.DataRequestOutput{
			DataRequest: chain.DataRequest{
				Retrieve: []chain.RADRetrieve{{Kind: chain.RADTypeHTTPGet, URL: "https://example.com"}},
			},
			Witnesses: 3,
		},
	}
	encoded := chain.SerializeOutput(dr)
	require.NotEmpty(t, encoded)

	dr.DataRequest.Witnesses = 5
	encodedAfter := chain.SerializeOutput(dr)
	require.False(t, bytes.Equal(encoded, encodedAfter))
}

func TestSerializeBlockHeaderRoundTripsThroughHash(t *testing.T) {
	h := chain.BlockHeader{
		Version: 1,
		Beacon:  chain.CheckpointBeacon{Checkpoint: 99, HashPrevBlock: chain.HashFromBytes([]byte("prev"))},
	}
	require.Equal(t, chain.HashFromBytes(chain.SerializeBlockHeader(h)), chain.Block{Header: h}.Hash())
}
