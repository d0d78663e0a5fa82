package chain_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/witnet/witnet-go/chain"
)

func vtOutput(v uint64) chain.Output {
	return chain.Output{Kind: chain.OutputValueTransfer, ValueNanoWit: v}
}

func commitOutput() chain.Output {
	return chain.Output{Kind: chain.OutputCommit, Commit: &chain.CommitOutput{}}
}

func tallyOutput() chain.Output {
	return chain.Output{Kind: chain.OutputTally, Tally: &chain.TallyOutput{}}
}

func TestTransactionHashIsStableUnderEquivalentValues(t *testing.T) {
	tx1 := chain.Transaction{Version: chain.TransactionVersion, Outputs: []chain.Output{vtOutput(10)}}
	tx2 := chain.Transaction{Version: chain.TransactionVersion, Outputs: []chain.Output{vtOutput(10)}}
	require.Equal(t, tx1.Hash(), tx2.Hash())

	tx3 := chain.Transaction{Version: chain.TransactionVersion, Outputs: []chain.Output{vtOutput(11)}}
	require.NotEqual(t, tx1.Hash(), tx3.Hash())
}

func TestValidateSequencingAllowsVTOutputsAtTail(t *testing.T) {
	tx := chain.Transaction{
		Outputs: []chain.Output{commitOutput(), vtOutput(1), vtOutput(2)},
	}
	require.NoError(t, tx.ValidateSequencing())
}

func TestValidateSequencingRejectsVTBeforeNonVT(t *testing.T) {
	tx := chain.Transaction{
		Outputs: []chain.Output{vtOutput(1), commitOutput()},
	}
	require.Error(t, tx.ValidateSequencing())
}

func TestValidateSequencingRejectsMultipleTallyOutputs(t *testing.T) {
	tx := chain.Transaction{
		Outputs: []chain.Output{tallyOutput(), tallyOutput()},
	}
	require.Error(t, tx.ValidateSequencing())
}

func TestValidateSequencingAllowsSingleTallyOutput(t *testing.T) {
	tx := chain.Transaction{
		Outputs: []chain.Output{tallyOutput()},
	}
	require.NoError(t, tx.ValidateSequencing())
}

func TestValidateRevealTallyRuleRequiresExactlyOneTally(t *testing.T) {
	tx := chain.Transaction{Outputs: []chain.Output{vtOutput(1)}}

	err := tx.ValidateRevealTallyRule([]chain.OutputKind{chain.OutputReveal})
	require.Error(t, err)

	tx.Outputs = append(tx.Outputs, tallyOutput())
	require.NoError(t, tx.ValidateRevealTallyRule([]chain.OutputKind{chain.OutputReveal}))
}

func TestValidateRevealTallyRuleIgnoresNonRevealInputs(t *testing.T) {
	tx := chain.Transaction{Outputs: []chain.Output{vtOutput(1)}}
	require.NoError(t, tx.ValidateRevealTallyRule([]chain.OutputKind{chain.OutputCommit}))
}
