package chain

import "fmt"

// TransactionVersion is the current, only supported transaction encoding
// version. Kept as a field (not hard-coded) so a future protocol upgrade can
// be rejected cleanly instead of silently misparsed.
const TransactionVersion uint32 = 0

// Transaction is the canonical {version, inputs, outputs, signatures}
// shape. Its identity is the hash of its canonical serialization
// (chain/serialize.go); nothing in this struct caches that hash so that a
// mutated copy can never be mistaken for the original.
type Transaction struct {
	Version    uint32
	Inputs     []OutputPointer
	Outputs    []Output
	Signatures []KeyedSignature
}

// Hash returns the transaction's identity hash.
func (t Transaction) Hash() Hash {
	return HashFromBytes(SerializeTransaction(t))
}

// ValidateSequencing checks the output-kind sequencing constraints,
// independent of any ChainState (no UTXO/input resolution here, that is
// the Block Validator's semantic pass, validation/validator.go). It is
// pure and side-effect free; the Block Validator's structural pass runs it
// on every value-transfer and data-request transaction of a block.
func (t Transaction) ValidateSequencing() error {
	// VT outputs must be contiguous at the tail.
	sawVT := false
	for i, o := range t.Outputs {
		if o.Kind == OutputValueTransfer {
			sawVT = true
			continue
		}
		if sawVT {
			return fmt.Errorf("chain: value-transfer outputs must be contiguous at the tail (output %d breaks the run)", i)
		}
	}

	tallyCount := 0
	for _, o := range t.Outputs {
		if o.Kind == OutputTally {
			tallyCount++
		}
	}
	if tallyCount > 1 {
		return fmt.Errorf("chain: at most one Tally output is allowed, found %d", tallyCount)
	}

	return nil
}

// ValidateRevealTallyRule enforces "if any Reveal input is present, exactly
// one Tally output must exist" rule. It requires the kind of every
// input's referenced output, which only the Block Validator's semantic pass
// can resolve against a ChainState UTXO snapshot (validation/validator.go);
// ValidateSequencing above cannot check this on its own.
func (t Transaction) ValidateRevealTallyRule(inputKinds []OutputKind) error {
	hasRevealInput := false
	for _, k := range inputKinds {
		if k == OutputReveal {
			hasRevealInput = true
			break
		}
	}

	tallyCount := 0
	for _, o := range t.Outputs {
		if o.Kind == OutputTally {
			tallyCount++
		}
	}

	if hasRevealInput && tallyCount != 1 {
		return fmt.Errorf("chain: transaction spends a Reveal input but does not produce exactly one Tally output (got %d)", tallyCount)
	}
	return nil
}

// NewMintTransaction builds a block's mint transaction: the block reward
// paid to the proposer. The single input is a null pointer carrying the
// epoch in its index, so two blocks' mints never hash alike; validators
// apply mint outputs directly and never resolve this input.
func NewMintTransaction(epoch Epoch, pkh PublicKeyHash, reward uint64) Transaction {
	return Transaction{
		Version: TransactionVersion,
		Inputs:  []OutputPointer{{TransactionHash: ZeroHash, OutputIndex: uint32(epoch)}},
		Outputs: []Output{{
			Kind:         OutputValueTransfer,
			PKH:          pkh,
			ValueNanoWit: reward,
		}},
	}
}

// VTTransaction is a value-transfer transaction: freely assignable inputs,
// only ValueTransfer outputs.
type VTTransaction struct {
	Body       Transaction
}

// DRTransaction creates a new data request: its sole DataRequest output
// opens the commit window.
type DRTransaction struct {
	Body Transaction
}

// CommitTransaction consumes a DataRequest input and produces a Commit
// output, staking collateral and hiding the witness's reveal behind a hash.
type CommitTransaction struct {
	Body Transaction
}

// RevealTransaction consumes a Commit input and discloses the RAD result
// that was committed to.
type RevealTransaction struct {
	Body Transaction
}

// TallyTransaction consumes every Commit input for a data request and
// produces the single Tally output recording the consensus result.
type TallyTransaction struct {
	Body Transaction
}
