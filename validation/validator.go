// Package validation implements the Block Validator: a
// two-pass structural-then-semantic check over a candidate or requested
// block, producing the UtxoDiff to apply on consolidation.
package validation

import (
	"fmt"

	"github.com/go-errors/errors"

	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/chainstate"
	"github.com/witnet/witnet-go/config"
)

// Error is a validation rejection: the block is
// dropped and its sender may be banned on repeat, but nothing here ever
// propagates up as a Go panic.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "validation: " + e.Reason }

func reject(format string, args ...interface{}) error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// Limits bounds a block's structural shape.
type Limits struct {
	MaxVTTransactions     int
	MaxDRTransactions     int
	MaxCommitTransactions int
	MaxRevealTransactions int
}

// DefaultLimits is deliberately generous: high enough that an honest
// network never hits them, low enough to bound
// a malicious block's memory footprint.
var DefaultLimits = Limits{
	MaxVTTransactions:     1_000,
	MaxDRTransactions:     100,
	MaxCommitTransactions: 1_000,
	MaxRevealTransactions: 1_000,
}

// Validator runs both validation passes.
type Validator struct {
	constants config.ConsensusConstants
	limits    Limits
}

// New constructs a Validator for the given consensus constants.
func New(constants config.ConsensusConstants, limits Limits) *Validator {
	return &Validator{constants: constants, limits: limits}
}

// ValidateStructure runs the structural pass: shape and self-consistency
// checks that do not need a ChainState snapshot.
func (v *Validator) ValidateStructure(b chain.Block, prevBeacon chain.CheckpointBeacon, epoch chain.Epoch) error {
	log.Tracef("validation: structural pass for block %s at epoch %d", b.Hash(), epoch)

	if b.Header.Version != chain.TransactionVersion {
		return reject("unsupported block version %d", b.Header.Version)
	}

	if len(b.Txns.Mint.Outputs) == 0 {
		return reject("block has an empty mint transaction")
	}

	if err := b.CheckMerkleRoots(); err != nil {
		return reject("%v", err)
	}

	if b.Header.Beacon.Checkpoint != epoch {
		return reject("block beacon checkpoint %d does not match current epoch %d",
			b.Header.Beacon.Checkpoint, epoch)
	}
	if b.Header.Beacon.HashPrevBlock != prevBeacon.HashPrevBlock && prevBeacon.Checkpoint+1 != b.Header.Beacon.Checkpoint {
		// VRF eligibility proofs chain off the previous beacon's VRF
		// output; a block must build directly on the tip
		// we are validating against.
		return reject("block does not extend the expected previous beacon")
	}

	if len(b.Txns.VT) > v.limits.MaxVTTransactions {
		return reject("too many value-transfer transactions: %d > %d", len(b.Txns.VT), v.limits.MaxVTTransactions)
	}
	if len(b.Txns.DR) > v.limits.MaxDRTransactions {
		return reject("too many data-request transactions: %d > %d", len(b.Txns.DR), v.limits.MaxDRTransactions)
	}
	if len(b.Txns.Commit) > v.limits.MaxCommitTransactions {
		return reject("too many commit transactions: %d > %d", len(b.Txns.Commit), v.limits.MaxCommitTransactions)
	}
	if len(b.Txns.Reveal) > v.limits.MaxRevealTransactions {
		return reject("too many reveal transactions: %d > %d", len(b.Txns.Reveal), v.limits.MaxRevealTransactions)
	}

	for _, tx := range b.Txns.VT {
		if err := tx.Body.ValidateSequencing(); err != nil {
			return reject("%v", err)
		}
	}
	for _, tx := range b.Txns.DR {
		if err := tx.Body.ValidateSequencing(); err != nil {
			return reject("%v", err)
		}
	}

	return nil
}

// ValidateVRFEligibility checks that the block's VRF proof is consistent
// with the previous beacon's highest_vrf_output. The actual
// cryptographic verification of the proof is delegated to the external VRF
// service; this only checks the chaining invariant the proof
// must satisfy to be eligible for this epoch at all.
func (v *Validator) ValidateVRFEligibility(proof chain.VRFProof, prevVRFOutput chain.Hash, verify func(proof chain.VRFProof, seed chain.Hash) bool) error {
	if verify == nil {
		return reject("no VRF verification service configured")
	}
	if !verify(proof, prevVRFOutput) {
		return reject("VRF proof does not chain from the previous highest_vrf_output")
	}
	return nil
}

// txnClass identifies which of a block's transaction lists a transaction
// came from, which decides the output kinds its inputs may legally spend.
type txnClass uint8

const (
	classVT txnClass = iota
	classDR
	classCommit
	classReveal
	classTally
)

func (c txnClass) String() string {
	switch c {
	case classVT:
		return "value-transfer"
	case classDR:
		return "data-request"
	case classCommit:
		return "commit"
	case classReveal:
		return "reveal"
	case classTally:
		return "tally"
	default:
		return "unknown"
	}
}

// inputKindAllowed encodes the spend-sequencing rules: value-transfer and
// tally outputs are freely assignable; a data-request output may only be
// consumed by a commit transaction; a commit output only by a reveal or
// tally transaction; a reveal output only by a value transfer.
func inputKindAllowed(kind chain.OutputKind, class txnClass) bool {
	switch kind {
	case chain.OutputValueTransfer, chain.OutputTally:
		return true
	case chain.OutputDataRequest:
		return class == classCommit
	case chain.OutputCommit:
		return class == classReveal || class == classTally
	case chain.OutputReveal:
		return class == classVT
	default:
		return false
	}
}

// ValidateSemantic runs the semantic pass against a ChainState
// snapshot: every input resolves, the DR/Commit/Reveal/Tally
// sequencing holds, fees are non-negative, and collateral age is
// respected. It returns the UtxoDiff to apply on consolidation.
func (v *Validator) ValidateSemantic(b chain.Block, state *chainstate.State, blockEpoch chain.Epoch) (chainstate.UtxoDiff, error) {
	diff := chainstate.NewUtxoDiff()

	apply := func(tx chain.Transaction, class txnClass) error {
		var inputKinds []chain.OutputKind
		var inputValue uint64
		for _, in := range tx.Inputs {
			out, ok := state.Get(in)
			if !ok {
				if _, staged := diff.Add[in]; !staged {
					return reject("input %s does not resolve to an unspent output", in)
				}
				out = diff.Add[in]
			}
			if !inputKindAllowed(out.Kind, class) {
				return reject("a %s transaction may not spend a %s output (%s)", class, out.Kind, in)
			}
			inputKinds = append(inputKinds, out.Kind)
			inputValue += out.ValueNanoWit
			diff.Remove = append(diff.Remove, in)
		}

		if err := tx.ValidateRevealTallyRule(inputKinds); err != nil {
			return reject("%v", err)
		}

		var outputValue uint64
		for _, o := range tx.Outputs {
			outputValue += o.ValueNanoWit
		}
		if inputValue < outputValue {
			return reject("transaction spends more than its inputs provide: in=%d out=%d", inputValue, outputValue)
		}

		hash := tx.Hash()
		for i, o := range tx.Outputs {
			diff.Add[chain.OutputPointer{TransactionHash: hash, OutputIndex: uint32(i)}] = o
		}
		return nil
	}

	// The mint transaction has no inputs (it is the block reward) so it
	// skips the general apply() path, which assumes at least one input
	// to resolve.
	mintHash := b.Txns.Mint.Hash()
	for i, o := range b.Txns.Mint.Outputs {
		diff.Add[chain.OutputPointer{TransactionHash: mintHash, OutputIndex: uint32(i)}] = o
	}

	for _, tx := range b.Txns.VT {
		if err := apply(tx.Body, classVT); err != nil {
			return chainstate.UtxoDiff{}, err
		}
	}
	for _, tx := range b.Txns.DR {
		if err := apply(tx.Body, classDR); err != nil {
			return chainstate.UtxoDiff{}, err
		}
	}
	for _, tx := range b.Txns.Commit {
		if err := v.validateCollateralAge(tx, state, blockEpoch); err != nil {
			return chainstate.UtxoDiff{}, err
		}
		if err := apply(tx.Body, classCommit); err != nil {
			return chainstate.UtxoDiff{}, err
		}
	}
	for _, tx := range b.Txns.Reveal {
		if err := apply(tx.Body, classReveal); err != nil {
			return chainstate.UtxoDiff{}, err
		}
	}
	for _, tx := range b.Txns.Tally {
		if err := apply(tx.Body, classTally); err != nil {
			return chainstate.UtxoDiff{}, err
		}
	}

	return diff, nil
}

// validateCollateralAge enforces the minimum collateral age: the UTXO
// funding a commit's collateral must have been
// consolidated at least CollateralAge epochs before blockEpoch.
func (v *Validator) validateCollateralAge(tx chain.CommitTransaction, state *chainstate.State, blockEpoch chain.Epoch) error {
	for _, in := range tx.Body.Inputs {
		out, ok := state.Get(in)
		if !ok {
			continue
		}
		if out.ValueNanoWit < v.constants.CollateralMinimum {
			continue
		}
		age, ok := state.UtxoAge(in, blockEpoch)
		if ok && age < chain.Epoch(v.constants.CollateralAge) {
			return reject("collateral input %s is only %d epochs old, need >= %d", in, age, v.constants.CollateralAge)
		}
	}
	return nil
}

// MustNotPanic wraps an invariant check: if
// fn panics, the panic is converted into a wrapped *errors.Error carrying a
// stack trace, for the caller to abort the node with a diagnostic rather
// than silently continue with corrupted consensus state.
func MustNotPanic(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("validation: invariant violated: %v", r)
		}
	}()
	return fn()
}
