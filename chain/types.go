package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
)

// Epoch is a non-negative, monotonically increasing epoch index, derived by
// the Epoch Clock as (now - epoch_zero_ts) / period_seconds.
type Epoch uint32

// CheckpointBeacon identifies "the chain as of this epoch": the epoch plus
// the hash of the block that was the tip at that epoch.
type CheckpointBeacon struct {
	Checkpoint    Epoch `json:"checkpoint"`
	HashPrevBlock Hash  `json:"hash_prev_block"`
}

// String renders a beacon the way log lines render checkpoints, e.g.
// "#120 3b1c...".
func (b CheckpointBeacon) String() string {
	return fmt.Sprintf("#%d %s", b.Checkpoint, b.HashPrevBlock)
}

// LastBeacon is exchanged between peers once per epoch: it carries both the
// highest consolidated block beacon and the highest consolidated superblock
// beacon known to the sender.
type LastBeacon struct {
	HighestBlockCheckpoint      CheckpointBeacon `json:"highest_block_checkpoint"`
	HighestSuperblockCheckpoint CheckpointBeacon `json:"highest_superblock_checkpoint"`
}

// OutputPointer references one output of a transaction by its hash and
// index. It becomes globally unique once the owning transaction is
// consolidated into the chain.
type OutputPointer struct {
	TransactionHash Hash
	OutputIndex     uint32
}

// String matches the "<hash>:<index>" convention used across the wire
// protocol and the persisted DR-REPORT keys.
func (p OutputPointer) String() string {
	return fmt.Sprintf("%s:%d", p.TransactionHash, p.OutputIndex)
}

// PublicKeyHash is the 20-byte hash of a public key that owns an Output.
// Verifying who may spend an output is the job of the external signature
// service; PublicKeyHash here is a
// pure identity/addressing type.
type PublicKeyHash [20]byte

// String base58-encodes the hash the same way btcutil addresses do: the
// value is not itself a Bitcoin address, but it benefits from the same
// human-friendly, typo-resistant encoding.
func (p PublicKeyHash) String() string {
	return base58.Encode(p[:])
}

// KeyedSignature pairs a signature with the public key that produced it.
// Both fields are opaque byte blobs from this package's point of view: the
// actual signing/verification is performed by the external cryptographic
// primitives service. The PublicKey field is kept as a structured
// *btcec.PublicKey so callers that do hold the verification service can use
// it directly without a re-parse.
type KeyedSignature struct {
	Signature []byte
	PublicKey *btcec.PublicKey
}

// OutputKind discriminates the tagged Output variant.
type OutputKind uint8

const (
	OutputValueTransfer OutputKind = iota
	OutputDataRequest
	OutputCommit
	OutputReveal
	OutputTally
)

func (k OutputKind) String() string {
	switch k {
	case OutputValueTransfer:
		return "ValueTransfer"
	case OutputDataRequest:
		return "DataRequest"
	case OutputCommit:
		return "Commit"
	case OutputReveal:
		return "Reveal"
	case OutputTally:
		return "Tally"
	default:
		return "Unknown"
	}
}

// RADRetrieve describes one data source for a data request: where to fetch
// it from and the RAD script to post-process it with.
type RADRetrieve struct {
	Kind   RADType
	URL    string
	Script []byte
}

// RADType enumerates the supported retrieval transports.
type RADType uint8

const (
	RADTypeHTTPGet RADType = iota
	RADTypeConstant
)

// DataRequestOutput is the kind-specific payload of an Output carrying a
// data request: the RAD scripts, the economic parameters, and the number of
// witnesses requested.
type DataRequestOutput struct {
	DataRequest        DataRequest
	Witnesses          uint16
	CommitFee          uint64
	RevealFee          uint64
	TallyFee           uint64
	WitnessReward      uint64
	MinConsensusPct    uint32 // percent, 51-99
	CollateralAmount   uint64
}

// DataRequest bundles the three RAD stages of a data request.
type DataRequest struct {
	Retrieve    []RADRetrieve
	Aggregate   []byte // aggregation script
	Tally       []byte // tally script
}

// CommitOutput is produced when a witness commits (hides) its reveal behind
// a hash, alongside the collateral it is staking.
type CommitOutput struct {
	DRPointer        OutputPointer
	Commitment       Hash
	CollateralAmount uint64
}

// RevealOutput discloses the RAD result a witness committed to earlier.
type RevealOutput struct {
	DRPointer OutputPointer
	Reveal    []byte // serialized RadonTypes value
}

// TallyOutput carries the consensus result of a data request plus the
// bookkeeping needed to distribute rewards/collateral and to identify
// dishonest/absent witnesses.
type TallyOutput struct {
	DRPointer        OutputPointer
	Result           []byte // serialized RadonTypes value, possibly a RadonError
	OutOfConsensus   []PublicKeyHash
	Error            []PublicKeyHash
}

// Output is the tagged output variant: every output carries an
// owner, a value in nanowits, and exactly one kind-specific payload.
type Output struct {
	Kind        OutputKind
	PKH         PublicKeyHash
	ValueNanoWit uint64

	DataRequest *DataRequestOutput
	Commit      *CommitOutput
	Reveal      *RevealOutput
	Tally       *TallyOutput
}
