package chain

import "fmt"

// MerkleRoots carries the merkle root of each transaction list in a block,
// one per kind, so a verifier can confirm a specific transaction belongs to
// a block without downloading the whole transaction list.
type MerkleRoots struct {
	MintHash           Hash
	ValueTransferRoot  Hash
	DataRequestRoot    Hash
	CommitRoot         Hash
	RevealRoot         Hash
	TallyRoot          Hash
}

// VRFProof is the verifiable-random-function proof establishing the block
// proposer's eligibility for the epoch. Verifying it is the job of the
// external VRF/crypto service; here it is an opaque, hashable blob plus
// the chain-visible output it commits to.
type VRFProof struct {
	Proof  []byte
	Output Hash
}

// BlockHeader carries everything needed to verify a block's place in the
// chain without its transaction bodies.
type BlockHeader struct {
	Version     uint32
	Beacon      CheckpointBeacon
	MerkleRoots MerkleRoots
	VRFProof    VRFProof
}

// BlockTransactions groups a block's transaction lists by kind.
type BlockTransactions struct {
	Mint    Transaction // exactly one output: the block reward
	VT      []VTTransaction
	DR      []DRTransaction
	Commit  []CommitTransaction
	Reveal  []RevealTransaction
	Tally   []TallyTransaction
}

// Block is {header, txns}. Its identity is the hash of its
// header, not of the whole block: the transaction lists only need to match
// the header's merkle roots.
type Block struct {
	Header BlockHeader
	Txns   BlockTransactions
}

// Hash returns the block's identity hash: the hash of its header.
func (b Block) Hash() Hash {
	return HashFromBytes(SerializeBlockHeader(b.Header))
}

// CheckMerkleRoots verifies the structural invariant that each transaction
// list's merkle root matches what the header claims. It does not check
// anything about the transactions themselves;
// that is the Block Validator's job (validation/validator.go).
func (b Block) CheckMerkleRoots() error {
	roots := ComputeMerkleRoots(b.Txns)

	if roots != b.Header.MerkleRoots {
		return fmt.Errorf("chain: merkle roots mismatch: header claims %+v, computed %+v", b.Header.MerkleRoots, roots)
	}
	return nil
}

// ComputeMerkleRoots derives the per-kind merkle roots a block header must
// carry for the given transaction lists. Block builders use it to fill a
// header; CheckMerkleRoots uses it to verify one.
func ComputeMerkleRoots(txns BlockTransactions) MerkleRoots {
	return MerkleRoots{
		MintHash:          txns.Mint.Hash(),
		ValueTransferRoot: merkleRootOf(vtHashes(txns.VT)),
		DataRequestRoot:   merkleRootOf(drHashes(txns.DR)),
		CommitRoot:        merkleRootOf(commitHashes(txns.Commit)),
		RevealRoot:        merkleRootOf(revealHashes(txns.Reveal)),
		TallyRoot:         merkleRootOf(tallyHashes(txns.Tally)),
	}
}

func vtHashes(txs []VTTransaction) []Hash {
	out := make([]Hash, len(txs))
	for i, t := range txs {
		out[i] = t.Body.Hash()
	}
	return out
}

func drHashes(txs []DRTransaction) []Hash {
	out := make([]Hash, len(txs))
	for i, t := range txs {
		out[i] = t.Body.Hash()
	}
	return out
}

func commitHashes(txs []CommitTransaction) []Hash {
	out := make([]Hash, len(txs))
	for i, t := range txs {
		out[i] = t.Body.Hash()
	}
	return out
}

func revealHashes(txs []RevealTransaction) []Hash {
	out := make([]Hash, len(txs))
	for i, t := range txs {
		out[i] = t.Body.Hash()
	}
	return out
}

func tallyHashes(txs []TallyTransaction) []Hash {
	out := make([]Hash, len(txs))
	for i, t := range txs {
		out[i] = t.Body.Hash()
	}
	return out
}

// merkleRootOf computes a simple binary merkle root over a list of leaf
// hashes. An empty list roots to the zero hash, matching the convention used
// for blocks that carry no transactions of a given kind.
func merkleRootOf(leaves []Hash) Hash {
	if len(leaves) == 0 {
		return ZeroHash
	}
	level := leaves
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, pairHash(level[i], level[i]))
			} else {
				next = append(next, pairHash(level[i], level[i+1]))
			}
		}
		level = next
	}
	return level[0]
}

func pairHash(a, b Hash) Hash {
	buf := make([]byte, 0, 2*HashSize)
	buf = append(buf, a.Bytes()...)
	buf = append(buf, b.Bytes()...)
	return HashFromBytes(buf)
}
