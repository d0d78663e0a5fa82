// Package mempool implements the Transaction Pool: a
// hash-keyed, kind-partitioned store of pending value-transfer, data
// request, commit and reveal transactions, sitting in front of block
// candidate construction.
package mempool

import (
	"errors"
	"sort"
	"sync"

	"github.com/witnet/witnet-go/chain"
)

// Errors returned by Insert: the caller drops the transaction and, on repeat
// offense, may ban the sender, but nothing here alters consensus state.
var (
	ErrDuplicateTransaction = errors.New("mempool: transaction already present")
	ErrUnknownInput         = errors.New("mempool: input does not resolve to an unspent output")
)

// UTXOSet is the narrow view into chain state the pool needs to validate
// that a transaction's inputs are currently spendable. chainstate.State
// satisfies this.
type UTXOSet interface {
	Contains(chain.OutputPointer) bool
}

// Pool is the hash-keyed, kind-partitioned mempool.
// It is owned exclusively by the Chain State Machine (chainmanager), which
// serializes all access the same way every other actor in this system
// serializes access to its own state. Pool's own mutex exists
// only to let the RPC-facing insert path and the mining path run
// concurrently with the tick loop without racing each other.
type Pool struct {
	mu sync.Mutex

	vt      map[chain.Hash]chain.VTTransaction
	dr      map[chain.Hash]chain.DRTransaction
	commit  map[chain.Hash]chain.CommitTransaction
	reveal  map[chain.Hash]chain.RevealTransaction
	pending map[chain.Hash]struct{}
}

// New constructs an empty Pool.
func New() *Pool {
	return &Pool{
		vt:      make(map[chain.Hash]chain.VTTransaction),
		dr:      make(map[chain.Hash]chain.DRTransaction),
		commit:  make(map[chain.Hash]chain.CommitTransaction),
		reveal:  make(map[chain.Hash]chain.RevealTransaction),
		pending: make(map[chain.Hash]struct{}),
	}
}

// contains reports whether hash is already tracked by any partition,
// regardless of kind. Callers must hold mu.
func (p *Pool) contains(hash chain.Hash) bool {
	if _, ok := p.vt[hash]; ok {
		return true
	}
	if _, ok := p.dr[hash]; ok {
		return true
	}
	if _, ok := p.commit[hash]; ok {
		return true
	}
	if _, ok := p.reveal[hash]; ok {
		return true
	}
	return false
}

// InsertVT inserts a value-transfer transaction after checking it is not a
// duplicate and that every input currently resolves to an unspent output.
func (p *Pool) InsertVT(tx chain.VTTransaction, utxo UTXOSet) error {
	return p.insert(tx.Body, utxo, func(hash chain.Hash) { p.vt[hash] = tx })
}

// InsertDR inserts a data-request transaction.
func (p *Pool) InsertDR(tx chain.DRTransaction, utxo UTXOSet) error {
	return p.insert(tx.Body, utxo, func(hash chain.Hash) { p.dr[hash] = tx })
}

// InsertCommit inserts a commit transaction.
func (p *Pool) InsertCommit(tx chain.CommitTransaction, utxo UTXOSet) error {
	return p.insert(tx.Body, utxo, func(hash chain.Hash) { p.commit[hash] = tx })
}

// InsertReveal inserts a reveal transaction.
func (p *Pool) InsertReveal(tx chain.RevealTransaction, utxo UTXOSet) error {
	return p.insert(tx.Body, utxo, func(hash chain.Hash) { p.reveal[hash] = tx })
}

func (p *Pool) insert(body chain.Transaction, utxo UTXOSet, store func(chain.Hash)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash := body.Hash()
	if p.contains(hash) {
		return ErrDuplicateTransaction
	}
	for _, in := range body.Inputs {
		if !utxo.Contains(in) {
			log.Debugf("mempool: rejecting %s: input %s is not an unspent output", hash, in)
			return ErrUnknownInput
		}
	}

	store(hash)
	log.Tracef("mempool: accepted transaction %s", hash)
	return nil
}

// MarkPending moves hash out of normal iteration while its signature
// verification is in flight: the transaction stays in its kind partition,
// but every iterator skips it until ResolvePending, so block candidate
// construction never includes a transaction whose signatures have not
// been checked yet.
func (p *Pool) MarkPending(hash chain.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[hash] = struct{}{}
}

// ResolvePending makes hash visible to iteration again once its
// verification completed: only the pending flag changes, since a failed
// verification is a rejection handled by the caller (Remove), not by
// this pool.
func (p *Pool) ResolvePending(hash chain.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, hash)
}

// ClearPendingTransactions discards every transaction still marked pending,
// as invoked at each epoch boundary before mining: a
// verification that hasn't completed by the next tick is stale.
func (p *Pool) ClearPendingTransactions() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for hash := range p.pending {
		delete(p.vt, hash)
		delete(p.dr, hash)
		delete(p.commit, hash)
		delete(p.reveal, hash)
	}
	p.pending = make(map[chain.Hash]struct{})
}

// ClearCommits discards every pending commit transaction. Invoked once per
// epoch boundary: commits never survive across epochs, since a
// stale commit window no longer applies to any open data request.
func (p *Pool) ClearCommits() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commit = make(map[chain.Hash]chain.CommitTransaction)
}

// Has reports whether hash is currently tracked by any partition.
func (p *Pool) Has(hash chain.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contains(hash)
}

// Remove discards hash from whichever partition holds it. Used when a
// transaction is consolidated into a block, or when it is rejected after
// being held pending.
func (p *Pool) Remove(hash chain.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.vt, hash)
	delete(p.dr, hash)
	delete(p.commit, hash)
	delete(p.reveal, hash)
	delete(p.pending, hash)
}

// VTIter returns every queued value-transfer transaction whose
// verification is not in flight, hash-sorted for a stable, deterministic
// order across calls against the same snapshot, so block candidate
// construction is reproducible.
func (p *Pool) VTIter() []chain.VTTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]chain.VTTransaction, 0, len(p.vt))
	for hash, tx := range p.vt {
		if _, pending := p.pending[hash]; pending {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		return less(out[i].Body.Hash(), out[j].Body.Hash())
	})
	return out
}

// DRIter returns every queued data-request transaction, hash-sorted,
// skipping in-flight verifications like VTIter.
func (p *Pool) DRIter() []chain.DRTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]chain.DRTransaction, 0, len(p.dr))
	for hash, tx := range p.dr {
		if _, pending := p.pending[hash]; pending {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		return less(out[i].Body.Hash(), out[j].Body.Hash())
	})
	return out
}

// CommitIter returns every queued commit transaction, hash-sorted,
// skipping in-flight verifications like VTIter.
func (p *Pool) CommitIter() []chain.CommitTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]chain.CommitTransaction, 0, len(p.commit))
	for hash, tx := range p.commit {
		if _, pending := p.pending[hash]; pending {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		return less(out[i].Body.Hash(), out[j].Body.Hash())
	})
	return out
}

// RevealIter returns every queued reveal transaction, hash-sorted,
// skipping in-flight verifications like VTIter.
func (p *Pool) RevealIter() []chain.RevealTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]chain.RevealTransaction, 0, len(p.reveal))
	for hash, tx := range p.reveal {
		if _, pending := p.pending[hash]; pending {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		return less(out[i].Body.Hash(), out[j].Body.Hash())
	})
	return out
}

// VTLen, DRLen, CommitLen and RevealLen report partition sizes; the
// node-stats gauges read VTLen and DRLen.
func (p *Pool) VTLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.vt)
}

func (p *Pool) DRLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dr)
}

func (p *Pool) CommitLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.commit)
}

func (p *Pool) RevealLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reveal)
}

func less(a, b chain.Hash) bool {
	return string(a.Bytes()) < string(b.Bytes())
}
