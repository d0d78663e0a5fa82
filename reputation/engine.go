// Package reputation tracks each witness's earned reputation score and
// derives the two views other components need: the total reputation set
// (TRS, every witness with nonzero score) and the active reputation set
// (ARS, the subset that has been seen within the configured activity
// period), the latter being who may sign superblock votes.
package reputation

import (
	"sort"
	"sync"

	"github.com/witnet/witnet-go/chain"
)

// Entry is one witness's reputation bookkeeping.
type Entry struct {
	PKH        chain.PublicKeyHash
	Score      uint64
	LastActive chain.Epoch
}

// Engine is the reputation bookkeeping singly owned by ChainState: an
// identity-keyed, in-memory "scored info, queryable as a set" store.
type Engine struct {
	mu             sync.RWMutex
	entries        map[chain.PublicKeyHash]*Entry
	activityPeriod uint32
}

// New constructs an Engine. activityPeriod is the number of epochs a
// witness must have been active within to remain in the ARS.
func New(activityPeriod uint32) *Engine {
	return &Engine{
		entries:        make(map[chain.PublicKeyHash]*Entry),
		activityPeriod: activityPeriod,
	}
}

// AddReputation credits delta to pkh's score and marks it active as of
// epoch. Called on tally consolidation for every witness in consensus.
func (e *Engine) AddReputation(pkh chain.PublicKeyHash, delta uint64, epoch chain.Epoch) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[pkh]
	if !ok {
		entry = &Entry{PKH: pkh}
		e.entries[pkh] = entry
	}
	entry.Score += delta
	if epoch > entry.LastActive {
		entry.LastActive = epoch
	}
}

// Penalize subtracts delta from pkh's score, saturating at zero, for
// witnesses that committed but did not reveal or were out of tally
// consensus.
func (e *Engine) Penalize(pkh chain.PublicKeyHash, delta uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[pkh]
	if !ok {
		return
	}
	if delta > entry.Score {
		entry.Score = 0
		return
	}
	entry.Score -= delta
}

// GetReputation returns pkh's current score, or 0 if it has none.
func (e *Engine) GetReputation(pkh chain.PublicKeyHash) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if entry, ok := e.entries[pkh]; ok {
		return entry.Score
	}
	return 0
}

// IsActive reports whether pkh was active within activityPeriod epochs of
// currentEpoch, the membership rule for the ARS.
func (e *Engine) IsActive(pkh chain.PublicKeyHash, currentEpoch chain.Epoch) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.entries[pkh]
	if !ok {
		return false
	}
	return currentEpoch-entry.LastActive <= chain.Epoch(e.activityPeriod)
}

// TRS returns every witness with nonzero reputation, the total reputation
// set, hash-sorted for a deterministic snapshot.
func (e *Engine) TRS() []Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Entry, 0, len(e.entries))
	for _, entry := range e.entries {
		if entry.Score > 0 {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].PKH[:]) < string(out[j].PKH[:]) })
	return out
}

// ARS returns the active reputation set as of currentEpoch: every witness
// with nonzero reputation that has also been active recently enough to
// sign a superblock vote.
func (e *Engine) ARS(currentEpoch chain.Epoch) []Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Entry, 0, len(e.entries))
	for _, entry := range e.entries {
		if entry.Score == 0 {
			continue
		}
		if currentEpoch-entry.LastActive > chain.Epoch(e.activityPeriod) {
			continue
		}
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].PKH[:]) < string(out[j].PKH[:]) })
	return out
}
