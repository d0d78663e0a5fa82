// Package datarequest implements the Data-Request Pool: the
// per-data-request lifecycle state machine New -> Commit -> Reveal ->
// Tally -> Finished, advanced purely by block consolidation.
package datarequest

import (
	"errors"
	"sort"
	"sync"

	"github.com/witnet/witnet-go/chain"
)

// Stage is a data request's position in its lifecycle.
type Stage uint8

const (
	StageCommit Stage = iota
	StageReveal
	StageTally
	StageFinished
)

func (s Stage) String() string {
	switch s {
	case StageCommit:
		return "Commit"
	case StageReveal:
		return "Reveal"
	case StageTally:
		return "Tally"
	case StageFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Errors returned while feeding transactions into a tracked data request.
var (
	ErrUnknownDataRequest = errors.New("datarequest: no such data request")
	ErrWrongStage         = errors.New("datarequest: transaction does not match the data request's current stage")
	ErrCommitWindowClosed = errors.New("datarequest: commit window for this data request has closed")
	ErrDuplicateCommit    = errors.New("datarequest: witness already committed to this data request")
	ErrUnmatchedReveal    = errors.New("datarequest: reveal does not match any existing commit")
	ErrDuplicateReveal    = errors.New("datarequest: commit position already revealed")
)

// CommitEntry records one witness's commitment to a data request.
type CommitEntry struct {
	PKH        chain.PublicKeyHash
	Commitment chain.Hash
	TxHash     chain.Hash
}

// RevealEntry records one witness's disclosed RAD result. Position is the
// index of the commit slot the reveal bound to, assigned by AddReveal.
type RevealEntry struct {
	PKH      chain.PublicKeyHash
	Reveal   []byte
	TxHash   chain.Hash
	Position uint32
}

// State is the full lifecycle record the pool keeps for one data request.
type State struct {
	Pointer       chain.OutputPointer
	Output        chain.DataRequestOutput
	Stage         Stage
	OpenedAt      chain.Epoch
	CommitWindow  chain.Epoch // epoch at which the commit window closes
	RevealWindow  chain.Epoch // epoch at which the reveal window closes
	MinCommits    uint16

	Commits []CommitEntry
	Reveals []RevealEntry

	// stashedReveals holds reveal transactions that arrived alongside
	// their own commit, held back so they are only rebroadcast once the
	// commit itself is accepted.
	stashedReveals []chain.RevealTransaction
}

// Pool tracks every non-Finished data request, keyed by its output pointer.
// Owned exclusively by the Chain State Machine.
type Pool struct {
	mu  sync.Mutex
	drs map[chain.OutputPointer]*State
}

// New constructs an empty Pool.
func New() *Pool {
	return &Pool{drs: make(map[chain.OutputPointer]*State)}
}

// AddDataRequest registers a new data request, opening its commit window.
// Called when a DR transaction's block is consolidated.
func (p *Pool) AddDataRequest(pointer chain.OutputPointer, out chain.DataRequestOutput, openedAt chain.Epoch, commitWindowEpochs, revealWindowEpochs chain.Epoch, minCommits uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.drs[pointer] = &State{
		Pointer:      pointer,
		Output:       out,
		Stage:        StageCommit,
		OpenedAt:     openedAt,
		CommitWindow: openedAt + commitWindowEpochs,
		RevealWindow: openedAt + commitWindowEpochs + revealWindowEpochs,
		MinCommits:   minCommits,
	}
	log.Debugf("datarequest: opened %s, commit window closes at epoch %d", pointer, openedAt+commitWindowEpochs)
}

// AddCommit records a commit transaction against its data request. The
// caller has already verified the transaction's input resolves to the DR
// output (semantic validation, validation/validator.go); this only enforces
// the pool's own stage/window invariants.
func (p *Pool) AddCommit(pointer chain.OutputPointer, entry CommitEntry, epoch chain.Epoch) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.drs[pointer]
	if !ok {
		return ErrUnknownDataRequest
	}
	if st.Stage != StageCommit {
		return ErrWrongStage
	}
	if epoch > st.CommitWindow {
		return ErrCommitWindowClosed
	}
	for _, c := range st.Commits {
		if c.PKH == entry.PKH {
			// One commit slot per witness: a second commitment cannot
			// displace or duplicate the first.
			return ErrDuplicateCommit
		}
	}

	st.Commits = append(st.Commits, entry)
	return nil
}

// StashReveal holds a reveal transaction that arrived bundled with its
// own commit, so it is not rebroadcast ahead of the commit being
// accepted.
func (p *Pool) StashReveal(pointer chain.OutputPointer, tx chain.RevealTransaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.drs[pointer]
	if !ok {
		return ErrUnknownDataRequest
	}
	st.stashedReveals = append(st.stashedReveals, tx)
	return nil
}

// TakeStashedReveals returns and clears the reveal transactions stashed
// against pointer, for the caller to feed through the normal broadcast
// path now that the commit they were bundled with has been accepted.
func (p *Pool) TakeStashedReveals(pointer chain.OutputPointer) []chain.RevealTransaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.drs[pointer]
	if !ok {
		return nil
	}
	out := st.stashedReveals
	st.stashedReveals = nil
	return out
}

// AddReveal records a reveal transaction, requiring it to match an
// existing commit by witness and position: the reveal binds to the slot
// its witness committed at, and each slot accepts at most one reveal.
func (p *Pool) AddReveal(pointer chain.OutputPointer, entry RevealEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.drs[pointer]
	if !ok {
		return ErrUnknownDataRequest
	}
	if st.Stage != StageReveal {
		return ErrWrongStage
	}

	position := -1
	for i, c := range st.Commits {
		if c.PKH == entry.PKH {
			position = i
			break
		}
	}
	if position < 0 {
		return ErrUnmatchedReveal
	}
	for _, r := range st.Reveals {
		if r.Position == uint32(position) {
			return ErrDuplicateReveal
		}
	}

	entry.Position = uint32(position)
	st.Reveals = append(st.Reveals, entry)
	return nil
}

// Tally transitions pointer to StageFinished and returns its final state
// for the caller to persist. The caller
// is responsible for constructing and validating the Tally transaction
// itself (validation/validator.go + radon.Engine.RunTally); this method
// only retires the pool entry once that has happened.
func (p *Pool) Tally(pointer chain.OutputPointer) (*State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.drs[pointer]
	if !ok {
		return nil, ErrUnknownDataRequest
	}
	st.Stage = StageFinished
	delete(p.drs, pointer)
	return st, nil
}

// UpdateDataRequestStages advances every data request whose window just
// closed as of currentEpoch: every data request whose commit window closed
// with at least MinCommits valid commits moves to StageReveal. It returns
// the hash-sorted pointers of the requests it advanced, whose stashed
// reveals should now be broadcast.
// One with fewer than MinCommits commits is left in StageCommit; this pool
// never retires or retries an under-committed request.
func (p *Pool) UpdateDataRequestStages(currentEpoch chain.Epoch) []chain.OutputPointer {
	p.mu.Lock()
	defer p.mu.Unlock()

	var advanced []chain.OutputPointer
	for pointer, st := range p.drs {
		if st.Stage == StageCommit && currentEpoch > st.CommitWindow && len(st.Commits) >= int(st.MinCommits) {
			st.Stage = StageReveal
			advanced = append(advanced, pointer)
		}
	}
	sort.Slice(advanced, func(i, j int) bool {
		return pointerLess(advanced[i], advanced[j])
	})
	return advanced
}

// ReadyForTally returns the pointers of every data request whose reveal
// window has closed and is still in StageReveal, hash-sorted.
func (p *Pool) ReadyForTally(currentEpoch chain.Epoch) []chain.OutputPointer {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ready []chain.OutputPointer
	for pointer, st := range p.drs {
		if st.Stage == StageReveal && currentEpoch > st.RevealWindow {
			ready = append(ready, pointer)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return pointerLess(ready[i], ready[j]) })
	return ready
}

// InCommitStage returns a copy of every data request whose commit window
// is still open as of currentEpoch, hash-sorted, for the mining path to
// decide which requests to witness this epoch.
func (p *Pool) InCommitStage(currentEpoch chain.Epoch) []State {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []State
	for _, st := range p.drs {
		if st.Stage == StageCommit && currentEpoch <= st.CommitWindow {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return pointerLess(out[i].Pointer, out[j].Pointer) })
	return out
}

// Get returns a copy of the tracked state for pointer, if any.
func (p *Pool) Get(pointer chain.OutputPointer) (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.drs[pointer]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Len reports how many data requests are currently tracked (i.e. not yet
// Finished).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.drs)
}

func pointerLess(a, b chain.OutputPointer) bool {
	ah, bh := a.TransactionHash.Bytes(), b.TransactionHash.Bytes()
	for i := range ah {
		if ah[i] != bh[i] {
			return ah[i] < bh[i]
		}
	}
	return a.OutputIndex < b.OutputIndex
}
