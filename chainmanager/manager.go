// Package chainmanager implements the Chain State Machine: the
// single actor that owns ChainState, the transaction mempool and the
// data-request pool, drives the WaitingConsensus/Synchronizing/AlmostSynced/
// Synced lifecycle off epoch ticks and peer beacons, and consolidates
// blocks into the chain.
package chainmanager

import (
	"fmt"
	"sync"

	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/chainstate"
	"github.com/witnet/witnet-go/config"
	"github.com/witnet/witnet-go/datarequest"
	"github.com/witnet/witnet-go/epochmanager"
	"github.com/witnet/witnet-go/mempool"
	"github.com/witnet/witnet-go/radon"
	"github.com/witnet/witnet-go/session"
	"github.com/witnet/witnet-go/syncmgr"
	"github.com/witnet/witnet-go/validation"
)

// SMState is the Chain State Machine's position in its lifecycle.
type SMState int

const (
	WaitingConsensus SMState = iota
	Synchronizing
	AlmostSynced
	Synced
)

func (s SMState) String() string {
	switch s {
	case WaitingConsensus:
		return "WaitingConsensus"
	case Synchronizing:
		return "Synchronizing"
	case AlmostSynced:
		return "AlmostSynced"
	case Synced:
		return "Synced"
	default:
		return "Unknown"
	}
}

// Sessions is the Chain State Machine's outbound half of the Session
// Interface contract. The Session layer implements
// it; tests substitute a recorder.
type Sessions interface {
	Broadcast(msg session.Message, onlyInbound bool)
	RequestBlocks(from chain.CheckpointBeacon, limit uint32)
	AnnounceBlock(hash chain.Hash)
	SetLastBeacon(b chain.LastBeacon)
	Unregister(peers []string)
}

// Store is the slice of the Persistence Bridge the manager needs.
// *persistence.Store satisfies it.
type Store interface {
	PutChainState(chainstate.Snapshot) error
	GetChainState() (chainstate.Snapshot, bool, error)
	PutFinishedDataRequest(pointer chain.OutputPointer, report []byte) error
	PutBlock(b chain.Block) error
}

// VRF is the external proof-of-eligibility service: Prove derives this
// node's eligibility proof from a seed, Verify checks someone else's.
type VRF interface {
	Prove(seed chain.Hash) (chain.VRFProof, bool)
	Verify(proof chain.VRFProof, seed chain.Hash) bool
}

// BlockCandidate is the speculative state accumulated for one candidate
// block during an epoch: at most one of these is consolidated
// per tick.
type BlockCandidate struct {
	Block    chain.Block
	UtxoDiff chainstate.UtxoDiff
	VRFProof chain.VRFProof
}

// reBroadcastEpochs is how many epochs may elapse in Synchronizing with no
// AddBlocks reply before the pending block request is re-issued.
const reBroadcastEpochs = 10

// blockRequestLimit bounds a single RequestBlocks ask.
const blockRequestLimit = 500

// Config bundles everything a Manager needs at construction time.
type Config struct {
	Constants   config.ConsensusConstants
	Connections config.ConnectionsConfig
	Mining      config.MiningConfig

	State     *chainstate.State
	Mempool   *mempool.Pool
	DRPool    *datarequest.Pool
	Validator *validation.Validator
	Rad       *radon.Engine
	Sessions  Sessions
	Store     Store
	VRF       VRF

	// VerifyTx is the external signature-verification service. A freshly
	// inserted transaction is held pending until it returns; nil means
	// signatures are checked elsewhere and every insert is final
	// immediately.
	VerifyTx func(chain.Transaction) error

	// OwnPKH identifies this node as a witness/ARS member.
	OwnPKH chain.PublicKeyHash
}

// Manager is the Chain State Machine actor. It owns its state exclusively
// and processes one message at a time to completion: every external entry
// point enqueues onto msgs, and run() is the only goroutine that touches
// the fields below it.
type Manager struct {
	cfg Config

	msgs chan interface{}
	quit chan struct{}
	wg   sync.WaitGroup

	// Everything below is owned by run() exclusively.
	sm           SMState
	currentEpoch chain.Epoch
	target       syncmgr.SyncTarget
	haveTarget   bool

	bestCandidate  *BlockCandidate
	seenCandidates map[chain.Hash]struct{}

	// peersBeaconsReceived gates each tick: a tick with no PeersBeacons
	// since the previous one forces WaitingConsensus before the gap
	// check even runs.
	peersBeaconsReceived bool

	// lastBatchEpoch is the epoch at which the last AddBlocks batch (or
	// block request) was observed, for the Synchronizing re-request
	// timer.
	lastBatchEpoch chain.Epoch

	votes *superblockVotes

	metrics *managerMetrics
}

// internal message envelopes; one variant per inbound message the actor
// accepts.
type (
	tickMsg struct{ n epochmanager.Notification }

	peersBeaconsMsg struct{ m session.PeersBeacons }

	addBlocksMsg struct{ m session.AddBlocks }

	addCandidatesMsg struct{ m session.AddCandidates }

	addTransactionMsg struct{ m session.AddTransaction }

	addSuperBlockVoteMsg struct{ m session.AddSuperBlockVote }

	// txVerifiedMsg carries a signature-verification verdict back into
	// the actor loop for the transaction held pending meanwhile.
	txVerifiedMsg struct {
		tx  session.TransactionMsg
		err error
	}

	statusQuery struct{ reply chan Status }
)

// Status is the snapshot answered to a StatusQuery.
type Status struct {
	State        SMState
	CurrentEpoch chain.Epoch
	Tip          chain.CheckpointBeacon
	Superblock   chainstate.SuperblockState
}

// New constructs a Manager. Call Start to launch its actor loop.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:            cfg,
		msgs:           make(chan interface{}, 64),
		quit:           make(chan struct{}),
		sm:             WaitingConsensus,
		seenCandidates: make(map[chain.Hash]struct{}),
		votes:          newSuperblockVotes(),
		metrics:        newManagerMetrics(),
	}
}

// SetSessions installs the outbound Session handle. The manager and the
// session registry reference each other (inbound via session.Handler,
// outbound via Sessions), so whichever is built second is wired in here.
// Must be called before Start.
func (m *Manager) SetSessions(s Sessions) {
	m.cfg.Sessions = s
}

// Start launches the actor loop. If the Persistence Bridge holds a chain
// state snapshot it is restored first, so a restarted node resumes from
// its last consolidated tip rather than genesis.
func (m *Manager) Start() error {
	snap, ok, err := m.cfg.Store.GetChainState()
	if err != nil {
		return fmt.Errorf("chainmanager: cannot restore chain state: %w", err)
	}
	if ok {
		m.cfg.State.Restore(snap)
		log.Infof("Restored chain state at tip %s", snap.Info.HighestBlockCheckpoint)
	}

	m.wg.Add(1)
	go m.run()
	return nil
}

// Stop terminates the actor loop and waits for it to drain.
func (m *Manager) Stop() {
	close(m.quit)
	m.wg.Wait()
}

func (m *Manager) run() {
	defer m.wg.Done()

	for {
		select {
		case msg := <-m.msgs:
			m.dispatch(msg)
		case <-m.quit:
			return
		}
	}
}

func (m *Manager) dispatch(msg interface{}) {
	switch t := msg.(type) {
	case tickMsg:
		m.handleEpochNotification(t.n)
	case peersBeaconsMsg:
		m.handlePeersBeacons(t.m)
	case addBlocksMsg:
		m.handleAddBlocks(t.m)
	case addCandidatesMsg:
		m.handleAddCandidates(t.m)
	case addTransactionMsg:
		m.handleAddTransaction(t.m)
	case addSuperBlockVoteMsg:
		m.handleAddSuperBlockVote(t.m)
	case txVerifiedMsg:
		m.handleTxVerified(t)
	case statusQuery:
		t.reply <- Status{
			State:        m.sm,
			CurrentEpoch: m.currentEpoch,
			Tip:          m.cfg.State.Tip(),
			Superblock:   m.superblockState(),
		}
	default:
		log.Warnf("Dropping unhandled message %T", msg)
	}
}

func (m *Manager) send(msg interface{}) {
	select {
	case m.msgs <- msg:
	case <-m.quit:
	}
}

// NotifyTick delivers an epoch-boundary notification. Called by the node
// wiring from the Epoch Clock's subscription channel.
func (m *Manager) NotifyTick(n epochmanager.Notification) {
	m.send(tickMsg{n: n})
}

// HandlePeersBeacons implements session.Handler.
func (m *Manager) HandlePeersBeacons(pb session.PeersBeacons) {
	m.send(peersBeaconsMsg{m: pb})
}

// HandleAddBlocks implements session.Handler.
func (m *Manager) HandleAddBlocks(ab session.AddBlocks) {
	m.send(addBlocksMsg{m: ab})
}

// HandleAddCandidates implements session.Handler.
func (m *Manager) HandleAddCandidates(ac session.AddCandidates) {
	m.send(addCandidatesMsg{m: ac})
}

// HandleAddTransaction implements session.Handler.
func (m *Manager) HandleAddTransaction(at session.AddTransaction) {
	m.send(addTransactionMsg{m: at})
}

// HandleAddSuperBlockVote implements session.Handler.
func (m *Manager) HandleAddSuperBlockVote(av session.AddSuperBlockVote) {
	m.send(addSuperBlockVoteMsg{m: av})
}

// QueryStatus asks the actor for its current status snapshot.
func (m *Manager) QueryStatus() Status {
	reply := make(chan Status, 1)
	select {
	case m.msgs <- statusQuery{reply: reply}:
		return <-reply
	case <-m.quit:
		return Status{}
	}
}

// transition moves the state machine. Synced is only reachable from
// AlmostSynced or Synced itself, and the
// SYNCED banner is logged exactly on the AlmostSynced -> Synced edge.
func (m *Manager) transition(to SMState) {
	if to == m.sm {
		return
	}
	if to == Synced && m.sm != AlmostSynced {
		panic(fmt.Sprintf("chainmanager: illegal transition %s -> Synced", m.sm))
	}

	log.Infof("State transition: %s -> %s", m.sm, to)
	if to == Synced {
		logSyncedBanner()
	}
	m.sm = to
	m.metrics.setState(to)

	if to == WaitingConsensus {
		m.dropCandidates()
	}
}

func (m *Manager) dropCandidates() {
	m.bestCandidate = nil
	m.seenCandidates = make(map[chain.Hash]struct{})
}

// ourLastBeacon is the beacon this node advertises to peers: the
// consolidated block tip plus the last consolidated superblock.
func (m *Manager) ourLastBeacon() chain.LastBeacon {
	sb := m.superblockState()
	return chain.LastBeacon{
		HighestBlockCheckpoint:      m.cfg.State.Tip(),
		HighestSuperblockCheckpoint: sb.Beacon,
	}
}

func (m *Manager) superblockState() chainstate.SuperblockState {
	return m.cfg.State.SuperblockInfo()
}
