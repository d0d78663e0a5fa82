package chainmanager

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/chainstate"
	"github.com/witnet/witnet-go/config"
	"github.com/witnet/witnet-go/datarequest"
	"github.com/witnet/witnet-go/epochmanager"
	"github.com/witnet/witnet-go/mempool"
	"github.com/witnet/witnet-go/radon"
	"github.com/witnet/witnet-go/reputation"
	"github.com/witnet/witnet-go/session"
	"github.com/witnet/witnet-go/syncmgr"
	"github.com/witnet/witnet-go/validation"
)

// recordingSessions captures every outbound Session call for assertions.
type recordingSessions struct {
	broadcasts    []session.Message
	blockRequests []chain.CheckpointBeacon
	announced     []chain.Hash
	lastBeacons   []chain.LastBeacon
	unregistered  [][]string
}

func (r *recordingSessions) Broadcast(msg session.Message, onlyInbound bool) {
	r.broadcasts = append(r.broadcasts, msg)
}
func (r *recordingSessions) RequestBlocks(from chain.CheckpointBeacon, limit uint32) {
	r.blockRequests = append(r.blockRequests, from)
}
func (r *recordingSessions) AnnounceBlock(hash chain.Hash) {
	r.announced = append(r.announced, hash)
}
func (r *recordingSessions) SetLastBeacon(b chain.LastBeacon) {
	r.lastBeacons = append(r.lastBeacons, b)
}
func (r *recordingSessions) Unregister(peers []string) {
	r.unregistered = append(r.unregistered, peers)
}

// memStore is an in-memory Store, standing in for the Persistence Bridge.
type memStore struct {
	snap    *chainstate.Snapshot
	reports map[string][]byte
	blocks  map[chain.Hash]chain.Block
}

func newMemStore() *memStore {
	return &memStore{
		reports: make(map[string][]byte),
		blocks:  make(map[chain.Hash]chain.Block),
	}
}

func (s *memStore) PutChainState(snap chainstate.Snapshot) error {
	s.snap = &snap
	return nil
}
func (s *memStore) GetChainState() (chainstate.Snapshot, bool, error) {
	if s.snap == nil {
		return chainstate.Snapshot{}, false, nil
	}
	return *s.snap, true, nil
}
func (s *memStore) PutFinishedDataRequest(pointer chain.OutputPointer, report []byte) error {
	s.reports[pointer.String()] = report
	return nil
}
func (s *memStore) PutBlock(b chain.Block) error {
	s.blocks[b.Hash()] = b
	return nil
}

func testConstants() config.ConsensusConstants {
	return config.ConsensusConstants{
		CheckpointsPeriod: 45,
		SuperblockPeriod:  10,
		ActivityPeriod:    2000,
	}
}

func newTestManager(t *testing.T) (*Manager, *recordingSessions, *memStore) {
	t.Helper()

	constants := testConstants()
	sessions := &recordingSessions{}
	store := newMemStore()
	state := chainstate.New("test", reputation.New(constants.ActivityPeriod))

	m := New(Config{
		Constants: constants,
		Connections: config.ConnectionsConfig{
			OutboundLimit: 4,
			ConsensusC:    51,
		},
		State:     state,
		Mempool:   mempool.New(),
		DRPool:    datarequest.New(),
		Validator: validation.New(constants, validation.DefaultLimits),
		Sessions:  sessions,
		Store:     store,
	})
	return m, sessions, store
}

func hashOf(b byte) chain.Hash {
	return chain.HashFromBytes([]byte{b})
}

func beacon(epoch chain.Epoch, h chain.Hash) chain.CheckpointBeacon {
	return chain.CheckpointBeacon{Checkpoint: epoch, HashPrevBlock: h}
}

// makeBlock builds a structurally valid block at epoch extending prevHash.
func makeBlock(epoch chain.Epoch, prevHash chain.Hash) chain.Block {
	txns := chain.BlockTransactions{
		Mint: chain.NewMintTransaction(epoch, chain.PublicKeyHash{}, mintReward),
	}
	return chain.Block{
		Header: chain.BlockHeader{
			Version:     chain.TransactionVersion,
			Beacon:      beacon(epoch, prevHash),
			MerkleRoots: chain.ComputeMerkleRoots(txns),
		},
		Txns: txns,
	}
}

func beaconsFrom(peers map[string]chain.LastBeacon) session.PeersBeacons {
	pb := make(map[string]*chain.LastBeacon, len(peers))
	for name, b := range peers {
		b := b
		pb[name] = &b
	}
	return session.PeersBeacons{PB: pb, OutboundLimit: 4}
}

func TestWaitingConsensusToSynchronizing(t *testing.T) {
	m, sessions, _ := newTestManager(t)

	network := chain.LastBeacon{
		HighestBlockCheckpoint:      beacon(100, hashOf(1)),
		HighestSuperblockCheckpoint: beacon(90, hashOf(2)),
	}
	m.handlePeersBeacons(beaconsFrom(map[string]chain.LastBeacon{
		"p1": network, "p2": network, "p3": network,
	}))

	require.Equal(t, Synchronizing, m.sm)
	require.True(t, m.haveTarget)
	require.Equal(t, network.HighestBlockCheckpoint, m.target.Block)
	require.Equal(t, network.HighestSuperblockCheckpoint, m.target.Superblock)
	require.Len(t, sessions.blockRequests, 1)
}

func TestBootstrapBeaconStaysWaiting(t *testing.T) {
	m, sessions, _ := newTestManager(t)

	// Consensus on the bootstrap hash means the chain has no genesis
	// block yet; there is nothing to synchronize towards.
	network := chain.LastBeacon{
		HighestBlockCheckpoint: beacon(0, m.cfg.Constants.BootstrapHash),
	}
	m.handlePeersBeacons(beaconsFrom(map[string]chain.LastBeacon{
		"p1": network, "p2": network, "p3": network,
	}))

	require.Equal(t, WaitingConsensus, m.sm)
	require.Empty(t, sessions.blockRequests)
}

func TestNoConsensusBelowThreshold(t *testing.T) {
	m, sessions, _ := newTestManager(t)
	m.sm = Synced

	// Two agreeing peers out of four outbound slots is
	// below a 51% quorum of 3; silent slots count against consensus.
	network := chain.LastBeacon{HighestBlockCheckpoint: beacon(100, hashOf(1))}
	m.handlePeersBeacons(beaconsFrom(map[string]chain.LastBeacon{
		"p1": network, "p2": network,
	}))

	require.Equal(t, WaitingConsensus, m.sm)
	// Both reporting peers did report; no silent peer to unregister.
	require.Empty(t, sessions.unregistered)
}

func TestAlmostSyncedToSynced(t *testing.T) {
	m, _, _ := newTestManager(t)

	m.cfg.State.SetTip(100, hashOf(1))
	require.NoError(t, m.cfg.State.SetSuperblock(9, beacon(90, hashOf(2))))
	m.sm = AlmostSynced

	ours := m.ourLastBeacon()
	m.handlePeersBeacons(beaconsFrom(map[string]chain.LastBeacon{
		"p1": ours, "p2": ours, "p3": ours,
	}))

	require.Equal(t, Synced, m.sm)
}

func TestForkRollback(t *testing.T) {
	m, _, store := newTestManager(t)

	// Synced with a persisted snapshot, then the network reports a
	// majority on a different hash at our own checkpoint.
	m.cfg.State.SetTip(99, hashOf(9))
	m.cfg.State.SetTip(100, hashOf(1))
	require.NoError(t, m.cfg.State.SetSuperblock(9, beacon(90, hashOf(2))))
	snapshotTip := m.cfg.State.Tip()
	require.NoError(t, store.PutChainState(m.cfg.State.Snapshot()))

	// Diverge in memory past the snapshot.
	m.cfg.State.SetTip(100, hashOf(7))
	m.sm = Synced

	network := chain.LastBeacon{
		HighestBlockCheckpoint:      beacon(100, hashOf(3)),
		HighestSuperblockCheckpoint: beacon(100, hashOf(4)),
	}
	m.handlePeersBeacons(beaconsFrom(map[string]chain.LastBeacon{
		"p1": network, "p2": network, "p3": network,
	}))

	require.Equal(t, WaitingConsensus, m.sm)
	require.Equal(t, snapshotTip, m.cfg.State.Tip())
	require.True(t, m.haveTarget)
	require.Equal(t, network.HighestBlockCheckpoint, m.target.Block)
	require.Equal(t, network.HighestSuperblockCheckpoint, m.target.Superblock)
}

func TestTickWithoutBeaconsForcesWaiting(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.sm = Synced
	m.peersBeaconsReceived = false

	m.handleEpochNotification(epochmanager.Notification{Epoch: 101})

	require.Equal(t, WaitingConsensus, m.sm)
}

func TestTickGapDropsCandidates(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.sm = Synced
	m.peersBeaconsReceived = true
	m.bestCandidate = &BlockCandidate{}

	m.handleEpochNotification(epochmanager.Notification{Epoch: 105, Gap: true})

	require.Equal(t, WaitingConsensus, m.sm)
	require.Nil(t, m.bestCandidate)
}

func TestTickConsolidatesBestCandidate(t *testing.T) {
	m, sessions, store := newTestManager(t)
	m.sm = Synced
	m.peersBeaconsReceived = true

	block := makeBlock(1, chain.ZeroHash)
	diff, err := m.cfg.Validator.ValidateSemantic(block, m.cfg.State, 1)
	require.NoError(t, err)
	m.bestCandidate = &BlockCandidate{Block: block, UtxoDiff: diff}

	m.handleEpochNotification(epochmanager.Notification{Epoch: 2})

	require.Equal(t, beacon(1, block.Hash()), m.cfg.State.Tip())
	require.Contains(t, store.blocks, block.Hash())
	require.NotNil(t, store.snap, "consolidation must persist a snapshot")
	require.Contains(t, sessions.announced, block.Hash())
	require.Nil(t, m.bestCandidate, "candidates reset every tick")

	// The mint output entered the UTXO set.
	mintPointer := chain.OutputPointer{TransactionHash: block.Txns.Mint.Hash()}
	require.True(t, m.cfg.State.Contains(mintPointer))
}

func TestSynchronizeToAlmostSynced(t *testing.T) {
	m, sessions, _ := newTestManager(t)

	m.sm = Synchronizing
	m.currentEpoch = 25
	m.haveTarget = true

	b5 := makeBlock(5, chain.ZeroHash)
	b15 := makeBlock(15, b5.Hash())
	b19 := makeBlock(19, b15.Hash())

	m.target = syncmgr.SyncTarget{
		Superblock: beacon(2, hashOf(1)),
		Block:      beacon(19, b19.Hash()),
	}

	// First batch stops short of the target: consolidate and re-request.
	m.handleAddBlocks(session.AddBlocks{Peer: "p1", Blocks: []chain.Block{b5, b15}})
	require.Equal(t, Synchronizing, m.sm)
	require.Equal(t, beacon(15, b15.Hash()), m.cfg.State.Tip())
	require.Len(t, sessions.blockRequests, 1)

	// Second batch reaches the target superblock boundary.
	m.handleAddBlocks(session.AddBlocks{Peer: "p1", Blocks: []chain.Block{b19}})
	require.Equal(t, AlmostSynced, m.sm)
	require.Equal(t, beacon(19, b19.Hash()), m.cfg.State.Tip())
}

func TestAddBlocksRevertedChainUnregistersPeer(t *testing.T) {
	m, sessions, _ := newTestManager(t)

	m.sm = Synchronizing
	m.currentEpoch = 101
	m.haveTarget = true
	m.target = syncmgr.SyncTarget{Superblock: beacon(3, hashOf(1))}

	// Epoch 70 falls inside the reverted-chain gap.
	b70 := makeBlock(70, chain.ZeroHash)
	m.handleAddBlocks(session.AddBlocks{Peer: "p1", Blocks: []chain.Block{b70}})

	require.Equal(t, WaitingConsensus, m.sm)
	require.Equal(t, [][]string{{"p1"}}, sessions.unregistered)
}

func TestInvalidBlockPoisonsBatch(t *testing.T) {
	m, sessions, _ := newTestManager(t)

	m.sm = Synchronizing
	m.currentEpoch = 25
	m.haveTarget = true
	m.target = syncmgr.SyncTarget{Superblock: beacon(2, hashOf(1)), Block: beacon(19, hashOf(2))}

	bad := makeBlock(5, chain.ZeroHash)
	bad.Txns.Mint.Outputs = nil // empty mint fails the structural pass

	m.handleAddBlocks(session.AddBlocks{Peer: "p1", Blocks: []chain.Block{bad}})

	require.Equal(t, WaitingConsensus, m.sm)
	require.Equal(t, [][]string{{"p1"}}, sessions.unregistered)
	require.Equal(t, chain.CheckpointBeacon{}, m.cfg.State.Tip())
}

func TestSuperblockVoteConsolidation(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.currentEpoch = 100

	rep := m.cfg.State.Reputation
	var voters []chain.PublicKeyHash
	for i := byte(1); i <= 3; i++ {
		var pkh chain.PublicKeyHash
		pkh[0] = i
		rep.AddReputation(pkh, 10, 100)
		voters = append(voters, pkh)
	}

	sb := beacon(100, hashOf(5))
	vote := func(voter chain.PublicKeyHash) session.AddSuperBlockVote {
		return session.AddSuperBlockVote{
			Peer: "p1",
			Vote: session.SuperBlockVote{Index: 10, Beacon: sb, Voter: voter},
		}
	}

	m.handleAddSuperBlockVote(vote(voters[0]))
	require.Equal(t, uint32(0), m.cfg.State.SuperblockInfo().Index, "one vote of three is not 2/3")

	m.handleAddSuperBlockVote(vote(voters[1]))
	require.Equal(t, uint32(10), m.cfg.State.SuperblockInfo().Index)
	require.Equal(t, sb, m.cfg.State.SuperblockInfo().Beacon)

	// A duplicate or late vote can never roll the index back.
	m.handleAddSuperBlockVote(vote(voters[2]))
	require.Equal(t, uint32(10), m.cfg.State.SuperblockInfo().Index)
}

func TestNonARSVoteIsDropped(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.currentEpoch = 100

	var stranger chain.PublicKeyHash
	stranger[0] = 0xAA
	m.handleAddSuperBlockVote(session.AddSuperBlockVote{
		Peer: "p1",
		Vote: session.SuperBlockVote{Index: 10, Beacon: beacon(100, hashOf(5)), Voter: stranger},
	})

	require.Empty(t, m.votes.byIndex)
}

func TestIllegalTransitionToSyncedPanics(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.sm = WaitingConsensus

	// Synced is only adjacent to AlmostSynced.
	require.Panics(t, func() { m.transition(Synced) })
}

func TestDedupBatchHead(t *testing.T) {
	m, _, _ := newTestManager(t)

	b5 := makeBlock(5, chain.ZeroHash)
	m.cfg.State.SetTip(5, b5.Hash())

	b6 := makeBlock(6, b5.Hash())
	got := m.dedupBatchHead([]chain.Block{b5, b6})
	require.Len(t, got, 1)
	require.Equal(t, b6.Hash(), got[0].Hash())

	// A batch not led by our tip passes through untouched.
	got = m.dedupBatchHead([]chain.Block{b6})
	require.Len(t, got, 1)
}

func TestStatusQuery(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.NoError(t, m.Start())
	defer m.Stop()

	status := m.QueryStatus()
	require.Equal(t, WaitingConsensus, status.State)
}

func TestMineDataRequestCommitsAndStashesReveal(t *testing.T) {
	m, sessions, _ := newTestManager(t)
	m.cfg.Rad = radon.NewEngine(2, time.Second)
	m.cfg.OwnPKH = chain.PublicKeyHash{0x01}

	// A data request with a constant source needs no network to witness.
	drOut := chain.DataRequestOutput{
		DataRequest: chain.DataRequest{
			Retrieve: []chain.RADRetrieve{{Kind: chain.RADTypeConstant, URL: "4.0"}},
		},
		Witnesses: 1,
	}
	pointer := chain.OutputPointer{TransactionHash: hashOf(0x10)}

	diff := chainstate.NewUtxoDiff()
	diff.Add[pointer] = chain.Output{Kind: chain.OutputDataRequest, DataRequest: &drOut}
	require.NoError(t, m.cfg.State.ApplyUtxoDiff(diff, 1))
	m.cfg.DRPool.AddDataRequest(pointer, drOut, 1, commitWindowEpochs, revealWindowEpochs, 1)

	m.cfg.Mining.DataRequestMaxRetrievalsPerEpoch = 4
	m.mineDataRequests(2)

	require.Equal(t, 1, m.cfg.Mempool.CommitLen())
	reveals := m.cfg.DRPool.TakeStashedReveals(pointer)
	require.Len(t, reveals, 1)

	// The commit was gossiped to peers.
	var sawCommit bool
	for _, msg := range sessions.broadcasts {
		if tx, ok := msg.(*session.TransactionMsg); ok && tx.Kind == session.TxKindCommit {
			sawCommit = true
		}
	}
	require.True(t, sawCommit)

	// Committing does not advance the request: it stays in its commit
	// stage until commits are consolidated and its window closes.
	st, ok := m.cfg.DRPool.Get(pointer)
	require.True(t, ok)
	require.Equal(t, datarequest.StageCommit, st.Stage)
}

func TestBuildTalliesFromReveals(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.cfg.Rad = radon.NewEngine(2, time.Second)
	m.cfg.OwnPKH = chain.PublicKeyHash{0x01}

	pointer := chain.OutputPointer{TransactionHash: hashOf(0x20)}
	drOut := chain.DataRequestOutput{Witnesses: 1}
	m.cfg.DRPool.AddDataRequest(pointer, drOut, 1, 1, 1, 1)

	witness := chain.PublicKeyHash{0x02}
	absent := chain.PublicKeyHash{0x03}
	require.NoError(t, m.cfg.DRPool.AddCommit(pointer, datarequest.CommitEntry{
		PKH: witness, TxHash: hashOf(0x30),
	}, 2))
	require.NoError(t, m.cfg.DRPool.AddCommit(pointer, datarequest.CommitEntry{
		PKH: absent, TxHash: hashOf(0x31),
	}, 2))

	// Commit window closes after epoch 2: the request advances to its
	// reveal stage.
	advanced := m.cfg.DRPool.UpdateDataRequestStages(3)
	require.Equal(t, []chain.OutputPointer{pointer}, advanced)

	reveal, err := radon.NewFloat(4).Encode()
	require.NoError(t, err)
	require.NoError(t, m.cfg.DRPool.AddReveal(pointer, datarequest.RevealEntry{
		PKH: witness, Reveal: reveal, TxHash: hashOf(0x40),
	}))

	// Reveal window closes after epoch 3.
	tallies := m.buildTallies(4)
	require.Len(t, tallies, 1)

	tally := tallies[0].Body.Outputs[0].Tally
	require.NotNil(t, tally)
	require.Equal(t, pointer, tally.DRPointer)
	require.Equal(t, []chain.PublicKeyHash{absent}, tally.OutOfConsensus)

	// Both commits are consumed by the tally transaction.
	require.Len(t, tallies[0].Body.Inputs, 2)

	// Building the tally does not retire the request; only consolidating
	// the tally transaction does.
	_, ok := m.cfg.DRPool.Get(pointer)
	require.True(t, ok)

	_, err = m.cfg.DRPool.Tally(pointer)
	require.NoError(t, err)
	_, ok = m.cfg.DRPool.Get(pointer)
	require.False(t, ok)
}

func TestAddTransactionHeldPendingUntilVerified(t *testing.T) {
	m, sessions, _ := newTestManager(t)
	m.cfg.VerifyTx = func(chain.Transaction) error { return nil }

	in := chain.OutputPointer{TransactionHash: hashOf(0x50)}
	diff := chainstate.NewUtxoDiff()
	diff.Add[in] = chain.Output{Kind: chain.OutputValueTransfer, ValueNanoWit: 10}
	require.NoError(t, m.cfg.State.ApplyUtxoDiff(diff, 1))

	tx := session.TransactionMsg{Kind: session.TxKindValueTransfer, Body: chain.Transaction{
		Version: chain.TransactionVersion,
		Inputs:  []chain.OutputPointer{in},
		Outputs: []chain.Output{{Kind: chain.OutputValueTransfer, ValueNanoWit: 9}},
	}}
	m.handleAddTransaction(session.AddTransaction{Peer: "p1", Tx: tx})

	// Held pending: in the pool but invisible to mining, not yet gossiped.
	require.Equal(t, 1, m.cfg.Mempool.VTLen())
	require.Empty(t, m.cfg.Mempool.VTIter())
	require.Empty(t, sessions.broadcasts)

	// The verifier's verdict arrives as an actor message.
	verdict := <-m.msgs
	m.dispatch(verdict)

	require.Len(t, m.cfg.Mempool.VTIter(), 1)
	require.Len(t, sessions.broadcasts, 1)
}

func TestAddTransactionRemovedOnFailedVerification(t *testing.T) {
	m, sessions, _ := newTestManager(t)
	m.cfg.VerifyTx = func(chain.Transaction) error {
		return errors.New("bad signature")
	}

	in := chain.OutputPointer{TransactionHash: hashOf(0x51)}
	diff := chainstate.NewUtxoDiff()
	diff.Add[in] = chain.Output{Kind: chain.OutputValueTransfer, ValueNanoWit: 10}
	require.NoError(t, m.cfg.State.ApplyUtxoDiff(diff, 1))

	tx := session.TransactionMsg{Kind: session.TxKindValueTransfer, Body: chain.Transaction{
		Version: chain.TransactionVersion,
		Inputs:  []chain.OutputPointer{in},
		Outputs: []chain.Output{{Kind: chain.OutputValueTransfer, ValueNanoWit: 9}},
	}}
	m.handleAddTransaction(session.AddTransaction{Peer: "p1", Tx: tx})

	verdict := <-m.msgs
	m.dispatch(verdict)

	require.Equal(t, 0, m.cfg.Mempool.VTLen())
	require.Empty(t, sessions.broadcasts)
}

func TestAddTransactionWithoutVerifierBroadcastsImmediately(t *testing.T) {
	m, sessions, _ := newTestManager(t)

	in := chain.OutputPointer{TransactionHash: hashOf(0x52)}
	diff := chainstate.NewUtxoDiff()
	diff.Add[in] = chain.Output{Kind: chain.OutputValueTransfer, ValueNanoWit: 10}
	require.NoError(t, m.cfg.State.ApplyUtxoDiff(diff, 1))

	tx := session.TransactionMsg{Kind: session.TxKindValueTransfer, Body: chain.Transaction{
		Version: chain.TransactionVersion,
		Inputs:  []chain.OutputPointer{in},
		Outputs: []chain.Output{{Kind: chain.OutputValueTransfer, ValueNanoWit: 9}},
	}}
	m.handleAddTransaction(session.AddTransaction{Peer: "p1", Tx: tx})

	require.Len(t, m.cfg.Mempool.VTIter(), 1)
	require.Len(t, sessions.broadcasts, 1)
}

func TestStaleVerdictAfterEpochClearIsDropped(t *testing.T) {
	m, sessions, _ := newTestManager(t)
	m.cfg.VerifyTx = func(chain.Transaction) error { return nil }

	in := chain.OutputPointer{TransactionHash: hashOf(0x53)}
	diff := chainstate.NewUtxoDiff()
	diff.Add[in] = chain.Output{Kind: chain.OutputValueTransfer, ValueNanoWit: 10}
	require.NoError(t, m.cfg.State.ApplyUtxoDiff(diff, 1))

	tx := session.TransactionMsg{Kind: session.TxKindValueTransfer, Body: chain.Transaction{
		Version: chain.TransactionVersion,
		Inputs:  []chain.OutputPointer{in},
		Outputs: []chain.Output{{Kind: chain.OutputValueTransfer, ValueNanoWit: 9}},
	}}
	m.handleAddTransaction(session.AddTransaction{Peer: "p1", Tx: tx})
	verdict := <-m.msgs

	// The epoch boundary discards still-unverified transactions before
	// the verdict lands.
	m.cfg.Mempool.ClearPendingTransactions()
	m.dispatch(verdict)

	require.Equal(t, 0, m.cfg.Mempool.VTLen())
	require.Empty(t, sessions.broadcasts)
}
