package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/witnet/witnet-go/chain"
	"github.com/witnet/witnet-go/chainmanager"
	"github.com/witnet/witnet-go/chainstate"
	"github.com/witnet/witnet-go/config"
	"github.com/witnet/witnet-go/datarequest"
	"github.com/witnet/witnet-go/epochmanager"
	"github.com/witnet/witnet-go/mempool"
	"github.com/witnet/witnet-go/persistence"
	"github.com/witnet/witnet-go/radon"
	"github.com/witnet/witnet-go/reputation"
	"github.com/witnet/witnet-go/session"
	"github.com/witnet/witnet-go/validation"
)

// listenPort is where inbound peer sessions are accepted. Peer discovery
// itself is an external collaborator, so the node only listens;
// outbound dialing is driven by whatever discovery feeds it.
const listenPort = 21337

// noVRF satisfies chainmanager.VRF for a node whose external VRF service
// is not wired up: it is never eligible to propose and accepts every
// proof, whatever seed it is checked against. The real service replaces this at the
// process boundary.
type noVRF struct{}

func (noVRF) Prove(seed chain.Hash) (chain.VRFProof, bool) { return chain.VRFProof{}, false }
func (noVRF) Verify(proof chain.VRFProof, seed chain.Hash) bool {
	return true
}

// runNode assembles every actor and blocks until a shutdown signal.
func runNode(cfg *config.Config) error {
	magic := cfg.ConsensusConstants.NetworkMagic()
	wtndLog.Infof("Starting witnet-node on network %#04x", magic)

	store, err := persistence.Open(cfg.DataDir, magic)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	rep := reputation.New(cfg.ConsensusConstants.ActivityPeriod)
	state := chainstate.New("mainnet", rep)

	manager := chainmanager.New(chainmanager.Config{
		Constants:   cfg.ConsensusConstants,
		Connections: cfg.Connections,
		Mining:      cfg.Mining,
		State:       state,
		Mempool:     mempool.New(),
		DRPool:      datarequest.New(),
		Validator:   validation.New(cfg.ConsensusConstants, validation.DefaultLimits),
		Rad: radon.NewEngine(int64(cfg.Mining.DataRequestMaxRetrievalsPerEpoch),
			cfg.Mining.DataRequestTimeout),
		Store: store,
		VRF:   noVRF{},
	})

	registry := session.NewRegistry(int(cfg.Connections.OutboundLimit), manager)
	manager.SetSessions(registry)

	if err := manager.Register(prometheus.DefaultRegisterer); err != nil {
		wtndLog.Warnf("Cannot register metrics: %v", err)
	}

	if err := manager.Start(); err != nil {
		return err
	}
	defer manager.Stop()

	clock := epochmanager.NewClock(cfg.ConsensusConstants.CheckpointZeroTimestamp,
		cfg.ConsensusConstants.CheckpointsPeriod)
	event := clock.RegisterEveryEpochNtfn()
	clock.Start()
	defer clock.Stop()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", listenPort))
	if err != nil {
		return fmt.Errorf("%w: cannot listen on port %d: %v", errBootstrap, listenPort, err)
	}
	defer listener.Close()
	go acceptLoop(listener, registry)

	wtndLog.Infof("Node ready: epoch period %ds, superblock period %d epochs",
		cfg.ConsensusConstants.CheckpointsPeriod, cfg.ConsensusConstants.SuperblockPeriod)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case n, ok := <-event.Epochs:
			if !ok {
				return nil
			}
			// Beacons first, tick second: the tick's no-beacons gate
			// must see everything peers reported this epoch.
			registry.FlushBeacons()
			manager.NotifyTick(n)

		case sig := <-interrupt:
			wtndLog.Infof("Received %v, shutting down", sig)
			return nil
		}
	}
}

func acceptLoop(listener net.Listener, registry *session.Registry) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			wtndLog.Debugf("Accept loop terminating: %v", err)
			return
		}
		peer := session.NewPeer(conn.RemoteAddr().String(), conn, true, registry)
		peer.Start()
		registry.Register(peer)
	}
}
