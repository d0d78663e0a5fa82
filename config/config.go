// Package config defines the node's configuration surface: the consensus
// constants every peer must agree on, plus the connection/mining/mempool
// knobs that only affect local behavior: one struct per concern, parsed
// together by jessevdk/go-flags from both the command line and a config
// file.
package config

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/witnet/witnet-go/chain"
)

// ConsensusConstants are the parameters every peer on a given network must
// agree on bit-for-bit. They are persisted into chain state at
// genesis and a startup mismatch against the persisted copy is fatal.
type ConsensusConstants struct {
	CheckpointZeroTimestamp int64      `long:"checkpointzerotimestamp" description:"unix timestamp of epoch 0"`
	CheckpointsPeriod       uint16     `long:"checkpointsperiod" description:"seconds per epoch"`
	BootstrapHash           chain.Hash `long:"bootstraphash" description:"hash that stands in for hash_prev_block before genesis"`
	GenesisHash             chain.Hash `long:"genesishash" description:"hash of the genesis block"`
	SuperblockPeriod        uint32     `long:"superblockperiod" description:"epochs per superblock window"`
	ActivityPeriod          uint32     `long:"activityperiod" description:"epochs a witness must be active within to stay in the ARS"`
	CollateralMinimum       uint64     `long:"collateralminimum" description:"minimum collateral a commit must stake, in nanowits"`
	CollateralAge           uint32     `long:"collateralage" description:"minimum age in epochs for a UTXO to be used as collateral"`
}

// NetworkMagic derives the 16-bit network tag used to namespace persisted
// state: the first two bytes of sha256(serialize(constants)),
// big-endian.
func (c ConsensusConstants) NetworkMagic() uint16 {
	sum := sha256.Sum256(c.serialize())
	return binary.BigEndian.Uint16(sum[:2])
}

func (c ConsensusConstants) serialize() []byte {
	buf := make([]byte, 0, 64)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(c.CheckpointZeroTimestamp))
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint16(tmp[:2], c.CheckpointsPeriod)
	buf = append(buf, tmp[:2]...)
	buf = append(buf, c.BootstrapHash.Bytes()...)
	buf = append(buf, c.GenesisHash.Bytes()...)
	binary.BigEndian.PutUint32(tmp[:4], c.SuperblockPeriod)
	buf = append(buf, tmp[:4]...)
	binary.BigEndian.PutUint32(tmp[:4], c.ActivityPeriod)
	buf = append(buf, tmp[:4]...)
	binary.BigEndian.PutUint64(tmp[:], c.CollateralMinimum)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:4], c.CollateralAge)
	buf = append(buf, tmp[:4]...)
	return buf
}

// Validate reports the first structural problem found in c, if any.
func (c ConsensusConstants) Validate() error {
	if c.CheckpointsPeriod == 0 {
		return fmt.Errorf("config: checkpointsperiod must be >= 1")
	}
	if c.SuperblockPeriod == 0 {
		return fmt.Errorf("config: superblockperiod must be >= 1")
	}
	return nil
}

// ConnectionsConfig governs peer session limits and the consensus threshold
// the Peer-Consensus Arbiter uses.
type ConnectionsConfig struct {
	InboundLimit           uint32        `long:"inboundlimit" description:"max inbound peer sessions"`
	OutboundLimit          uint32        `long:"outboundlimit" description:"max outbound peer sessions"`
	ConsensusC             uint32        `long:"consensusc" description:"percent of outbound slots required for beacon consensus"`
	HandshakeTimeout       time.Duration `long:"handshaketimeout"`
	BlocksTimeout          time.Duration `long:"blockstimeout"`
	BootstrapPeersPeriod   time.Duration `long:"bootstrappeersperiod"`
	DiscoveryPeersPeriod   time.Duration `long:"discoverypeersperiod"`
}

// MiningConfig governs local block/data-request mining.
type MiningConfig struct {
	Enabled                      bool          `long:"enabled"`
	DataRequestTimeout           time.Duration `long:"datarequesttimeout"`
	DataRequestMaxRetrievalsPerEpoch int       `long:"datarequestmaxretrievalsperepoch"`
	GenesisPath                  string        `long:"genesispath"`
}

// MempoolConfig governs the Transaction Pool's local eviction policy.
type MempoolConfig struct {
	TxPendingTimeout time.Duration `long:"txpendingtimeout"`
}

// Config is the top-level, parsed node configuration.
type Config struct {
	ConfigFile string `short:"C" long:"config" description:"path to configuration file"`
	DataDir    string `short:"d" long:"datadir" description:"directory to store the key-value store in"`
	DebugLevel string `long:"debuglevel" description:"logging level for all subsystems"`

	ConsensusConstants ConsensusConstants `group:"Consensus" namespace:"consensus"`
	Connections        ConnectionsConfig  `group:"Connections" namespace:"connections"`
	Mining             MiningConfig       `group:"Mining" namespace:"mining"`
	Mempool            MempoolConfig      `group:"Mempool" namespace:"mempool"`
}

// DefaultConfig returns a Config populated with the same conservative
// defaults the reference node ships with, before any file/flag overrides are
// applied.
func DefaultConfig() *Config {
	return &Config{
		DataDir:    defaultDataDir,
		DebugLevel: "info",
		ConsensusConstants: ConsensusConstants{
			CheckpointsPeriod: 45,
			SuperblockPeriod:  10,
			ActivityPeriod:    2000,
			CollateralMinimum: 1_000_000_000,
			CollateralAge:     1000,
		},
		Connections: ConnectionsConfig{
			InboundLimit:         128,
			OutboundLimit:        8,
			ConsensusC:           51,
			HandshakeTimeout:     5 * time.Second,
			BlocksTimeout:        30 * time.Second,
			BootstrapPeersPeriod: 5 * time.Minute,
			DiscoveryPeersPeriod: 30 * time.Second,
		},
		Mining: MiningConfig{
			Enabled:                          true,
			DataRequestTimeout:                5 * time.Second,
			DataRequestMaxRetrievalsPerEpoch: 8,
		},
		Mempool: MempoolConfig{
			TxPendingTimeout: 10 * time.Second,
		},
	}
}

const defaultDataDir = "./.witnet-go"
