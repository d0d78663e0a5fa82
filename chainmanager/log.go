package chainmanager

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-wide logger used by this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// logSyncedBanner announces the AlmostSynced -> Synced transition. Logged
// exactly once per transition, never on any other edge.
func logSyncedBanner() {
	log.Infof("")
	log.Infof("===============================================")
	log.Infof("=                 NODE SYNCED                 =")
	log.Infof("===============================================")
	log.Infof("")
}
