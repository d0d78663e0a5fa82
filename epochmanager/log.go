package epochmanager

import "github.com/btcsuite/btclog"

// log is the package-level logger, set by UseLogger. It defaults to the
// no-op logger so the package is silent until the caller wires one in,
// matching the convention used throughout the rest of witnet-go.
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by this package. It should be
// called before calling any other functions in this package.
func UseLogger(logger btclog.Logger) {
	log = logger
}
