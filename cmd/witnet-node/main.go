// witnet-node is the full-node orchestrator process: it loads the node
// configuration, wires the actors together and runs until interrupted.
//
// Usage: witnet-node run --config <path>
//
// Exit codes: 0 on clean shutdown, 1 on a fatal configuration or storage
// mismatch, 2 on a bootstrap failure.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/witnet/witnet-go/config"
)

const (
	exitOK            = 0
	exitConfigFailure = 1
	exitBootstrap     = 2
)

// errBootstrap marks failures in the bootstrap phase (listeners, initial
// peers) so main can map them to their own exit code.
var errBootstrap = errors.New("bootstrap failure")

func main() {
	os.Exit(witnetMain())
}

// witnetMain is the true entry point. It exists so defers run before the
// process exits with a specific code, which os.Exit in main's own scope
// would skip.
func witnetMain() int {
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "run" {
		os.Args = append(os.Args[:1], args[1:]...)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "witnet-node: %v\n", err)
		return exitConfigFailure
	}

	if err := setLogLevels(cfg.DebugLevel); err != nil {
		fmt.Fprintf(os.Stderr, "witnet-node: %v\n", err)
		return exitConfigFailure
	}

	if err := runNode(cfg); err != nil {
		wtndLog.Errorf("Shutting down: %v", err)
		if errors.Is(err, errBootstrap) {
			return exitBootstrap
		}
		// Anything else fatal at this level is a configuration or
		// storage mismatch (e.g. persistence.ErrNetworkMagicMismatch).
		return exitConfigFailure
	}
	return exitOK
}
