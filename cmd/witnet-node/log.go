package main

import (
	"fmt"
	"os"

	"github.com/btcsuite/btclog"

	"github.com/witnet/witnet-go/arbiter"
	"github.com/witnet/witnet-go/chainmanager"
	"github.com/witnet/witnet-go/datarequest"
	"github.com/witnet/witnet-go/epochmanager"
	"github.com/witnet/witnet-go/mempool"
	"github.com/witnet/witnet-go/persistence"
	"github.com/witnet/witnet-go/radon"
	"github.com/witnet/witnet-go/session"
	"github.com/witnet/witnet-go/syncmgr"
	"github.com/witnet/witnet-go/validation"
)

// logWriter implements the io.Writer interface and writes to stdout.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	return os.Stdout.Write(p)
}

var (
	backendLog = btclog.NewBackend(logWriter{})

	wtndLog = backendLog.Logger("WTND")
	chmgLog = backendLog.Logger("CHMG")
	epchLog = backendLog.Logger("EPCH")
	mempLog = backendLog.Logger("MEMP")
	drpLog  = backendLog.Logger("DRPL")
	radLog  = backendLog.Logger("RADN")
	arbLog  = backendLog.Logger("ARBT")
	syncLog = backendLog.Logger("SYNC")
	vldtLog = backendLog.Logger("VLDT")
	persLog = backendLog.Logger("PERS")
	sessLog = backendLog.Logger("SESS")
)

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"WTND": wtndLog,
	"CHMG": chmgLog,
	"EPCH": epchLog,
	"MEMP": mempLog,
	"DRPL": drpLog,
	"RADN": radLog,
	"ARBT": arbLog,
	"SYNC": syncLog,
	"VLDT": vldtLog,
	"PERS": persLog,
	"SESS": sessLog,
}

func init() {
	chainmanager.UseLogger(chmgLog)
	epochmanager.UseLogger(epchLog)
	mempool.UseLogger(mempLog)
	datarequest.UseLogger(drpLog)
	radon.UseLogger(radLog)
	arbiter.UseLogger(arbLog)
	syncmgr.UseLogger(syncLog)
	validation.UseLogger(vldtLog)
	persistence.UseLogger(persLog)
	session.UseLogger(sessLog)
}

// setLogLevels sets the log level for every subsystem to the given level,
// as selected by the debuglevel config option.
func setLogLevels(levelStr string) error {
	level, ok := btclog.LevelFromString(levelStr)
	if !ok {
		return fmt.Errorf("invalid log level %q", levelStr)
	}
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
	return nil
}
