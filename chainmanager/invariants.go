package chainmanager

import (
	"github.com/go-errors/errors"
)

// panicInvariant aborts the node on a logic-invariant violation:
// continuing past one of these would corrupt consensus
// state, so the only safe move is a diagnostic and a crash. The go-errors
// wrapper attaches the stack so the diagnostic names the broken call path.
func panicInvariant(format string, args ...interface{}) {
	err := errors.Errorf(format, args...)
	log.Criticalf("LOGIC INVARIANT VIOLATED: %v\n%s", err, err.ErrorStack())
	panic(err)
}
