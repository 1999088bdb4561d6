package preprocessor

import (
	"time"

	"github.com/swiftkernel/swiftkernel/internal/session"
)

// TimeitResult summarizes a %timeit run.
type TimeitResult struct {
	Runs int
	Min  time.Duration
	Mean time.Duration
	Max  time.Duration
}

// Hooks gives the preprocessor access to the session-operator magics'
// side effects without importing the packages that
// implement them, avoiding an import cycle with the orchestrator that
// wires everything together.
type Hooks interface {
	// Timeit evaluates source n times (n == 0 means "choose
	// automatically") and reports wall-clock min/mean/max.
	Timeit(source string, n int) (TimeitResult, error)
	// Reset tears down and relaunches the Swift process, preserving
	// history.
	Reset() error
	// History returns every cell recorded so far.
	History() []session.Cell
	// Save renders the session's Swift history to path.
	Save(path string) error
	// LoadFile reads a named file for %load/%include.
	LoadFile(path string) (string, error)
	// EnableCompletion / DisableCompletion toggle completion-query
	// servicing.
	EnableCompletion()
	DisableCompletion()
	// SwiftVersion returns the REPL's reported Swift version string.
	SwiftVersion() string
	// ConfigSummary renders the resolved kernelconfig.Config as YAML for
	// %swift_config.
	ConfigSummary() string
	// Env returns the process environment as a sorted "K=V" list for
	// %env.
	Env() []string
}
