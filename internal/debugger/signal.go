package debugger

import (
	"os"
	"syscall"
)

// interruptSignal is the signal used to request an asynchronous interrupt
// of the hosted debugger process.
func interruptSignal() os.Signal {
	return syscall.SIGINT
}
