// result.go maps a finished child process to the exit status the executor
// reports as its own.
package executor

import (
	"os"
	"syscall"
)

// Exit codes for executor-level outcomes that are not the child's own.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// signalExitBase is added to the signal number of a child killed by a
// signal, following the shell convention (SIGTERM gives 143).
const signalExitBase = 128

// ExitStatus returns the status a process should exit with to report
// state to its parent unchanged.
func ExitStatus(state *os.ProcessState) int {
	if state == nil {
		return ExitFailure
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return signalExitBase + int(ws.Signal())
	}
	return state.ExitCode()
}
