// Package role decides which half of killable-sudo a process is.
//
// The same binary is run twice: once by the user (the supervisor) and once
// through the escalation command as root (the executor). The decision is
// made once at startup from the effective uid and passed around as a value;
// nothing else in the program looks at its own privilege level.
package role

import "fmt"

// Role is the part a process plays.
type Role int

const (
	// Supervisor runs as the invoking user and owns the signalling channel.
	Supervisor Role = iota
	// Executor runs as root and performs the privileged actions.
	Executor
)

// Resolve returns the role for a process with the given effective uid.
func Resolve(euid int) Role {
	if euid == 0 {
		return Executor
	}
	return Supervisor
}

func (r Role) String() string {
	switch r {
	case Supervisor:
		return "supervisor"
	case Executor:
		return "executor"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}
