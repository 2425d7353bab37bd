// spawner.go starts the target command as the user who owns the channel.
package executor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
)

// ErrNoCommand is returned when there is nothing to run.
var ErrNoCommand = errors.New("no command to run")

// Spawner starts argv on behalf of owner and returns the running command.
// The returned command has been started but not waited for.
type Spawner interface {
	Start(owner *user.User, argv []string) (*exec.Cmd, error)
}

var _ Spawner = EscalationSpawner{}

// EscalationSpawner runs the command through the escalation facility
// twice over: once to become owner, and again as owner, so the owner's
// own escalation policy decides whether the command may run.
//
// The child stays in the caller's process group so it keeps the terminal.
type EscalationSpawner struct {
	// Command is the escalation facility, e.g. "sudo".
	Command string
}

// Start implements Spawner.
func (s EscalationSpawner) Start(owner *user.User, argv []string) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, ErrNoCommand
	}
	if owner == nil || owner.Username == "" {
		return nil, errors.New("command owner is unknown")
	}

	esc, err := exec.LookPath(s.Command)
	if err != nil {
		return nil, fmt.Errorf("escalation command %q not found in PATH: %w", s.Command, err)
	}

	args := append([]string{"-u", owner.Username, "--", s.Command, "--"}, argv...)
	return start(exec.Command(esc, args...))
}

func start(cmd *exec.Cmd) (*exec.Cmd, error) {
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	return cmd, nil
}
