// killable-sudo - Entry Point
//
// killable-sudo runs a command through sudo while keeping it interruptible
// by the user who started it. The same binary plays two roles, chosen by
// its effective uid:
//
//   - As the invoking user (supervisor) it takes COMMAND [ARGS...], creates
//     a signalling channel, and runs itself through sudo to execute the
//     command. SIGINT and SIGTERM become termination requests on the channel.
//   - As root (executor) it performs exactly one privileged action selected
//     by flags: --init-dir, --command or --kill.
//
// Configuration is loaded from /etc/killable-sudo/config.yaml. The exit
// status is the command's own, or 1 for killable-sudo's own failures.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/doughall/killable-sudo/internal/role"
)

func main() {
	os.Exit(run(context.Background(), role.Resolve(os.Geteuid()), os.Args[1:]))
}

// run executes the command tree for r and returns the process exit status.
func run(ctx context.Context, r role.Role, args []string) int {
	var status int
	var cmd *cobra.Command
	switch r {
	case role.Executor:
		cmd = newExecutorCmd(&status)
	default:
		cmd = newSupervisorCmd(&status)
	}
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "killable-sudo: %v\n", err)
		if status == 0 {
			status = 1
		}
	}
	return status
}
