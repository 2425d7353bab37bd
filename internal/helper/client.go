// client.go runs the privileged role through the escalation facility on
// behalf of the supervisor.
package helper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/kballard/go-shellquote"

	"github.com/doughall/killable-sudo/internal/executor"
	"github.com/doughall/killable-sudo/internal/logging"
)

// ErrUnavailable is returned by Available when the privileged helper
// cannot be run.
var ErrUnavailable = errors.New("privileged helper not available")

// Client invokes the privileged helper as "<escalation> <helper> <flags>".
type Client struct {
	escalation string
	helperPath string
	logger     *slog.Logger
}

// NewClient creates a helper client.
func NewClient(escalation, helperPath string, logger *slog.Logger) *Client {
	return &Client{
		escalation: escalation,
		helperPath: helperPath,
		logger:     logging.WithComponent(logger, "helper"),
	}
}

// HelperPath returns the path of the privileged helper.
func (c *Client) HelperPath() string {
	return c.helperPath
}

// Available checks that the escalation command is on PATH and the helper
// is an executable regular file.
func (c *Client) Available() error {
	if _, err := exec.LookPath(c.escalation); err != nil {
		return fmt.Errorf("%w: escalation command %q: %v", ErrUnavailable, c.escalation, err)
	}
	info, err := os.Stat(c.helperPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !info.Mode().IsRegular() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s is not an executable file", ErrUnavailable, c.helperPath)
	}
	return nil
}

// SudoersHint returns the sudoers entry that lets username run the helper
// without a password prompt.
func (c *Client) SudoersHint(username string) string {
	return fmt.Sprintf("%s ALL=(ALL) NOPASSWD: %s", username, c.helperPath)
}

// InitDir asks the helper to create and secure username's channel
// directory.
func (c *Client) InitDir(ctx context.Context, username string) (int, error) {
	cmd := exec.CommandContext(ctx, c.escalation, c.helperPath, "--"+FlagInitDir, username)
	return c.run(cmd)
}

// RunAndWatch asks the helper to run argv while watching channelPath and
// blocks until it finishes. The argv is shell-quoted into a single
// argument so it crosses the escalation facility intact.
//
// It is not cancellable: the helper returns once the command has exited,
// and termination is requested through the channel instead.
func (c *Client) RunAndWatch(channelPath string, argv []string) (int, error) {
	if len(argv) == 0 {
		return executor.ExitFailure, executor.ErrNoCommand
	}
	cmd := exec.Command(c.escalation, c.helperPath,
		"--"+FlagChannel, channelPath,
		"--"+FlagCommand, shellquote.Join(argv...),
	)
	return c.run(cmd)
}

// Kill asks the helper to terminate the process a channel belongs to.
func (c *Client) Kill(ctx context.Context, channelPath string) (int, error) {
	cmd := exec.CommandContext(ctx, c.escalation, c.helperPath, "--"+FlagKill, "--"+FlagChannel, channelPath)
	return c.run(cmd)
}

// run runs cmd attached to this process's terminal and returns its exit
// status. A nonzero status is not an error; failing to run cmd is.
func (c *Client) run(cmd *exec.Cmd) (int, error) {
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	c.logger.Debug("invoking helper", slog.Any("args", cmd.Args))

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return executor.ExitFailure, fmt.Errorf("failed to run helper: %w", err)
		}
	}

	code := executor.ExitStatus(cmd.ProcessState)
	c.logger.Debug("helper finished", slog.Int("status", code))
	return code, nil
}
