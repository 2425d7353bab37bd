// Package supervisor implements the unprivileged role: it runs a command
// through the privileged helper and turns the interruption signals it
// receives into termination requests on a signalling channel.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"

	"github.com/doughall/killable-sudo/internal/channel"
	"github.com/doughall/killable-sudo/internal/logging"
	"github.com/doughall/killable-sudo/internal/rundir"
	"github.com/doughall/killable-sudo/internal/shutdown"
)

// ExitUsage is the status for a missing command or a failure before the
// command could be started.
const ExitUsage = 1

// ErrUsage is returned when no command was given.
var ErrUsage = errors.New("no command given")

// Elevator runs the privileged actions the supervisor depends on.
type Elevator interface {
	// InitDir creates and secures username's channel directory.
	InitDir(ctx context.Context, username string) (int, error)
	// RunAndWatch runs argv while watching channelPath and returns the
	// command's exit status.
	RunAndWatch(channelPath string, argv []string) (int, error)
}

// Config configures a Supervisor.
type Config struct {
	// RunDir is the channel root; the channel is created in the invoking
	// user's directory beneath it.
	RunDir string
	// Username overrides the invoking user. Empty means the current user.
	Username string
}

// Supervisor runs commands under elevation.
type Supervisor struct {
	cfg      Config
	elevator Elevator
	logger   *slog.Logger
}

// New creates a supervisor.
func New(cfg Config, elevator Elevator, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		elevator: elevator,
		logger:   logging.WithComponent(logger, "supervisor"),
	}
}

// RunUnderElevation runs argv with elevated privileges and returns its exit
// status. While it runs, SIGINT and SIGTERM are forwarded to the command
// as a termination request instead of interrupting this process.
//
// A nonzero status from directory initialization is returned as is, without
// running the command.
func (s *Supervisor) RunUnderElevation(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return ExitUsage, ErrUsage
	}

	username, err := s.username()
	if err != nil {
		return ExitUsage, err
	}
	logger := s.logger.With(slog.String("user", username))

	code, err := s.elevator.InitDir(ctx, username)
	if err != nil {
		return ExitUsage, fmt.Errorf("failed to initialize channel directory: %w", err)
	}
	if code != 0 {
		logger.Error("channel directory initialization failed", slog.Int("status", code))
		return code, nil
	}

	ch, err := channel.Create(rundir.UserDir(s.cfg.RunDir, username), os.Getpid())
	if err != nil {
		return ExitUsage, err
	}
	defer ch.Remove()
	logger = logger.With(slog.String("channel", ch.Path()))

	fwd := shutdown.Forward(ch, logger)
	defer fwd.Stop()

	logger.Debug("running command", slog.Any("argv", argv))
	code, err = s.elevator.RunAndWatch(ch.Path(), argv)
	if err != nil {
		return code, err
	}
	logger.Debug("command finished", slog.Int("status", code))
	return code, nil
}

func (s *Supervisor) username() (string, error) {
	if s.cfg.Username != "" {
		return s.cfg.Username, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to determine invoking user: %w", err)
	}
	return u.Username, nil
}
