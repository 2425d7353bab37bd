// Package executor implements the privileged role's actions on a
// signalling channel: running a command while watching the channel for a
// termination request, and killing a channel's supervisor out of band.
package executor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/doughall/killable-sudo/internal/channel"
	"github.com/doughall/killable-sudo/internal/logging"
	"github.com/doughall/killable-sudo/internal/shutdown"
)

// Config configures an Executor.
type Config struct {
	// RunDir is the channel root; only channels beneath it are accepted.
	RunDir string
	// Spawner starts the watched command. Required for RunAndWatch.
	Spawner Spawner
	// Invoker is the uid of the user that asked for elevation. When set,
	// only channels owned by that uid are acted on.
	Invoker string
}

// Executor performs channel actions for the privileged role.
type Executor struct {
	root    string
	spawner Spawner
	invoker string
	logger  *slog.Logger
}

// New creates an executor.
func New(cfg Config, logger *slog.Logger) *Executor {
	return &Executor{
		root:    cfg.RunDir,
		spawner: cfg.Spawner,
		invoker: cfg.Invoker,
		logger:  logging.WithComponent(logger, "executor"),
	}
}

// RunAndWatch runs argv as the owner of the channel at channelPath and
// returns its exit status once it has exited. A termination request read
// from the channel while it runs sends the child SIGTERM.
//
// The returned status is the child's own, with death by signal N reported
// as 128+N. ExitFailure and a non-nil error are returned only when the
// command could not be run or watched at all.
//
// RunAndWatch cannot be cancelled: it returns when the child exits.
func (e *Executor) RunAndWatch(channelPath string, argv []string) (int, error) {
	if len(argv) == 0 {
		return ExitFailure, ErrNoCommand
	}

	r, err := channel.OpenReader(e.root, channelPath)
	if err != nil {
		return ExitFailure, err
	}
	defer r.Close()

	owner := r.Owner()
	if err := e.checkInvoker(owner.Uid); err != nil {
		return ExitFailure, err
	}
	logger := e.logger.With(
		slog.String("channel", r.Path()),
		slog.String("user", owner.Username),
	)

	// Self-pipe: the write end is closed exactly once, when the child has
	// been reaped, which makes the read end readable (EOF).
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return ExitFailure, fmt.Errorf("failed to create exit pipe: %w", err)
	}
	exitR, exitW := p[0], p[1]
	defer unix.Close(exitR)

	cmd, err := e.spawner.Start(owner, argv)
	if err != nil {
		_ = unix.Close(exitW)
		return ExitFailure, err
	}
	logger.Info("started command",
		slog.Int("child_pid", cmd.Process.Pid),
		slog.Any("argv", argv),
	)

	waited := make(chan error, 1)
	go func() {
		waited <- cmd.Wait()
		_ = unix.Close(exitW)
	}()

	term := &terminator{proc: cmd.Process, logger: logger}

	// Signals aimed at this process (a terminal's Ctrl-C reaches the whole
	// foreground group) stop the command rather than the executor, so its
	// status is still reported.
	fwd := shutdown.Forward(term, logger)
	loopErr := e.watch(r, exitR, term, logger)
	if loopErr != nil {
		logger.Error("watch failed, terminating command", slog.String("error", loopErr.Error()))
		_ = terminate(cmd.Process)
	}

	waitErr := <-waited
	fwd.Stop()
	code := ExitStatus(cmd.ProcessState)
	logger.Info("command exited", slog.Int("status", code))

	if loopErr != nil {
		return ExitFailure, loopErr
	}
	if cmd.ProcessState == nil {
		return ExitFailure, fmt.Errorf("failed to collect command status: %w", waitErr)
	}
	return code, nil
}

// watch blocks until the child has exited, requesting its termination
// whenever a termination marker arrives on the channel.
func (e *Executor) watch(r *channel.Reader, exitFd int, term *terminator, logger *slog.Logger) error {
	const (
		chanIdx = 0
		exitIdx = 1
	)
	fds := []unix.PollFd{
		chanIdx: {Fd: int32(r.Fd()), Events: unix.POLLIN},
		exitIdx: {Fd: int32(exitFd), Events: unix.POLLIN},
	}

	for {
		fds[chanIdx].Revents = 0
		fds[exitIdx].Revents = 0

		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}

		if fds[exitIdx].Revents != 0 {
			return nil
		}

		rev := fds[chanIdx].Revents
		if rev&unix.POLLNVAL != 0 {
			return fmt.Errorf("channel descriptor %d is not open", r.Fd())
		}
		if rev&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
			continue
		}

		found, err := r.Drain()
		if err != nil {
			logger.Debug("channel read failed", slog.String("error", err.Error()))
		}
		if found {
			logger.Debug("termination marker received")
			if err := term.RequestTermination(); err != nil {
				logger.Warn("failed to signal command", slog.String("error", err.Error()))
			}
		}

		// Without a writer the FIFO stays in hang-up and would wake every
		// poll; nobody can write to it again, so stop watching it.
		if rev&(unix.POLLHUP|unix.POLLERR) != 0 {
			logger.Debug("channel hung up, watching for exit only")
			fds[chanIdx].Fd = -1
		}
	}
}

// terminator sends the child SIGTERM on the first request only. Later
// requests, from the channel or from signals, do nothing.
type terminator struct {
	once   sync.Once
	proc   *os.Process
	logger *slog.Logger
}

// RequestTermination implements shutdown.Requester.
func (t *terminator) RequestTermination() error {
	var err error
	t.once.Do(func() {
		t.logger.Info("termination requested, sending SIGTERM", slog.Int("child_pid", t.proc.Pid))
		err = terminate(t.proc)
	})
	return err
}

// terminate sends SIGTERM to proc. A process that has already exited is
// not an error.
func terminate(proc *os.Process) error {
	err := proc.Signal(syscall.SIGTERM)
	if err == nil || errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
