// kill.go implements out-of-band termination of a channel's supervisor.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/doughall/killable-sudo/internal/channel"
	"github.com/doughall/killable-sudo/internal/procinfo"
)

var (
	// ErrProcessLookup means the process a channel names does not exist.
	ErrProcessLookup = errors.New("no such process")
	// ErrNotPermitted means the channel or the process it names does not
	// belong to the invoking user.
	ErrNotPermitted = errors.New("process not owned by channel user")
)

// Kill sends SIGTERM to the process whose pid is encoded in the channel
// name at channelPath. No watch needs to be running on the channel.
//
// The channel must be an existing FIFO in a user directory under the
// channel root, owned by that directory's user. When an invoker is
// configured the channel must be theirs, and the target must be running
// as the channel's owner.
func (e *Executor) Kill(ctx context.Context, channelPath string) (int, error) {
	pid, err := channel.ParsePID(channelPath)
	if err != nil {
		return ExitFailure, err
	}
	loc, owner, err := channel.Inspect(e.root, channelPath)
	if err != nil {
		return ExitFailure, err
	}
	logger := e.logger.With(slog.Int("pid", pid), slog.String("user", loc.Username))

	if err := e.checkInvoker(owner.Uid); err != nil {
		logger.Warn("refusing channel of another user", slog.String("invoker_uid", e.invoker))
		return ExitFailure, err
	}

	info, err := procinfo.Lookup(ctx, pid)
	if errors.Is(err, procinfo.ErrNotFound) {
		logger.Warn("process does not exist")
		return ExitFailure, fmt.Errorf("%w: pid %d", ErrProcessLookup, pid)
	}
	if err != nil {
		return ExitFailure, err
	}
	if strconv.FormatUint(uint64(info.RealUID), 10) != owner.Uid {
		return ExitFailure, fmt.Errorf("%w: pid %d (%s) runs as uid %d, not %s",
			ErrNotPermitted, pid, info.Name, info.RealUID, loc.Username)
	}

	logger.Info("sending SIGTERM", slog.String("process", info.Name))
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			logger.Warn("process exited before it could be signalled")
			return ExitFailure, fmt.Errorf("%w: pid %d", ErrProcessLookup, pid)
		}
		return ExitFailure, fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}
	return ExitSuccess, nil
}

// checkInvoker requires uid to be the invoking user's, when one is known.
func (e *Executor) checkInvoker(uid string) error {
	if e.invoker == "" || e.invoker == uid {
		return nil
	}
	return fmt.Errorf("%w: channel belongs to uid %s, invoked by uid %s", ErrNotPermitted, uid, e.invoker)
}
