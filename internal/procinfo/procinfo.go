// Package procinfo looks up the processes that kill-by-channel targets.
//
// Lookups use gopsutil v4 so the same code reads /proc on Linux and the
// native APIs elsewhere.
package procinfo

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/shirou/gopsutil/v4/process"
)

// ErrNotFound is returned when no process has the requested pid.
var ErrNotFound = errors.New("process not found")

// Info describes a running process.
type Info struct {
	PID      int32
	Name     string
	Username string
	// RealUID is the uid the process was started as, which is unaffected
	// by setuid helpers it may have exec'd.
	RealUID uint32
}

// Lookup returns information about the process with the given pid.
//
// Only the pid's existence and real uid are essential. Name and username
// are best effort and left empty when they cannot be read.
func Lookup(ctx context.Context, pid int) (Info, error) {
	if pid <= 0 || pid > math.MaxInt32 {
		return Info{}, fmt.Errorf("%w: pid %d", ErrNotFound, pid)
	}

	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return Info{}, fmt.Errorf("failed to check pid %d: %w", pid, err)
	}
	if !exists {
		return Info{}, fmt.Errorf("%w: pid %d", ErrNotFound, pid)
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return Info{}, fmt.Errorf("%w: pid %d", ErrNotFound, pid)
		}
		return Info{}, fmt.Errorf("failed to open pid %d: %w", pid, err)
	}

	info := Info{PID: p.Pid}

	uids, err := p.UidsWithContext(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("failed to read uids of pid %d: %w", pid, err)
	}
	if len(uids) == 0 {
		return Info{}, fmt.Errorf("no uids reported for pid %d", pid)
	}
	info.RealUID = uids[0]

	if name, err := p.NameWithContext(ctx); err == nil {
		info.Name = name
	}
	if username, err := p.UsernameWithContext(ctx); err == nil {
		info.Username = username
	}

	return info, nil
}
