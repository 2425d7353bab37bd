package channel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// FilePerm is the mode of a channel file: only its creator may use it.
const FilePerm = 0o600

// marker is allocated once so RequestTermination does not allocate.
var marker = []byte(Marker)

// Channel is the supervisor's end of a signalling channel.
//
// The FIFO is held open read-write from creation until Remove. Holding both
// ends means a write never blocks waiting for a reader and never fails for
// lack of one: a request made before the executor has opened the channel
// stays buffered in the pipe until it does.
type Channel struct {
	path string

	mu     sync.Mutex
	fd     int
	closed bool
}

// Create makes a new channel named for pid in dir. A stale file with the
// same name is removed first; it is never reused.
func Create(dir string, pid int) (*Channel, error) {
	name, err := NewName(pid)
	if err != nil {
		return nil, err
	}
	return createAt(filepath.Join(dir, name))
}

func createAt(path string) (*Channel, error) {
	if _, err := os.Lstat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove stale channel %s: %w", path, err)
		}
	}

	if err := unix.Mkfifo(path, FilePerm); err != nil {
		return nil, fmt.Errorf("failed to create channel %s: %w", path, err)
	}
	// mkfifo's mode is filtered by the umask.
	if err := os.Chmod(path, FilePerm); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to chmod channel %s: %w", path, err)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC|unix.O_NOFOLLOW, 0)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to open channel %s: %w", path, err)
	}

	return &Channel{path: path, fd: fd}, nil
}

// Path returns the channel's filesystem path.
func (c *Channel) Path() string {
	return c.path
}

// RequestTermination writes the termination marker with a single
// non-blocking write. It is safe to call from a signal-handling goroutine
// at any time, including after Remove, in which case it does nothing.
func (c *Channel) RequestTermination() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	_, err := unix.Write(c.fd, marker)
	if errors.Is(err, unix.EAGAIN) {
		// The pipe is full of unread markers; one more adds nothing.
		return nil
	}
	return err
}

// Remove closes the channel and deletes its file. Failures are ignored:
// removal is best effort and never fatal to the caller.
func (c *Channel) Remove() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		_ = unix.Close(c.fd)
	}
	c.mu.Unlock()

	_ = os.Remove(c.path)
}
