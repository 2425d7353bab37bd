package channel

import (
	"errors"
	"fmt"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/doughall/killable-sudo/internal/rundir"
)

// Errors returned when the executor cannot use a channel.
var (
	// ErrOpen means the channel could not be opened at all.
	ErrOpen = errors.New("cannot open channel")
	// ErrUntrusted means the path opened but is not a channel the executor
	// may act on. It wraps ErrOpen.
	ErrUntrusted = fmt.Errorf("%w: channel failed verification", ErrOpen)
)

const readBufferSize = 1024

// Location is a channel path checked against the channel directory layout.
type Location struct {
	Path     string // cleaned absolute path of the channel file
	Dir      string // the user directory holding it
	Username string // the user that directory belongs to
}

// Locate checks that path names a file directly inside a user directory
// under root, i.e. <root>/user-<name>/<file>. It does not touch the file.
func Locate(root, path string) (Location, error) {
	if !filepath.IsAbs(path) {
		return Location{}, fmt.Errorf("%w: %s is not an absolute path", ErrUntrusted, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(filepath.Clean(root), path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return Location{}, fmt.Errorf("%w: %s is outside %s", ErrUntrusted, path, root)
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 2 {
		return Location{}, fmt.Errorf("%w: %s is not directly inside a user directory", ErrUntrusted, path)
	}

	dir := filepath.Dir(path)
	username, ok := rundir.UsernameFromDir(dir)
	if !ok {
		return Location{}, fmt.Errorf("%w: %s is not a user directory", ErrUntrusted, dir)
	}

	return Location{Path: path, Dir: dir, Username: username}, nil
}

// Inspect checks that path is an existing channel: a FIFO directly inside
// a user directory under root, owned by that directory's user. It returns
// the location and the owning account without opening the file.
func Inspect(root, path string) (Location, *user.User, error) {
	loc, err := Locate(root, path)
	if err != nil {
		return Location{}, nil, err
	}

	var st unix.Stat_t
	if err := unix.Lstat(loc.Path, &st); err != nil {
		return Location{}, nil, fmt.Errorf("%w: %s: %v", ErrOpen, loc.Path, err)
	}
	owner, err := checkStat(&st, loc)
	if err != nil {
		return Location{}, nil, err
	}
	return loc, owner, nil
}

// Reader is the executor's end of a signalling channel.
type Reader struct {
	loc       Location
	fd        int
	keepalive int
	owner     *user.User
	scanner   *markerScanner
	buf       []byte
}

// OpenReader opens the channel at path for non-blocking reads after
// checking that it lives in a user directory under root, is a FIFO, and is
// owned by the user that directory belongs to.
//
// The owner is taken from the opened descriptor, not from the path, so it
// reflects the account that actually created the FIFO.
func OpenReader(root, path string) (*Reader, error) {
	loc, err := Locate(root, path)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Open(loc.Path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC|unix.O_NOFOLLOW, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, loc.Path, err)
	}

	owner, err := verify(fd, loc)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	r := &Reader{
		loc:       loc,
		fd:        fd,
		keepalive: -1,
		owner:     owner,
		scanner:   newMarkerScanner(),
		buf:       make([]byte, readBufferSize),
	}

	// Hold a write end of the same FIFO so it never reports hang-up once
	// the supervisor's descriptor goes away. Reopening through /proc binds
	// it to the inode already verified rather than to whatever the path
	// names now.
	if ka, err := unix.Open("/proc/self/fd/"+strconv.Itoa(fd), unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0); err == nil {
		r.keepalive = ka
	}

	return r, nil
}

func verify(fd int, loc Location) (*user.User, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("%w: fstat %s: %v", ErrOpen, loc.Path, err)
	}
	return checkStat(&st, loc)
}

// checkStat requires st to describe a FIFO owned by loc's user.
func checkStat(st *unix.Stat_t, loc Location) (*user.User, error) {
	if st.Mode&unix.S_IFMT != unix.S_IFIFO {
		return nil, fmt.Errorf("%w: %s is not a FIFO", ErrUntrusted, loc.Path)
	}

	owner, err := user.LookupId(strconv.FormatUint(uint64(st.Uid), 10))
	if err != nil {
		return nil, fmt.Errorf("%w: owner %d of %s: %v", ErrUntrusted, st.Uid, loc.Path, err)
	}
	if owner.Username != loc.Username {
		return nil, fmt.Errorf("%w: %s is owned by %s, not %s",
			ErrUntrusted, loc.Path, owner.Username, loc.Username)
	}
	return owner, nil
}

// Path returns the channel's filesystem path.
func (r *Reader) Path() string { return r.loc.Path }

// Fd returns the read descriptor, for use in a readiness wait.
func (r *Reader) Fd() int { return r.fd }

// Owner returns the account that created the channel.
func (r *Reader) Owner() *user.User { return r.owner }

// Drain reads everything currently available and reports whether a
// termination marker was completed by it. Nothing being available is not
// an error.
func (r *Reader) Drain() (bool, error) {
	found := false
	for {
		n, err := unix.Read(r.fd, r.buf)
		if n > 0 && r.scanner.Feed(r.buf[:n]) {
			found = true
		}
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			return found, nil
		case err != nil:
			return found, fmt.Errorf("read channel %s: %w", r.loc.Path, err)
		case n <= 0:
			// No writer holds the FIFO open.
			return found, nil
		}
	}
}

// Close releases the channel descriptors.
func (r *Reader) Close() error {
	var errs []error
	if r.keepalive >= 0 {
		errs = append(errs, unix.Close(r.keepalive))
		r.keepalive = -1
	}
	if r.fd >= 0 {
		errs = append(errs, unix.Close(r.fd))
		r.fd = -1
	}
	return errors.Join(errs...)
}
