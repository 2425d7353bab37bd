// Package rundir manages the directories that hold signalling channels.
//
// Layout:
//
//	<root>/                 owner:owner 0755
//	<root>/user-<name>/     owner:<name's primary group> 0770
//
// where owner is root in production. Only the privileged role creates or
// modifies these directories. They are never removed; only the channel
// files inside them are ephemeral.
package rundir

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/doughall/killable-sudo/internal/logging"
)

const (
	// RootDirPerm lets every user traverse to their own directory.
	RootDirPerm = os.FileMode(0755)
	// UserDirPerm limits a user directory to root and the user's group.
	UserDirPerm = os.FileMode(0770)

	userDirPrefix = "user-"
)

// ErrUnknownUser is returned when a username does not resolve to an account.
var ErrUnknownUser = errors.New("unknown user")

// Config describes where channel directories live and who owns them.
type Config struct {
	// Root is the directory under which per-user directories are created.
	Root string
	// OwnerUID and OwnerGID own Root, and OwnerUID owns each user
	// directory. Zero (root) in production.
	OwnerUID int
	OwnerGID int
}

// Manager creates and secures channel directories.
type Manager struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a directory manager.
func New(cfg Config, logger *slog.Logger) *Manager {
	cfg.Root = filepath.Clean(cfg.Root)
	return &Manager{
		cfg:    cfg,
		logger: logging.WithComponent(logger, "rundir"),
	}
}

// Root returns the top-level channel directory.
func (m *Manager) Root() string {
	return m.cfg.Root
}

// UserDir returns the channel directory for a user. It does not create it.
func (m *Manager) UserDir(username string) string {
	return UserDir(m.cfg.Root, username)
}

// UserDir returns the channel directory for a user beneath root.
func UserDir(root, username string) string {
	return filepath.Join(root, userDirPrefix+username)
}

// UsernameFromDir extracts the username from a user directory path.
// It returns false if the base name is not of the form user-<name>.
func UsernameFromDir(dir string) (string, bool) {
	base := filepath.Base(dir)
	name, ok := strings.CutPrefix(base, userDirPrefix)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// Initialize makes sure the user's channel directory exists with the right
// ownership and mode. It is safe to call on every invocation: ownership and
// mode are reasserted even when the directories already exist.
//
// The username is resolved before anything is created, so an unknown user
// leaves the filesystem untouched.
func (m *Manager) Initialize(username string) error {
	m.logger.Debug("initializing channel directory", slog.String("user", username))

	u, err := lookupUser(username)
	if err != nil {
		m.logger.Error("cannot initialize channel directory",
			slog.String("user", username),
			slog.String("error", err.Error()),
		)
		return err
	}

	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("gid %q of user %s is not numeric: %w", u.Gid, username, err)
	}

	if err := ensureDir(m.cfg.Root, RootDirPerm, m.cfg.OwnerUID, m.cfg.OwnerGID); err != nil {
		return err
	}

	dir := m.UserDir(username)
	if err := ensureDir(dir, UserDirPerm, m.cfg.OwnerUID, gid); err != nil {
		return err
	}

	m.logger.Info("channel directory ready",
		slog.String("user", username),
		slog.String("path", dir),
		slog.Int("gid", gid),
	)
	return nil
}

func lookupUser(username string) (*user.User, error) {
	if username == "" || username == "." || username == ".." ||
		strings.ContainsAny(username, "/\x00") {
		return nil, fmt.Errorf("%w: %q", ErrUnknownUser, username)
	}
	u, err := user.Lookup(username)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownUser, username, err)
	}
	return u, nil
}

// ensureDir creates path if missing and then forces its owner and mode.
// An existing non-directory or symlink at path is an error rather than
// something to follow.
func ensureDir(path string, perm os.FileMode, uid, gid int) error {
	if err := os.Mkdir(path, perm); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory (mode %s)", path, info.Mode())
	}

	if err := os.Lchown(path, uid, gid); err != nil {
		return fmt.Errorf("failed to chown %s to %d:%d: %w", path, uid, gid, err)
	}
	// Chmod after chown; mkdir's mode is filtered by the umask.
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("failed to chmod %s to %o: %w", path, perm, err)
	}
	return nil
}
