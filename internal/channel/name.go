// Package channel implements the signalling channel between the two roles.
//
// A channel is a named pipe (FIFO) in the invoking user's channel directory,
// created by the supervisor and read by the executor. It carries a single
// kind of message, the termination marker "kill\n", and nothing else.
//
// Channel files are named
//
//	pid-<supervisor pid>-<16 hex digit nonce>.fifo
//
// The nonce keeps two invocations by the same process apart and stops other
// users from guessing a live channel's name.
package channel

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	namePrefix = "pid-"
	nameSuffix = ".fifo"

	// nonceBytes random bytes are hex encoded into the channel name.
	nonceBytes = 8
)

// Marker is the termination request written by the supervisor.
const Marker = "kill\n"

// ErrInvalidName is returned when a channel name does not encode a pid.
var ErrInvalidName = errors.New("invalid channel name")

// NewName returns a fresh channel file name for the given pid.
func NewName(pid int) (string, error) {
	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate channel nonce: %w", err)
	}
	return Name(pid, hex.EncodeToString(nonce)), nil
}

// Name formats a channel file name from a pid and a nonce.
func Name(pid int, nonce string) string {
	return namePrefix + strconv.Itoa(pid) + "-" + nonce + nameSuffix
}

// ParsePID extracts the supervisor pid encoded in a channel path.
func ParsePID(path string) (int, error) {
	base := filepath.Base(path)

	rest, ok := strings.CutPrefix(base, namePrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q has no %q prefix", ErrInvalidName, base, namePrefix)
	}
	rest, ok = strings.CutSuffix(rest, nameSuffix)
	if !ok {
		return 0, fmt.Errorf("%w: %q has no %q suffix", ErrInvalidName, base, nameSuffix)
	}
	pidPart, nonce, ok := strings.Cut(rest, "-")
	if !ok || nonce == "" {
		return 0, fmt.Errorf("%w: %q has no nonce", ErrInvalidName, base)
	}

	// Pids are 32-bit; anything wider would wrap onto an unrelated process.
	pid, err := strconv.ParseInt(pidPart, 10, 32)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %q does not encode a positive pid", ErrInvalidName, base)
	}
	return int(pid), nil
}
