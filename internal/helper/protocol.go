// protocol.go defines the argument protocol between the two roles. The
// supervisor builds an executor command line from these flags and the
// executor parses the same names.
package helper

// Executor flags. Exactly one of FlagInitDir, FlagCommand and FlagKill is
// given; FlagCommand and FlagKill also need FlagChannel.
const (
	FlagInitDir = "init-dir"
	FlagCommand = "command"
	FlagKill    = "kill"
	FlagChannel = "channel"
)
