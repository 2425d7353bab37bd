// Package version reports which killable-sudo build is running.
//
// Release builds stamp Version, Commit and BuildTime with ldflags:
//
//	go build -ldflags "-X github.com/doughall/killable-sudo/internal/version.Version=1.0.0 \
//	                   -X github.com/doughall/killable-sudo/internal/version.Commit=abc123 \
//	                   -X github.com/doughall/killable-sudo/internal/version.BuildTime=2025-01-29T12:00:00Z"
//
// Anything left unstamped is filled from the module and VCS data the Go
// toolchain embeds, so "go install" builds still identify themselves.
package version

import (
	"runtime"
	"runtime/debug"
)

const unknown = "unknown"

// Stamped at build time; see the package doc.
var (
	Version   = "dev"
	Commit    = unknown
	BuildTime = unknown
)

// Build is the resolved build identity.
type Build struct {
	Version   string
	Commit    string
	BuildTime string
	GoVersion string
}

// Current resolves the running binary's build identity.
func Current() Build {
	b := Build{Version: Version, Commit: Commit, BuildTime: BuildTime, GoVersion: runtime.Version()}
	if bi, ok := debug.ReadBuildInfo(); ok {
		b = b.fill(bi)
	}
	return b
}

// fill takes unstamped fields from the embedded build info.
func (b Build) fill(bi *debug.BuildInfo) Build {
	if b.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		b.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && b.Commit == unknown:
			b.Commit = s.Value
		case s.Key == "vcs.time" && b.BuildTime == unknown:
			b.BuildTime = s.Value
		}
	}
	return b
}

// String formats b for --version output.
func (b Build) String() string {
	return "killable-sudo " + b.Version + " (commit: " + b.Commit + ", built: " + b.BuildTime + ", " + b.GoVersion + ")"
}

// Info returns the --version line for the running binary.
func Info() string {
	return Current().String()
}
