package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"
)

func TestBuildFill(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "deadbeef"},
			{Key: "vcs.time", Value: "2025-01-29T12:00:00Z"},
		},
	}

	tests := []struct {
		name  string
		build Build
		want  Build
	}{
		{
			name:  "unstamped",
			build: Build{Version: "dev", Commit: unknown, BuildTime: unknown},
			want:  Build{Version: "v1.2.3", Commit: "deadbeef", BuildTime: "2025-01-29T12:00:00Z"},
		},
		{
			name:  "stamped",
			build: Build{Version: "1.0.0", Commit: "abc123", BuildTime: "2024-06-01T00:00:00Z"},
			want:  Build{Version: "1.0.0", Commit: "abc123", BuildTime: "2024-06-01T00:00:00Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.build.fill(bi); got != tt.want {
				t.Errorf("fill = %+v, want %+v", got, tt.want)
			}
		})
	}

	devel := &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}
	if got := (Build{Version: "dev"}).fill(devel); got.Version != "dev" {
		t.Errorf("devel build version = %q, want dev", got.Version)
	}
}

func TestInfo(t *testing.T) {
	info := Info()
	if !strings.HasPrefix(info, "killable-sudo ") {
		t.Errorf("Info() = %q, want killable-sudo prefix", info)
	}
	if !strings.Contains(info, runtime.Version()) {
		t.Errorf("Info() = %q, missing Go version %s", info, runtime.Version())
	}
}
