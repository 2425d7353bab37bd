package procinfo

import (
	"context"
	"errors"
	"math"
	"os"
	"os/exec"
	"testing"
)

func TestLookup_Self(t *testing.T) {
	info, err := Lookup(context.Background(), os.Getpid())
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if int(info.PID) != os.Getpid() {
		t.Errorf("PID = %d, want %d", info.PID, os.Getpid())
	}
	if info.RealUID != uint32(os.Getuid()) {
		t.Errorf("RealUID = %d, want %d", info.RealUID, os.Getuid())
	}
	if info.Name == "" {
		t.Error("expected a process name")
	}
}

func TestLookup_Exited(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("true not runnable: %v", err)
	}

	// The pid is reaped; it may be reused, but not this quickly in practice.
	_, err := Lookup(context.Background(), cmd.Process.Pid)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestLookup_InvalidPID(t *testing.T) {
	// 1<<32 + 1 would truncate to pid 1 as an int32.
	for _, pid := range []int{0, -1, 1<<32 + 1, math.MaxInt32 + 1} {
		if _, err := Lookup(context.Background(), pid); !errors.Is(err, ErrNotFound) {
			t.Errorf("Lookup(%d) error = %v, want ErrNotFound", pid, err)
		}
	}
}
