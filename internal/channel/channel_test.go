package channel

import (
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/doughall/killable-sudo/internal/rundir"
)

// userDir creates <tmp>/user-<current user> and returns root and dir.
func userDir(t *testing.T) (string, string) {
	t.Helper()
	u, err := user.Current()
	if err != nil {
		t.Skipf("current user not resolvable: %v", err)
	}
	root := t.TempDir()
	dir := rundir.UserDir(root, u.Username)
	if err := os.Mkdir(dir, 0700); err != nil {
		t.Fatal(err)
	}
	return root, dir
}

func TestName(t *testing.T) {
	if got := Name(1234, "00ff"); got != "pid-1234-00ff.fifo" {
		t.Errorf("Name = %q", got)
	}

	name, err := NewName(42)
	if err != nil {
		t.Fatalf("NewName failed: %v", err)
	}
	if !strings.HasPrefix(name, "pid-42-") || !strings.HasSuffix(name, ".fifo") {
		t.Errorf("NewName = %q", name)
	}
	nonce := strings.TrimSuffix(strings.TrimPrefix(name, "pid-42-"), ".fifo")
	if len(nonce) != 2*nonceBytes {
		t.Errorf("nonce %q has length %d, want %d", nonce, len(nonce), 2*nonceBytes)
	}
}

func TestNewName_Distinct(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		name, err := NewName(7)
		if err != nil {
			t.Fatal(err)
		}
		if seen[name] {
			t.Fatalf("duplicate channel name %q", name)
		}
		seen[name] = true
	}
}

func TestParsePID(t *testing.T) {
	pid, err := ParsePID("/var/run/killable-sudo/user-alice/pid-31337-0123456789abcdef.fifo")
	if err != nil {
		t.Fatalf("ParsePID failed: %v", err)
	}
	if pid != 31337 {
		t.Errorf("pid = %d, want 31337", pid)
	}

	for _, bad := range []string{
		"pid-abc-0123.fifo",
		"pid-12.fifo",
		"pid-12-.fifo",
		"pid--5-ab.fifo",
		"pid-0-ab.fifo",
		"pid-4294967297-ab.fifo",
		"pid-2147483648-ab.fifo",
		"pid-99999999999999999999-ab.fifo",
		"proc-12-ab.fifo",
		"pid-12-ab.pipe",
		"",
	} {
		if _, err := ParsePID(bad); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ParsePID(%q) error = %v, want ErrInvalidName", bad, err)
		}
	}
}

func TestMarkerScanner(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []bool
	}{
		{"whole", []string{"kill\n"}, []bool{true}},
		{"split", []string{"ki", "ll\n"}, []bool{false, true}},
		{"byte by byte", []string{"k", "i", "l", "l", "\n"}, []bool{false, false, false, false, true}},
		{"merged", []string{"kill\nkill\n"}, []bool{true}},
		{"noise", []string{"xxkil", "l\nyy"}, []bool{false, true}},
		{"no marker", []string{"kil", "l"}, []bool{false, false}},
		{"repeat after found", []string{"kill\nki", "ll\n"}, []bool{true, true}},
		{"empty", []string{""}, []bool{false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMarkerScanner()
			for i, chunk := range tt.chunks {
				if got := s.Feed([]byte(chunk)); got != tt.want[i] {
					t.Errorf("Feed(%q) = %v, want %v", chunk, got, tt.want[i])
				}
				if len(s.tail) >= len(Marker) {
					t.Errorf("tail grew to %d bytes", len(s.tail))
				}
			}
		})
	}
}

func TestCreate_RemovesStaleFile(t *testing.T) {
	_, dir := userDir(t)
	path := filepath.Join(dir, Name(os.Getpid(), "deadbeef"))
	if err := os.WriteFile(path, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}

	ch, err := createAt(path)
	if err != nil {
		t.Fatalf("createAt failed: %v", err)
	}
	defer ch.Remove()

	info, err := os.Lstat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		t.Errorf("channel mode = %v, want named pipe", info.Mode())
	}
	if info.Mode().Perm() != FilePerm {
		t.Errorf("channel perm = %v, want %o", info.Mode().Perm(), FilePerm)
	}
}

func TestChannel_RoundTrip(t *testing.T) {
	root, dir := userDir(t)

	ch, err := Create(dir, os.Getpid())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer ch.Remove()

	// A request made before the reader exists must not be lost.
	if err := ch.RequestTermination(); err != nil {
		t.Fatalf("RequestTermination failed: %v", err)
	}

	r, err := OpenReader(root, ch.Path())
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer r.Close()

	if r.Owner().Uid != strconv.Itoa(os.Getuid()) {
		t.Errorf("Owner uid = %s, want %d", r.Owner().Uid, os.Getuid())
	}

	found, err := r.Drain()
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if !found {
		t.Error("expected marker written before open to be read")
	}

	// Nothing pending is not an error.
	found, err = r.Drain()
	if err != nil || found {
		t.Errorf("empty Drain = %v, %v; want false, nil", found, err)
	}

	if err := ch.RequestTermination(); err != nil {
		t.Fatal(err)
	}
	if found, _ := r.Drain(); !found {
		t.Error("expected second marker")
	}
}

func TestChannel_RemoveIsFinal(t *testing.T) {
	_, dir := userDir(t)

	ch, err := Create(dir, os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	ch.Remove()
	ch.Remove()

	if _, err := os.Lstat(ch.Path()); !os.IsNotExist(err) {
		t.Errorf("channel file still present: %v", err)
	}
	if err := ch.RequestTermination(); err != nil {
		t.Errorf("RequestTermination after Remove = %v, want nil", err)
	}
}

func TestReader_KeepsReadingAfterWriterGone(t *testing.T) {
	root, dir := userDir(t)

	ch, err := Create(dir, os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	r, err := OpenReader(root, ch.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ch.Remove()

	for i := 0; i < 3; i++ {
		found, err := r.Drain()
		if err != nil || found {
			t.Fatalf("Drain after writer closed = %v, %v", found, err)
		}
	}
}

func TestLocate(t *testing.T) {
	loc, err := Locate("/run/ks", "/run/ks/user-bob/pid-1-aa.fifo")
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if loc.Username != "bob" || loc.Dir != "/run/ks/user-bob" {
		t.Errorf("Locate = %+v", loc)
	}

	for _, bad := range []string{
		"run/ks/user-bob/pid-1-aa.fifo",
		"/etc/shadow",
		"/run/ks/pid-1-aa.fifo",
		"/run/ks/user-bob/sub/pid-1-aa.fifo",
		"/run/ks/other-bob/pid-1-aa.fifo",
		"/run/ks/user-bob/../../../etc/shadow",
		"/run/ksx/user-bob/pid-1-aa.fifo",
	} {
		if _, err := Locate("/run/ks", bad); !errors.Is(err, ErrUntrusted) {
			t.Errorf("Locate(%q) error = %v, want ErrUntrusted", bad, err)
		}
	}
}

func TestOpenReader_Rejects(t *testing.T) {
	root, dir := userDir(t)

	t.Run("missing file", func(t *testing.T) {
		_, err := OpenReader(root, filepath.Join(dir, "pid-1-aa.fifo"))
		if !errors.Is(err, ErrOpen) {
			t.Errorf("error = %v, want ErrOpen", err)
		}
	})

	t.Run("regular file", func(t *testing.T) {
		path := filepath.Join(dir, "pid-2-bb.fifo")
		if err := os.WriteFile(path, []byte("kill\n"), 0600); err != nil {
			t.Fatal(err)
		}
		_, err := OpenReader(root, path)
		if !errors.Is(err, ErrUntrusted) {
			t.Errorf("error = %v, want ErrUntrusted", err)
		}
	})

	t.Run("symlink", func(t *testing.T) {
		ch, err := Create(dir, 3)
		if err != nil {
			t.Fatal(err)
		}
		defer ch.Remove()
		link := filepath.Join(dir, "pid-3-link.fifo")
		if err := os.Symlink(ch.Path(), link); err != nil {
			t.Fatal(err)
		}
		_, err = OpenReader(root, link)
		if !errors.Is(err, ErrOpen) {
			t.Errorf("error = %v, want ErrOpen", err)
		}
	})

	t.Run("wrong directory owner", func(t *testing.T) {
		other := rundir.UserDir(root, "no-such-user-killable-sudo-test")
		if err := os.Mkdir(other, 0700); err != nil {
			t.Fatal(err)
		}
		ch, err := Create(other, 4)
		if err != nil {
			t.Fatal(err)
		}
		defer ch.Remove()
		_, err = OpenReader(root, ch.Path())
		if !errors.Is(err, ErrUntrusted) {
			t.Errorf("error = %v, want ErrUntrusted", err)
		}
	})
}

func TestInspect(t *testing.T) {
	root, dir := userDir(t)

	ch, err := Create(dir, 5)
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Remove()

	loc, owner, err := Inspect(root, ch.Path())
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if loc.Path != ch.Path() || loc.Dir != dir {
		t.Errorf("location = %+v, want path %s in %s", loc, ch.Path(), dir)
	}
	if owner.Username != loc.Username {
		t.Errorf("owner = %s, want %s", owner.Username, loc.Username)
	}

	t.Run("missing file", func(t *testing.T) {
		if _, _, err := Inspect(root, filepath.Join(dir, "pid-6-aa.fifo")); !errors.Is(err, ErrOpen) {
			t.Errorf("error = %v, want ErrOpen", err)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		path := filepath.Join(rundir.UserDir(root, "nobody"), "pid-6-aa.fifo")
		if _, _, err := Inspect(root, path); !errors.Is(err, ErrOpen) {
			t.Errorf("error = %v, want ErrOpen", err)
		}
	})

	t.Run("regular file", func(t *testing.T) {
		path := filepath.Join(dir, "pid-7-bb.fifo")
		if err := os.WriteFile(path, nil, 0600); err != nil {
			t.Fatal(err)
		}
		if _, _, err := Inspect(root, path); !errors.Is(err, ErrUntrusted) {
			t.Errorf("error = %v, want ErrUntrusted", err)
		}
	})

	t.Run("symlink", func(t *testing.T) {
		link := filepath.Join(dir, "pid-8-link.fifo")
		if err := os.Symlink(ch.Path(), link); err != nil {
			t.Fatal(err)
		}
		if _, _, err := Inspect(root, link); !errors.Is(err, ErrUntrusted) {
			t.Errorf("error = %v, want ErrUntrusted", err)
		}
	})

	t.Run("wrong directory owner", func(t *testing.T) {
		other := rundir.UserDir(root, "no-such-user-killable-sudo-test")
		if err := os.Mkdir(other, 0700); err != nil {
			t.Fatal(err)
		}
		och, err := Create(other, 9)
		if err != nil {
			t.Fatal(err)
		}
		defer och.Remove()
		if _, _, err := Inspect(root, och.Path()); !errors.Is(err, ErrUntrusted) {
			t.Errorf("error = %v, want ErrUntrusted", err)
		}
	})
}
