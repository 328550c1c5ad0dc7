//go:build linux

package engine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
)

func newDirectEngine(t *testing.T) Engine {
	t.Helper()
	eng, err := NewEngine(Config{Unconfined: true})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func requireTools(t *testing.T, tools ...string) {
	t.Helper()
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available: %v", tool, err)
		}
	}
}

func TestRunCompletedCapturesStdout(t *testing.T) {
	t.Parallel()
	requireTools(t, "sh")

	workDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workDir, "input.txt"), []byte("hello\n"), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	res, err := newDirectEngine(t).Run(context.Background(), spec.RunSpec{
		SubmissionID: "sub-1",
		RunID:        "run-1",
		WorkDir:      workDir,
		Cmd:          []string{"sh", "-c", "cat; exit 3"},
		StdinPath:    "input.txt",
		StdoutPath:   "stdout.txt",
		StderrPath:   "stderr.txt",
		Limits:       spec.ResourceLimit{WallTimeMs: 5000},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Outcome != result.OutcomeCompleted || res.ExitCode != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Stdout != "hello\n" {
		t.Fatalf("unexpected stdout %q", res.Stdout)
	}
}

func TestRunWallTimeoutKillsDescendants(t *testing.T) {
	t.Parallel()
	requireTools(t, "sh", "sleep")

	workDir := t.TempDir()
	pidFile := filepath.Join(workDir, "child.pid")
	start := time.Now()
	res, err := newDirectEngine(t).Run(context.Background(), spec.RunSpec{
		SubmissionID: "sub-2",
		RunID:        "run-1",
		WorkDir:      workDir,
		Cmd:          []string{"sh", "-c", "sleep 30 & echo $! > child.pid; wait"},
		StdoutPath:   "stdout.txt",
		StderrPath:   "stderr.txt",
		Limits:       spec.ResourceLimit{CPUTimeMs: 200, WallTimeMs: 300},
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Outcome != result.OutcomeTimeExceeded || !res.TimedOut {
		t.Fatalf("expected wall timeout, got %+v", res)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("run returned too late: %s", elapsed)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read child pid: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parse child pid: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for processAlive(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("descendant %d survived the run", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRunSignaled(t *testing.T) {
	t.Parallel()
	requireTools(t, "sh")

	res, err := newDirectEngine(t).Run(context.Background(), spec.RunSpec{
		SubmissionID: "sub-3",
		RunID:        "run-1",
		WorkDir:      t.TempDir(),
		Cmd:          []string{"sh", "-c", "kill -SEGV $$"},
		Limits:       spec.ResourceLimit{WallTimeMs: 5000},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Outcome != result.OutcomeSignaled || res.Signal != 11 {
		t.Fatalf("expected SIGSEGV, got %+v", res)
	}
}

func TestRunRejectsIncompleteSpec(t *testing.T) {
	t.Parallel()

	_, err := newDirectEngine(t).Run(context.Background(), spec.RunSpec{SubmissionID: "sub", RunID: "run"})
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

// processAlive treats zombies as dead: they hold no resources and wait for reaping.
func processAlive(pid int) bool {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return false
	}
	fields := strings.Fields(string(data))
	for i, f := range fields {
		if strings.HasSuffix(f, ")") && i+1 < len(fields) {
			return fields[i+1] != "Z"
		}
	}
	return true
}

func TestNewEngineRequiresIsolationUnlessUnconfined(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "bare", cfg: Config{}, wantErr: true},
		{name: "helper without namespaces", cfg: Config{HelperPath: "/bin/sandbox-init"}, wantErr: true},
		{name: "helper with namespaces", cfg: Config{HelperPath: "/bin/sandbox-init", EnableNamespaces: true}},
		{name: "explicitly unconfined", cfg: Config{Unconfined: true}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewEngine(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestBuildSysProcAttrClonesIntoCgroup(t *testing.T) {
	t.Parallel()

	attr := buildSysProcAttr(IsolationProfile{DisableNetwork: true}, true, 7)
	if !attr.UseCgroupFD || attr.CgroupFD != 7 {
		t.Fatalf("expected clone into cgroup fd 7, got %+v", attr)
	}
	if attr.Cloneflags&syscall.CLONE_NEWUSER == 0 || attr.Cloneflags&syscall.CLONE_NEWNET == 0 {
		t.Fatalf("expected user and network namespaces, got %#x", attr.Cloneflags)
	}
	if direct := buildSysProcAttr(IsolationProfile{}, false, -1); direct.UseCgroupFD || direct.Cloneflags != 0 {
		t.Fatalf("expected plain process group, got %+v", direct)
	}
}

func TestHostIDsNeverMapHostRoot(t *testing.T) {
	t.Parallel()

	uid, gid := Config{}.hostIDs()
	if os.Getuid() != 0 {
		if uid != os.Getuid() || gid != os.Getgid() {
			t.Fatalf("expected own ids, got %d:%d", uid, gid)
		}
		return
	}
	if uid != nobodyID || gid != nobodyID {
		t.Fatalf("expected nobody, got %d:%d", uid, gid)
	}
	if uid, gid := (Config{SandboxUID: 2000, SandboxGID: 2001}).hostIDs(); uid != 2000 || gid != 2001 {
		t.Fatalf("expected configured ids, got %d:%d", uid, gid)
	}
}
