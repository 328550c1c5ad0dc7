//go:build linux

package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/internal/judge/sandbox/spec"
)

// openTempDir is a temp dir the sandbox user can traverse, unlike t.TempDir.
func openTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "runner-")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	if err := os.Chmod(dir, 0755); err != nil {
		t.Fatalf("chmod temp: %v", err)
	}
	return dir
}

// newIsolatedRunner builds the sandbox helper and runs through it. It skips
// when the helper cannot be built or the host refuses user namespaces.
func newIsolatedRunner(t *testing.T) *DefaultRunner {
	t.Helper()
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not available")
	}
	dir := openTempDir(t)
	helper := filepath.Join(dir, "sandbox-init")
	build := exec.Command(goBin, "build", "-o", helper, "codejudge/cmd/sandbox-init")
	if out, err := build.CombinedOutput(); err != nil {
		t.Skipf("build sandbox-init: %v\n%s", err, out)
	}
	eng, err := engine.NewEngine(engine.Config{HelperPath: helper, EnableNamespaces: true})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	checkDir := filepath.Join(dir, "ns-check")
	if err := os.Mkdir(checkDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	res, err := eng.Run(context.Background(), spec.RunSpec{
		SubmissionID: "ns-check", RunID: "ns-check", WorkDir: checkDir,
		Cmd: []string{"true"}, Limits: spec.ResourceLimit{WallTimeMs: 5000},
	})
	if err != nil || res.ExitCode != 0 {
		t.Skipf("user namespaces unavailable: %+v %v", res, err)
	}

	langs, err := profile.NewTable(nil)
	if err != nil {
		t.Fatalf("language table: %v", err)
	}
	r, err := NewRunner(eng, langs, Config{
		WorkRoot:             filepath.Join(dir, "work"),
		CompileLimits:        spec.ResourceLimit{CPUTimeMs: 10000, WallTimeMs: 20000},
		RunLimits:            spec.ResourceLimit{OutputMB: 16},
		DefaultTimeLimitMs:   2000,
		DefaultMemoryLimitKB: 256 * 1024,
		WallGraceMs:          500,
	}, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return r
}

func newLinuxRunner(t *testing.T) *DefaultRunner {
	t.Helper()
	eng, err := engine.NewEngine(engine.Config{Unconfined: true})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	langs, err := profile.NewTable(nil)
	if err != nil {
		t.Fatalf("language table: %v", err)
	}
	r, err := NewRunner(eng, langs, Config{
		WorkRoot:             t.TempDir(),
		CompileLimits:        spec.ResourceLimit{CPUTimeMs: 10000, WallTimeMs: 20000},
		RunLimits:            spec.ResourceLimit{OutputMB: 16},
		DefaultTimeLimitMs:   2000,
		DefaultMemoryLimitKB: 256 * 1024,
		WallGraceMs:          500,
	}, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return r
}

func TestPythonEchoCompletes(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	t.Parallel()

	r := newLinuxRunner(t)
	ctx := context.Background()
	art, outcome, err := r.Compile(ctx, "sub-py", model.LanguagePython, "print(input())")
	if err != nil || !outcome.OK {
		t.Fatalf("compile: %+v, %v", outcome, err)
	}
	defer r.Release(art)

	res, err := r.Execute(ctx, art, "5\n", Limits{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != ExecCompleted || res.Stdout != "5\n" {
		t.Fatalf("unexpected outcome: %+v", res)
	}
}

func TestInfiniteLoopTimesOut(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	t.Parallel()

	r := newLinuxRunner(t)
	ctx := context.Background()
	art, _, err := r.Compile(ctx, "sub-loop", model.LanguagePython, "while True:\n    pass\n")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer r.Release(art)

	start := time.Now()
	// Python doubles the limit: 500ms becomes 1s of CPU plus the wall grace.
	res, err := r.Execute(ctx, art, "", Limits{TimeLimitMs: 500})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != ExecTimeExceeded {
		t.Fatalf("expected time limit, got %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("execute returned after %s", elapsed)
	}
}

func TestCppSyntaxErrorFailsCompilation(t *testing.T) {
	if _, err := exec.LookPath("g++"); err != nil {
		t.Skip("g++ not available")
	}
	t.Parallel()

	r := newLinuxRunner(t)
	_, outcome, err := r.Compile(context.Background(), "sub-cpp", model.LanguageCPP, "int main( { return 0; }")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if outcome.OK || outcome.Diagnostics == "" {
		t.Fatalf("expected diagnostics, got %+v", outcome)
	}
}

// leakProgram writes a marker anywhere it can outside its own run dir and
// reports markers left by an earlier case.
const leakProgram = `import os
seen = []
for p in ("../../leak.txt", "../leak.txt", "/tmp/leak.txt", "/leak.txt"):
    if os.path.exists(p):
        seen.append(p)
        continue
    try:
        with open(p, "w") as f:
            f.write("case")
    except OSError:
        pass
print("SEEN:" + ",".join(seen) if seen else "clean")
`

func TestCasesCannotSeeEachOthersFiles(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	t.Parallel()

	r := newIsolatedRunner(t)
	ctx := context.Background()
	art, outcome, err := r.Compile(ctx, "sub-leak", model.LanguagePython, leakProgram)
	if err != nil || !outcome.OK {
		t.Fatalf("compile: %+v, %v", outcome, err)
	}
	defer r.Release(art)

	for i := 1; i <= 2; i++ {
		res, err := r.Execute(ctx, art, "", Limits{})
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if res.Status != ExecCompleted || res.Stdout != "clean\n" {
			t.Fatalf("case %d: expected clean, got %+v", i, res)
		}
	}
	for _, p := range []string{
		filepath.Join(art.rootDir, "leak.txt"),
		filepath.Join(art.rootDir, "runs", "leak.txt"),
		filepath.Join(os.TempDir(), "leak.txt"),
	} {
		if _, err := os.Stat(p); err == nil {
			t.Fatalf("marker escaped to the host at %s", p)
		}
	}
}

func TestIsolatedRunKeepsProgramWorking(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	t.Parallel()

	r := newIsolatedRunner(t)
	ctx := context.Background()
	code := "import os, tempfile\n" +
		"p = os.path.join(tempfile.gettempdir(), 'scratch')\n" +
		"open(p, 'w').write(input())\n" +
		"open('local.txt', 'w').write('ok')\n" +
		"print(open(p).read().strip() + ':' + open('local.txt').read())\n"
	art, outcome, err := r.Compile(ctx, "sub-scratch", model.LanguagePython, code)
	if err != nil || !outcome.OK {
		t.Fatalf("compile: %+v, %v", outcome, err)
	}
	defer r.Release(art)

	res, err := r.Execute(ctx, art, "42\n", Limits{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != ExecCompleted || strings.TrimSpace(res.Stdout) != "42:ok" {
		t.Fatalf("expected private /tmp and writable run dir, got %+v", res)
	}
}
