//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	defaultStdoutStderrMaxBytes int64 = 64 * 1024
	defaultPath                       = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
)

type runHandle struct {
	runID      string
	pid        int
	cgroupPath string
}

type linuxEngine struct {
	cfg       Config
	registry  map[string][]runHandle
	registryM sync.Mutex
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config) (Engine, error) {
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, fmt.Errorf("cgroup root is required when cgroups are enabled")
	}
	if cfg.HelperPath == "" && (cfg.EnableNamespaces || cfg.EnableSeccomp) {
		return nil, fmt.Errorf("helper path is required for namespaces or seccomp")
	}
	if !cfg.Unconfined && (cfg.HelperPath == "" || !cfg.EnableNamespaces) {
		return nil, fmt.Errorf("runs are only isolated from each other by the helper with namespaces; set unconfined to run without it")
	}
	if cfg.StdoutStderrMaxBytes <= 0 {
		cfg.StdoutStderrMaxBytes = defaultStdoutStderrMaxBytes
	}
	if cfg.StageRoot != "" {
		if err := os.MkdirAll(cfg.StageRoot, 0755); err != nil {
			return nil, fmt.Errorf("create stage root: %w", err)
		}
	}
	return &linuxEngine{
		cfg:      cfg,
		registry: make(map[string][]runHandle),
	}, nil
}

func (e *linuxEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, err
	}

	cgroupPath := ""
	cgroupFD := -1
	cgroupCleanup := func() {}
	if e.cfg.EnableCgroup {
		var err error
		cgroupPath, cgroupCleanup, err = createRunCgroup(e.cfg.CgroupRoot, runSpec.SubmissionID, runSpec.RunID)
		if err != nil {
			return result.RunResult{}, fmt.Errorf("create cgroup: %w", err)
		}
		if err := applyCgroupLimits(cgroupPath, runSpec.Limits); err != nil {
			cgroupCleanup()
			return result.RunResult{}, fmt.Errorf("apply cgroup limits: %w", err)
		}
		// The child is cloned straight into the group so that nothing it
		// forks or allocates escapes the limits.
		dir, err := os.Open(cgroupPath)
		if err != nil {
			cgroupCleanup()
			return result.RunResult{}, fmt.Errorf("open cgroup: %w", err)
		}
		defer dir.Close()
		cgroupFD = int(dir.Fd())
	}
	defer cgroupCleanup()

	cmd, closeFiles, err := e.buildCmd(runSpec, cgroupFD)
	if err != nil {
		return result.RunResult{}, err
	}
	defer closeFiles()

	var helperStderr bytes.Buffer
	if e.cfg.HelperPath != "" {
		cmd.Stderr = &helperStderr
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result.RunResult{}, fmt.Errorf("start process: %w", err)
	}
	pid := cmd.Process.Pid
	handle := runHandle{runID: runSpec.RunID, pid: pid, cgroupPath: cgroupPath}
	e.register(runSpec.SubmissionID, handle)
	defer e.unregister(runSpec.SubmissionID, runSpec.RunID)

	if e.cfg.HelperPath == "" {
		if err := applyPrlimits(pid, runSpec.Limits); err != nil {
			e.terminate(handle)
			_ = cmd.Wait()
			return result.RunResult{}, fmt.Errorf("apply rlimits: %w", err)
		}
	}

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if wallLimit := durationFromMs(runSpec.Limits.WallTimeMs); wallLimit > 0 {
			timer := time.NewTimer(wallLimit)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			e.terminate(handle)
		case <-wallTimer:
			timedOut.Store(true)
			e.terminate(handle)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	wallTimeMs := time.Since(start).Milliseconds()

	// Descendants may outlive the leader; nothing survives the call.
	e.terminate(handle)

	if waitErr != nil && helperStderr.Len() > 0 {
		logger.Warn(ctx, "sandbox helper stderr",
			zap.String("run_id", runSpec.RunID),
			zap.String("stderr", helperStderr.String()),
		)
	}
	state := cmd.ProcessState
	if state == nil {
		return result.RunResult{}, fmt.Errorf("wait process: %w", waitErr)
	}

	info := exitInfo{
		ExitCode:  state.ExitCode(),
		TimedOut:  timedOut.Load(),
		OomKilled: wasOomKilled(cgroupPath),
		CPUTimeMs: cpuTimeMs(state),
		MemoryKB:  memoryPeakKB(cgroupPath, state),
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		info.Signaled = true
		info.Signal = int(status.Signal())
	}
	if ctx.Err() != nil && !info.TimedOut {
		return result.RunResult{}, fmt.Errorf("run cancelled: %w", ctx.Err())
	}

	runResult := buildResult(info, runSpec.Limits)
	runResult.WallTimeMs = wallTimeMs
	stdoutPath := resolveHostPath(runSpec.StdoutPath, runSpec.WorkDir)
	stderrPath := resolveHostPath(runSpec.StderrPath, runSpec.WorkDir)
	runResult.OutputKB = fileSizeKB(stdoutPath)
	runResult.Stdout = readLimitedFile(stdoutPath, e.stdoutLimit(runSpec.Limits))
	runResult.Stderr = readLimitedFile(stderrPath, e.cfg.StdoutStderrMaxBytes)
	return runResult, nil
}

func (e *linuxEngine) buildCmd(runSpec spec.RunSpec, cgroupFD int) (*exec.Cmd, func(), error) {
	if e.cfg.HelperPath != "" {
		return e.buildHelperCmd(runSpec, cgroupFD)
	}
	return e.buildDirectCmd(runSpec, cgroupFD)
}

func (e *linuxEngine) buildDirectCmd(runSpec spec.RunSpec, cgroupFD int) (*exec.Cmd, func(), error) {
	var files []*os.File
	closeFiles := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	open := func(path string, flag int) (*os.File, error) {
		if path == "" {
			path = os.DevNull
		}
		f, err := os.OpenFile(resolveHostPath(path, runSpec.WorkDir), flag, 0644)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
		return f, nil
	}

	stdin, err := open(runSpec.StdinPath, os.O_RDONLY)
	if err != nil {
		closeFiles()
		return nil, nil, fmt.Errorf("open stdin: %w", err)
	}
	stdout, err := open(runSpec.StdoutPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		closeFiles()
		return nil, nil, fmt.Errorf("open stdout: %w", err)
	}
	stderr, err := open(runSpec.StderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		closeFiles()
		return nil, nil, fmt.Errorf("open stderr: %w", err)
	}

	env := runSpec.Env
	if len(env) == 0 {
		env = []string{defaultPath}
	}
	cmd := exec.Command(runSpec.Cmd[0], runSpec.Cmd[1:]...)
	cmd.Dir = runSpec.WorkDir
	cmd.Env = env
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = buildSysProcAttr(IsolationProfile{}, false, cgroupFD)
	return cmd, closeFiles, nil
}

func (e *linuxEngine) buildHelperCmd(runSpec spec.RunSpec, cgroupFD int) (*exec.Cmd, func(), error) {
	isoProfile, err := e.cfg.resolveProfile(runSpec.Profile)
	if err != nil {
		return nil, nil, err
	}
	if e.cfg.SeccompDir != "" && isoProfile.SeccompProfile != "" && !filepath.IsAbs(isoProfile.SeccompProfile) {
		isoProfile.SeccompProfile = filepath.Join(e.cfg.SeccompDir, isoProfile.SeccompProfile)
	}
	req := initRequest{
		RunSpec:       runSpec,
		Isolation:     isoProfile,
		EnableSeccomp: e.cfg.EnableSeccomp,
		EnableNs:      e.cfg.EnableNamespaces,
	}

	cleanup := func() {}
	attr := buildSysProcAttr(isoProfile, e.cfg.EnableNamespaces, cgroupFD)
	if e.cfg.EnableNamespaces {
		uid, gid := e.cfg.hostIDs()
		mapIDs(attr, uid, gid)
		// The helper mounts the run root here; the mounts die with its
		// namespace and leave an empty directory behind.
		stage, err := os.MkdirTemp(e.cfg.StageRoot, "run-root-")
		if err != nil {
			return nil, nil, fmt.Errorf("create stage dir: %w", err)
		}
		cleanup = func() { _ = os.Remove(stage) }
		req.StageDir = stage
		if uid != os.Getuid() {
			if err := chownTree(runSpec.WorkDir, uid, gid); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("hand work dir to sandbox user: %w", err)
			}
			if err := os.Chown(stage, uid, gid); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("hand stage dir to sandbox user: %w", err)
			}
		}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("encode init request: %w", err)
	}

	cmd := exec.Command(e.cfg.HelperPath)
	cmd.SysProcAttr = attr
	cmd.Stdin = bytes.NewReader(payload)
	cmd.WaitDelay = time.Second
	return cmd, cleanup, nil
}

func (e *linuxEngine) stdoutLimit(limits spec.ResourceLimit) int64 {
	if limits.OutputMB > 0 {
		return limits.OutputMB * 1024 * 1024
	}
	return e.cfg.StdoutStderrMaxBytes
}

func (e *linuxEngine) KillSubmission(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	for _, handle := range e.snapshot(submissionID) {
		logger.Info(ctx, "kill sandbox run",
			zap.String("submission_id", submissionID),
			zap.String("run_id", handle.runID),
		)
		e.terminate(handle)
	}
	return nil
}

// terminate kills the process group and, when present, every task in the run cgroup.
func (e *linuxEngine) terminate(handle runHandle) {
	if handle.pid > 0 {
		_ = syscall.Kill(-handle.pid, syscall.SIGKILL)
	}
	if handle.cgroupPath != "" {
		_ = killCgroup(handle.cgroupPath)
	}
}

func (e *linuxEngine) register(submissionID string, handle runHandle) {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	e.registry[submissionID] = append(e.registry[submissionID], handle)
}

func (e *linuxEngine) unregister(submissionID, runID string) {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	handles := e.registry[submissionID]
	updated := handles[:0]
	for _, h := range handles {
		if h.runID != runID {
			updated = append(updated, h)
		}
	}
	if len(updated) == 0 {
		delete(e.registry, submissionID)
		return
	}
	e.registry[submissionID] = updated
}

func (e *linuxEngine) snapshot(submissionID string) []runHandle {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	handles := e.registry[submissionID]
	out := make([]runHandle, len(handles))
	copy(out, handles)
	return out
}

func validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.SubmissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	if runSpec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if runSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if len(runSpec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	return nil
}

// applyPrlimits caps the started process in direct mode. Process counts are
// left to pids.max because RLIMIT_NPROC is accounted per user.
func applyPrlimits(pid int, limits spec.ResourceLimit) error {
	set := func(resource int, value uint64) error {
		return unix.Prlimit(pid, resource, &unix.Rlimit{Cur: value, Max: value}, nil)
	}
	if limits.CPUTimeMs > 0 {
		if err := set(unix.RLIMIT_CPU, uint64((limits.CPUTimeMs+999)/1000)); err != nil {
			return fmt.Errorf("cpu: %w", err)
		}
	}
	if limits.OutputMB > 0 {
		if err := set(unix.RLIMIT_FSIZE, uint64(limits.OutputMB*1024*1024)); err != nil {
			return fmt.Errorf("fsize: %w", err)
		}
	}
	if limits.StackMB > 0 {
		if err := set(unix.RLIMIT_STACK, uint64(limits.StackMB*1024*1024)); err != nil {
			return fmt.Errorf("stack: %w", err)
		}
	}
	return nil
}

// buildSysProcAttr starts the child in its own process group and, when
// cgroupFD is valid, directly inside that cgroup.
func buildSysProcAttr(profile IsolationProfile, enableNamespaces bool, cgroupFD int) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if cgroupFD >= 0 {
		attr.UseCgroupFD = true
		attr.CgroupFD = cgroupFD
	}
	if !enableNamespaces {
		return attr
	}

	cloneFlags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC)
	if profile.DisableNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	cloneFlags |= syscall.CLONE_NEWUSER
	attr.Cloneflags = cloneFlags
	attr.GidMappingsEnableSetgroups = false
	return attr
}

// mapIDs makes root inside the user namespace the given host user.
func mapIDs(attr *syscall.SysProcAttr, uid, gid int) {
	attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: uid, Size: 1}}
	attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: gid, Size: 1}}
}
