package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/observer"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	buildDirName     = "build"
	runsDirName      = "runs"
	inputFileName    = "input.txt"
	outputFileName   = "output.txt"
	runtimeLogName   = "runtime.log"
	compileOutName   = "compile.out"
	compileLogName   = "compile.log"
	defaultWallGrace = 1000
)

// Config controls how the runner lays out work directories and limits.
type Config struct {
	// WorkRoot holds one directory per compiled submission.
	WorkRoot string
	// CompileLimits apply to every compiler invocation.
	CompileLimits spec.ResourceLimit
	// RunLimits supply stack, output and process ceilings for executions.
	RunLimits            spec.ResourceLimit
	DefaultTimeLimitMs   int64
	DefaultMemoryLimitKB int64
	// WallGraceMs is added to the time limit to form the wall-clock limit.
	WallGraceMs int64
}

// DefaultRunner implements compile and execute for every language in the table.
type DefaultRunner struct {
	eng     engine.Engine
	langs   *profile.Table
	cfg     Config
	metrics observer.MetricsRecorder
}

// NewRunner creates a runner backed by the sandbox engine.
func NewRunner(eng engine.Engine, langs *profile.Table, cfg Config, metrics observer.MetricsRecorder) (*DefaultRunner, error) {
	if eng == nil {
		return nil, appErr.ValidationError("engine", "required")
	}
	if langs == nil {
		return nil, appErr.ValidationError("languages", "required")
	}
	if cfg.WorkRoot == "" {
		return nil, appErr.ValidationError("work_root", "required")
	}
	if cfg.DefaultTimeLimitMs <= 0 || cfg.DefaultMemoryLimitKB <= 0 {
		return nil, appErr.ValidationError("default_limits", "must be positive")
	}
	if cfg.WallGraceMs <= 0 {
		cfg.WallGraceMs = defaultWallGrace
	}
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	if err := os.MkdirAll(cfg.WorkRoot, 0755); err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create work root failed")
	}
	return &DefaultRunner{eng: eng, langs: langs, cfg: cfg, metrics: metrics}, nil
}

// Compile writes the source into a fresh build directory and compiles it when
// the language needs it. A failed compilation is reported through the outcome
// with a nil error; errors are reserved for sandbox faults.
func (r *DefaultRunner) Compile(ctx context.Context, submissionID string, language model.Language, code string) (Artifact, CompileOutcome, error) {
	if submissionID == "" {
		return Artifact{}, CompileOutcome{}, appErr.ValidationError("submission_id", "required")
	}
	lang, err := r.langs.Get(language)
	if err != nil {
		return Artifact{}, CompileOutcome{}, err
	}

	rootDir := filepath.Join(r.cfg.WorkRoot, submissionID+"-"+uuid.NewString())
	buildDir := filepath.Join(rootDir, buildDirName)
	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return Artifact{}, CompileOutcome{}, appErr.Wrapf(err, appErr.JudgeSystemError, "create build dir failed")
	}
	art := Artifact{
		SubmissionID: submissionID,
		Language:     lang.ID,
		rootDir:      rootDir,
		buildDir:     buildDir,
		lang:         lang,
	}
	if err := os.WriteFile(filepath.Join(buildDir, lang.SourceFile), []byte(code), 0644); err != nil {
		r.Release(art)
		return Artifact{}, CompileOutcome{}, appErr.Wrapf(err, appErr.JudgeSystemError, "write source failed")
	}
	if !lang.CompileEnabled {
		return art, CompileOutcome{OK: true}, nil
	}

	cmd, err := buildCommand(lang.CompileCmdTpl, lang, buildDir, r.cfg.CompileLimits.MemoryKB)
	if err != nil {
		r.Release(art)
		return Artifact{}, CompileOutcome{}, err
	}
	runSpec := spec.RunSpec{
		SubmissionID: submissionID,
		RunID:        "compile-" + uuid.NewString(),
		WorkDir:      buildDir,
		Cmd:          cmd,
		Env:          lang.Env,
		StdoutPath:   compileOutName,
		StderrPath:   compileLogName,
		Profile:      string(profile.TaskTypeCompile),
		Limits:       r.cfg.CompileLimits,
	}
	runRes, err := r.eng.Run(ctx, runSpec)
	if err != nil {
		r.Release(art)
		return Artifact{}, CompileOutcome{}, appErr.Wrapf(err, appErr.JudgeSystemError, "run compiler failed")
	}

	outcome := CompileOutcome{
		OK:       runRes.Outcome == result.OutcomeCompleted && runRes.ExitCode == 0,
		TimeMs:   runRes.TimeMs,
		MemoryKB: runRes.MemoryKB,
	}
	r.metrics.ObserveCompile(ctx, string(lang.ID), outcome.OK, outcome.TimeMs, outcome.MemoryKB)
	if outcome.OK {
		_ = os.Remove(filepath.Join(buildDir, compileOutName))
		_ = os.Remove(filepath.Join(buildDir, compileLogName))
		return art, outcome, nil
	}

	outcome.Diagnostics = compileDiagnostics(runRes, buildDir)
	logger.Info(ctx, "compilation failed",
		zap.String("submission_id", submissionID),
		zap.String("language", string(lang.ID)),
		zap.String("outcome", string(runRes.Outcome)),
		zap.Int("exit_code", runRes.ExitCode),
	)
	r.Release(art)
	return Artifact{}, outcome, nil
}

// Execute runs the artifact against one input inside a fresh copy of the build
// directory. The copy is removed before Execute returns.
func (r *DefaultRunner) Execute(ctx context.Context, art Artifact, input string, limits Limits) (ExecOutcome, error) {
	if art.buildDir == "" {
		return ExecOutcome{}, appErr.ValidationError("artifact", "required")
	}
	runID := uuid.NewString()
	runDir := filepath.Join(art.rootDir, runsDirName, runID)
	if err := copyDir(art.buildDir, runDir); err != nil {
		_ = os.RemoveAll(runDir)
		return ExecOutcome{}, appErr.Wrapf(err, appErr.JudgeSystemError, "prepare run dir failed")
	}
	defer os.RemoveAll(runDir)
	if err := os.WriteFile(filepath.Join(runDir, inputFileName), []byte(input), 0644); err != nil {
		return ExecOutcome{}, appErr.Wrapf(err, appErr.JudgeSystemError, "write input failed")
	}

	resolved := r.resolveLimits(art.lang, limits)
	cmd, err := buildCommand(art.lang.RunCmdTpl, art.lang, runDir, resolved.MemoryKB)
	if err != nil {
		return ExecOutcome{}, err
	}
	runSpec := spec.RunSpec{
		SubmissionID: art.SubmissionID,
		RunID:        runID,
		WorkDir:      runDir,
		Cmd:          cmd,
		Env:          art.lang.Env,
		StdinPath:    inputFileName,
		StdoutPath:   outputFileName,
		StderrPath:   runtimeLogName,
		Profile:      string(profile.TaskTypeRun),
		Limits:       resolved,
	}
	runRes, err := r.eng.Run(ctx, runSpec)
	if err != nil {
		r.metrics.ObserveRun(ctx, string(art.Language), "SystemError", 0, 0, 0)
		return ExecOutcome{}, appErr.Wrapf(err, appErr.JudgeSystemError, "run program failed")
	}

	outcome := mapExecOutcome(runRes, resolved)
	r.metrics.ObserveRun(ctx, string(art.Language), string(outcome.Status), runRes.TimeMs, runRes.MemoryKB, runRes.OutputKB)
	return outcome, nil
}

// Release removes every file the artifact owns. It is safe to call twice.
func (r *DefaultRunner) Release(art Artifact) {
	if art.rootDir == "" {
		return
	}
	if err := os.RemoveAll(art.rootDir); err != nil {
		logger.Warn(context.Background(), "remove work dir failed",
			zap.String("submission_id", art.SubmissionID),
			zap.Error(err),
		)
	}
}

// resolveLimits picks the first positive of request, language and global
// values, then applies the language multipliers.
func (r *DefaultRunner) resolveLimits(lang profile.LanguageSpec, limits Limits) spec.ResourceLimit {
	timeMs := firstPositive(limits.TimeLimitMs, lang.TimeLimitMs, r.cfg.DefaultTimeLimitMs)
	memoryKB := firstPositive(limits.MemoryLimitKB, lang.MemoryLimitKB, r.cfg.DefaultMemoryLimitKB)
	timeMs = scaleLimit(timeMs, lang.TimeMultiplier)
	memoryKB = scaleLimit(memoryKB, lang.MemoryMultiplier)

	resolved := r.cfg.RunLimits.Merge(spec.ResourceLimit{
		CPUTimeMs: timeMs,
		MemoryKB:  memoryKB,
	})
	resolved.WallTimeMs = timeMs + r.cfg.WallGraceMs
	return resolved
}

func firstPositive(values ...int64) int64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func compileDiagnostics(res result.RunResult, buildDir string) string {
	var b strings.Builder
	switch res.Outcome {
	case result.OutcomeTimeExceeded:
		b.WriteString("compilation time limit exceeded\n")
	case result.OutcomeMemoryExceeded:
		b.WriteString("compilation memory limit exceeded\n")
	case result.OutcomeSignaled:
		b.WriteString("compiler " + signalMessage(res.Signal) + "\n")
	}
	b.WriteString(res.Stderr)
	if strings.TrimSpace(res.Stdout) != "" {
		b.WriteString("\n")
		b.WriteString(res.Stdout)
	}
	diag := strings.ReplaceAll(b.String(), buildDir+string(filepath.Separator), "")
	diag = strings.TrimSpace(diag)
	if diag == "" {
		diag = "compilation failed"
	}
	return diag
}
