package runner

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
)

const stderrExcerptBytes = 1024

// Linux signal numbers.
var signalNames = map[int]string{
	4:  "SIGILL",
	6:  "SIGABRT",
	7:  "SIGBUS",
	8:  "SIGFPE",
	9:  "SIGKILL",
	11: "SIGSEGV",
	13: "SIGPIPE",
	15: "SIGTERM",
	24: "SIGXCPU",
	25: "SIGXFSZ",
	31: "SIGSYS",
}

func mapExecOutcome(res result.RunResult, limits spec.ResourceLimit) ExecOutcome {
	out := ExecOutcome{
		TimeMs:   res.TimeMs,
		MemoryKB: res.MemoryKB,
		ExitCode: res.ExitCode,
		Signal:   res.Signal,
	}
	switch {
	case res.Outcome == result.OutcomeTimeExceeded:
		out.Status = ExecTimeExceeded
	case res.Outcome == result.OutcomeMemoryExceeded:
		out.Status = ExecMemoryExceeded
	case res.Outcome == result.OutcomeSignaled:
		out.Status = ExecRuntimeFailure
		out.Diagnostics = withStderr(signalMessage(res.Signal), res.Stderr)
	case limits.OutputMB > 0 && res.OutputKB > limits.OutputMB*1024:
		out.Status = ExecRuntimeFailure
		out.Diagnostics = "output limit exceeded"
	case res.ExitCode != 0:
		out.Status = ExecRuntimeFailure
		out.Diagnostics = withStderr(fmt.Sprintf("non-zero exit code %d", res.ExitCode), res.Stderr)
	default:
		out.Status = ExecCompleted
		out.Stdout = res.Stdout
	}
	return out
}

func signalMessage(sig int) string {
	switch sig {
	case 11:
		return "segmentation fault"
	case 25:
		return "output limit exceeded"
	case 8:
		return "floating point exception"
	case 6:
		return "aborted"
	case 31:
		return "killed by signal SIGSYS (forbidden system call)"
	}
	if name, ok := signalNames[sig]; ok {
		return "killed by signal " + name
	}
	return fmt.Sprintf("killed by signal %d", sig)
}

func withStderr(msg, stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return msg
	}
	if len(stderr) > stderrExcerptBytes {
		cut := stderrExcerptBytes
		for cut > 0 && !utf8.RuneStart(stderr[cut]) {
			cut--
		}
		stderr = stderr[:cut] + "..."
	}
	return msg + "\n" + stderr
}
