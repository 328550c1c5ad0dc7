//go:build linux

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// applyRlimits sets the per-process limits. RLIMIT_NPROC is not used since it
// counts every process of the user, not just this run.
func applyRlimits(limits resourceLimit) error {
	set := func(name string, resource int, value uint64) error {
		if err := unix.Setrlimit(resource, &unix.Rlimit{Cur: value, Max: value}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", name, err)
		}
		return nil
	}
	if limits.CPUTimeMs > 0 {
		if err := set("cpu", unix.RLIMIT_CPU, uint64((limits.CPUTimeMs+999)/1000)); err != nil {
			return err
		}
	}
	if limits.OutputMB > 0 {
		if err := set("fsize", unix.RLIMIT_FSIZE, uint64(limits.OutputMB)<<20); err != nil {
			return err
		}
	}
	if limits.StackMB > 0 {
		if err := set("stack", unix.RLIMIT_STACK, uint64(limits.StackMB)<<20); err != nil {
			return err
		}
	}
	return set("core", unix.RLIMIT_CORE, 0)
}

func redirectIO(spec runSpec) error {
	paths := []struct {
		name string
		path string
		flag int
		fd   int
	}{
		{name: "stdin", path: spec.StdinPath, flag: os.O_RDONLY, fd: int(os.Stdin.Fd())},
		{name: "stdout", path: spec.StdoutPath, flag: os.O_CREATE | os.O_WRONLY | os.O_TRUNC, fd: int(os.Stdout.Fd())},
		{name: "stderr", path: spec.StderrPath, flag: os.O_CREATE | os.O_WRONLY | os.O_TRUNC, fd: int(os.Stderr.Fd())},
	}
	for _, p := range paths {
		path := p.path
		if path == "" {
			path = os.DevNull
		}
		file, err := os.OpenFile(path, p.flag, 0644)
		if err != nil {
			return fmt.Errorf("open %s: %w", p.name, err)
		}
		err = unix.Dup2(int(file.Fd()), p.fd)
		_ = file.Close()
		if err != nil {
			return fmt.Errorf("dup %s: %w", p.name, err)
		}
	}
	return nil
}
