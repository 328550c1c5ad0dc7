//go:build linux

// Command sandbox-init is executed by the judge engine inside fresh
// namespaces. It reads one run request from stdin, confines itself and execs
// the submission.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

const defaultPathEnv = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

func main() {
	if err := run(os.Stdin); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "sandbox-init: "+err.Error())
		os.Exit(1)
	}
}

func run(in io.Reader) error {
	req, err := decodeRequest(in)
	if err != nil {
		return err
	}
	// The profile lives on the host and is out of reach after the chroot.
	var seccompProfile []byte
	if req.EnableSeccomp && req.Isolation.SeccompProfile != "" {
		if seccompProfile, err = os.ReadFile(req.Isolation.SeccompProfile); err != nil {
			return fmt.Errorf("read seccomp profile: %w", err)
		}
	}
	if err := enterRoot(req); err != nil {
		return err
	}
	if err := os.Chdir(req.RunSpec.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}
	if err := applyRlimits(req.RunSpec.Limits); err != nil {
		return err
	}
	if err := redirectIO(req.RunSpec); err != nil {
		return err
	}
	if err := dropPrivileges(); err != nil {
		return err
	}
	if seccompProfile != nil {
		if err := applySeccomp(seccompProfile); err != nil {
			return err
		}
	}

	env := buildEnv(req.RunSpec.Env)
	os.Clearenv()
	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("set env: %w", err)
		}
	}
	cmdPath, err := exec.LookPath(req.RunSpec.Cmd[0])
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}
	return unix.Exec(cmdPath, req.RunSpec.Cmd, env)
}

func decodeRequest(r io.Reader) (initRequest, error) {
	var req initRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return initRequest{}, fmt.Errorf("decode request: %w", err)
	}
	if err := validateRequest(req); err != nil {
		return initRequest{}, err
	}
	return req, nil
}

func validateRequest(req initRequest) error {
	if len(req.RunSpec.Cmd) == 0 || req.RunSpec.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	if req.RunSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if !req.EnableNs && (req.Isolation.RootFS != "" || len(req.RunSpec.BindMounts) > 0) {
		return fmt.Errorf("namespaces disabled with rootfs or bind mounts")
	}
	if req.EnableNs && req.StageDir == "" {
		return fmt.Errorf("stage dir is required with namespaces")
	}
	return nil
}

func buildEnv(env []string) []string {
	if len(env) > 0 {
		return env
	}
	return []string{defaultPathEnv}
}
