//go:build linux

package main

import (
	"strings"
	"testing"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

func TestDecodeRequest(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "ok", body: `{"RunSpec":{"WorkDir":"/w","Cmd":["./main"],"Limits":{"MemoryKB":65536}}}`},
		{name: "no-cmd", body: `{"RunSpec":{"WorkDir":"/w"}}`, wantErr: "command is required"},
		{name: "no-workdir", body: `{"RunSpec":{"Cmd":["./main"]}}`, wantErr: "work dir is required"},
		{name: "rootfs-without-ns", body: `{"RunSpec":{"WorkDir":"/w","Cmd":["./main"]},"Isolation":{"RootFS":"/r"}}`, wantErr: "namespaces disabled"},
		{name: "ns-without-stage", body: `{"RunSpec":{"WorkDir":"/w","Cmd":["./main"]},"EnableNs":true}`, wantErr: "stage dir is required"},
		{name: "garbage", body: `{`, wantErr: "decode request"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := decodeRequest(strings.NewReader(tt.body))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if req.RunSpec.Limits.MemoryKB != 65536 {
					t.Fatalf("expected memory limit 65536, got %d", req.RunSpec.Limits.MemoryKB)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseSeccompAction(t *testing.T) {
	t.Parallel()
	tests := []struct {
		action string
		want   seccomp.ScmpAction
		ok     bool
	}{
		{action: "SCMP_ACT_ALLOW", want: seccomp.ActAllow, ok: true},
		{action: "scmp_act_kill", want: seccomp.ActKillProcess, ok: true},
		{action: "SCMP_ACT_TRACE", ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.action, func(t *testing.T) {
			t.Parallel()
			got, err := parseSeccompAction(tt.action)
			if (err == nil) != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, err)
			}
			if tt.ok && got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestBuildEnvDefaultsPath(t *testing.T) {
	t.Parallel()
	if got := buildEnv(nil); len(got) != 1 || got[0] != defaultPathEnv {
		t.Fatalf("expected default PATH, got %v", got)
	}
	if got := buildEnv([]string{"A=1"}); len(got) != 1 || got[0] != "A=1" {
		t.Fatalf("expected env passthrough, got %v", got)
	}
}

func TestLockedMountFlagsCarriesRestrictions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		st   int64
		want uintptr
	}{
		{name: "none", st: 0, want: 0},
		{name: "nosuid-nodev", st: unix.ST_NOSUID | unix.ST_NODEV, want: unix.MS_NOSUID | unix.MS_NODEV},
		{name: "noexec-relatime", st: unix.ST_NOEXEC | unix.ST_RELATIME, want: unix.MS_NOEXEC | unix.MS_RELATIME},
		{name: "readonly-ignored", st: unix.ST_RDONLY, want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := lockedMountFlags(tt.st); got != tt.want {
				t.Fatalf("expected %#x, got %#x", tt.want, got)
			}
		})
	}
}
