package engine

import (
	"fmt"
	"os"
)

// IsolationProfile describes how the helper isolates one class of run.
type IsolationProfile struct {
	RootFS         string `json:"RootFS" yaml:"rootfs"`
	SeccompProfile string `json:"SeccompProfile" yaml:"seccompProfile"`
	DisableNetwork bool   `json:"DisableNetwork" yaml:"disableNetwork"`
}

// Config controls sandbox engine behavior.
//
// Setting HelperPath hands each run to the sandbox-init helper, which adds
// namespaces, a private per-run root and seccomp. Without it commands run
// directly under process-group, rlimit and optional cgroup confinement with
// the host filesystem in reach, so that mode has to be asked for with
// Unconfined.
type Config struct {
	CgroupRoot           string                      `yaml:"cgroupRoot"`
	SeccompDir           string                      `yaml:"seccompDir"`
	HelperPath           string                      `yaml:"helperPath"`
	StageRoot            string                      `yaml:"stageRoot"`
	StdoutStderrMaxBytes int64                       `yaml:"stdoutStderrMaxBytes"`
	EnableSeccomp        bool                        `yaml:"enableSeccomp"`
	EnableCgroup         bool                        `yaml:"enableCgroup"`
	EnableNamespaces     bool                        `yaml:"enableNamespaces"`
	Unconfined           bool                        `yaml:"unconfined"`
	// SandboxUID and SandboxGID are the host ids submissions run as when the
	// service itself runs as root. They default to nobody.
	SandboxUID           int                         `yaml:"sandboxUid"`
	SandboxGID           int                         `yaml:"sandboxGid"`
	Profiles             map[string]IsolationProfile `yaml:"profiles"`
}

const nobodyID = 65534

// hostIDs returns the host uid and gid that root inside a run maps to. An
// unprivileged service can only map itself.
func (c Config) hostIDs() (int, int) {
	uid, gid := os.Getuid(), os.Getgid()
	if uid != 0 {
		return uid, gid
	}
	uid, gid = c.SandboxUID, c.SandboxGID
	if uid <= 0 {
		uid = nobodyID
	}
	if gid <= 0 {
		gid = nobodyID
	}
	return uid, gid
}

func (c Config) resolveProfile(name string) (IsolationProfile, error) {
	if name == "" {
		return IsolationProfile{}, nil
	}
	profile, ok := c.Profiles[name]
	if !ok {
		if len(c.Profiles) == 0 {
			return IsolationProfile{}, nil
		}
		return IsolationProfile{}, fmt.Errorf("isolation profile %q not configured", name)
	}
	return profile, nil
}
