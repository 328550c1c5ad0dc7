//go:build linux

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const (
	stageTmpfsOptions = "mode=0755,size=16m"
	tmpTmpfsOptions   = "mode=1777,size=64m"
)

// systemDirs are exposed read-only inside every run root. Missing ones are
// skipped; symlinks such as /bin -> usr/bin on merged-usr hosts are recreated.
var systemDirs = []string{"/bin", "/sbin", "/lib", "/lib32", "/lib64", "/libx32", "/usr", "/etc", "/opt"}

var deviceNodes = []string{"/dev/null", "/dev/zero", "/dev/full", "/dev/random", "/dev/urandom"}

// enterRoot builds a throwaway root for one run and chroots into it. The root
// is a tmpfs on StageDir holding read-only binds of the system directories,
// a private /tmp and the run directory, which is the only writable host path.
// Everything else the host has is out of reach and nothing written outside
// the run directory outlives the mount namespace.
func enterRoot(req initRequest) error {
	if !req.EnableNs {
		return nil
	}
	stage := req.StageDir
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("make mount private: %w", err)
	}
	if err := unix.Mount("tmpfs", stage, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, stageTmpfsOptions); err != nil {
		return fmt.Errorf("mount stage: %w", err)
	}

	base := req.Isolation.RootFS
	if base == "" {
		base = "/"
	}
	for _, dir := range systemDirs {
		if err := exposeSystemDir(stage, base, dir); err != nil {
			return err
		}
	}
	for _, dev := range deviceNodes {
		if err := bindInto(stage, dev, dev, false); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	for _, m := range req.RunSpec.BindMounts {
		if m.Source == "" || m.Target == "" {
			return fmt.Errorf("invalid mount spec")
		}
		if err := bindInto(stage, m.Source, m.Target, m.ReadOnly); err != nil {
			return err
		}
	}

	tmp := filepath.Join(stage, "tmp")
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return fmt.Errorf("mkdir tmp: %w", err)
	}
	if err := unix.Mount("tmpfs", tmp, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, tmpTmpfsOptions); err != nil {
		return fmt.Errorf("mount tmp: %w", err)
	}
	// The work dir goes last so that a work root under /tmp lands on top of
	// the private tmpfs instead of beneath it.
	if err := bindInto(stage, req.RunSpec.WorkDir, req.RunSpec.WorkDir, false); err != nil {
		return err
	}

	proc := filepath.Join(stage, "proc")
	if err := os.MkdirAll(proc, 0755); err != nil {
		return fmt.Errorf("mkdir proc: %w", err)
	}
	if err := unix.Mount("proc", proc, "proc", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, ""); err != nil {
		return fmt.Errorf("mount proc: %w", err)
	}
	if err := unix.Mount("", stage, "", unix.MS_REMOUNT|unix.MS_RDONLY|unix.MS_NOSUID|unix.MS_NODEV, stageTmpfsOptions); err != nil {
		return fmt.Errorf("remount stage readonly: %w", err)
	}

	if err := unix.Chroot(stage); err != nil {
		return fmt.Errorf("chroot: %w", err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("chdir root: %w", err)
	}
	return nil
}

func exposeSystemDir(stage, base, dir string) error {
	source := filepath.Join(base, dir)
	info, err := os.Lstat(source)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", source, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		link, err := os.Readlink(source)
		if err != nil {
			return fmt.Errorf("read link %s: %w", source, err)
		}
		if err := os.Symlink(link, filepath.Join(stage, dir)); err != nil {
			return fmt.Errorf("link %s: %w", dir, err)
		}
		return nil
	}
	return bindInto(stage, source, dir, true)
}

// bindInto binds source onto target below stage.
func bindInto(stage, source, target string, readOnly bool) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("stat mount source: %w", err)
	}
	dst := filepath.Join(stage, target)
	if err := ensureMountTarget(dst, info.IsDir()); err != nil {
		return err
	}
	if err := unix.Mount(source, dst, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("bind mount %s: %w", target, err)
	}
	if !readOnly {
		return nil
	}
	// A remount inside a user namespace must keep the locked flags of the
	// source mount or the kernel refuses it.
	flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY)
	var st unix.Statfs_t
	if err := unix.Statfs(dst, &st); err == nil {
		flags |= lockedMountFlags(int64(st.Flags))
	}
	if err := unix.Mount("", dst, "", flags, ""); err != nil {
		return fmt.Errorf("remount readonly %s: %w", target, err)
	}
	return nil
}

func lockedMountFlags(statFlags int64) uintptr {
	pairs := []struct {
		st int64
		ms uintptr
	}{
		{unix.ST_NOSUID, unix.MS_NOSUID},
		{unix.ST_NODEV, unix.MS_NODEV},
		{unix.ST_NOEXEC, unix.MS_NOEXEC},
		{unix.ST_NOATIME, unix.MS_NOATIME},
		{unix.ST_NODIRATIME, unix.MS_NODIRATIME},
		{unix.ST_RELATIME, unix.MS_RELATIME},
	}
	var flags uintptr
	for _, p := range pairs {
		if statFlags&p.st != 0 {
			flags |= p.ms
		}
	}
	return flags
}

func ensureMountTarget(target string, dir bool) error {
	if dir {
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("mkdir mount target: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("mkdir mount target dir: %w", err)
	}
	file, err := os.OpenFile(target, os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("create mount target file: %w", err)
	}
	return file.Close()
}
