// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package wrapper

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/oci-ci/ocirun/pkg/util/ipc"
)

// SandboxInitArg is the argv[1] the wrapper re-execs itself with to become
// the namespace-entering init process. It never reaches a shell, so any
// unambiguous token is fine.
const SandboxInitArg = "__sandbox_init"

// ExecFailedExitCode is the process exit code cmd/wrapper/main.go uses when
// RunSandboxInit fails with an *ExecError, so the Monitor's exec.go classify
// can recognize it as execFailedExitCode and report RunnerFailed{ExecFailed:
// true} instead of an ordinary non-zero exit.
const ExecFailedExitCode = 127

// buildCommand prepares the *exec.Cmd that, once started, clones into fresh
// user/mount/pid/net/uts/ipc namespaces with the requested idmaps already
// applied (via SysProcAttr) and re-execs the wrapper binary itself with
// SandboxInitArg. The re-exec'd process (see RunSandboxInit) performs the
// mount/chroot/setuid dance the kernel cannot do as part of clone(2) and
// then execve's the real target.
// The returned *os.File is the parent's end of the parameter pipe passed as
// fd 3 into the child; the caller must close it once the child has started
// to avoid leaking a copy of the write side's peer.
func buildCommand(params ipc.WrapperParameters) (*exec.Cmd, *os.File, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, nil, fmt.Errorf("resolving wrapper's own path: %w", err)
	}

	uidMappings, gidMappings := splitIDMaps(params.IDMaps)

	paramsR, paramsW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating parameter pipe: %w", err)
	}

	cmd := exec.Command(self, SandboxInitArg)
	cmd.ExtraFiles = []*os.File{paramsR}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWUSER | unix.CLONE_NEWNS | unix.CLONE_NEWPID |
			unix.CLONE_NEWIPC | unix.CLONE_NEWUTS | unix.CLONE_NEWNET,
		UidMappings:               uidMappings,
		GidMappings:               gidMappings,
		GidMappingsEnableSetgroups: false,
	}

	payload, err := ipc.EncodeGob(params)
	if err != nil {
		paramsR.Close()
		paramsW.Close()
		return nil, nil, fmt.Errorf("encoding sandbox init parameters: %w", err)
	}

	cmd.Env = os.Environ()

	go func() {
		defer paramsW.Close()
		_ = ipc.WriteFrame(paramsW, payload)
	}()

	return cmd, paramsR, nil
}

func splitIDMaps(maps []ipc.IDMap) (uid, gid []syscall.SysProcIDMap) {
	for _, m := range maps {
		entry := syscall.SysProcIDMap{ContainerID: int(m.ContainerStart), HostID: int(m.HostStart), Size: int(m.Length)}
		if m.GID {
			gid = append(gid, entry)
		} else {
			uid = append(uid, entry)
		}
	}
	return uid, gid
}

// RunSandboxInit is the body of the re-exec'd init process: it reads the
// WrapperParameters passed over fd 3, sets up bind mounts and chroot,
// drops to the target uid/gid, and execve's the command. It never returns
// on success.
func RunSandboxInit() error {
	f := os.NewFile(3, "params")
	defer f.Close()

	payload, err := ipc.ReadFrame(f)
	if err != nil {
		return fmt.Errorf("sandbox init: reading parameters: %w", err)
	}
	var params ipc.WrapperParameters
	if err := ipc.DecodeGob(payload, &params); err != nil {
		return fmt.Errorf("sandbox init: decoding parameters: %w", err)
	}

	if params.BindSystemMount {
		if err := bindSystemMounts(params.Rootfs); err != nil {
			return fmt.Errorf("sandbox init: bind mounts: %w", err)
		}
	}

	if params.PrepareNetwork {
		if err := bringUpLoopback(); err != nil {
			return fmt.Errorf("sandbox init: network: %w", err)
		}
	}

	if err := unix.Chroot(params.Rootfs); err != nil {
		return fmt.Errorf("sandbox init: chroot %s: %w", params.Rootfs, err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("sandbox init: chdir /: %w", err)
	}
	if params.Workdir != "" {
		if err := os.Chdir(params.Workdir); err != nil {
			return fmt.Errorf("sandbox init: chdir %s: %w", params.Workdir, err)
		}
	}

	if err := unix.Setresgid(int(params.RunGID), int(params.RunGID), int(params.RunGID)); err != nil {
		return fmt.Errorf("sandbox init: setresgid: %w", err)
	}
	if err := unix.Setresuid(int(params.RunUID), int(params.RunUID), int(params.RunUID)); err != nil {
		return fmt.Errorf("sandbox init: setresuid: %w", err)
	}

	env := make([]string, 0, len(params.Env))
	for _, e := range params.Env {
		env = append(env, e.Key+"="+e.Value)
	}

	argv0 := params.Command
	if !filepath.IsAbs(argv0) {
		argv0 = "/" + argv0
	}
	if err := syscall.Exec(argv0, params.Argv, env); err != nil {
		return &ExecError{Path: argv0, Err: err}
	}
	return nil
}

// ExecError reports that the final syscall.Exec into the target command
// failed, as opposed to some earlier setup step. cmd/wrapper/main.go uses
// this to exit with execFailedExitCode instead of the generic fatal-error
// exit code, so the Monitor can tell "job never ran" apart from "job ran and
// failed" purely from the wrapper's exit status.
type ExecError struct {
	Path string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("sandbox init: exec %s: %s", e.Path, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// bindSystemMounts bind-mounts /proc, /sys and /dev from the wrapper's own
// mount namespace into rootfs, so the sandboxed target sees a usable
// minimal system view without the Monitor having to manage a full rootfs.
func bindSystemMounts(rootfs string) error {
	for _, dir := range []string{"proc", "sys", "dev"} {
		target := filepath.Join(rootfs, dir)
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", target, err)
		}
		source := "/" + dir
		if err := unix.Mount(source, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return fmt.Errorf("bind-mounting %s onto %s: %w", source, target, err)
		}
	}
	return nil
}
