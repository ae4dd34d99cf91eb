// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package wrapper implements the small privileged helper that configures a
// sandbox (namespaces, idmaps, bind mounts, loopback) and exec's a runner
// binary inside it. Cgroup placement and CPU pinning are not done here; the
// Monitor does them. One wrapper process is spawned per runner by the
// Monitor.
package wrapper

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/oci-ci/ocirun/pkg/sylog"
	"github.com/oci-ci/ocirun/pkg/util/ipc"
)

// Run is the wrapper's entire supervision-level lifecycle: read
// WrapperParameters off base+".in", set up the sandbox, fork+exec the
// runner, report its pid on base+".out", then wait for it and exit with its
// translated status. It never returns except via os.Exit, matching the
// wrapper's role as a one-shot privileged helper. Cgroup placement and
// cpuset pinning are done by the Monitor once it has read the reported pid
// back, not here, so that a cgroups.FakeBackend in Monitor tests sees every
// placement without a privileged wrapper process ever running.
func Run(base string) {
	params, err := readParams(base + ".in")
	if err != nil {
		sylog.Fatalf("wrapper: reading parameters: %s", err)
	}

	cmd, paramsPipe, err := buildCommand(params)
	if err != nil {
		sylog.Fatalf("wrapper: preparing sandbox: %s", err)
	}

	if err := cmd.Start(); err != nil {
		sylog.Fatalf("wrapper: starting runner: %s", err)
	}
	paramsPipe.Close()

	if err := writePid(base+".out", cmd.Process.Pid); err != nil {
		sylog.Fatalf("wrapper: reporting pid: %s", err)
	}

	os.Exit(waitStatus(cmd))
}

// waitStatus waits for cmd and translates its exit into the "128+signum"
// convention used throughout this subsystem to fold a signal death into a
// single process exit code the Monitor can parse back out unambiguously.
func waitStatus(cmd *exec.Cmd) int {
	err := cmd.Wait()
	if err == nil {
		return 0
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		sylog.Errorf("wrapper: waiting for runner: %s", err)
		return 1
	}
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return exitErr.ExitCode()
	}
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ws.ExitStatus()
}

func readParams(path string) (ipc.WrapperParameters, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return ipc.WrapperParameters{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	payload, err := ipc.ReadFrame(f)
	if err != nil {
		return ipc.WrapperParameters{}, fmt.Errorf("reading frame: %w", err)
	}
	var params ipc.WrapperParameters
	if err := ipc.DecodeGob(payload, &params); err != nil {
		return ipc.WrapperParameters{}, fmt.Errorf("decoding parameters: %w", err)
	}
	return params, nil
}

func writePid(path string, pid int) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	pid32, err := toUint32(pid)
	if err != nil {
		return err
	}
	return ipc.WritePid(f, pid32)
}

func toUint32(n int) (uint32, error) {
	if n < 0 {
		return 0, fmt.Errorf("negative pid %d", n)
	}
	return uint32(n), nil
}
