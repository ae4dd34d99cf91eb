// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package monitor

import (
	"syscall"
	"testing"

	"github.com/oci-ci/ocirun/pkg/util/ipc"
)

func TestResolveCgroupBothUnsetSuppressesPinning(t *testing.T) {
	m, backend := newTestMonitor(Config{Cgroup: ""})
	path, err := m.resolveCgroup(ipc.WrapperParameters{Cgroup: "r1"})
	if err != nil {
		t.Fatalf("resolveCgroup: %s", err)
	}
	if path != "" {
		t.Fatalf("path = %q, want empty", path)
	}
	if backend.Created("r1") {
		t.Fatal("expected no cgroup created")
	}
}

func TestResolveCgroupParamUnsetSuppressesPinning(t *testing.T) {
	m, _ := newTestMonitor(Config{Cgroup: "oci"})
	path, err := m.resolveCgroup(ipc.WrapperParameters{Cgroup: ""})
	if err != nil {
		t.Fatalf("resolveCgroup: %s", err)
	}
	if path != "" {
		t.Fatalf("path = %q, want empty", path)
	}
}

func TestResolveCgroupCreatesJoinedPath(t *testing.T) {
	m, backend := newTestMonitor(Config{Cgroup: "oci"})
	path, err := m.resolveCgroup(ipc.WrapperParameters{Cgroup: "r7"})
	if err != nil {
		t.Fatalf("resolveCgroup: %s", err)
	}
	if path != "oci/r7" {
		t.Fatalf("path = %q, want oci/r7", path)
	}
	if !backend.Created("oci/r7") {
		t.Fatal("expected cgroup oci/r7 created")
	}
}

func TestClassifyCleanExit(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	err := m.classify(Status{Exited: true, ExitCode: 0}, ipc.WrapperParameters{})
	if err != nil {
		t.Fatalf("classify clean exit = %v, want nil", err)
	}
}

func TestClassifyNonZeroExit(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	err := m.classify(Status{Exited: true, ExitCode: 1}, ipc.WrapperParameters{})
	if _, ok := err.(*RunnerFailed); !ok {
		t.Fatalf("classify non-zero exit = %v (%T), want *RunnerFailed", err, err)
	}
}

func TestClassifyExecFailedExitCode(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	err := m.classify(Status{Exited: true, ExitCode: execFailedExitCode}, ipc.WrapperParameters{})
	rf, ok := err.(*RunnerFailed)
	if !ok || !rf.ExecFailed {
		t.Fatalf("classify exec-failed exit = %v, want *RunnerFailed{ExecFailed: true}", err)
	}
}

func TestClassifySignalDuringShutdownIsErrShutdown(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	m.shuttingDown.Store(true)
	err := m.classify(Status{Signaled: true, Signal: syscall.SIGKILL}, ipc.WrapperParameters{})
	if err != ErrShutdown {
		t.Fatalf("classify = %v, want ErrShutdown", err)
	}
}

func TestClassifySignalNotDuringShutdownIsFailure(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	err := m.classify(Status{Signaled: true, Signal: syscall.SIGKILL}, ipc.WrapperParameters{})
	if _, ok := err.(*RunnerFailed); !ok {
		t.Fatalf("classify = %v (%T), want *RunnerFailed", err, err)
	}
}

func TestClassifyLaunchError(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	err := m.classify(Status{LaunchErr: syscall.ENOENT}, ipc.WrapperParameters{})
	if _, ok := err.(*RunnerFailed); !ok {
		t.Fatalf("classify launch error = %v (%T), want *RunnerFailed", err, err)
	}
}
