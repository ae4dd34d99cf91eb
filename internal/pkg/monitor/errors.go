// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package monitor

import (
	"errors"
	"fmt"

	"github.com/oci-ci/ocirun/pkg/util/ipc"
)

// ErrShutdown is returned by exec_in_namespace when the wrapped process was
// killed by the Monitor's shutdown sweep rather than failing on its own
// merits, so the Master can avoid treating it as a failure.
var ErrShutdown = errors.New("Shutdown")

// ErrNoSuchProcess mirrors ESRCH: kill_runner and the shutdown sweep both
// ignore it when SIGKILL races a process that has already exited.
var ErrNoSuchProcess = errors.New("No_such_process")

// WrapperStartupError reports that the Wrapper terminated before completing
// the handshake (either it exited before sending a pid, or the pid-frame
// read hit EOF).
type WrapperStartupError struct {
	Reason string // "before sending wrapped pid" or "cannot read wrapped pid"
	Status Status
	Params ipc.WrapperParameters
}

func (e *WrapperStartupError) Error() string {
	return fmt.Sprintf("Oci_wrapper stopped %s: %s -- params: %s", e.Reason, describeStatus(e.Status), e.Params.Dump())
}

// RunnerFailed reports that the wrapped process ran and then exited
// non-zero or died by a signal that was not a shutdown-initiated SIGKILL.
type RunnerFailed struct {
	Status Status
	Params ipc.WrapperParameters
	// ExecFailed distinguishes "the wrapper's child never successfully
	// exec'd the target" from "the target ran and then failed".
	ExecFailed bool
}

func (e *RunnerFailed) Error() string {
	if e.ExecFailed {
		return fmt.Sprintf("runner failed to exec %q: %s", e.Params.Command, describeStatus(e.Status))
	}
	return fmt.Sprintf("runner failed: %s -- params: %s", describeStatus(e.Status), e.Params.Dump())
}

func describeStatus(s Status) string {
	switch {
	case s.LaunchErr != nil:
		return fmt.Sprintf("launch error: %s", s.LaunchErr)
	case s.Signaled:
		return fmt.Sprintf("killed by signal %s", s.Signal)
	case s.Exited:
		return fmt.Sprintf("exited with status %d", s.ExitCode)
	default:
		return "unknown status"
	}
}

// ConfigError marks a startup-time failure that is fatal to the Monitor:
// insufficient subuid/subgid, cgroup unavailable, binary not found, CPU
// partitioning yields fewer than two groups.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// execFailedExitCode is the sentinel exit code the Wrapper uses to signal
// that the child's execve itself failed, as opposed to the target program
// running and exiting non-zero.
const execFailedExitCode = 127
