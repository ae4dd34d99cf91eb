// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package monitor

import (
	"context"
	"syscall"
	"time"
)

// GracePeriod is how long KillRunner waits before escalating to SIGKILL. The
// cooperative stop request is a separate RPC the Master sends to the runner
// directly; KillRunner itself only waits out the grace period and then, if
// the runner hasn't exited on its own, forces it.
const GracePeriod = 500 * time.Millisecond

// KillRunner waits up to GracePeriod for the runner owning runnerID to exit
// on its own, and sends SIGKILL to its wrapped_pid if it hasn't. A runnerID
// with no live record is not an error: the runner may have exited on its own
// between the Master's decision to kill it and this call landing.
func (m *Monitor) KillRunner(ctx context.Context, runnerID int32) error {
	rec, ok := m.lookup(runnerID)
	if !ok {
		return nil
	}

	timer := time.NewTimer(GracePeriod)
	defer timer.Stop()

	select {
	case <-rec.Termination.Done():
		return nil
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := signalProcess(rec.WrappedPID, syscall.SIGKILL); err != nil {
		if err == ErrNoSuchProcess {
			return nil
		}
		return err
	}

	select {
	case <-rec.Termination.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// signalProcess sends sig to pid, translating ESRCH into ErrNoSuchProcess so
// callers can treat "already gone" uniformly regardless of which signal
// raced the exit.
func signalProcess(pid int, sig syscall.Signal) error {
	err := syscall.Kill(pid, sig)
	if err == syscall.ESRCH {
		return ErrNoSuchProcess
	}
	return err
}
