// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package monitor

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
)

// Status is the outcome of a wrapper's OS wait, translated from
// os.ProcessState/exec.ExitError into three dispositions: clean exit,
// signal death, or a launch-time error the Monitor never even got a wait
// status for.
type Status struct {
	Exited   bool
	ExitCode int
	Signaled bool
	Signal   syscall.Signal
	// LaunchErr is set when the wrapper process could not be started or
	// waited on at all (as opposed to having run and exited/been signaled).
	LaunchErr error
}

// FromExitError translates the error returned by (*exec.Cmd).Wait into a
// Status. An exit code above 128 is decoded as a death by signal
// (code-128), undoing the way the Wrapper folds its child's signal deaths
// into "128+signum".
func FromExitError(err error) Status {
	if err == nil {
		return Status{Exited: true, ExitCode: 0}
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return Status{LaunchErr: err}
	}
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return Status{Exited: true, ExitCode: exitErr.ExitCode()}
	}
	if ws.Signaled() {
		return Status{Signaled: true, Signal: ws.Signal()}
	}
	if code := ws.ExitStatus(); code > 128 {
		return Status{Signaled: true, Signal: syscall.Signal(code - 128)}
	}
	return Status{Exited: true, ExitCode: ws.ExitStatus()}
}

// Termination is a completion primitive that can be observed by many
// goroutines but whose underlying OS wait happens exactly once: both the
// per-runner handler and the shutdown sweep can observe a wrapper's
// termination without either one double-waiting the OS child.
type Termination struct {
	done   chan struct{}
	once   sync.Once
	status Status
}

// NewTermination returns an unresolved Termination.
func NewTermination() *Termination {
	return &Termination{done: make(chan struct{})}
}

// Resolve records status and wakes every current and future Wait call. It
// is safe to call more than once; only the first call's status sticks, as
// required by "awaited exactly once" -- Resolve itself may race (e.g. a
// signal handler and the wait goroutine both observing termination), but
// only one resolution is ever recorded.
func (t *Termination) Resolve(status Status) {
	t.once.Do(func() {
		t.status = status
		close(t.done)
	})
}

// Wait blocks until Resolve has been called, or ctx is done, and returns the
// memoized status.
func (t *Termination) Wait(ctx context.Context) (Status, error) {
	select {
	case <-t.done:
		return t.status, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Done exposes the completion channel directly, for callers (e.g. the
// pid-read race in exec_in_namespace) that need to select on termination
// alongside other events without going through Wait's context plumbing.
func (t *Termination) Done() <-chan struct{} {
	return t.done
}

// Status returns the memoized status. It must only be called after Done()
// has fired; calling it earlier returns the zero Status.
func (t *Termination) Status() Status {
	return t.status
}
