// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package monitor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/oci-ci/ocirun/pkg/sylog"
	"github.com/oci-ci/ocirun/pkg/util/ipc"
)

// ExecInNamespace serves one sandbox launch. It blocks until the wrapper has
// both reported its child's pid and terminated, so callers (the Master, via
// the RPC surface in master.go) see the full runner lifecycle as a single
// synchronous call.
func (m *Monitor) ExecInNamespace(ctx context.Context, params ipc.WrapperParameters) error {
	// The Master's own launch holds ExecInNamespace open for the Monitor's
	// entire lifetime; it must not consume one of the --proc worker slots,
	// or a configured --proc N would only ever admit N-1 concurrent runners.
	if m.workerSlots != nil && params.RunnerID != ipc.MasterRunnerID {
		select {
		case m.workerSlots <- struct{}{}:
			defer func() { <-m.workerSlots }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	cgroupPath, err := m.resolveCgroup(params)
	if err != nil {
		return err
	}
	if !m.Config.CPUSetAvailable {
		params.InitialCPUSet = nil
	}

	wrapperID := m.allocWrapperID()
	base := filepath.Join(m.Config.WrappersDir, "wrappers"+strconv.FormatInt(wrapperID, 10))
	inPath, outPath := base+".in", base+".out"

	if err := makeFifo(inPath); err != nil {
		return fmt.Errorf("exec_in_namespace: creating %s: %w", inPath, err)
	}
	defer os.Remove(inPath)
	if err := makeFifo(outPath); err != nil {
		return fmt.Errorf("exec_in_namespace: creating %s: %w", outPath, err)
	}
	defer os.Remove(outPath)

	cmd := exec.CommandContext(ctx, m.Config.OCIWrapper, base)
	stdoutR, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("exec_in_namespace: wrapper stdout pipe: %w", err)
	}
	stderrR, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("exec_in_namespace: wrapper stderr pipe: %w", err)
	}
	cmd.Stdin = nil // the wrapper is never fed from the Monitor's own stdin

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("exec_in_namespace: starting wrapper: %w", err)
	}

	logPrefix := fmt.Sprintf("R%d", params.RunnerID)
	go teeToLog(logPrefix, stdoutR)
	go teeToLog(logPrefix, stderrR)

	termination := NewTermination()
	rec := &ProcessRecord{WrapperPID: cmd.Process.Pid, RunnerID: params.RunnerID, CgroupPath: cgroupPath, Termination: termination}

	go func() {
		termination.Resolve(FromExitError(cmd.Wait()))
	}()

	pidCh := make(chan pidResult, 1)
	go func() {
		pid, err := sendParamsAndReadPid(params, inPath, outPath)
		pidCh <- pidResult{pid: pid, err: err}
	}()

	select {
	case <-termination.Done():
		// The wrapper terminated before it ever reported a pid.
		return &WrapperStartupError{Reason: "before sending wrapped pid", Status: termination.Status(), Params: params}
	case res := <-pidCh:
		if res.err != nil {
			if res.err == io.EOF {
				return &WrapperStartupError{Reason: "cannot read wrapped pid", Status: termination.Status(), Params: params}
			}
			return &WrapperStartupError{Reason: fmt.Sprintf("cannot read wrapped pid: %s", res.err), Status: termination.Status(), Params: params}
		}
		rec.WrappedPID = int(res.pid)
	}

	if cgroupPath != "" {
		if err := m.Cgroups.AddProcess(cgroupPath, rec.WrappedPID); err != nil {
			sylog.Errorf("exec_in_namespace: placing pid %d into cgroup %s: %s", rec.WrappedPID, cgroupPath, err)
		}
		if len(params.InitialCPUSet) > 0 {
			if err := m.Cgroups.SetCPUSet(cgroupPath, params.InitialCPUSet); err != nil {
				sylog.Errorf("exec_in_namespace: pinning cpuset for runner %d: %s", params.RunnerID, err)
			}
		}
	}

	m.insert(rec)
	status := termination.Status()
	select {
	case <-termination.Done():
		status = termination.Status()
	case <-ctx.Done():
		status = <-waitTermination(termination)
	}
	m.remove(params.RunnerID)

	return m.classify(status, params)
}

func waitTermination(t *Termination) <-chan Status {
	ch := make(chan Status, 1)
	go func() {
		<-t.Done()
		ch <- t.Status()
	}()
	return ch
}

// classify translates a wait Status into the Ok/Err disposition reported to
// the caller of exec_in_namespace.
func (m *Monitor) classify(status Status, params ipc.WrapperParameters) error {
	switch {
	case status.LaunchErr != nil:
		return &RunnerFailed{Status: status, Params: params}
	case status.Signaled && status.Signal == syscall.SIGKILL && m.ShuttingDown():
		return ErrShutdown
	case status.Signaled:
		return &RunnerFailed{Status: status, Params: params}
	case status.Exited && status.ExitCode == execFailedExitCode:
		return &RunnerFailed{Status: status, Params: params, ExecFailed: true}
	case status.Exited && status.ExitCode != 0:
		return &RunnerFailed{Status: status, Params: params}
	default:
		return nil
	}
}

type pidResult struct {
	pid uint32
	err error
}

// sendParamsAndReadPid performs the Monitor side of the fifo handshake:
// write the length-prefixed params into <base>.in, then read the 4-byte pid
// frame from <base>.out.
func sendParamsAndReadPid(params ipc.WrapperParameters, inPath, outPath string) (uint32, error) {
	payload, err := ipc.EncodeGob(params)
	if err != nil {
		return 0, fmt.Errorf("encoding wrapper parameters: %w", err)
	}

	in, err := os.OpenFile(inPath, os.O_WRONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", inPath, err)
	}
	writeErr := ipc.WriteFrame(in, payload)
	in.Close()
	if writeErr != nil {
		return 0, writeErr
	}

	out, err := os.OpenFile(outPath, os.O_RDONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", outPath, err)
	}
	defer out.Close()

	return ipc.ReadPid(out)
}

// resolveCgroup creates <conf.cgroup>/<params.cgroup> when both are set. If
// either is unset, cpuset pinning is suppressed by returning an empty path.
func (m *Monitor) resolveCgroup(params ipc.WrapperParameters) (string, error) {
	if params.Cgroup == "" || m.Config.Cgroup == "" {
		return "", nil
	}
	path := filepath.Join(m.Config.Cgroup, params.Cgroup)
	if err := m.Cgroups.Create(path); err != nil {
		return "", &ConfigError{Msg: fmt.Sprintf("creating cgroup %s", path), Err: err}
	}
	return path, nil
}

func makeFifo(path string) error {
	if err := unix.Mkfifo(path, 0o600); err != nil && err != unix.EEXIST {
		return err
	}
	return nil
}

// teeToLog copies r line by line into sylog at info level, tagged with
// prefix, so wrapper output interleaves legibly across concurrent runners.
func teeToLog(prefix string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		sylog.Infof("[%s] %s", prefix, scanner.Text())
	}
}
