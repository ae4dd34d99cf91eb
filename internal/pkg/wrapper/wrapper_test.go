// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package wrapper

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/oci-ci/ocirun/pkg/util/ipc"
)

func TestToUint32(t *testing.T) {
	got, err := toUint32(42)
	if err != nil || got != 42 {
		t.Fatalf("toUint32(42) = %d, %v", got, err)
	}
	if _, err := toUint32(-1); err == nil {
		t.Fatal("expected error for negative pid")
	}
}

func TestWaitStatusCleanExit(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start: %s", err)
	}
	if got := waitStatus(cmd); got != 0 {
		t.Fatalf("waitStatus = %d, want 0", got)
	}
}

func TestWaitStatusNonZeroExit(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 3")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start: %s", err)
	}
	if got := waitStatus(cmd); got != 3 {
		t.Fatalf("waitStatus = %d, want 3", got)
	}
}

func TestWaitStatusSignalDeathUses128Convention(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start: %s", err)
	}
	if err := cmd.Process.Signal(unix.SIGTERM); err != nil {
		t.Fatalf("Signal: %s", err)
	}
	if got := waitStatus(cmd); got != 128+int(unix.SIGTERM) {
		t.Fatalf("waitStatus = %d, want %d", got, 128+int(unix.SIGTERM))
	}
}

func TestReadParamsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fifo.in")

	want := ipc.WrapperParameters{Rootfs: "/tmp/rootfs", RunnerID: 7, Command: "/bin/true"}
	payload, err := ipc.EncodeGob(want)
	if err != nil {
		t.Fatalf("EncodeGob: %s", err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	if err := ipc.WriteFrame(f, payload); err != nil {
		t.Fatalf("WriteFrame: %s", err)
	}
	f.Close()

	got, err := readParams(path)
	if err != nil {
		t.Fatalf("readParams: %s", err)
	}
	if got.Rootfs != want.Rootfs || got.RunnerID != want.RunnerID || got.Command != want.Command {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestWritePidRoundTrip(t *testing.T) {
	dir := t.TempDir()

	if err := writePid(filepath.Join(dir, "pidfile"), 4242); err != nil {
		t.Fatalf("writePid: %s", err)
	}
	f, err := os.Open(filepath.Join(dir, "pidfile"))
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	defer f.Close()
	pid, err := ipc.ReadPid(f)
	if err != nil {
		t.Fatalf("ReadPid: %s", err)
	}
	if pid != 4242 {
		t.Fatalf("pid = %d, want 4242", pid)
	}
}
