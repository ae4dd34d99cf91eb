// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package monitor

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/oci-ci/ocirun/pkg/util/ipc"
)

func TestFlattenCopies(t *testing.T) {
	src := []int{1, 2, 3}
	out := flatten(src)
	out[0] = 99
	if src[0] != 1 {
		t.Fatal("flatten must copy, not alias, its input")
	}
}

func TestStartMasterRejectsTooFewCPUGroups(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	err := m.StartMaster(context.Background(), [][]int{{0, 1}}, t.TempDir())
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("err = %v (%T), want *ConfigError", err, err)
	}
}

func TestGetConfigurationNoIdentityFile(t *testing.T) {
	m, _ := newTestMonitor(Config{KeepRunnerRootfs: true, CPUSetAvailable: true})
	m.cpuGroups = [][]int{{0, 1}, {2, 3}, {4, 5}}

	cfg, err := m.getConfiguration()
	if err != nil {
		t.Fatalf("getConfiguration: %s", err)
	}
	if cfg.IdentityFileContents != nil {
		t.Fatalf("IdentityFileContents = %v, want nil", cfg.IdentityFileContents)
	}
	if !cfg.KeepRunnerRootfs || !cfg.CPUSetAvailable {
		t.Fatalf("cfg = %+v, want both flags true", cfg)
	}
	if len(cfg.CPUPool) != 2 {
		t.Fatalf("CPUPool has %d groups, want 2 (master group excluded)", len(cfg.CPUPool))
	}
}

func TestGetConfigurationReadsIdentityFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity")
	if err := os.WriteFile(path, []byte("secret-material"), 0o600); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}

	m, _ := newTestMonitor(Config{IdentityFile: path})
	cfg, err := m.getConfiguration()
	if err != nil {
		t.Fatalf("getConfiguration: %s", err)
	}
	if string(cfg.IdentityFileContents) != "secret-material" {
		t.Fatalf("IdentityFileContents = %q, want %q", cfg.IdentityFileContents, "secret-material")
	}
}

func TestMasterChannelServesSetCPUSet(t *testing.T) {
	m, backend := newTestMonitor(Config{CPUSetAvailable: true})
	m.insert(&ProcessRecord{RunnerID: 3, CgroupPath: "oci/r3"})

	ociData := t.TempDir()
	if err := m.setupMasterChannel(ociData); err != nil {
		t.Fatalf("setupMasterChannel: %s", err)
	}

	conn, err := net.Dial("unix", filepath.Join(ociData, "oci_master"))
	if err != nil {
		t.Fatalf("Dial: %s", err)
	}
	defer conn.Close()

	client := ipc.NewPeer(conn)
	go client.Serve()

	req := struct {
		RunnerID int32
		CPUs     []int
	}{RunnerID: 3, CPUs: []int{1, 2}}

	var reply struct{}
	if err := client.Call("set_cpuset", req, &reply); err != nil {
		t.Fatalf("Call(set_cpuset): %s", err)
	}

	got := backend.CPUSet("oci/r3")
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("backend recorded %v, want [1 2]", got)
	}
}

func TestMasterChannelServesGetConfiguration(t *testing.T) {
	m, _ := newTestMonitor(Config{KeepRunnerRootfs: true})
	m.cpuGroups = [][]int{{0}, {1}}

	ociData := t.TempDir()
	if err := m.setupMasterChannel(ociData); err != nil {
		t.Fatalf("setupMasterChannel: %s", err)
	}

	conn, err := net.Dial("unix", filepath.Join(ociData, "oci_master"))
	if err != nil {
		t.Fatalf("Dial: %s", err)
	}
	defer conn.Close()

	client := ipc.NewPeer(conn)
	go client.Serve()

	var cfg Configuration
	if err := client.Call("get_configuration", struct{}{}, &cfg); err != nil {
		t.Fatalf("Call(get_configuration): %s", err)
	}
	if !cfg.KeepRunnerRootfs {
		t.Fatal("expected KeepRunnerRootfs true")
	}
	if len(cfg.CPUPool) != 1 {
		t.Fatalf("CPUPool has %d groups, want 1", len(cfg.CPUPool))
	}
}
