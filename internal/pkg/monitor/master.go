// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package monitor

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/oci-ci/ocirun/pkg/sylog"
	"github.com/oci-ci/ocirun/pkg/util/idmap"
	"github.com/oci-ci/ocirun/pkg/util/ipc"
)

// masterIdmapDescription is the Master's hard-coded idmap shape: container
// uid/gid 0 is the Superroot, a thousand ids are reserved as Root for the
// Master's own use, and one further id is a generic User.
var masterIdmapDescription = []idmap.Description{
	{Kind: idmap.Superroot, Count: 1},
	{Kind: idmap.Root, Count: 1000},
	{Kind: idmap.User, Count: 1},
}

// Configuration is what get_configuration reports to the Master: data it
// cannot derive on its own because the Monitor owns the host-facing half of
// the configuration (CLI flags, the CPU pool left over once the Master's own
// group is carved off, and identity material read fresh off disk each call).
type Configuration struct {
	IdentityFileContents []byte
	KeepRunnerRootfs     bool
	CPUSetAvailable      bool
	CPUPool              [][]int
}

// StartMaster resolves the master binary, validates that CPU partitioning
// produced at least two groups (one for the master, the rest for the pool),
// and launches it as runner_id -1 with the Superroot/Root/User idmap layout.
// It also opens the reverse RPC channel the Master uses to call back into
// the Monitor.
func (m *Monitor) StartMaster(ctx context.Context, cpuGroups [][]int, ociData string) error {
	if len(cpuGroups) < 2 {
		return &ConfigError{Msg: fmt.Sprintf("CPU partitioning produced %d groups, need at least 2", len(cpuGroups))}
	}
	m.cpuGroups = cpuGroups

	masterPath, err := ResolveBinary(m.Config.Binaries, m.Config.MasterBinaryName)
	if err != nil {
		return &ConfigError{Msg: "resolving master binary", Err: err}
	}
	m.Config.OCIMasterPath = masterPath

	uidEntries, err := idmap.Build(masterIdmapDescription, m.Config.CurrentUser.UID, m.Config.FirstUserMapped.UID)
	if err != nil {
		return &ConfigError{Msg: "building master uid map", Err: err}
	}
	gidEntries, err := idmap.Build(masterIdmapDescription, m.Config.CurrentUser.GID, m.Config.FirstUserMapped.GID)
	if err != nil {
		return &ConfigError{Msg: "building master gid map", Err: err}
	}

	params := ipc.WrapperParameters{
		Rootfs:          "/",
		IDMaps:          ipc.FromEntries(uidEntries, gidEntries),
		Command:         masterPath,
		Argv:            []string{masterPath},
		RunUID:          0,
		RunGID:          0,
		BindSystemMount: false,
		PrepareNetwork:  false,
		Cgroup:          "master",
		InitialCPUSet:   flatten(cpuGroups[0]),
		RunnerID:        ipc.MasterRunnerID,
	}

	if err := m.setupMasterChannel(ociData); err != nil {
		return &ConfigError{Msg: "setting up master RPC channel", Err: err}
	}

	sylog.Infof("starting master %s", masterPath)
	return m.ExecInNamespace(ctx, params)
}

func flatten(cpus []int) []int {
	out := make([]int, len(cpus))
	copy(out, cpus)
	return out
}

// setupMasterChannel listens on <ociData>/oci_master, a Unix domain socket
// (not a fifo) that the Master dials to reach get_configuration/
// exec_in_namespace/kill_runner/set_cpuset, and registers the Monitor's
// handlers for all four.
func (m *Monitor) setupMasterChannel(ociData string) error {
	sockPath := ociData + "/oci_master"
	os.Remove(sockPath)

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", sockPath, err)
	}

	go func() {
		conn, err := listener.Accept()
		listener.Close()
		if err != nil {
			sylog.Errorf("master channel: accept: %s", err)
			return
		}
		m.attachMaster(conn)
	}()
	return nil
}

func (m *Monitor) attachMaster(conn net.Conn) {
	peer := ipc.NewPeer(conn)

	peer.RegisterHandler("get_configuration", func(payload []byte) (interface{}, error) {
		return m.getConfiguration()
	})
	peer.RegisterHandler("exec_in_namespace", func(payload []byte) (interface{}, error) {
		var params ipc.WrapperParameters
		if err := ipc.DecodeGob(payload, &params); err != nil {
			return nil, err
		}
		return nil, m.ExecInNamespace(context.Background(), params)
	})
	peer.RegisterHandler("kill_runner", func(payload []byte) (interface{}, error) {
		var runnerID int32
		if err := ipc.DecodeGob(payload, &runnerID); err != nil {
			return nil, err
		}
		return nil, m.KillRunner(context.Background(), runnerID)
	})
	peer.RegisterHandler("set_cpuset", func(payload []byte) (interface{}, error) {
		var req struct {
			RunnerID int32
			CPUs     []int
		}
		if err := ipc.DecodeGob(payload, &req); err != nil {
			return nil, err
		}
		return nil, m.SetCPUSet(req.RunnerID, req.CPUs)
	})

	m.masterMu.Lock()
	m.masterPeer = peer
	m.masterMu.Unlock()

	if err := peer.Serve(); err != nil {
		sylog.Debugf("master channel closed: %s", err)
	}
}

func (m *Monitor) getConfiguration() (Configuration, error) {
	var identity []byte
	if m.Config.IdentityFile != "" {
		b, err := os.ReadFile(m.Config.IdentityFile)
		if err != nil {
			return Configuration{}, fmt.Errorf("get_configuration: reading identity file: %w", err)
		}
		identity = b
	}
	pool := m.cpuGroups
	if len(pool) > 0 {
		pool = pool[1:]
	}
	return Configuration{
		IdentityFileContents: identity,
		KeepRunnerRootfs:     m.Config.KeepRunnerRootfs,
		CPUSetAvailable:      m.Config.CPUSetAvailable,
		CPUPool:              pool,
	}, nil
}
