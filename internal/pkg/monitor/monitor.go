// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package monitor implements the long-lived supervisor process: it
// validates the host environment, spawns the Master as a distinguished
// runner, and thereafter serves exec_in_namespace, kill_runner and
// set_cpuset on the Master's behalf while tracking every live
// wrapper/runner pair.
package monitor

import (
	"sync"
	"sync/atomic"

	"github.com/oci-ci/ocirun/internal/pkg/cgroups"
	"github.com/oci-ci/ocirun/pkg/util/ipc"
)

// User is a uid/gid pair.
type User struct {
	UID uint32
	GID uint32
}

// Config is the Monitor's process-wide configuration, created at startup
// and immutable thereafter except for the master connection fields. Those
// mutable fields live on Monitor itself, guarded by masterMu, rather than
// here, so that Config can stay a plain value type safely shared across
// goroutines.
type Config struct {
	CurrentUser     User
	FirstUserMapped User

	WrappersDir string

	// Cgroup is the root cgroup under which per-runner cgroups are
	// created. Empty means no cgroup support is configured at all.
	Cgroup          string
	CPUSetAvailable bool

	Binaries         []string
	OCIWrapper       string
	MasterBinaryName string
	// OCIMasterPath is filled in by StartMaster once the master binary has
	// been resolved against Binaries.
	OCIMasterPath string

	IdentityFile     string
	KeepRunnerRootfs bool

	// MaxWorkers bounds the number of runners (excluding the master) that
	// may be mid-exec_in_namespace at once. Zero means unbounded.
	MaxWorkers int
}

// ProcessRecord is the Monitor-side bookkeeping for one live runner.
type ProcessRecord struct {
	WrapperPID  int
	WrappedPID  int
	RunnerID    int32
	CgroupPath  string
	Termination *Termination
}

// Monitor is the single value carrying all of the Monitor's state, passed
// explicitly into every handler rather than kept as module-level globals.
type Monitor struct {
	Config  Config
	Cgroups cgroups.Backend

	mu            sync.Mutex
	running       map[int32]*ProcessRecord
	nextWrapperID int64

	shuttingDown atomic.Bool
	shutdownOnce sync.Once

	masterMu          sync.Mutex
	masterPeer        *ipc.Peer
	masterTermination *Termination

	// cpuGroups is the full hyperthread-sibling partition computed at
	// startup; cpuGroups[0] goes to the master, the rest form the pool
	// reported to it via get_configuration.
	cpuGroups [][]int

	// workerSlots bounds concurrent non-master exec_in_namespace calls to
	// Config.MaxWorkers. A nil channel (MaxWorkers == 0) means unbounded.
	workerSlots chan struct{}
}

// New constructs a Monitor. backend is the cgroups.Backend used for every
// per-runner cgroup operation; tests pass a cgroups.FakeBackend.
func New(cfg Config, backend cgroups.Backend) *Monitor {
	m := &Monitor{
		Config:  cfg,
		Cgroups: backend,
		running: make(map[int32]*ProcessRecord),
	}
	if cfg.MaxWorkers > 0 {
		m.workerSlots = make(chan struct{}, cfg.MaxWorkers)
	}
	return m
}

// ShuttingDown reports whether Shutdown has begun, consulted when
// classifying a SIGKILL death as ErrShutdown rather than a failure.
func (m *Monitor) ShuttingDown() bool {
	return m.shuttingDown.Load()
}

// insert adds rec to the live table. Duplicate insertion for an existing
// runner_id is a programming error.
func (m *Monitor) insert(rec *ProcessRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.running[rec.RunnerID]; exists {
		panic("monitor: duplicate runner_id inserted into running_processes")
	}
	m.running[rec.RunnerID] = rec
}

// remove deletes the runner_id entry, once its wrapper has been reaped.
func (m *Monitor) remove(runnerID int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, runnerID)
}

// lookup returns the process record for runnerID, if it is currently live.
func (m *Monitor) lookup(runnerID int32) (*ProcessRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.running[runnerID]
	return rec, ok
}

// snapshot returns every currently live process record, used by the
// shutdown sweep.
func (m *Monitor) snapshot() []*ProcessRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ProcessRecord, 0, len(m.running))
	for _, rec := range m.running {
		out = append(out, rec)
	}
	return out
}

// allocWrapperID returns the next monotonically increasing wrapper id, used
// to build the per-runner fifo base name.
func (m *Monitor) allocWrapperID() int64 {
	return atomic.AddInt64(&m.nextWrapperID, 1)
}
