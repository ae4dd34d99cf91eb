// Copyright (c) 2022-2024, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package cgroups

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lccgroups "github.com/opencontainers/cgroups"
	"github.com/oci-ci/ocirun/pkg/sylog"
	"github.com/oci-ci/ocirun/pkg/util/cpuset"
)

// unifiedMountPoint is where the unified cgroup2 hierarchy is mounted.
const unifiedMountPoint = "/sys/fs/cgroup"

// SysfsBackend is the production Backend: it writes directly to the sysfs
// cgroup2 hierarchy rooted at unifiedMountPoint, narrowed to the single
// unified-hierarchy-v2 case this module targets.
type SysfsBackend struct {
	// MountPoint overrides unifiedMountPoint; empty means use the default.
	// Exposed for tests that operate against a scratch directory standing
	// in for /sys/fs/cgroup.
	MountPoint string
}

func (b *SysfsBackend) mount() string {
	if b.MountPoint != "" {
		return b.MountPoint
	}
	return unifiedMountPoint
}

// Create makes <mountpoint>/path and every missing parent directory. Cgroup
// directory creation is idempotent by nature (MkdirAll), satisfying the
// Backend contract.
func (b *SysfsBackend) Create(path string) error {
	full := filepath.Join(b.mount(), path)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return fmt.Errorf("cgroups: creating %s: %w", full, err)
	}
	return nil
}

// AddProcess writes pid into <path>/cgroup.procs.
func (b *SysfsBackend) AddProcess(path string, pid int) error {
	full := filepath.Join(b.mount(), path)
	if err := lccgroups.WriteCgroupProc(full, pid); err != nil {
		return fmt.Errorf("cgroups: adding pid %d to %s: %w", pid, full, err)
	}
	return nil
}

// SetCPUSet writes the comma-separated cpu list to <path>/cpuset.cpus.
func (b *SysfsBackend) SetCPUSet(path string, cpus []int) error {
	if !b.Available() {
		return ErrNotAvailable
	}
	full := filepath.Join(b.mount(), path, "cpuset.cpus")
	if err := os.WriteFile(full, []byte(cpuset.Format(cpus)), 0o644); err != nil {
		return fmt.Errorf("cgroups: writing cpuset to %s: %w", full, err)
	}
	return nil
}

// Available reports whether the unified cgroup2 hierarchy is mounted and
// its cpuset controller is present.
func (b *SysfsBackend) Available() bool {
	if !lccgroups.IsCgroup2UnifiedMode() {
		sylog.Debugf("cgroups: not running under the unified (v2) hierarchy, cpuset pinning disabled")
		return false
	}
	controllersFile := filepath.Join(b.mount(), "cgroup.controllers")
	data, err := os.ReadFile(controllersFile)
	if err != nil {
		sylog.Debugf("cgroups: cannot read %s: %s", controllersFile, err)
		return false
	}
	for _, f := range strings.Fields(string(data)) {
		if f == "cpuset" {
			return true
		}
	}
	return false
}
