// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package cgroups abstracts cgroup creation, process placement and cpuset
// pinning behind a Backend interface, with one production implementation
// (direct writes to sysfs cgroup files) and one test implementation
// (in-memory fake).
package cgroups

import "fmt"

// Backend is the seam the Monitor uses to manipulate cgroups,
// so that Monitor unit tests can run without root or a real cgroup
// filesystem.
type Backend interface {
	// Create makes the cgroup at path (relative to the unified cgroup
	// mountpoint), creating parent directories as needed. It must be
	// idempotent: creating an already-existing cgroup is not an error.
	Create(path string) error

	// AddProcess writes pid into <path>/cgroup.procs.
	AddProcess(path string, pid int) error

	// SetCPUSet writes the comma-separated cpu list into
	// <path>/cpuset.cpus.
	SetCPUSet(path string, cpus []int) error

	// Available reports whether cpuset pinning can be used on this host.
	Available() bool
}

// ErrNotAvailable is returned by SetCPUSet when Available() is false but a
// caller attempted a pin anyway. The Monitor suppresses initial_cpuset
// before ever reaching the backend, so hitting this is a programming error.
var ErrNotAvailable = fmt.Errorf("cgroups: cpuset controller not available on this host")
