// Copyright (c) 2022-2024, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package cgroups

import "sync"

// FakeBackend is an in-memory Backend. It records every call so Monitor
// tests can assert on exactly what would have been written to sysfs,
// without needing root or a real cgroup filesystem.
type FakeBackend struct {
	mu sync.Mutex

	available bool
	created   map[string]bool
	procs     map[string][]int
	cpusets   map[string][]int
}

// NewFakeBackend returns a FakeBackend; available controls what Available()
// reports, mirroring the Monitor's cpuset_available flag under test.
func NewFakeBackend(available bool) *FakeBackend {
	return &FakeBackend{
		available: available,
		created:   make(map[string]bool),
		procs:     make(map[string][]int),
		cpusets:   make(map[string][]int),
	}
}

func (f *FakeBackend) Create(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[path] = true
	return nil
}

func (f *FakeBackend) AddProcess(path string, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.created[path] {
		f.created[path] = true
	}
	f.procs[path] = append(f.procs[path], pid)
	return nil
}

func (f *FakeBackend) SetCPUSet(path string, cpus []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.available {
		return ErrNotAvailable
	}
	cp := make([]int, len(cpus))
	copy(cp, cpus)
	f.cpusets[path] = cp
	return nil
}

func (f *FakeBackend) Available() bool {
	return f.available
}

// Created reports whether Create or AddProcess has been called for path.
func (f *FakeBackend) Created(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[path]
}

// Procs returns the pids recorded for path via AddProcess.
func (f *FakeBackend) Procs(path string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.procs[path]...)
}

// CPUSet returns the cpu list last recorded for path via SetCPUSet.
func (f *FakeBackend) CPUSet(path string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.cpusets[path]...)
}
