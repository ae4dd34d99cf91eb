// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package monitor

import (
	"testing"

	"github.com/oci-ci/ocirun/internal/pkg/cgroups"
)

func newTestMonitor(cfg Config) (*Monitor, *cgroups.FakeBackend) {
	backend := cgroups.NewFakeBackend(true)
	return New(cfg, backend), backend
}

func TestInsertLookupRemove(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	rec := &ProcessRecord{RunnerID: 1, WrapperPID: 111}
	m.insert(rec)

	got, ok := m.lookup(1)
	if !ok || got != rec {
		t.Fatalf("lookup(1) = %+v, %v", got, ok)
	}

	m.remove(1)
	if _, ok := m.lookup(1); ok {
		t.Fatal("expected runner 1 removed")
	}
}

func TestInsertDuplicatePanics(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	m.insert(&ProcessRecord{RunnerID: 5})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate insert")
		}
	}()
	m.insert(&ProcessRecord{RunnerID: 5})
}

func TestSnapshot(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	m.insert(&ProcessRecord{RunnerID: 1})
	m.insert(&ProcessRecord{RunnerID: 2})

	snap := m.snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(snap))
	}
}

func TestAllocWrapperIDMonotonic(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	a := m.allocWrapperID()
	b := m.allocWrapperID()
	if b != a+1 {
		t.Fatalf("allocWrapperID not monotonic: %d then %d", a, b)
	}
}

func TestNewWithMaxWorkersAllocatesSlots(t *testing.T) {
	m, _ := newTestMonitor(Config{MaxWorkers: 2})
	if m.workerSlots == nil {
		t.Fatal("expected workerSlots channel to be allocated")
	}
	if cap(m.workerSlots) != 2 {
		t.Fatalf("cap(workerSlots) = %d, want 2", cap(m.workerSlots))
	}
}

func TestNewWithoutMaxWorkersIsUnbounded(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	if m.workerSlots != nil {
		t.Fatal("expected workerSlots to be nil when MaxWorkers is unset")
	}
}

func TestShuttingDown(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	if m.ShuttingDown() {
		t.Fatal("expected ShuttingDown() false before shutdown begins")
	}
	m.shuttingDown.Store(true)
	if !m.ShuttingDown() {
		t.Fatal("expected ShuttingDown() true after setting")
	}
}
