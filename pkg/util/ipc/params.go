// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package ipc

import (
	"fmt"
	"strings"

	"github.com/oci-ci/ocirun/pkg/util/idmap"
)

// IDMap is the wire representation of one idmap.Entry tagged with whether it
// is a uid or gid range.
type IDMap struct {
	GID            bool // false = uid map, true = gid map
	ContainerStart uint32
	HostStart      uint32
	Length         uint32
}

// FromEntries tags a set of uid entries and a set of gid entries (built
// independently by pkg/util/idmap, since uid and gid ranges may legitimately
// differ) into the single wire-format slice WrapperParameters carries.
func FromEntries(uid, gid []idmap.Entry) []IDMap {
	out := make([]IDMap, 0, len(uid)+len(gid))
	for _, e := range uid {
		out = append(out, IDMap{GID: false, ContainerStart: e.ContainerStart, HostStart: e.HostStart, Length: e.Length})
	}
	for _, e := range gid {
		out = append(out, IDMap{GID: true, ContainerStart: e.ContainerStart, HostStart: e.HostStart, Length: e.Length})
	}
	return out
}

// MasterRunnerID is the reserved runner_id identifying the Master among all
// runners.
const MasterRunnerID int32 = -1

// WrapperParameters is the binary struct sent over the Monitor->Wrapper
// input fifo.
type WrapperParameters struct {
	Rootfs string
	IDMaps []IDMap

	Command string
	Argv    []string
	Env     []EnvVar

	RunUID uint32
	RunGID uint32

	BindSystemMount bool
	PrepareNetwork  bool

	Workdir string // empty means "no chdir beyond the root"

	Cgroup         string // empty means "no cgroup placement"
	InitialCPUSet  []int  // nil means "no cpuset pinning"

	RunnerID int32
}

// EnvVar is a single key/value environment variable entry. A struct (rather
// than map[string]string) keeps ordering stable across the wire, which
// matters for reproducible sexp dumps in error messages.
type EnvVar struct {
	Key   string
	Value string
}

// Dump renders WrapperParameters as a sexp-like string for inclusion in
// WrapperStartupError / RunnerFailed messages. The rendering is stable and
// greppable across runs.
func (p WrapperParameters) Dump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "(rootfs %q) (runner_id %d) (runuid %d) (rungid %d)", p.Rootfs, p.RunnerID, p.RunUID, p.RunGID)
	fmt.Fprintf(&b, " (command %q) (argv %q)", p.Command, p.Argv)
	if p.Workdir != "" {
		fmt.Fprintf(&b, " (workdir %q)", p.Workdir)
	}
	if p.Cgroup != "" {
		fmt.Fprintf(&b, " (cgroup %q)", p.Cgroup)
	}
	if len(p.InitialCPUSet) > 0 {
		fmt.Fprintf(&b, " (initial_cpuset %v)", p.InitialCPUSet)
	}
	fmt.Fprintf(&b, " (bind_system_mount %t) (prepare_network %t)", p.BindSystemMount, p.PrepareNetwork)
	for _, m := range p.IDMaps {
		kind := "uid"
		if m.GID {
			kind = "gid"
		}
		fmt.Fprintf(&b, " (%smap %d %d %d)", kind, m.ContainerStart, m.HostStart, m.Length)
	}
	return b.String()
}
