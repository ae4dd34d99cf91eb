// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package monitor

import "fmt"

// SetCPUSet repins the cgroup backing runnerID to cpus. Calling it while the
// host has no cpuset controller is a silent no-op rather than an error: only
// an actual cgroup helper failure propagates to the caller.
func (m *Monitor) SetCPUSet(runnerID int32, cpus []int) error {
	if !m.Config.CPUSetAvailable {
		return nil
	}
	rec, ok := m.lookup(runnerID)
	if !ok {
		return fmt.Errorf("set_cpuset: no such runner %d", runnerID)
	}
	if rec.CgroupPath == "" {
		return nil
	}
	return m.Cgroups.SetCPUSet(rec.CgroupPath, cpus)
}
