// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/ccoveille/go-safecast"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oci-ci/ocirun/internal/pkg/cgroups"
	"github.com/oci-ci/ocirun/internal/pkg/monitor"
	"github.com/oci-ci/ocirun/pkg/sylog"
	"github.com/oci-ci/ocirun/pkg/util/cpuinfo"
	"github.com/oci-ci/ocirun/pkg/util/cpuset"
	"github.com/oci-ci/ocirun/pkg/util/subid"
)

var (
	masterName       string
	binaries         []string
	ociData          string
	identityFile     string
	verbose          string
	keepRunnerRootfs bool
	cgroupRoot       string
	procCount        int
	cpusFlag         string
	useCPUInfo       bool
)

func main() {
	cmd := &cobra.Command{
		Use:           "ocirun-monitor",
		Short:         "long-lived supervisor for sandboxed CI runners",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := cmd.Flags()
	flags.StringVar(&masterName, "master", "oci-default-master", "basename of the master binary to look up in --binaries")
	flags.StringArrayVar(&binaries, "binaries", nil, "search path for master/wrapper/runner binaries (repeatable, required)")
	flags.StringVar(&ociData, "oci-data", "/var/lib/ocirun", "monitor's working directory; must be writable")
	flags.StringVar(&identityFile, "identity-file", "", "forwarded to the master via get_configuration")
	flags.StringVar(&verbose, "verbose", "Info", "one of Debug, Info, Error")
	flags.BoolVar(&keepRunnerRootfs, "keep-runner-rootfs", true, "forwarded to master; inverted by flag presence")
	flags.StringVar(&cgroupRoot, "cgroup", "", "root cgroup under which per-runner cgroups are made")
	flags.IntVar(&procCount, "proc", 0, "max simultaneous workers (default 4, or nb_cpus if --cpuinfo)")
	flags.StringVar(&cpusFlag, "cpus", "", "comma-list of CPU indices or a-b intervals, e.g. 1,3,2,7,8-12,15")
	flags.BoolVar(&useCPUInfo, "cpuinfo", false, "parse /proc/cpuinfo for hyperthread topology")

	if err := cmd.Execute(); err != nil {
		sylog.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	sylog.SetLevel(sylog.ParseLevel(verbose))
	sylog.SetPrefix(uuid.NewString()[:8])

	if len(binaries) == 0 {
		return fail(fmt.Errorf("--binaries is required"))
	}

	wrapperPath, err := monitor.ResolveBinary(binaries, "oci-wrapper")
	if err != nil {
		return fail(err)
	}

	uidRange, gidRange, err := subid.CurrentUserRanges()
	if err != nil {
		return fail(err)
	}
	if err := subid.Validate(uidRange, gidRange); err != nil {
		return fail(err)
	}

	currentUID, err := safecast.ToUint32(os.Getuid())
	if err != nil {
		return fail(err)
	}
	currentGID, err := safecast.ToUint32(os.Getgid())
	if err != nil {
		return fail(err)
	}

	info, err := cpuTopology()
	if err != nil {
		return fail(err)
	}

	requestedCPUs := allCPUs(info)
	if cpusFlag != "" {
		requestedCPUs, err = cpuset.Parse(cpusFlag)
		if err != nil {
			return fail(err)
		}
	}
	groups := cpuinfo.PartitionCPUs(info, requestedCPUs)
	if len(groups) < 2 {
		return fail(fmt.Errorf("CPU partitioning produced %d groups, need at least 2", len(groups)))
	}

	backend := &cgroups.SysfsBackend{}
	cpusetAvailable := useCPUInfo && cgroupRoot != "" && backend.Available()

	wrappersDir, err := monitor.PrepareWrappersDir(ociData)
	if err != nil {
		return fail(err)
	}

	cfg := monitor.Config{
		CurrentUser:      monitor.User{UID: currentUID, GID: currentGID},
		FirstUserMapped:  monitor.User{UID: uidRange.Start, GID: gidRange.Start},
		WrappersDir:      wrappersDir,
		Cgroup:           cgroupRoot,
		CPUSetAvailable:  cpusetAvailable,
		Binaries:         binaries,
		OCIWrapper:       wrapperPath,
		MasterBinaryName: masterName,
		IdentityFile:     identityFile,
		KeepRunnerRootfs: keepRunnerRootfs,
		MaxWorkers:       maxWorkers(),
	}

	m := monitor.New(cfg, backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.ListenForSignals(ctx)

	if err := m.StartMaster(ctx, groups, ociData); err != nil {
		m.Shutdown(ctx)
		if _, ok := err.(*monitor.ConfigError); ok {
			return fail(err)
		}
		sylog.Errorf("master exited: %s", err)
		os.Exit(1)
	}

	m.Shutdown(ctx)
	return nil
}

func fail(err error) error {
	sylog.Errorf("%s", err)
	os.Exit(1)
	return err
}

func cpuTopology() (*cpuinfo.Info, error) {
	if !useCPUInfo {
		return cpuinfo.Degraded(numCPU()), nil
	}
	return cpuinfo.ParseFile("/proc/cpuinfo")
}

func allCPUs(info *cpuinfo.Info) []int {
	cpus := make([]int, 0, info.NumCPUs)
	for i := 0; i < info.NumCPUs; i++ {
		cpus = append(cpus, i)
	}
	return cpus
}

func numCPU() int {
	return runtime.NumCPU()
}

// maxWorkers resolves --proc: an explicit value wins, otherwise the default
// is nb_cpus when --cpuinfo topology parsing is in play, 4 otherwise.
func maxWorkers() int {
	if procCount > 0 {
		return procCount
	}
	if useCPUInfo {
		return numCPU()
	}
	return 4
}
