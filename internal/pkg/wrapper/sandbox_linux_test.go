// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package wrapper

import (
	"testing"

	"github.com/oci-ci/ocirun/pkg/util/ipc"
)

func TestSplitIDMaps(t *testing.T) {
	maps := []ipc.IDMap{
		{GID: false, ContainerStart: 0, HostStart: 1000, Length: 1},
		{GID: true, ContainerStart: 0, HostStart: 2000, Length: 1},
		{GID: false, ContainerStart: 1, HostStart: 100000, Length: 1000},
	}

	uid, gid := splitIDMaps(maps)
	if len(uid) != 2 || len(gid) != 1 {
		t.Fatalf("uid=%d gid=%d, want uid=2 gid=1", len(uid), len(gid))
	}
	if uid[0].ContainerID != 0 || uid[0].HostID != 1000 || uid[0].Size != 1 {
		t.Fatalf("uid[0] = %+v", uid[0])
	}
	if gid[0].ContainerID != 0 || gid[0].HostID != 2000 || gid[0].Size != 1 {
		t.Fatalf("gid[0] = %+v", gid[0])
	}
}

func TestBuildCommandClosesParamsPipeOnEncodeSuccess(t *testing.T) {
	params := ipc.WrapperParameters{Rootfs: "/", Command: "/bin/true", Argv: []string{"/bin/true"}}

	cmd, paramsR, err := buildCommand(params)
	if err != nil {
		t.Fatalf("buildCommand: %s", err)
	}
	defer paramsR.Close()

	if cmd.Path == "" {
		t.Fatal("expected cmd.Path to be set to the wrapper's own executable")
	}
	if len(cmd.ExtraFiles) != 1 {
		t.Fatalf("ExtraFiles has %d entries, want 1", len(cmd.ExtraFiles))
	}
	if cmd.SysProcAttr == nil || cmd.SysProcAttr.Cloneflags == 0 {
		t.Fatal("expected namespace clone flags to be set")
	}
}
