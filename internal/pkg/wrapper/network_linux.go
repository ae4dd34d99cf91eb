// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package wrapper

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// bringUpLoopback brings the "lo" interface up inside the freshly entered
// network namespace. A fresh CLONE_NEWNET namespace always starts with "lo"
// present but administratively down; without this, loopback-only workloads
// (most CI jobs never need real egress) get ECONNREFUSED on 127.0.0.1.
func bringUpLoopback() error {
	link, err := netlink.LinkByName("lo")
	if err != nil {
		return fmt.Errorf("finding loopback interface: %w", err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("bringing up loopback interface: %w", err)
	}
	return nil
}
