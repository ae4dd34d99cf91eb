// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package runner

import "golang.org/x/sys/unix"

// chrootSelf re-roots the process to its current directory. It is
// defensive: the wrapper has already chrooted the runner into its rootfs
// before exec'ing it, so this re-root onto "." is a no-op in the common
// case, but it closes the window for a runner binary that was somehow
// exec'd outside a wrapper-prepared sandbox.
func chrootSelf() error {
	return unix.Chroot(".")
}
