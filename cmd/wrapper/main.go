// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package main

import (
	"errors"
	"os"

	"github.com/oci-ci/ocirun/internal/pkg/wrapper"
	"github.com/oci-ci/ocirun/pkg/sylog"
)

// main dispatches on argv[1]. The Monitor spawns this binary as
// "oci-wrapper <fifo-base>" to run one runner's lifecycle; the wrapper then
// re-execs itself as "oci-wrapper __sandbox_init" to become the privileged
// init process that enters the fresh namespaces and finally execve's the
// runner. Both forms are this same binary so that no extra installed
// artifact is required beyond what --binaries already resolves.
func main() {
	if len(os.Args) < 2 {
		sylog.Fatalf("wrapper: usage: %s <fifo-base>|__sandbox_init", os.Args[0])
	}

	if os.Args[1] == wrapper.SandboxInitArg {
		if err := wrapper.RunSandboxInit(); err != nil {
			var execErr *wrapper.ExecError
			if errors.As(err, &execErr) {
				sylog.Errorf("wrapper: %s", execErr)
				os.Exit(wrapper.ExecFailedExitCode)
			}
			sylog.Fatalf("wrapper: %s", err)
		}
		return
	}

	wrapper.Run(os.Args[1])
}
