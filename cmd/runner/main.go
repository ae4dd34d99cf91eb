// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Command runner is a minimal demonstration of the supervision-level
// contract every sandboxed binary exec'd by the wrapper must honor. What a
// real job runner does once attached is application logic and lives
// entirely outside this package; this binary just proves the contract out
// end to end.
package main

import (
	"context"
	"os"

	"github.com/oci-ci/ocirun/internal/pkg/runner"
	"github.com/oci-ci/ocirun/pkg/sylog"
)

func main() {
	if len(os.Args) < 2 {
		sylog.Fatalf("runner: usage: %s <fifo-base>", os.Args[0])
	}

	s, err := runner.Attach(os.Args[1])
	if err != nil {
		sylog.Fatalf("runner: %s", err)
	}

	s.RegisterHandler("ping", func(payload []byte) (interface{}, error) {
		return "pong", nil
	})

	if err := s.Serve(context.Background()); err != nil {
		sylog.Fatalf("runner: %s", err)
	}
}
