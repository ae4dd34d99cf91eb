// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package monitor

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolveBinary searches dirs in order for an executable regular file named
// name, returning the first match. This is the Monitor's analogue of a
// build-time-configured helper lookup: wrapper, master and runner binaries
// are all resolved against the same --binaries search path.
func ResolveBinary(dirs []string, name string) (string, error) {
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		if info.IsDir() {
			continue
		}
		if info.Mode()&0o111 == 0 {
			continue
		}
		return candidate, nil
	}
	return "", fmt.Errorf("could not find binary %q in %v", name, dirs)
}

// PrepareWrappersDir wipes and recreates <ociData>/wrappers, the scratch
// directory holding every in-flight wrapper's fifo pair. The Monitor owns no
// persisted state across restarts, so a stale directory from a previous run
// is discarded unconditionally.
func PrepareWrappersDir(ociData string) (string, error) {
	dir := filepath.Join(ociData, "wrappers")
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clearing %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return dir, nil
}
