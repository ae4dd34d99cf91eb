// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package subid parses /etc/subuid and /etc/subgid, the files from which
// the Monitor derives first_user_mapped.
package subid

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/ccoveille/go-safecast"
)

// MinimumLength is the smallest contiguous subuid/subgid range the Monitor
// will accept.
const MinimumLength = 1001

// Range is a parsed "user:start:length" line.
type Range struct {
	Start  uint32
	Length uint32
}

// parseFile scans r for the first line whose first field matches user or
// uid. The first matching line wins; lines with non-integer fields are
// skipped rather than treated as fatal.
func parseFile(r io.Reader, user string, uid int) (Range, bool) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) != 3 {
			continue
		}
		if fields[0] != user {
			// Also match by numeric uid, the way /etc/subuid commonly keys entries.
			if n, err := strconv.Atoi(fields[0]); err != nil || n != uid {
				continue
			}
		}
		start, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			continue
		}
		length, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}
		return Range{Start: uint32(start), Length: uint32(length)}, true
	}
	return Range{}, false
}

// ParseSubuidFile parses the given subuid-formatted file for the named user.
func ParseSubuidFile(path, username string, uid int) (Range, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return Range{}, false, fmt.Errorf("subid: opening %s: %w", path, err)
	}
	defer f.Close()
	r, ok := parseFile(f, username, uid)
	return r, ok, nil
}

// CurrentUserRanges looks up the current process's subuid/subgid ranges
// from the standard /etc/subuid and /etc/subgid files.
func CurrentUserRanges() (uidRange, gidRange Range, err error) {
	u, err := user.Current()
	if err != nil {
		return Range{}, Range{}, fmt.Errorf("subid: looking up current user: %w", err)
	}
	uid, err := safecast.ToInt(os.Getuid())
	if err != nil {
		return Range{}, Range{}, fmt.Errorf("subid: converting uid: %w", err)
	}

	uidRange, ok, err := ParseSubuidFile("/etc/subuid", u.Username, uid)
	if err != nil {
		return Range{}, Range{}, err
	}
	if !ok {
		return Range{}, Range{}, fmt.Errorf("subid: no /etc/subuid entry for user %q", u.Username)
	}

	gidRange, ok, err = ParseSubuidFile("/etc/subgid", u.Username, uid)
	if err != nil {
		return Range{}, Range{}, err
	}
	if !ok {
		return Range{}, Range{}, fmt.Errorf("subid: no /etc/subgid entry for user %q", u.Username)
	}

	return uidRange, gidRange, nil
}

// Validate checks that both ranges meet MinimumLength.
func Validate(uidRange, gidRange Range) error {
	if uidRange.Length < MinimumLength || gidRange.Length < MinimumLength {
		return fmt.Errorf("not enough subuid or subgid configured (%d needed)", MinimumLength)
	}
	return nil
}
