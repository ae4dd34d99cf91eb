// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package idmap builds the uid/gid map entries written to
// /proc/<pid>/uid_map and gid_map when a Wrapper enters a user namespace,
// from a high level (UserKind, count) description.
//
// This package answers "what map should I write"; it does not write the
// maps itself.
package idmap

import (
	"fmt"

	"github.com/ccoveille/go-safecast"
)

// Kind is the semantic role of an id-map range inside the container.
type Kind int

const (
	// Superroot is container uid/gid 0.
	Superroot Kind = iota
	// Root is a designated non-0 id used by the Master.
	Root
	// User is a per-job unprivileged id.
	User
)

func (k Kind) String() string {
	switch k {
	case Superroot:
		return "Superroot"
	case Root:
		return "Root"
	case User:
		return "User"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Description is one (role, count) pair in the high level idmap request.
type Description struct {
	Kind  Kind
	Count uint32
}

// Entry is a single (in_container_start, host_start, length) idmap triple,
// as written verbatim to uid_map/gid_map.
type Entry struct {
	ContainerStart uint32
	HostStart      uint32
	Length         uint32
}

// Build turns a [(Kind, count)] description into concrete idmap entries.
// Container ids are assigned sequentially starting at 0, in description
// order, so the layout reads the same as the request. Superroot ranges map
// to currentUser — the monitor's own host uid/gid, which is how a rootless
// user namespace grants its creator root-equivalence inside the container
// without any host privilege — while Root and User ranges map to the
// subuid/subgid-derived firstUserMapped range, incrementing as they are
// consumed so distinct ranges never overlap on the host side either.
func Build(descs []Description, currentUser, firstUserMapped uint32) ([]Entry, error) {
	entries := make([]Entry, 0, len(descs))
	var containerCursor uint32
	hostCursor := firstUserMapped

	for _, d := range descs {
		if d.Count == 0 {
			return nil, fmt.Errorf("idmap: zero-length range for kind %s", d.Kind)
		}
		switch d.Kind {
		case Superroot:
			entries = append(entries, Entry{
				ContainerStart: containerCursor,
				HostStart:      currentUser,
				Length:         d.Count,
			})
		case Root, User:
			entries = append(entries, Entry{
				ContainerStart: containerCursor,
				HostStart:      hostCursor,
				Length:         d.Count,
			})
			hostCursor += d.Count
		default:
			return nil, fmt.Errorf("idmap: unknown user kind %d", int(d.Kind))
		}
		containerCursor += d.Count
	}
	return entries, nil
}

// CountFromInt safely narrows an int count (as typically read from a CLI
// flag or a job request) to the uint32 the kernel idmap format requires.
func CountFromInt(n int) (uint32, error) {
	v, err := safecast.ToUint32(n)
	if err != nil {
		return 0, fmt.Errorf("idmap: invalid count %d: %w", n, err)
	}
	return v, nil
}
