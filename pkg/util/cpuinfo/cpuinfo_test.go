// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package cpuinfo

import (
	"strings"
	"testing"
)

// eightWaySMT is an 8-processor, 4-core /proc/cpuinfo fixture, each pair
// (0,4) (1,5) (2,6) (3,7) sharing a core.
const eightWaySMT = `processor	: 0
physical id	: 0
core id	: 0

processor	: 4
physical id	: 0
core id	: 0

processor	: 1
physical id	: 0
core id	: 1

processor	: 5
physical id	: 0
core id	: 1

processor	: 2
physical id	: 0
core id	: 2

processor	: 6
physical id	: 0
core id	: 2

processor	: 3
physical id	: 0
core id	: 3

processor	: 7
physical id	: 0
core id	: 3
`

func TestParseBuildsLayout(t *testing.T) {
	info, err := Parse(strings.NewReader(eightWaySMT))
	if err != nil {
		t.Fatalf("Parse: %s", err)
	}
	if info.NumCPUs != 8 {
		t.Fatalf("NumCPUs = %d, want 8", info.NumCPUs)
	}
	if len(info.Layout) != 4 {
		t.Fatalf("len(Layout) = %d, want 4 sibling groups", len(info.Layout))
	}
	for _, g := range info.Layout {
		if len(g) != 2 {
			t.Fatalf("sibling group %+v has %d members, want 2", g, len(g))
		}
	}
}

func TestParseDuplicateProcessorIsFatal(t *testing.T) {
	data := "processor\t: 0\nphysical id\t: 0\ncore id\t: 0\n\nprocessor\t: 0\nphysical id\t: 0\ncore id\t: 1\n"
	if _, err := Parse(strings.NewReader(data)); err == nil {
		t.Fatal("expected error for duplicate processor")
	}
}

func TestPartitionCPUsSiblingPairs(t *testing.T) {
	info, err := Parse(strings.NewReader(eightWaySMT))
	if err != nil {
		t.Fatalf("Parse: %s", err)
	}

	parts := PartitionCPUs(info, []int{0, 1, 2, 3, 4, 5, 6, 7})
	if len(parts) != 4 {
		t.Fatalf("PartitionCPUs() returned %d groups, want 4", len(parts))
	}
	for _, g := range parts {
		if len(g) != 2 {
			t.Fatalf("group %v has %d members, want 2", g, len(g))
		}
	}
}

func TestPartitionCPUsNeverReturnsUnrequested(t *testing.T) {
	info, err := Parse(strings.NewReader(eightWaySMT))
	if err != nil {
		t.Fatalf("Parse: %s", err)
	}

	parts := PartitionCPUs(info, []int{0, 4})
	if len(parts) != 1 {
		t.Fatalf("PartitionCPUs() returned %d groups, want 1", len(parts))
	}
	for _, g := range parts {
		for _, c := range g {
			if c != 0 && c != 4 {
				t.Fatalf("group %v contains unrequested processor %d", g, c)
			}
		}
	}
}

func TestPartitionCPUsDropsEmptyGroups(t *testing.T) {
	info, err := Parse(strings.NewReader(eightWaySMT))
	if err != nil {
		t.Fatalf("Parse: %s", err)
	}
	parts := PartitionCPUs(info, []int{0})
	for _, g := range parts {
		if len(g) == 0 {
			t.Fatal("PartitionCPUs() returned an empty inner group")
		}
	}
}

func TestDegraded(t *testing.T) {
	info := Degraded(4)
	if len(info.Layout) != 4 {
		t.Fatalf("Degraded(4) layout has %d groups, want 4", len(info.Layout))
	}
	for _, g := range info.Layout {
		if len(g) != 1 {
			t.Fatalf("Degraded group %+v has %d members, want 1", g, len(g))
		}
	}
}
