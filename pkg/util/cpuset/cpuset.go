// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package cpuset parses and formats the comma/interval CPU lists used by
// --cpus and by cgroup cpuset.cpus files.
package cpuset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Parse converts "1,3,2,7,8-12,15" into a de-duplicated, ascending []int.
func Parse(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	seen := make(map[int]bool)
	var result []int

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '-'); i >= 0 {
			lo, err := strconv.Atoi(strings.TrimSpace(part[:i]))
			if err != nil {
				return nil, fmt.Errorf("cpuset: invalid interval %q: %w", part, err)
			}
			hi, err := strconv.Atoi(strings.TrimSpace(part[i+1:]))
			if err != nil {
				return nil, fmt.Errorf("cpuset: invalid interval %q: %w", part, err)
			}
			if hi < lo {
				return nil, fmt.Errorf("cpuset: invalid interval %q: end before start", part)
			}
			for v := lo; v <= hi; v++ {
				if !seen[v] {
					seen[v] = true
					result = append(result, v)
				}
			}
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("cpuset: invalid cpu index %q: %w", part, err)
		}
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}

	sort.Ints(result)
	return result, nil
}

// Format renders a CPU list as the comma-separated string cgroup.cpuset.cpus
// expects.
func Format(cpus []int) string {
	parts := make([]string, len(cpus))
	for i, c := range cpus {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}
