// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package cpuinfo parses /proc/cpuinfo into a hyperthread-aware topology and
// partitions it against an operator-requested CPU list.
package cpuinfo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// CPUData is one /proc/cpuinfo record's fields of interest.
type CPUData struct {
	Processor  int
	PhysicalID int
	CoreID     int
}

// Info is the parsed CPU topology: every processor, and a layout grouping
// processors that share (PhysicalID, CoreID) -- hyperthread siblings.
type Info struct {
	NumCPUs int
	CPUs    map[int]CPUData
	Layout  [][]CPUData
}

// Parse reads cpuinfo-formatted text (records separated by blank lines) and
// builds an Info. Duplicate processor values are fatal.
func Parse(r io.Reader) (*Info, error) {
	cpus := make(map[int]CPUData)
	var order []int

	cur := CPUData{Processor: -1, PhysicalID: -1, CoreID: -1}
	haveProcessor := false

	flush := func() error {
		if !haveProcessor {
			return nil
		}
		if _, exists := cpus[cur.Processor]; exists {
			return fmt.Errorf("cpuinfo: duplicate processor %d", cur.Processor)
		}
		cpus[cur.Processor] = cur
		order = append(order, cur.Processor)
		cur = CPUData{Processor: -1, PhysicalID: -1, CoreID: -1}
		haveProcessor = false
		return nil
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		switch key {
		case "processor":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("cpuinfo: invalid processor field %q: %w", val, err)
			}
			cur.Processor = n
			haveProcessor = true
		case "physical id":
			n, err := strconv.Atoi(val)
			if err == nil {
				cur.PhysicalID = n
			}
		case "core id":
			n, err := strconv.Atoi(val)
			if err == nil {
				cur.CoreID = n
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cpuinfo: reading: %w", err)
	}

	return &Info{
		NumCPUs: len(cpus),
		CPUs:    cpus,
		Layout:  buildLayout(cpus, order),
	}, nil
}

// ParseFile parses /proc/cpuinfo (or an equivalent file, for testing).
func ParseFile(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cpuinfo: opening %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

type coreKey struct {
	physicalID int
	coreID     int
}

func buildLayout(cpus map[int]CPUData, order []int) [][]CPUData {
	groups := make(map[coreKey][]CPUData)
	var keyOrder []coreKey
	for _, p := range order {
		d := cpus[p]
		k := coreKey{physicalID: d.PhysicalID, coreID: d.CoreID}
		if _, ok := groups[k]; !ok {
			keyOrder = append(keyOrder, k)
		}
		groups[k] = append(groups[k], d)
	}
	layout := make([][]CPUData, 0, len(keyOrder))
	for _, k := range keyOrder {
		layout = append(layout, groups[k])
	}
	return layout
}

// Degraded builds a one-singleton-group-per-cpu Info for when --cpuinfo was
// not requested: no sibling information is available, so every processor is
// its own layout group. Callers must also disable cpuset_available in this
// case.
func Degraded(numCPUs int) *Info {
	cpus := make(map[int]CPUData, numCPUs)
	layout := make([][]CPUData, 0, numCPUs)
	for i := 0; i < numCPUs; i++ {
		d := CPUData{Processor: i, PhysicalID: -1, CoreID: -1}
		cpus[i] = d
		layout = append(layout, []CPUData{d})
	}
	return &Info{NumCPUs: numCPUs, CPUs: cpus, Layout: layout}
}

// PartitionCPUs filters each layout group down to the processors present in
// cpus, dropping groups left empty: it never returns a processor not in
// cpus, and never returns an empty inner group.
func PartitionCPUs(info *Info, cpus []int) [][]int {
	wanted := make(map[int]bool, len(cpus))
	for _, c := range cpus {
		wanted[c] = true
	}

	result := make([][]int, 0, len(info.Layout))
	for _, group := range info.Layout {
		var kept []int
		for _, d := range group {
			if wanted[d.Processor] {
				kept = append(kept, d.Processor)
			}
		}
		if len(kept) > 0 {
			sort.Ints(kept)
			result = append(result, kept)
		}
	}
	return result
}
