// Copyright (c) 2018-2020, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package cpuset

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []int
		wantErr bool
	}{
		{name: "spec example", in: "1,3,2,7,8-12,15", want: []int{1, 2, 3, 7, 8, 9, 10, 11, 12, 15}},
		{name: "empty", in: "", want: nil},
		{name: "single", in: "4", want: []int{4}},
		{name: "duplicate across list and interval", in: "2,1-3", want: []int{1, 2, 3}},
		{name: "bad interval order", in: "5-3", wantErr: true},
		{name: "garbage", in: "a,b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseFormatRoundTripPreservesSet(t *testing.T) {
	in := "15,1,8-10,3"
	parsed, err := Parse(in)
	if err != nil {
		t.Fatalf("Parse: %s", err)
	}
	formatted := Format(parsed)
	reparsed, err := Parse(formatted)
	if err != nil {
		t.Fatalf("Parse(Format(...)): %s", err)
	}
	if !reflect.DeepEqual(parsed, reparsed) {
		t.Fatalf("round trip mismatch: %v != %v", parsed, reparsed)
	}
}
