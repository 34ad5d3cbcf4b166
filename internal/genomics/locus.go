// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package genomics contains definitions related to genomic data.
package genomics

import (
	"fmt"
	"strconv"
	"strings"
)

// PointLocusPadding is the interval placed around a single-position locus
// (for example "chr4:1000") when it is parsed.
const PointLocusPadding = 1000

// Locus defines a half-open genomic interval of interest.
type Locus struct {
	// Contig names the reference sequence the interval lies on.
	Contig string
	// Start and Stop specify the interval (in base pairs) on the contig.
	// Start is inclusive and Stop is exclusive.
	Start, Stop uint64
}

func (locus Locus) String() string {
	return fmt.Sprintf("%s:%d-%d", locus.Contig, locus.Start, locus.Stop)
}

// Name returns the locus formatted for use in file names.
func (locus Locus) Name() string {
	return fmt.Sprintf("%s_%d_%d", locus.Contig, locus.Start, locus.Stop)
}

// Normalized returns locus with Start and Stop swapped if needed so that
// Start < Stop always holds.
func (locus Locus) Normalized() Locus {
	if locus.Start > locus.Stop {
		locus.Start, locus.Stop = locus.Stop, locus.Start
	}
	return locus
}

// Contains reports whether locus fully contains other.  Both loci must refer
// to the same contig.
func (locus Locus) Contains(other Locus) bool {
	return locus.Contig == other.Contig && locus.Start <= other.Start && locus.Stop >= other.Stop
}

// Overlaps reports whether the half-open intervals of locus and other
// intersect on the same contig.
func (locus Locus) Overlaps(other Locus) bool {
	return locus.Contig == other.Contig && locus.Start < other.Stop && other.Start < locus.Stop
}

// ParseLocus parses a locus in "contig:start-stop" form.  Commas inside
// positions are ignored, so "chr4:1,000-2,000" is accepted.  A locus with a
// single position ("chr4:1000") is widened by PointLocusPadding on each side.
func ParseLocus(locus string) (Locus, error) {
	normalized := strings.ReplaceAll(locus, ",", "")
	parts := strings.FieldsFunc(normalized, func(r rune) bool {
		return r == ':' || r == '-'
	})

	switch len(parts) {
	case 2:
		position, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return Locus{}, fmt.Errorf("parsing position of locus %q: %v", locus, err)
		}
		start := uint64(0)
		if position > PointLocusPadding {
			start = position - PointLocusPadding
		}
		return Locus{Contig: parts[0], Start: start, Stop: position + PointLocusPadding}, nil
	case 3:
		start, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return Locus{}, fmt.Errorf("parsing start of locus %q: %v", locus, err)
		}
		stop, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return Locus{}, fmt.Errorf("parsing stop of locus %q: %v", locus, err)
		}
		return Locus{Contig: parts[0], Start: start, Stop: stop}.Normalized(), nil
	default:
		return Locus{}, fmt.Errorf("locus %q is not in contig:start[-stop] form", locus)
	}
}
