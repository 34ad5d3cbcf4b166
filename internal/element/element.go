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

// Package element defines the flat, analysis-ready representation of a
// decomposed alignment: one Element per visible feature of a read (the read
// footprint itself, mismatches, insertions, deletions and soft-clips).
package element

import (
	"fmt"
	"sort"
)

// Kind identifies what a single Element represents.
type Kind int

const (
	Read Kind = iota
	Diff
	Insertion
	Deletion
	SoftClip
)

var kindNames = []string{"read", "diff", "insertion", "deletion", "softclip"}

func (k Kind) String() string {
	if k < Read || k > SoftClip {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Code returns the stable numeric encoding used at the serialization
// boundary (0=Read, 1=Diff, 2=Insertion, 3=Deletion, 4=SoftClip).
func (k Kind) Code() uint8 { return uint8(k) }

// KindFromCode is the inverse of Code.
func KindFromCode(code uint8) (Kind, error) {
	if code > uint8(SoftClip) {
		return 0, fmt.Errorf("invalid element type code %d", code)
	}
	return Kind(code), nil
}

// Element is one output row of alignment decomposition.  Reference
// coordinates are 1-based with an exclusive end, except that an Insertion
// occupies a zero-width anchor just before the inserted bases.
type Element struct {
	Kind           Kind
	Contig         string
	ReferenceStart uint32
	ReferenceEnd   uint32
	IsForward      bool
	QueryName      string
	Haplotype      int32
	ReadGroup      string
	SampleName     string
	Sequence       string

	// ColumnWidth is the rendering width at ReferenceStart, computed over
	// all elements of a locus after decomposition.
	ColumnWidth uint32

	// Staging metadata.
	Chunk   string
	Cohort  string
	BamPath string
}

// Span returns the width of the element on the reference.
func (e Element) Span() uint32 {
	if e.ReferenceEnd < e.ReferenceStart {
		return 0
	}
	return e.ReferenceEnd - e.ReferenceStart
}

// Table is an ordered collection of elements.
type Table []Element

// FilterOverlapping returns the rows whose reference interval intersects the
// half-open interval [start, stop) on contig.
func (t Table) FilterOverlapping(contig string, start, stop uint64) Table {
	var out Table
	for _, e := range t {
		if e.Contig != contig {
			continue
		}
		if uint64(e.ReferenceStart) < stop && uint64(e.ReferenceEnd) >= start {
			out = append(out, e)
		}
	}
	return out
}

// FilterChunk returns the rows carrying the given chunk label.
func (t Table) FilterChunk(chunk string) Table {
	var out Table
	for _, e := range t {
		if e.Chunk == chunk {
			out = append(out, e)
		}
	}
	return out
}

// Chunks returns the distinct chunk labels present in t, in first-seen order.
func (t Table) Chunks() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range t {
		if !seen[e.Chunk] {
			seen[e.Chunk] = true
			out = append(out, e.Chunk)
		}
	}
	return out
}

// Sort orders the table by sample name, query name and reference start,
// which is the order the rendering layer consumes.
func (t Table) Sort() {
	sort.SliceStable(t, func(i, j int) bool {
		if t[i].SampleName != t[j].SampleName {
			return t[i].SampleName < t[j].SampleName
		}
		if t[i].QueryName != t[j].QueryName {
			return t[i].QueryName < t[j].QueryName
		}
		return t[i].ReferenceStart < t[j].ReferenceStart
	})
}

// WidthMask maps a reference position to the maximum length of any
// non-Read element anchored there.
type WidthMask map[uint32]uint32

// Update records an element length at a position, keeping the maximum.
func (m WidthMask) Update(pos, length uint32) {
	if length > m[pos] {
		m[pos] = length
	}
}

// Width returns the rendering width at pos, defaulting to 1.
func (m WidthMask) Width(pos uint32) uint32 {
	if w, ok := m[pos]; ok {
		return w
	}
	return 1
}

// AnnotateWidths sets ColumnWidth on every row from the mask.  This is the
// second pass of extraction: the width at a position depends on all reads
// overlapping a locus, not just the read a row came from.
func (t Table) AnnotateWidths(mask WidthMask) {
	for i := range t {
		t[i].ColumnWidth = mask.Width(t[i].ReferenceStart)
	}
}
