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

// Package staged maintains an interval-indexed map from contig to cached
// artifact location, answering "is this locus already staged" without
// re-fetching.
package staged

import (
	"math"
	"sync"

	"github.com/google/btree"

	"github.com/googlegenomics/readstage/internal/genomics"
)

// Artifact locates one staged table and records the interval it covers,
// which may exceed the range originally requested.
type Artifact struct {
	Path     string
	Covering genomics.Locus
}

type entry struct {
	start, stop uint64
	artifact    Artifact
}

func lessEntry(a, b entry) bool {
	if a.start != b.start {
		return a.start < b.start
	}
	return a.stop < b.stop
}

// Index maps staged intervals to artifacts, per contig.  Lookups may run
// concurrently with a staging operation; mutation takes the write lock.
type Index struct {
	mu      sync.RWMutex
	contigs map[string]*btree.BTreeG[entry]
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{contigs: make(map[string]*btree.BTreeG[entry])}
}

// Stage records that locus is covered by the artifact at path.  Entries
// accumulate for the lifetime of the index; they are removed only by Reset.
func (x *Index) Stage(locus genomics.Locus, path string) {
	locus = locus.Normalized()

	x.mu.Lock()
	defer x.mu.Unlock()
	tree, ok := x.contigs[locus.Contig]
	if !ok {
		tree = btree.NewG(2, lessEntry)
		x.contigs[locus.Contig] = tree
	}
	tree.ReplaceOrInsert(entry{
		start:    locus.Start,
		stop:     locus.Stop,
		artifact: Artifact{Path: path, Covering: locus},
	})
}

// FindCovering returns an artifact whose staged interval fully contains
// locus.  Partially-overlapping entries are ignored; callers must still
// filter the artifact's table down to the requested range.
func (x *Index) FindCovering(locus genomics.Locus) (Artifact, bool) {
	locus = locus.Normalized()

	x.mu.RLock()
	defer x.mu.RUnlock()
	tree, ok := x.contigs[locus.Contig]
	if !ok {
		return Artifact{}, false
	}

	// Any covering interval starts at or before the query, so walk
	// candidates downward from the query start.
	var found Artifact
	var hit bool
	pivot := entry{start: locus.Start, stop: math.MaxUint64}
	tree.DescendLessOrEqual(pivot, func(e entry) bool {
		if e.start <= locus.Start && e.stop >= locus.Stop {
			found, hit = e.artifact, true
			return false
		}
		return true
	})
	return found, hit
}

// Walk calls fn for every staged artifact in ascending interval order
// within each contig.
func (x *Index) Walk(fn func(contig string, artifact Artifact)) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for contig, tree := range x.contigs {
		tree.Ascend(func(e entry) bool {
			fn(contig, e.artifact)
			return true
		})
	}
}

// Len returns the number of staged intervals across all contigs.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := 0
	for _, tree := range x.contigs {
		n += tree.Len()
	}
	return n
}

// Reset drops every staged entry.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.contigs = make(map[string]*btree.BTreeG[entry])
}
