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

// Package extract drives alignment decomposition over every record of a
// source that overlaps a requested locus.
package extract

import (
	"fmt"
	"log"

	"github.com/biogo/hts/sam"

	"github.com/googlegenomics/readstage/internal/decompose"
	"github.com/googlegenomics/readstage/internal/element"
	"github.com/googlegenomics/readstage/internal/genomics"
)

// Records iterates over the alignment records of one indexed query.
type Records interface {
	Next() bool
	Record() *sam.Record
	Error() error
	Close() error
}

// Querier is the part of an opened alignment source needed for extraction.
// The read-group to sample mapping comes from the source header and is
// resolved once per source, not once per locus.
type Querier interface {
	Query(contig string, start, stop uint64) (Records, error)
	SampleByReadGroup() map[string]string
}

// Meta carries caller-supplied metadata stamped onto every extracted row.
type Meta struct {
	URL    string
	Cohort string
}

const unknown = "unknown"

// Reads decomposes every record of q overlapping locus into a table of
// elements with rendering widths annotated.
//
// Records missing an RG tag, or carrying one absent from the header, fall
// back to "unknown" for both read group and sample.  Records that fail to
// decode are skipped with a warning.
func Reads(q Querier, meta Meta, locus genomics.Locus) (element.Table, error) {
	samples := q.SampleByReadGroup()

	records, err := q.Query(locus.Contig, locus.Start, locus.Stop)
	if err != nil {
		return nil, fmt.Errorf("querying %s in %s: %w", locus, meta.URL, err)
	}
	defer records.Close()

	table := element.Table{}
	mask := element.WidthMask{}
	for records.Next() {
		rec := records.Record()
		if !overlaps(rec, locus) {
			continue
		}

		readGroup, sample := unknown, unknown
		if rg, ok := decompose.ReadGroup(rec); ok {
			readGroup = rg
			if sm, ok := samples[rg]; ok {
				sample = sm
			}
		}

		rows, err := decompose.Record(rec, locus.Contig, readGroup, sample, mask)
		if err != nil {
			log.Printf("Warning: skipping record in %s: %v", meta.URL, err)
			continue
		}
		table = append(table, rows...)
	}
	if err := records.Error(); err != nil {
		return nil, fmt.Errorf("reading records for %s in %s: %w", locus, meta.URL, err)
	}

	chunk := locus.String()
	for i := range table {
		table[i].Chunk = chunk
		table[i].Cohort = meta.Cohort
		table[i].BamPath = meta.URL
	}
	table.AnnotateWidths(mask)

	return table, nil
}

// overlaps reports whether rec's alignment footprint intersects locus.  The
// index query is chunk-granular, so records outside the locus can appear at
// its edges.
func overlaps(rec *sam.Record, locus genomics.Locus) bool {
	return uint64(rec.Pos) < locus.Stop && uint64(rec.End()) > locus.Start
}
