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

package cache

import (
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/googlegenomics/readstage/internal/element"
)

// artifactRow is the columnar serialization of one element.  This is the
// only place the numeric element type encoding appears.
type artifactRow struct {
	Chunk           string `parquet:"chunk"`
	Cohort          string `parquet:"cohort"`
	BamPath         string `parquet:"bam_path"`
	ReferenceContig string `parquet:"reference_contig"`
	ReferenceStart  uint32 `parquet:"reference_start"`
	ReferenceEnd    uint32 `parquet:"reference_end"`
	IsForward       bool   `parquet:"is_forward"`
	QueryName       string `parquet:"query_name"`
	Haplotype       int32  `parquet:"haplotype"`
	ReadGroup       string `parquet:"read_group"`
	SampleName      string `parquet:"sample_name"`
	ElementType     uint8  `parquet:"element_type"`
	Sequence        string `parquet:"sequence"`
	ColumnWidth     uint32 `parquet:"column_width"`
}

func writeParquet(path string, table element.Table) error {
	rows := make([]artifactRow, len(table))
	for i, e := range table {
		rows[i] = artifactRow{
			Chunk:           e.Chunk,
			Cohort:          e.Cohort,
			BamPath:         e.BamPath,
			ReferenceContig: e.Contig,
			ReferenceStart:  e.ReferenceStart,
			ReferenceEnd:    e.ReferenceEnd,
			IsForward:       e.IsForward,
			QueryName:       e.QueryName,
			Haplotype:       e.Haplotype,
			ReadGroup:       e.ReadGroup,
			SampleName:      e.SampleName,
			ElementType:     e.Kind.Code(),
			Sequence:        e.Sequence,
			ColumnWidth:     e.ColumnWidth,
		}
	}
	return parquet.WriteFile(path, rows)
}

// ReadArtifact loads a persisted table from path.
func ReadArtifact(path string) (element.Table, error) {
	rows, err := parquet.ReadFile[artifactRow](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %v", path, err)
	}

	table := make(element.Table, len(rows))
	for i, row := range rows {
		kind, err := element.KindFromCode(row.ElementType)
		if err != nil {
			return nil, fmt.Errorf("reading %s row %d: %v", path, i, err)
		}
		table[i] = element.Element{
			Kind:           kind,
			Contig:         row.ReferenceContig,
			ReferenceStart: row.ReferenceStart,
			ReferenceEnd:   row.ReferenceEnd,
			IsForward:      row.IsForward,
			QueryName:      row.QueryName,
			Haplotype:      row.Haplotype,
			ReadGroup:      row.ReadGroup,
			SampleName:     row.SampleName,
			Sequence:       row.Sequence,
			ColumnWidth:    row.ColumnWidth,
			Chunk:          row.Chunk,
			Cohort:         row.Cohort,
			BamPath:        row.BamPath,
		}
	}
	return table, nil
}
