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

package stage

import (
	"context"

	"github.com/googlegenomics/readstage/internal/element"
	"github.com/googlegenomics/readstage/internal/extract"
	"github.com/googlegenomics/readstage/internal/genomics"
	"github.com/googlegenomics/readstage/internal/source"
)

// ExtractReads is the default ExtractFunc: it opens the BAM file behind src
// once, extracts every locus and closes it.
func ExtractReads(ctx context.Context, src Source, loci []genomics.Locus) (element.Table, error) {
	r, err := source.Open(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	meta := extract.Meta{URL: src.URL, Cohort: src.Cohort}
	var table element.Table
	for _, locus := range loci {
		rows, err := extract.Reads(bamQuerier{r}, meta, locus)
		if err != nil {
			return nil, err
		}
		table = append(table, rows...)
	}
	return table, nil
}

// bamQuerier adapts source.Reader to the extraction interfaces.
type bamQuerier struct {
	r *source.Reader
}

func (q bamQuerier) Query(contig string, start, stop uint64) (extract.Records, error) {
	return q.r.Query(contig, start, stop)
}

func (q bamQuerier) SampleByReadGroup() map[string]string {
	return q.r.SampleByReadGroup()
}
