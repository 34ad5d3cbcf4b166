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

package api

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/googlegenomics/readstage/internal/element"
	"github.com/googlegenomics/readstage/internal/genomics"
	"github.com/googlegenomics/readstage/internal/stage"
)

// countingFetch returns one Read row per source and locus and counts calls.
type countingFetch struct {
	calls int
	loci  [][]genomics.Locus
	err   error
}

func (f *countingFetch) fetch(ctx context.Context, sources []stage.Source, loci []genomics.Locus) (element.Table, error) {
	f.calls++
	f.loci = append(f.loci, loci)
	if f.err != nil {
		return nil, f.err
	}
	var table element.Table
	for _, locus := range loci {
		for _, src := range sources {
			table = append(table, element.Element{
				Kind:           element.Read,
				Contig:         locus.Contig,
				ReferenceStart: uint32(locus.Start) + 1,
				ReferenceEnd:   uint32(locus.Stop) - 1,
				QueryName:      src.URL,
				Chunk:          locus.String(),
				Cohort:         src.Cohort,
				BamPath:        src.URL,
			})
		}
	}
	return table, nil
}

func newTestSession(t *testing.T, fetch *countingFetch) *Session {
	t.Helper()
	s := NewSession(WithCacheDir(t.TempDir()))
	s.fetch = fetch.fetch
	return s
}

func TestStageWritesOneArtifactPerLocus(t *testing.T) {
	ctx := context.Background()
	fetch := &countingFetch{}
	s := newTestSession(t, fetch)

	require.NoError(t, s.AttachReads(ctx, []string{"a.bam", "b.bam"}, "all"))
	require.NoError(t, s.AttachLoci([]string{"chr1:100-200", "chr2:100-200"}))

	artifacts, err := s.Stage(ctx)
	require.NoError(t, err)
	assert.Len(t, artifacts, 2)
	assert.Equal(t, 1, fetch.calls, "all missing loci should be fetched in one batch")

	for locus, path := range artifacts {
		table, err := s.GetLocus(ctx, locus.String())
		require.NoError(t, err)
		assert.Len(t, table, 2, "each locus artifact should hold one row per source")
		for _, row := range table {
			assert.Equal(t, locus.String(), row.Chunk)
		}
		assert.True(t, strings.HasSuffix(path, ".parquet"))
	}
}

func TestStageIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fetch := &countingFetch{}
	s := newTestSession(t, fetch)

	require.NoError(t, s.AttachReads(ctx, []string{"a.bam"}, "all"))
	require.NoError(t, s.AttachLoci([]string{"chr1:100-200"}))

	first, err := s.Stage(ctx)
	require.NoError(t, err)
	second, err := s.Stage(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fetch.calls, "the second Stage should be served entirely from cache")
}

func TestStageCacheSharedAcrossSessions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fetch := &countingFetch{}
	first := NewSession(WithCacheDir(dir))
	first.fetch = fetch.fetch
	require.NoError(t, first.AttachReads(ctx, []string{"a.bam"}, "all"))
	require.NoError(t, first.AttachLoci([]string{"chr1:100-200"}))
	_, err := first.Stage(ctx)
	require.NoError(t, err)

	second := NewSession(WithCacheDir(dir))
	second.fetch = fetch.fetch
	require.NoError(t, second.AttachReads(ctx, []string{"a.bam"}, "all"))
	require.NoError(t, second.AttachLoci([]string{"chr1:100-200"}))
	_, err = second.Stage(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, fetch.calls, "a new session with the same sources should hit the shared cache")
}

func TestStageFingerprintSeparatesSourceSets(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fetch := &countingFetch{}
	first := NewSession(WithCacheDir(dir))
	first.fetch = fetch.fetch
	require.NoError(t, first.AttachReads(ctx, []string{"a.bam"}, "all"))
	require.NoError(t, first.AttachLoci([]string{"chr1:100-200"}))
	_, err := first.Stage(ctx)
	require.NoError(t, err)

	second := NewSession(WithCacheDir(dir))
	second.fetch = fetch.fetch
	require.NoError(t, second.AttachReads(ctx, []string{"a.bam", "b.bam"}, "all"))
	require.NoError(t, second.AttachLoci([]string{"chr1:100-200"}))
	_, err = second.Stage(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, fetch.calls, "a different source set must not reuse cached artifacts")
}

func TestStageWithoutCacheAlwaysFetches(t *testing.T) {
	ctx := context.Background()
	fetch := &countingFetch{}
	s := NewSession(WithCacheDir(t.TempDir()), WithoutCache())
	s.fetch = fetch.fetch

	require.NoError(t, s.AttachReads(ctx, []string{"a.bam"}, "all"))
	require.NoError(t, s.AttachLoci([]string{"chr1:100-200"}))

	_, err := s.Stage(ctx)
	require.NoError(t, err)
	_, err = s.Stage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fetch.calls)
}

func TestStageRequiresAttachments(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, &countingFetch{})

	_, err := s.Stage(ctx)
	assert.Error(t, err, "staging with nothing attached should fail")

	require.NoError(t, s.AttachReads(ctx, []string{"a.bam"}, "all"))
	_, err = s.Stage(ctx)
	assert.Error(t, err, "staging without loci should fail")
}

func TestStagePropagatesFetchFailure(t *testing.T) {
	ctx := context.Background()
	fetchErr := errors.New("all sources down")
	s := newTestSession(t, &countingFetch{err: fetchErr})

	require.NoError(t, s.AttachReads(ctx, []string{"a.bam"}, "all"))
	require.NoError(t, s.AttachLoci([]string{"chr1:100-200"}))

	_, err := s.Stage(ctx)
	assert.ErrorIs(t, err, fetchErr)
}

func TestGetLocusServedFromCoveringArtifact(t *testing.T) {
	ctx := context.Background()
	fetch := &countingFetch{}
	s := newTestSession(t, fetch)

	require.NoError(t, s.AttachReads(ctx, []string{"a.bam"}, "all"))
	require.NoError(t, s.AttachLoci([]string{"chr1:100-500"}))
	_, err := s.Stage(ctx)
	require.NoError(t, err)

	// A narrower locus inside the staged interval needs no new fetch.
	table, err := s.GetLocus(ctx, "chr1:150-300")
	require.NoError(t, err)
	assert.Len(t, table, 1)
	assert.Equal(t, 1, fetch.calls)
}

func TestGetLocusFetchesWhenUnstaged(t *testing.T) {
	ctx := context.Background()
	fetch := &countingFetch{}
	s := newTestSession(t, fetch)

	require.NoError(t, s.AttachReads(ctx, []string{"a.bam"}, "all"))

	table, err := s.GetLocus(ctx, "chr9:100-200")
	require.NoError(t, err)
	assert.Len(t, table, 1)
	require.Equal(t, 1, fetch.calls)
	assert.Equal(t, []genomics.Locus{{Contig: "chr9", Start: 100, Stop: 200}}, fetch.loci[0])

	// The fresh fetch is staged, so asking again is free.
	_, err = s.GetLocus(ctx, "chr9:100-200")
	require.NoError(t, err)
	assert.Equal(t, 1, fetch.calls)
}

func TestGetLocusWithoutSources(t *testing.T) {
	s := newTestSession(t, &countingFetch{})
	_, err := s.GetLocus(context.Background(), "chr1:100-200")
	assert.Error(t, err)
}

func TestAttachReadsValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, &countingFetch{})

	assert.Error(t, s.AttachReads(ctx, []string{"reads.cram"}, "all"))
	assert.Error(t, s.AttachReads(ctx, []string{"gs://bucket/dir/"}, "all"),
		"directory expansion requires a configured lister")
}

type fakeLister struct {
	urls []string
}

func (l *fakeLister) Exists(ctx context.Context, uri string) (bool, error) { return false, nil }

func (l *fakeLister) Download(ctx context.Context, uri, path string) error {
	return errors.New("not implemented")
}

func (l *fakeLister) Upload(ctx context.Context, path, uri string) error {
	return errors.New("not implemented")
}
func (l *fakeLister) List(ctx context.Context, uri, suffix string) ([]string, error) {
	return l.urls, nil
}

func TestAttachReadsExpandsDirectories(t *testing.T) {
	ctx := context.Background()
	fetch := &countingFetch{}
	lister := &fakeLister{urls: []string{"gs://bucket/dir/a.bam", "gs://bucket/dir/b.bam"}}
	s := NewSession(WithCacheDir(t.TempDir()), WithLister(lister))
	s.fetch = fetch.fetch

	require.NoError(t, s.AttachReads(ctx, []string{"gs://bucket/dir/"}, "all"))
	require.NoError(t, s.AttachLoci([]string{"chr1:100-200"}))

	_, err := s.Stage(ctx)
	require.NoError(t, err)

	table, err := s.GetLocus(ctx, "chr1:100-200")
	require.NoError(t, err)
	assert.Len(t, table, 2, "both expanded files should contribute rows")
}

func TestAttachmentsDeduplicate(t *testing.T) {
	ctx := context.Background()
	fetch := &countingFetch{}
	s := newTestSession(t, fetch)

	require.NoError(t, s.AttachReads(ctx, []string{"a.bam", "b.bam"}, "all"))
	require.NoError(t, s.AttachReads(ctx, []string{"a.bam"}, "all"))
	require.NoError(t, s.AttachLoci([]string{"chr1:100-200", "chr1:100-200"}))

	_, err := s.Stage(ctx)
	require.NoError(t, err)

	table, err := s.GetLocus(ctx, "chr1:100-200")
	require.NoError(t, err)
	assert.Len(t, table, 2, "duplicate attachments must not duplicate rows")
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	fetch := &countingFetch{}
	s := newTestSession(t, fetch)

	require.NoError(t, s.AttachReads(ctx, []string{"a.bam"}, "all"))
	require.NoError(t, s.AttachLoci([]string{"chr1:100-200"}))
	_, err := s.Stage(ctx)
	require.NoError(t, err)

	s.Reset()
	_, err = s.Stage(ctx)
	assert.Error(t, err, "staging after Reset() should require new attachments")
}

func TestDescribe(t *testing.T) {
	ctx := context.Background()
	fetch := &countingFetch{}
	s := newTestSession(t, fetch)

	require.NoError(t, s.AttachReads(ctx, []string{"a.bam"}, "cases"))
	require.NoError(t, s.AttachLoci([]string{"chr1:100-200"}))
	_, err := s.Stage(ctx)
	require.NoError(t, err)

	var buf bytes.Buffer
	s.Describe(&buf)
	out := buf.String()
	assert.Contains(t, out, "a.bam")
	assert.Contains(t, out, "cases")
	assert.Contains(t, out, "chr1:100-200")
}
