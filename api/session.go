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

// Package api exposes the staging session: attach read files and loci, stage
// them into cached artifacts, and retrieve per-locus element tables.
package api

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/googlegenomics/readstage/internal/blob"
	"github.com/googlegenomics/readstage/internal/cache"
	"github.com/googlegenomics/readstage/internal/element"
	"github.com/googlegenomics/readstage/internal/genomics"
	"github.com/googlegenomics/readstage/internal/stage"
	"github.com/googlegenomics/readstage/internal/staged"
)

// FetchFunc fetches a merged element table for the given sources and loci.
type FetchFunc func(ctx context.Context, sources []stage.Source, loci []genomics.Locus) (element.Table, error)

// Session accumulates read files and loci and stages them on demand.  It is
// safe for concurrent use.
type Session struct {
	mu       sync.Mutex
	sources  []stage.Source
	seen     map[stage.Source]bool
	loci     []genomics.Locus
	lociSeen map[genomics.Locus]bool

	index       *staged.Index
	store       *cache.Store
	coordinator stage.Coordinator
	fetch       FetchFunc
	lister      blob.Store
	useCache    bool
}

// Option configures a Session.
type Option func(*Session)

// WithCacheDir places cache artifacts under dir instead of the default
// temporary directory.
func WithCacheDir(dir string) Option {
	return func(s *Session) { s.store.Dir = dir }
}

// WithMirror mirrors cache artifacts to a remote store under base, and
// consults it on local cache misses.  The same store is used to expand
// directory attachments.
func WithMirror(store blob.Store, base string) Option {
	return func(s *Session) {
		s.store.Mirror = store
		s.store.MirrorBase = base
		s.lister = store
	}
}

// WithLister sets the object store used to expand gs:// directory
// attachments without configuring a cache mirror.
func WithLister(store blob.Store) Option {
	return func(s *Session) { s.lister = store }
}

// WithParallelism bounds the number of sources fetched concurrently.
func WithParallelism(n int) Option {
	return func(s *Session) { s.coordinator.Parallelism = n }
}

// WithoutCache disables cache lookups; every Stage call fetches fresh data.
// Artifacts are still written so later sessions can reuse them.
func WithoutCache() Option {
	return func(s *Session) { s.useCache = false }
}

// NewSession returns an empty session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		seen:     make(map[stage.Source]bool),
		lociSeen: make(map[genomics.Locus]bool),
		index:    staged.NewIndex(),
		store:    &cache.Store{Dir: filepath.Join(os.TempDir(), "readstage")},
		useCache: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetch == nil {
		s.fetch = s.coordinator.Fetch
	}
	return s
}

// AttachReads adds read files to the session under the given cohort label.
// Each path must name a .bam file; a gs:// prefix ending in "/" (or any
// non-.bam gs:// path) is expanded to the .bam files below it.
func (s *Session) AttachReads(ctx context.Context, paths []string, cohort string) error {
	var expanded []string
	for _, path := range paths {
		if strings.HasSuffix(path, ".bam") {
			expanded = append(expanded, path)
			continue
		}
		if strings.HasPrefix(path, "gs://") && s.lister != nil {
			found, err := s.lister.List(ctx, path, ".bam")
			if err != nil {
				return fmt.Errorf("listing read files under %s: %w", path, err)
			}
			expanded = append(expanded, found...)
			continue
		}
		return fmt.Errorf("file %q is not a .bam file", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, url := range expanded {
		src := stage.Source{URL: url, Cohort: cohort}
		if !s.seen[src] {
			s.seen[src] = true
			s.sources = append(s.sources, src)
		}
	}
	return nil
}

// AttachLoci adds loci (in "contig:start-stop" form) to the session.
func (s *Session) AttachLoci(loci []string) error {
	parsed := make([]genomics.Locus, 0, len(loci))
	for _, raw := range loci {
		locus, err := genomics.ParseLocus(raw)
		if err != nil {
			return err
		}
		parsed = append(parsed, locus)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, locus := range parsed {
		if !s.lociSeen[locus] {
			s.lociSeen[locus] = true
			s.loci = append(s.loci, locus)
		}
	}
	return nil
}

// Stage fetches every attached locus from every attached read file, writes
// one cache artifact per locus and returns the locus to artifact mapping.
// Already-cached loci are served from the cache unless the session was
// created WithoutCache.
func (s *Session) Stage(ctx context.Context) (map[genomics.Locus]string, error) {
	s.mu.Lock()
	sources := append([]stage.Source(nil), s.sources...)
	loci := append([]genomics.Locus(nil), s.loci...)
	s.mu.Unlock()

	if len(sources) == 0 {
		return nil, fmt.Errorf("no read files attached")
	}
	if len(loci) == 0 {
		return nil, fmt.Errorf("no loci attached")
	}

	fingerprint := cache.Fingerprint(sourceURLs(sources))

	artifacts := make(map[genomics.Locus]string)
	var missing []genomics.Locus
	for _, locus := range loci {
		key := cache.Key{Locus: locus, Fingerprint: fingerprint}
		if s.useCache {
			if path, ok := s.store.Locate(ctx, key); ok {
				artifacts[locus] = path
				s.index.Stage(locus, path)
				continue
			}
		}
		missing = append(missing, locus)
	}

	if len(missing) > 0 {
		table, err := s.fetch(ctx, sources, missing)
		if err != nil {
			return nil, err
		}
		for _, locus := range missing {
			key := cache.Key{Locus: locus, Fingerprint: fingerprint}
			path, err := s.store.Put(ctx, key, table.FilterChunk(locus.String()))
			if err != nil {
				return nil, fmt.Errorf("caching %s: %w", locus, err)
			}
			artifacts[locus] = path
			s.index.Stage(locus, path)
		}
	}

	return artifacts, nil
}

// GetLocus returns the element table for a locus, served from a staged
// artifact when one covers it and fetched fresh otherwise.  Fresh fetches
// update the staged index.
func (s *Session) GetLocus(ctx context.Context, locus string) (element.Table, error) {
	parsed, err := genomics.ParseLocus(locus)
	if err != nil {
		return nil, err
	}

	if artifact, ok := s.index.FindCovering(parsed); ok {
		table, err := cache.ReadArtifact(artifact.Path)
		if err != nil {
			return nil, err
		}
		return table.FilterOverlapping(parsed.Contig, parsed.Start, parsed.Stop), nil
	}

	s.mu.Lock()
	sources := append([]stage.Source(nil), s.sources...)
	s.mu.Unlock()
	if len(sources) == 0 {
		return nil, fmt.Errorf("locus %q is not staged and no read files are attached", locus)
	}

	key := cache.Key{Locus: parsed, Fingerprint: cache.Fingerprint(sourceURLs(sources))}
	if s.useCache {
		if table, ok, err := s.store.Get(ctx, key); err != nil {
			return nil, err
		} else if ok {
			s.index.Stage(parsed, s.store.Path(key))
			return table.FilterOverlapping(parsed.Contig, parsed.Start, parsed.Stop), nil
		}
	}

	table, err := s.fetch(ctx, sources, []genomics.Locus{parsed})
	if err != nil {
		return nil, err
	}
	path, err := s.store.Put(ctx, key, table)
	if err != nil {
		return nil, fmt.Errorf("caching %s: %w", parsed, err)
	}
	s.index.Stage(parsed, path)
	return table.FilterOverlapping(parsed.Contig, parsed.Start, parsed.Stop), nil
}

// Reset detaches all read files and loci and clears the staged index.
// On-disk artifacts are kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = nil
	s.seen = make(map[stage.Source]bool)
	s.loci = nil
	s.lociSeen = make(map[genomics.Locus]bool)
	s.index.Reset()
}

// Describe writes a human-readable summary of the session to w.
func (s *Session) Describe(w io.Writer) {
	s.mu.Lock()
	sources := append([]stage.Source(nil), s.sources...)
	loci := append([]genomics.Locus(nil), s.loci...)
	s.mu.Unlock()

	fmt.Fprintln(w, "Reads:")
	if len(sources) <= 10 {
		for _, src := range sources {
			fmt.Fprintf(w, " - %s (%s)\n", src.URL, src.Cohort)
		}
	} else {
		counts := make(map[string]int)
		for _, src := range sources {
			counts[src.Cohort]++
		}
		for cohort, n := range counts {
			fmt.Fprintf(w, " - %s: %d files\n", cohort, n)
		}
	}

	fmt.Fprintln(w, "Loci:")
	if len(loci) <= 10 {
		for _, locus := range loci {
			fmt.Fprintf(w, " - %s\n", locus)
		}
	} else {
		fmt.Fprintf(w, " - %d loci\n", len(loci))
	}

	fmt.Fprintln(w, "Staging:")
	s.index.Walk(func(contig string, artifact staged.Artifact) {
		size := int64(0)
		if info, err := os.Stat(artifact.Path); err == nil {
			size = info.Size()
		}
		fmt.Fprintf(w, " - %s %s (%d bytes)\n", artifact.Covering, artifact.Path, size)
	})
}

func sourceURLs(sources []stage.Source) []string {
	urls := make([]string, len(sources))
	for i, src := range sources {
		urls[i] = src.URL
	}
	return urls
}
