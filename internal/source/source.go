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

// Package source opens indexed alignment files, locally or in GCS, and
// positions indexed queries over them.
package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
)

// OpenError indicates that a source could not be opened.  It covers
// authentication, network and format failures alike; callers retry and then
// drop the source.
type OpenError struct {
	URL   string
	Cause error
}

func (err *OpenError) Error() string {
	return fmt.Sprintf("opening %s: %v", err.URL, err.Cause)
}

func (err *OpenError) Unwrap() error { return err.Cause }

// Reader is an opened, indexed alignment source.  It is not safe for
// concurrent queries; each source is driven by a single staging task.
type Reader struct {
	url     string
	bam     *bam.Reader
	idx     *bam.Index
	refs    map[string]*sam.Reference
	samples map[string]string
	closer  io.Closer
}

// Open opens the BAM file at rawURL together with its index.  Supported
// forms are plain paths, file:// URLs and gs:// URLs.  Remote opens fall
// back to a credential refresh and then to an explicit trust-store HTTP
// client before giving up.
func Open(ctx context.Context, rawURL string) (*Reader, error) {
	if strings.HasPrefix(rawURL, "gs://") {
		return openRemote(ctx, rawURL)
	}
	return openLocal(strings.TrimPrefix(rawURL, "file://"), rawURL)
}

func openLocal(path, url string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &OpenError{url, err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &OpenError{url, err}
	}

	var index []byte
	for _, candidate := range indexNames(path) {
		if index, err = os.ReadFile(candidate); err == nil {
			break
		}
	}
	if err != nil {
		f.Close()
		return nil, &OpenError{url, fmt.Errorf("reading index: %v", err)}
	}

	r, err := newReader(f, info.Size(), index, url)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// indexNames returns the index locations to try for a read file: the
// conventional name.bam.bai first, then the name.bai variant.
func indexNames(name string) []string {
	return []string{
		name + ".bai",
		strings.TrimSuffix(name, ".bam") + ".bai",
	}
}

func newReader(data io.ReaderAt, size int64, index []byte, url string) (*Reader, error) {
	br, err := bam.NewReader(io.NewSectionReader(data, 0, size), 0)
	if err != nil {
		return nil, &OpenError{url, fmt.Errorf("reading header: %v", err)}
	}
	idx, err := bam.ReadIndex(bytes.NewReader(index))
	if err != nil {
		br.Close()
		return nil, &OpenError{url, fmt.Errorf("reading index: %v", err)}
	}

	refs := make(map[string]*sam.Reference)
	for _, ref := range br.Header().Refs() {
		refs[ref.Name()] = ref
	}

	return &Reader{
		url:     url,
		bam:     br,
		idx:     idx,
		refs:    refs,
		samples: samplesByReadGroup(br.Header()),
	}, nil
}

// Query positions an iterator over the records whose index bins overlap the
// half-open interval [start, stop) on contig.
func (r *Reader) Query(contig string, start, stop uint64) (*bam.Iterator, error) {
	ref, ok := r.refs[contig]
	if !ok {
		return nil, fmt.Errorf("%s has no reference named %q", r.url, contig)
	}
	chunks, err := r.idx.Chunks(ref, int(start), int(stop))
	if err != nil {
		return nil, fmt.Errorf("resolving chunks for %s:%d-%d in %s: %v", contig, start, stop, r.url, err)
	}
	it, err := bam.NewIterator(r.bam, chunks)
	if err != nil {
		return nil, fmt.Errorf("positioning iterator in %s: %v", r.url, err)
	}
	return it, nil
}

// SampleByReadGroup returns the RG to SM mapping declared by the source
// header.  The map is built once when the source is opened.
func (r *Reader) SampleByReadGroup() map[string]string {
	return r.samples
}

// URL returns the location the reader was opened from.
func (r *Reader) URL() string { return r.url }

// Close releases the reader and any underlying file handle.
func (r *Reader) Close() error {
	err := r.bam.Close()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// samplesByReadGroup extracts ID to SM pairs from the @RG lines of a header.
// Read groups without an SM field are omitted; records referencing them fall
// back to "unknown" downstream.
func samplesByReadGroup(h *sam.Header) map[string]string {
	samples := make(map[string]string)
	text, err := h.MarshalText()
	if err != nil {
		return samples
	}
	for _, line := range strings.Split(string(text), "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) == 0 || fields[0] != "@RG" {
			continue
		}
		var id, sample string
		for _, field := range fields[1:] {
			if v, ok := strings.CutPrefix(field, "ID:"); ok {
				id = v
			}
			if v, ok := strings.CutPrefix(field, "SM:"); ok {
				sample = v
			}
		}
		if id != "" && sample != "" {
			samples[id] = sample
		}
	}
	return samples
}
