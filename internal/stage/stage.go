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

// Package stage fetches alignment elements from many sources in parallel,
// tolerating partial failure and merging results in source order.
package stage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/googlegenomics/readstage/internal/element"
	"github.com/googlegenomics/readstage/internal/genomics"
)

// DefaultParallelism bounds the number of sources fetched concurrently.
const DefaultParallelism = 8

// defaultMaxElapsedTime bounds the per-source retry loop.
const defaultMaxElapsedTime = 2 * time.Minute

// Source identifies one alignment file plus its caller-supplied cohort
// label.
type Source struct {
	URL    string
	Cohort string
}

// TotalFailureError is returned when no source of a batch could be fetched.
type TotalFailureError struct {
	Failures map[string]error
}

func (err *TotalFailureError) Error() string {
	return fmt.Sprintf("all %d sources failed to stage", len(err.Failures))
}

// ExtractFunc stages all loci from a single source.  It is retried as a
// unit, so implementations must be safe to call repeatedly.
type ExtractFunc func(ctx context.Context, src Source, loci []genomics.Locus) (element.Table, error)

// Coordinator fans extraction out across sources and merges the results.
type Coordinator struct {
	// Extract stages one source.  Defaults to ExtractReads.
	Extract ExtractFunc
	// Parallelism bounds concurrent sources.  Defaults to
	// DefaultParallelism.
	Parallelism int
	// NewBackOff builds the retry policy applied per source.  Defaults to
	// an exponential backoff bounded by defaultMaxElapsedTime.
	NewBackOff func() backoff.BackOff
}

func (c *Coordinator) extract() ExtractFunc {
	if c.Extract != nil {
		return c.Extract
	}
	return ExtractReads
}

func (c *Coordinator) parallelism() int {
	if c.Parallelism > 0 {
		return c.Parallelism
	}
	return DefaultParallelism
}

func (c *Coordinator) newBackOff() backoff.BackOff {
	if c.NewBackOff != nil {
		return c.NewBackOff()
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = defaultMaxElapsedTime
	return policy
}

// Fetch stages every locus from every source and returns one merged table.
//
// Sources are processed in parallel but the merged row order depends only on
// the declared source order, so output is reproducible across runs.  A
// source that keeps failing after retries is dropped with a warning; Fetch
// fails only when every source failed.
func (c *Coordinator) Fetch(ctx context.Context, sources []Source, loci []genomics.Locus) (element.Table, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources to fetch")
	}
	if len(loci) == 0 {
		return nil, fmt.Errorf("no loci to fetch")
	}

	results := make([]element.Table, len(sources))
	failures := make([]error, len(sources))

	var group errgroup.Group
	group.SetLimit(c.parallelism())
	for i, src := range sources {
		i, src := i, src
		group.Go(func() error {
			operation := func() error {
				if err := ctx.Err(); err != nil {
					return backoff.Permanent(err)
				}
				table, err := c.extract()(ctx, src, loci)
				if err != nil {
					return err
				}
				results[i] = table
				return nil
			}
			if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
				failures[i] = err
				log.Printf("Warning: omitting source %s after retries: %v", src.URL, err)
			}
			return nil
		})
	}
	group.Wait()

	var merged element.Table
	failed := make(map[string]error)
	for i, src := range sources {
		if failures[i] != nil {
			failed[src.URL] = failures[i]
			continue
		}
		merged = append(merged, results[i]...)
	}
	if len(failed) == len(sources) {
		return nil, &TotalFailureError{Failures: failed}
	}
	return merged, nil
}
