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

// This binary stages alignment elements for a set of loci from local or
// GCS-hosted BAM files into parquet cache artifacts.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/googlegenomics/readstage/api"
	"github.com/googlegenomics/readstage/internal/blob"
)

var (
	reads  = flag.String("reads", "", "comma-separated .bam paths or gs:// URLs (gs:// prefixes are expanded)")
	cohort = flag.String("cohort", "all", "cohort label applied to all read files")
	loci   = flag.String("loci", "", "comma-separated loci in contig:start-stop form")

	cacheDir    = flag.String("cache_dir", "", "local cache directory (defaults to the system temporary directory)")
	mirror      = flag.String("mirror", "", "if set, a gs:// prefix cache artifacts are mirrored to")
	parallelism = flag.Int("parallelism", 0, "maximum number of read files fetched concurrently")
	noCache     = flag.Bool("no_cache", false, "fetch fresh data even when cached artifacts exist")
)

func main() {
	flag.Parse()

	if *reads == "" || *loci == "" {
		log.Fatalf("You must specify both -reads and -loci.")
	}

	ctx := context.Background()

	var opts []api.Option
	if *cacheDir != "" {
		opts = append(opts, api.WithCacheDir(*cacheDir))
	}
	if *parallelism > 0 {
		opts = append(opts, api.WithParallelism(*parallelism))
	}
	if *noCache {
		opts = append(opts, api.WithoutCache())
	}
	needGCS := *mirror != "" || strings.Contains(*reads, "gs://")
	if needGCS {
		gcs, err := blob.NewGCS(ctx)
		if err != nil {
			log.Fatalf("Creating storage client: %v", err)
		}
		if *mirror != "" {
			opts = append(opts, api.WithMirror(gcs, *mirror))
		} else {
			opts = append(opts, api.WithLister(gcs))
		}
	}

	session := api.NewSession(opts...)
	if err := session.AttachReads(ctx, strings.Split(*reads, ","), *cohort); err != nil {
		log.Fatalf("Attaching reads: %v", err)
	}
	if err := session.AttachLoci(strings.Split(*loci, ",")); err != nil {
		log.Fatalf("Attaching loci: %v", err)
	}

	artifacts, err := session.Stage(ctx)
	if err != nil {
		log.Fatalf("Staging: %v", err)
	}
	for locus, path := range artifacts {
		log.Printf("Staged %s to %s", locus, path)
	}

	session.Describe(os.Stderr)
}
