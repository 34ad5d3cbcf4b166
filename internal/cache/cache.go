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

// Package cache persists fetched element tables as parquet artifacts keyed
// by locus and source-set fingerprint, with optional mirroring to a remote
// object store.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/googlegenomics/readstage/internal/blob"
	"github.com/googlegenomics/readstage/internal/element"
	"github.com/googlegenomics/readstage/internal/genomics"
)

// ArtifactExtension is the file extension of persisted tables.
const ArtifactExtension = ".parquet"

// fingerprintLength is the number of hex characters kept from the source-set
// digest when forming artifact names.
const fingerprintLength = 16

// Fingerprint returns a stable hash over the set of source identifiers.
// The inputs are sorted first, so the same sources produce the same
// fingerprint regardless of order.
func Fingerprint(urls []string) string {
	sorted := append([]string(nil), urls...)
	sort.Strings(sorted)
	digest := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(digest[:])[:fingerprintLength]
}

// Key identifies one cached artifact.
type Key struct {
	Locus       genomics.Locus
	Fingerprint string
}

// ArtifactName returns the file name the artifact for key is stored under,
// locally and in the mirror.
func (k Key) ArtifactName() string {
	return fmt.Sprintf("%s_%s%s", k.Locus.Name(), k.Fingerprint, ArtifactExtension)
}

// Store reads and writes cache artifacts under a local directory, mirroring
// them to a remote store when one is configured.
type Store struct {
	// Dir is the local cache directory.
	Dir string
	// Mirror, when non-nil, receives a best-effort copy of every artifact
	// under MirrorBase and is consulted on local misses.
	Mirror     blob.Store
	MirrorBase string
}

// Path returns the local artifact path for key.
func (s *Store) Path(key Key) string {
	return filepath.Join(s.Dir, key.ArtifactName())
}

func (s *Store) mirrorURI(key Key) string {
	return strings.TrimSuffix(s.MirrorBase, "/") + "/" + key.ArtifactName()
}

// Locate returns the local artifact path for key if the artifact exists,
// consulting the mirror on a local miss.  It does not read the table.
func (s *Store) Locate(ctx context.Context, key Key) (string, bool) {
	path := s.Path(key)
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	if s.Mirror == nil {
		return "", false
	}

	uri := s.mirrorURI(key)
	ok, err := s.Mirror.Exists(ctx, uri)
	if err != nil {
		log.Printf("Warning: checking mirror for %s: %v", uri, err)
		return "", false
	}
	if !ok {
		return "", false
	}
	if err := s.Mirror.Download(ctx, uri, path); err != nil {
		log.Printf("Warning: downloading %s: %v", uri, err)
		return "", false
	}
	return path, true
}

// Get returns the cached table for key, if present locally or in the
// mirror.
func (s *Store) Get(ctx context.Context, key Key) (element.Table, bool, error) {
	path, ok := s.Locate(ctx, key)
	if !ok {
		return nil, false, nil
	}
	table, err := ReadArtifact(path)
	if err != nil {
		return nil, false, err
	}
	return table, true, nil
}

// Put persists table for key and returns the local artifact path.  The
// local copy is always written first; mirror failures are logged but never
// fatal, so a flaky mirror cannot cause data loss.
func (s *Store) Put(ctx context.Context, key Key, table element.Table) (string, error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("creating cache directory: %v", err)
	}
	path := s.Path(key)
	if err := WriteArtifact(path, table); err != nil {
		return "", err
	}

	if s.Mirror != nil {
		uri := s.mirrorURI(key)
		if err := s.Mirror.Upload(ctx, path, uri); err != nil {
			log.Printf("Warning: mirroring %s: %v", uri, err)
		}
	}
	return path, nil
}

// WriteArtifact writes table to path atomically: the parquet file is
// written to a unique temporary name first and renamed into place, so
// concurrent writers of the same key cannot tear the artifact.
func WriteArtifact(path string, table element.Table) error {
	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.New().String())
	if err := writeParquet(tmp, table); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s into place: %w", path, err)
	}
	return nil
}
