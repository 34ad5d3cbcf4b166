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

// Package blob provides the remote object store primitives used to mirror
// cache artifacts and enumerate read files.
package blob

import (
	"context"
	"fmt"
	"strings"
)

// Store abstracts a remote object store.  All operations are idempotent and
// safe to retry.
type Store interface {
	// Exists reports whether an object exists at uri.
	Exists(ctx context.Context, uri string) (bool, error)
	// Download copies the object at uri to the local file at path.
	Download(ctx context.Context, uri, path string) error
	// Upload copies the local file at path to uri.
	Upload(ctx context.Context, path, uri string) error
	// List returns the URIs under the uri prefix whose names end in suffix.
	List(ctx context.Context, uri, suffix string) ([]string, error)
}

// SplitPath splits a gs:// URI into its bucket and object components.
func SplitPath(uri string) (bucket, object string, err error) {
	trimmed, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("object URI %q does not start with gs://", uri)
	}
	bucket, object, _ = strings.Cut(trimmed, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("object URI %q has no bucket", uri)
	}
	return bucket, object, nil
}
