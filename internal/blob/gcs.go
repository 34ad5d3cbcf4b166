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

package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS is a Store backed by Google Cloud Storage.
type GCS struct {
	client *storage.Client
}

// NewGCS returns a store that uses the application default credentials.
func NewGCS(ctx context.Context, opts ...option.ClientOption) (*GCS, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %v", err)
	}
	return &GCS{client}, nil
}

func (s *GCS) object(uri string) (*storage.ObjectHandle, error) {
	bucket, object, err := SplitPath(uri)
	if err != nil {
		return nil, err
	}
	return s.client.Bucket(bucket).Object(object), nil
}

// Exists reports whether an object exists at uri.
func (s *GCS) Exists(ctx context.Context, uri string) (bool, error) {
	object, err := s.object(uri)
	if err != nil {
		return false, err
	}
	if _, err := object.Attrs(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return false, nil
		}
		return false, fmt.Errorf("reading attributes of %s: %v", uri, err)
	}
	return true, nil
}

// Download copies the object at uri to the local file at path.
func (s *GCS) Download(ctx context.Context, uri, path string) error {
	object, err := s.object(uri)
	if err != nil {
		return err
	}
	rc, err := object.NewReader(ctx)
	if err != nil {
		return fmt.Errorf("opening %s: %v", uri, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %v", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		os.Remove(path)
		return fmt.Errorf("downloading %s: %v", uri, err)
	}
	return nil
}

// Upload copies the local file at path to uri.
func (s *GCS) Upload(ctx context.Context, path, uri string) error {
	object, err := s.object(uri)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %v", path, err)
	}
	defer f.Close()

	w := object.NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("uploading to %s: %v", uri, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finishing upload to %s: %v", uri, err)
	}
	return nil
}

// List returns the URIs under the uri prefix whose names end in suffix.
func (s *GCS) List(ctx context.Context, uri, suffix string) ([]string, error) {
	bucket, prefix, err := SplitPath(uri)
	if err != nil {
		return nil, err
	}

	var uris []string
	objects := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := objects.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing %s: %v", uri, err)
		}
		if suffix != "" && !strings.HasSuffix(attrs.Name, suffix) {
			continue
		}
		uris = append(uris, fmt.Sprintf("gs://%s/%s", bucket, attrs.Name))
	}
	return uris, nil
}
