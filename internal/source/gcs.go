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

package source

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/googlegenomics/readstage/internal/blob"
)

// caBundlePath is the conventional system trust store location, used as a
// last-resort TLS configuration when the platform default fails.
const caBundlePath = "/etc/ssl/certs/ca-certificates.crt"

var (
	defaultStorageClient           *storage.Client
	defaultStorageClientErr        error
	initializeDefaultStorageClient sync.Once
)

func newDefaultClient(ctx context.Context) (*storage.Client, error) {
	initializeDefaultStorageClient.Do(func() {
		defaultStorageClient, defaultStorageClientErr = storage.NewClient(ctx)
	})
	return defaultStorageClient, defaultStorageClientErr
}

// newTokenClient refreshes the application default access token via the
// gcloud command line tool and returns a client using it.
func newTokenClient(ctx context.Context) (*storage.Client, error) {
	out, err := exec.CommandContext(ctx, "gcloud", "auth", "application-default", "print-access-token").Output()
	if err != nil {
		return nil, fmt.Errorf("refreshing access token: %v", err)
	}
	token := oauth2.Token{AccessToken: strings.TrimSpace(string(out))}
	return storage.NewClient(ctx, option.WithTokenSource(oauth2.StaticTokenSource(&token)))
}

// newTrustStoreClient builds a client around an HTTP client that explicitly
// trusts the system CA bundle.  It carries no credentials, so it can only
// read publicly-readable objects.
func newTrustStoreClient(ctx context.Context) (*storage.Client, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if pem, err := os.ReadFile(caBundlePath); err == nil {
		pool.AppendCertsFromPEM(pem)
	}
	httpClient := &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}},
	}
	return storage.NewClient(ctx, option.WithHTTPClient(httpClient))
}

func openRemote(ctx context.Context, url string) (*Reader, error) {
	clients := []func(context.Context) (*storage.Client, error){
		newDefaultClient,
		newTokenClient,
		newTrustStoreClient,
	}

	var err error
	for i, newClient := range clients {
		if i > 0 {
			log.Printf("Retrying %s with fallback storage client: %v", url, err)
		}
		var client *storage.Client
		client, err = newClient(ctx)
		if err != nil {
			continue
		}
		var r *Reader
		if r, err = openObject(ctx, client, url); err == nil {
			return r, nil
		}
	}
	return nil, &OpenError{url, err}
}

func openObject(ctx context.Context, client *storage.Client, url string) (*Reader, error) {
	bucket, object, err := blob.SplitPath(url)
	if err != nil {
		return nil, err
	}

	data := client.Bucket(bucket).Object(object)
	attrs, err := data.Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading attributes: %v", err)
	}

	var index []byte
	for _, candidate := range indexNames(object) {
		if index, err = readObject(ctx, client.Bucket(bucket).Object(candidate)); err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("reading index: %v", err)
	}

	return newReader(&objectReaderAt{ctx, data}, attrs.Size, index, url)
}

func readObject(ctx context.Context, object *storage.ObjectHandle) ([]byte, error) {
	rc, err := object.NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// objectReaderAt adapts a storage object to io.ReaderAt using range reads.
// The context is captured at open time because io.ReaderAt has no room for
// one; queries are bounded by the staging retry deadline instead.
type objectReaderAt struct {
	ctx    context.Context
	object *storage.ObjectHandle
}

func (r *objectReaderAt) ReadAt(p []byte, off int64) (int, error) {
	rc, err := r.object.NewRangeReader(r.ctx, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := io.ReadFull(rc, p)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, io.EOF
	}
	return n, err
}
