// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
)

// GCSLister lists artifact objects under a gs:// prefix.
type GCSLister struct {
	client *storage.Client
}

// NewGCSLister builds a lister over a live storage client.
func NewGCSLister(ctx context.Context) (*GCSLister, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "creating storage client")
	}
	return &GCSLister{client: client}, nil
}

// List implements ArtifactLister for gs://bucket/prefix locations.
func (l *GCSLister) List(ctx context.Context, location string) ([]string, error) {
	bucket, prefix, err := splitGCSLocation(location)
	if err != nil {
		return nil, err
	}

	var objects []string
	it := l.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "listing gs://%s/%s", bucket, prefix)
		}
		objects = append(objects, attrs.Name)
	}
	return objects, nil
}

// Close releases the underlying client.
func (l *GCSLister) Close() error {
	return l.client.Close()
}

func splitGCSLocation(location string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(location, "gs://")
	if !ok {
		return "", "", errors.Errorf("artifact location %q is not a gs:// URI", location)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", errors.Errorf("artifact location %q has no bucket", location)
	}
	return bucket, prefix, nil
}
