/*
Copyright The Helm Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package blob stores the content of repository assets.

Keys are slash separated relative paths. The storage drivers address content
by repository and digest, so a key is written at most once with any given
content, and Put may overwrite.
*/
package blob // import "helm.sh/chartrepo/pkg/storage/blob"

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// ErrBlobNotFound indicates that no blob is stored under a key.
var ErrBlobNotFound = errors.New("blob: not found")

// Store is a flat key/value blob store.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Name() string
}

// Config selects and configures a Store.
type Config struct {
	// Driver is "filesystem" or "s3".
	Driver string
	// Path is the root directory of the filesystem store.
	Path string

	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// NewStore returns the store cfg selects.
func NewStore(ctx context.Context, cfg Config, logger func(string, ...interface{})) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "filesystem":
		return NewFilesystem(cfg.Path)
	case "s3":
		return NewS3(ctx, S3Options{
			Bucket:       cfg.Bucket,
			Prefix:       cfg.Prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.UsePathStyle,
		}, logger)
	}
	return nil, errors.Errorf("unknown blob store %q", cfg.Driver)
}
