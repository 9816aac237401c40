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

package blob

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"helm.sh/chartrepo/internal/fileutil"
)

var _ Store = (*Filesystem)(nil)

// FilesystemStoreName is the string name of this store.
const FilesystemStoreName = "Filesystem"

// Filesystem stores blobs as files below a root directory. Writes go through
// a temporary file and a rename under an inter-process file lock, so several
// server processes may share a root.
type Filesystem struct {
	root        string
	lockTimeout time.Duration
}

// NewFilesystem creates the root directory if needed and returns a store
// rooted at it.
func NewFilesystem(root string) (*Filesystem, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating blob directory %s", abs)
	}
	return &Filesystem{root: abs, lockTimeout: 30 * time.Second}, nil
}

// Name returns the name of the store.
func (f *Filesystem) Name() string {
	return FilesystemStoreName
}

// path resolves key inside the root. Keys that would escape it are
// confined to it.
func (f *Filesystem) path(key string) (string, error) {
	if key == "" {
		return "", errors.New("blob: empty key")
	}
	return securejoin.SecureJoin(f.root, filepath.FromSlash(key))
}

func (f *Filesystem) lock(ctx context.Context) (func(), error) {
	fileLock := flock.New(filepath.Join(f.root, ".lock"))
	lockCtx, cancel := context.WithTimeout(ctx, f.lockTimeout)
	defer cancel()
	locked, err := fileLock.TryLockContext(lockCtx, 10*time.Millisecond)
	if err != nil {
		return nil, errors.Wrap(err, "acquiring blob store lock")
	}
	if !locked {
		return nil, errors.New("blob store lock is held by another process")
	}
	return func() { fileLock.Unlock() }, nil
}

// Put writes data under key.
func (f *Filesystem) Put(ctx context.Context, key string, data []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}

	unlock, err := f.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return fileutil.AtomicWriteFile(p, bytes.NewReader(data), 0644)
}

// Get reads the blob under key.
func (f *Filesystem) Get(_ context.Context, key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(ErrBlobNotFound, key)
	}
	return data, err
}

// Delete removes the blob under key.
func (f *Filesystem) Delete(ctx context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}

	unlock, err := f.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(ErrBlobNotFound, key)
		}
		return err
	}
	return nil
}
