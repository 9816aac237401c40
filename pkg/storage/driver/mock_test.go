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

package driver

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"helm.sh/chartrepo/pkg/asset"
	"helm.sh/chartrepo/pkg/chart"
	"helm.sh/chartrepo/pkg/storage/blob"
)

var testTime = time.Date(2023, time.March, 14, 15, 9, 26, 0, time.UTC)

func attrsStub(name, version string) *chart.Attributes {
	return &chart.Attributes{
		Name:        name,
		Version:     version,
		Description: "A Helm chart for " + name,
		Sources:     []string{"https://github.com/example/" + name},
	}
}

func packageStub(name, version string) *asset.Content {
	return asset.NewContent([]byte(name+"-"+version+" package"), asset.KindPackage.ContentType())
}

func tsFixtureMemory(t *testing.T) *Memory {
	t.Helper()
	ctx := context.Background()
	mem := NewMemory()
	mem.now = func() time.Time { return testTime }

	for _, v := range []string{"6.0.0", "7.2.8"} {
		a := attrsStub("mongodb", v)
		if _, err := mem.PutAsset(ctx, "hosted", a.Filename(), packageStub("mongodb", v), asset.KindPackage, a); err != nil {
			t.Fatalf("Test setup failed to store %s: %s", a.Filename(), err)
		}
	}
	prov := asset.NewContent([]byte("signature"), asset.KindProvenance.ContentType())
	if _, err := mem.PutAsset(ctx, "hosted", "mongodb-7.2.8.tgz.prov", prov, asset.KindProvenance, nil); err != nil {
		t.Fatalf("Test setup failed to store provenance: %s", err)
	}
	return mem
}

// memoryBlobStore is a blob.Store backed by a map.
type memoryBlobStore struct {
	blobs map[string][]byte
}

func newMemoryBlobStore() *memoryBlobStore {
	return &memoryBlobStore{blobs: map[string][]byte{}}
}

func (m *memoryBlobStore) Name() string { return "MemoryBlobs" }

func (m *memoryBlobStore) Put(_ context.Context, key string, data []byte) error {
	m.blobs[key] = data
	return nil
}

func (m *memoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m.blobs[key]
	if !ok {
		return nil, blob.ErrBlobNotFound
	}
	return data, nil
}

func (m *memoryBlobStore) Delete(_ context.Context, key string) error {
	if _, ok := m.blobs[key]; !ok {
		return blob.ErrBlobNotFound
	}
	delete(m.blobs, key)
	return nil
}

func newTestFixtureSQL(t *testing.T) (*SQL, sqlmock.Sqlmock, *memoryBlobStore) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error when opening stub database connection: %v", err)
	}

	blobs := newMemoryBlobStore()
	sqlxDB := sqlx.NewDb(sqlDB, "sqlmock")
	return &SQL{
		db:               sqlxDB,
		blobs:            blobs,
		statementBuilder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:              func() time.Time { return testTime },
		Log:              func(a string, b ...interface{}) {},
	}, mock, blobs
}
