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

package driver // import "helm.sh/chartrepo/pkg/storage/driver"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"

	// Import pq for postgres dialect
	_ "github.com/lib/pq"

	"helm.sh/chartrepo/pkg/asset"
	"helm.sh/chartrepo/pkg/chart"
	"helm.sh/chartrepo/pkg/storage/blob"
)

var _ Driver = (*SQL)(nil)

var supportedSQLDialects = map[string]struct{}{
	"postgres": {},
}

// SQLDriverName is the string name of this driver.
const SQLDriverName = "SQL"

const (
	sqlAssetTableName = "assets"

	sqlAssetTableIDColumn          = "id"
	sqlAssetTableRepositoryColumn  = "repository"
	sqlAssetTablePathColumn        = "path"
	sqlAssetTableKindColumn        = "kind"
	sqlAssetTableAttributesColumn  = "attributes"
	sqlAssetTableDigestColumn      = "digest"
	sqlAssetTableSizeColumn        = "size"
	sqlAssetTableContentTypeColumn = "content_type"
	sqlAssetTableSeqColumn         = "seq"
	sqlAssetTableCreatedAtColumn   = "created_at"
	sqlAssetTableUpdatedAtColumn   = "updated_at"
)

var sqlAssetColumns = []string{
	sqlAssetTableIDColumn,
	sqlAssetTableRepositoryColumn,
	sqlAssetTablePathColumn,
	sqlAssetTableKindColumn,
	sqlAssetTableAttributesColumn,
	sqlAssetTableDigestColumn,
	sqlAssetTableSizeColumn,
	sqlAssetTableContentTypeColumn,
	sqlAssetTableCreatedAtColumn,
	sqlAssetTableUpdatedAtColumn,
}

// SQL is the sql storage driver implementation. Asset metadata lives in
// the database, asset content in a blob store keyed by repository and digest.
type SQL struct {
	db               *sqlx.DB
	blobs            blob.Store
	statementBuilder sq.StatementBuilderType
	now              func() time.Time

	Log func(string, ...interface{})
}

// Name returns the name of the driver.
func (s *SQL) Name() string {
	return SQLDriverName
}

// Close closes the database connection.
func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) ensureDBSetup() error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "init",
				Up: []string{
					fmt.Sprintf(`
						CREATE TABLE %s (
							%s VARCHAR(36) PRIMARY KEY,
							%s VARCHAR(253) NOT NULL,
							%s TEXT NOT NULL,
							%s VARCHAR(16) NOT NULL,
							%s TEXT NOT NULL DEFAULT '',
							%s VARCHAR(135) NOT NULL,
							%s BIGINT NOT NULL,
							%s TEXT NOT NULL DEFAULT '',
							%s BIGSERIAL,
							%s BIGINT NOT NULL,
							%s BIGINT NOT NULL,
							UNIQUE (%s, %s)
						);
						CREATE INDEX ON %s (%s, %s);
						CREATE INDEX ON %s (%s, %s);
					`,
						sqlAssetTableName,
						sqlAssetTableIDColumn,
						sqlAssetTableRepositoryColumn,
						sqlAssetTablePathColumn,
						sqlAssetTableKindColumn,
						sqlAssetTableAttributesColumn,
						sqlAssetTableDigestColumn,
						sqlAssetTableSizeColumn,
						sqlAssetTableContentTypeColumn,
						sqlAssetTableSeqColumn,
						sqlAssetTableCreatedAtColumn,
						sqlAssetTableUpdatedAtColumn,
						sqlAssetTableRepositoryColumn, sqlAssetTablePathColumn,
						sqlAssetTableName, sqlAssetTableRepositoryColumn, sqlAssetTableKindColumn,
						sqlAssetTableName, sqlAssetTableRepositoryColumn, sqlAssetTableDigestColumn,
					),
				},
				Down: []string{
					fmt.Sprintf(`
						DROP TABLE %s;
					`, sqlAssetTableName),
				},
			},
		},
	}

	_, err := migrate.Exec(s.db.DB, "postgres", migrations, migrate.Up)
	return err
}

// SQLAssetWrapper describes how assets are stored in an SQL database
type SQLAssetWrapper struct {
	// The primary key, a random UUID
	ID         string `db:"id"`
	Repository string `db:"repository"`
	Path       string `db:"path"`
	Kind       string `db:"kind"`
	// The chart attributes of a package, as a JSON document
	Attributes  string `db:"attributes"`
	Digest      string `db:"digest"`
	Size        int64  `db:"size"`
	ContentType string `db:"content_type"`
	// Unix timestamps in nanoseconds
	CreatedAt int64 `db:"created_at"`
	UpdatedAt int64 `db:"updated_at"`
}

func (w *SQLAssetWrapper) toAsset() (*asset.Asset, error) {
	attrs, err := decodeAttributes(w.Attributes)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding attributes of %s/%s", w.Repository, w.Path)
	}
	return &asset.Asset{
		ID:          w.ID,
		Repository:  w.Repository,
		Path:        w.Path,
		Kind:        asset.Kind(w.Kind),
		Attributes:  attrs,
		Digest:      digest.Digest(w.Digest),
		Size:        w.Size,
		ContentType: w.ContentType,
		Created:     time.Unix(0, w.CreatedAt).UTC(),
		Updated:     time.Unix(0, w.UpdatedAt).UTC(),
	}, nil
}

// NewSQL initializes a new sql driver storing content in blobs.
func NewSQL(dialect, connectionString string, blobs blob.Store, logger func(string, ...interface{})) (*SQL, error) {
	if _, ok := supportedSQLDialects[dialect]; !ok {
		return nil, fmt.Errorf("%s dialect isn't supported, only \"postgres\" is available for now", dialect)
	}

	db, err := sqlx.Connect(dialect, connectionString)
	if err != nil {
		return nil, err
	}

	driver := &SQL{
		db:               db,
		blobs:            blobs,
		statementBuilder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:              time.Now,
		Log:              logger,
	}

	if err := driver.ensureDBSetup(); err != nil {
		return nil, err
	}

	return driver, nil
}

// blobKey addresses content by repository and digest, so identical content
// stored at several paths of one repository shares a blob.
func blobKey(repository string, d digest.Digest) string {
	return fmt.Sprintf("%s/%s/%s", repository, d.Algorithm(), d.Encoded())
}

// PutAsset stores the content in the blob store, then records the asset.
func (s *SQL) PutAsset(ctx context.Context, repository, path string, content *asset.Content, kind asset.Kind, attrs *chart.Attributes) (*asset.Asset, error) {
	if err := checkPath(repository, path); err != nil {
		return nil, err
	}
	body, err := encodeAttributes(attrs)
	if err != nil {
		s.Log("failed to encode attributes of %s/%s: %v", repository, path, err)
		return nil, err
	}

	if err := s.blobs.Put(ctx, blobKey(repository, content.Digest), content.Data); err != nil {
		s.Log("failed to store blob of %s/%s: %v", repository, path, err)
		return nil, err
	}

	transaction, err := s.db.Beginx()
	if err != nil {
		s.Log("failed to start SQL transaction: %v", err)
		return nil, fmt.Errorf("error beginning transaction: %v", err)
	}

	selectQuery, args, err := s.statementBuilder.
		Select(sqlAssetColumns...).
		From(sqlAssetTableName).
		Where(sq.Eq{sqlAssetTableRepositoryColumn: repository}).
		Where(sq.Eq{sqlAssetTablePathColumn: path}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		transaction.Rollback()
		s.Log("failed to build select query: %v", err)
		return nil, err
	}

	now := s.now().UnixNano()
	record := SQLAssetWrapper{
		ID:          uuid.NewString(),
		Repository:  repository,
		Path:        path,
		Kind:        kind.String(),
		Attributes:  body,
		Digest:      content.Digest.String(),
		Size:        content.Size(),
		ContentType: content.ContentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var existing SQLAssetWrapper
	err = transaction.Get(&existing, selectQuery, args...)
	switch {
	case err == sql.ErrNoRows:
		insertQuery, args, err := s.statementBuilder.
			Insert(sqlAssetTableName).
			Columns(sqlAssetColumns...).
			Values(record.ID, record.Repository, record.Path, record.Kind, record.Attributes,
				record.Digest, record.Size, record.ContentType, record.CreatedAt, record.UpdatedAt).
			ToSql()
		if err != nil {
			transaction.Rollback()
			s.Log("failed to build insert query: %v", err)
			return nil, err
		}
		if _, err := transaction.Exec(insertQuery, args...); err != nil {
			transaction.Rollback()
			s.Log("failed to store asset %s/%s in SQL database: %v", repository, path, err)
			return nil, err
		}
	case err != nil:
		transaction.Rollback()
		s.Log("failed to look up asset %s/%s: %v", repository, path, err)
		return nil, err
	default:
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		updateQuery, args, err := s.statementBuilder.
			Update(sqlAssetTableName).
			Set(sqlAssetTableKindColumn, record.Kind).
			Set(sqlAssetTableAttributesColumn, record.Attributes).
			Set(sqlAssetTableDigestColumn, record.Digest).
			Set(sqlAssetTableSizeColumn, record.Size).
			Set(sqlAssetTableContentTypeColumn, record.ContentType).
			Set(sqlAssetTableUpdatedAtColumn, record.UpdatedAt).
			Where(sq.Eq{sqlAssetTableIDColumn: record.ID}).
			ToSql()
		if err != nil {
			transaction.Rollback()
			s.Log("failed to build update query: %v", err)
			return nil, err
		}
		if _, err := transaction.Exec(updateQuery, args...); err != nil {
			transaction.Rollback()
			s.Log("failed to update asset %s/%s in SQL database: %v", repository, path, err)
			return nil, err
		}
	}

	if err := transaction.Commit(); err != nil {
		s.Log("failed to commit asset %s/%s: %v", repository, path, err)
		return nil, err
	}

	if existing.Digest != "" && existing.Digest != record.Digest {
		s.releaseBlob(ctx, repository, digest.Digest(existing.Digest))
	}

	return record.toAsset()
}

// DeleteAsset removes the asset at path and its blob once unreferenced.
func (s *SQL) DeleteAsset(ctx context.Context, repository, path string) (bool, error) {
	transaction, err := s.db.Beginx()
	if err != nil {
		s.Log("failed to start SQL transaction: %v", err)
		return false, fmt.Errorf("error beginning transaction: %v", err)
	}

	selectQuery, args, err := s.statementBuilder.
		Select(sqlAssetTableDigestColumn).
		From(sqlAssetTableName).
		Where(sq.Eq{sqlAssetTableRepositoryColumn: repository}).
		Where(sq.Eq{sqlAssetTablePathColumn: path}).
		ToSql()
	if err != nil {
		transaction.Rollback()
		s.Log("failed to build select query: %v", err)
		return false, err
	}

	var record SQLAssetWrapper
	if err := transaction.Get(&record, selectQuery, args...); err != nil {
		transaction.Rollback()
		if err == sql.ErrNoRows {
			return false, nil
		}
		s.Log("failed to look up asset %s/%s: %v", repository, path, err)
		return false, err
	}

	deleteQuery, args, err := s.statementBuilder.
		Delete(sqlAssetTableName).
		Where(sq.Eq{sqlAssetTableRepositoryColumn: repository}).
		Where(sq.Eq{sqlAssetTablePathColumn: path}).
		ToSql()
	if err != nil {
		transaction.Rollback()
		s.Log("failed to build delete query: %v", err)
		return false, err
	}
	if _, err := transaction.Exec(deleteQuery, args...); err != nil {
		transaction.Rollback()
		s.Log("failed to delete asset %s/%s: %v", repository, path, err)
		return false, err
	}
	if err := transaction.Commit(); err != nil {
		s.Log("failed to commit deletion of %s/%s: %v", repository, path, err)
		return false, err
	}

	s.releaseBlob(ctx, repository, digest.Digest(record.Digest))
	return true, nil
}

// releaseBlob deletes the blob of d once no asset of repository refers to it.
// Failures leave an orphaned blob behind and are only logged.
func (s *SQL) releaseBlob(ctx context.Context, repository string, d digest.Digest) {
	query, args, err := s.statementBuilder.
		Select("COUNT(*)").
		From(sqlAssetTableName).
		Where(sq.Eq{sqlAssetTableRepositoryColumn: repository}).
		Where(sq.Eq{sqlAssetTableDigestColumn: d.String()}).
		ToSql()
	if err != nil {
		s.Log("failed to build count query: %v", err)
		return
	}

	var refs int
	if err := s.db.Get(&refs, query, args...); err != nil {
		s.Log("failed to count references to %s: %v", d, err)
		return
	}
	if refs > 0 {
		return
	}
	if err := s.blobs.Delete(ctx, blobKey(repository, d)); err != nil && !errors.Is(err, blob.ErrBlobNotFound) {
		s.Log("failed to delete blob %s: %v", d, err)
	}
}

// GetAsset returns the asset at path or ErrAssetNotFound.
func (s *SQL) GetAsset(ctx context.Context, repository, path string) (*asset.Content, *asset.Asset, error) {
	query, args, err := s.statementBuilder.
		Select(sqlAssetColumns...).
		From(sqlAssetTableName).
		Where(sq.Eq{sqlAssetTableRepositoryColumn: repository}).
		Where(sq.Eq{sqlAssetTablePathColumn: path}).
		ToSql()
	if err != nil {
		s.Log("failed to build query: %v", err)
		return nil, nil, err
	}

	var record SQLAssetWrapper
	if err := s.db.Get(&record, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, newNotFound(repository, path)
		}
		s.Log("got SQL error when getting asset %s/%s: %v", repository, path, err)
		return nil, nil, err
	}

	a, err := record.toAsset()
	if err != nil {
		return nil, nil, err
	}

	data, err := s.blobs.Get(ctx, blobKey(repository, a.Digest))
	if err != nil {
		s.Log("failed to load blob of %s/%s: %v", repository, path, err)
		return nil, nil, errors.Wrapf(err, "loading content of %s/%s", repository, path)
	}

	return &asset.Content{
		Data:         data,
		ContentType:  a.ContentType,
		Digest:       a.Digest,
		LastModified: a.Updated,
	}, a, nil
}

// FindComponentsAndAssets returns the package assets of repository in the
// order they were first stored.
func (s *SQL) FindComponentsAndAssets(_ context.Context, repository string) ([]*asset.Asset, error) {
	query, args, err := s.statementBuilder.
		Select(sqlAssetColumns...).
		From(sqlAssetTableName).
		Where(sq.Eq{sqlAssetTableRepositoryColumn: repository}).
		Where(sq.Eq{sqlAssetTableKindColumn: asset.KindPackage.String()}).
		OrderBy(sqlAssetTableSeqColumn).
		ToSql()
	if err != nil {
		s.Log("failed to build query: %v", err)
		return nil, err
	}

	var records = []SQLAssetWrapper{}
	if err := s.db.Select(&records, query, args...); err != nil {
		s.Log("failed to list assets of %s: %v", repository, err)
		return nil, err
	}

	assets := make([]*asset.Asset, 0, len(records))
	for i := range records {
		a, err := records[i].toAsset()
		if err != nil {
			s.Log("list: failed to decode asset %s/%s: %v", repository, records[i].Path, err)
			continue
		}
		assets = append(assets, a)
	}
	return assets, nil
}
