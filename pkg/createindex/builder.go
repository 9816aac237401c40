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
Package createindex builds the index.yaml of hosted chart repositories.

A Builder turns the package assets of a repository into an index. A
Coordinator owns the published index of one repository and rebuilds it in
the background, a short while after the repository content last changed,
so that a burst of uploads results in a single rebuild.
*/
package createindex // import "helm.sh/chartrepo/pkg/createindex"

import (
	"context"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"helm.sh/chartrepo/pkg/repo"
	"helm.sh/chartrepo/pkg/storage"
)

// Builder creates the index of a repository from its stored packages.
type Builder struct {
	Storage *storage.Storage
	Log     logrus.FieldLogger

	now func() time.Time
}

// NewBuilder returns a Builder reading from s.
func NewBuilder(s *storage.Storage, log logrus.FieldLogger) *Builder {
	if log == nil {
		log = discardLogger()
	}
	return &Builder{Storage: s, Log: log, now: time.Now}
}

// Build scans the components of repository and returns them as an index.
// Versions of a chart keep the order the scan returned them in. Each entry
// points at the canonical filename of its package and carries the hex
// digest of the stored content.
//
// Components that cannot be indexed are skipped and logged. Build only
// fails when the scan itself fails.
func (b *Builder) Build(ctx context.Context, repository string) (*repo.IndexFile, error) {
	components, err := b.Storage.Components(ctx, repository, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "scanning components of %s", repository)
	}

	index := repo.NewIndexFile()
	index.Generated = b.now()

	var skipped *multierror.Error
	for _, a := range components {
		attrs, err := a.Attributes.Copy()
		if err != nil {
			skipped = multierror.Append(skipped, errors.Wrap(err, a.Path))
			continue
		}
		cv := &repo.ChartVersion{
			Attributes: attrs,
			URLs:       []string{attrs.Filename()},
			Created:    a.Created,
			Digest:     a.Digest.Encoded(),
		}
		if err := index.Add(cv); err != nil {
			skipped = multierror.Append(skipped, errors.Wrap(err, a.Path))
		}
	}

	if err := skipped.ErrorOrNil(); err != nil {
		b.Log.WithField("repository", repository).WithError(err).Warnf("skipped %d assets while building the index", len(skipped.Errors))
	}
	return index, nil
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}
