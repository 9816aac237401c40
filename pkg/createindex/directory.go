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

package createindex

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"helm.sh/chartrepo/pkg/chart"
	"helm.sh/chartrepo/pkg/chart/loader"
	"helm.sh/chartrepo/pkg/repo"
)

// IndexDirectory reads the chart packages below dir and builds an index
// from them. URLs are the package paths relative to dir, prefixed with
// baseURL when one is given.
//
// Files that are not valid chart packages are skipped. Their errors are
// returned together with the index of everything else.
func IndexDirectory(dir, baseURL string) (*repo.IndexFile, error) {
	index := repo.NewIndexFile()
	var skipped *multierror.Error

	err := filepath.Walk(dir, func(name string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() || !strings.HasSuffix(name, chart.PackageExtension) {
			return nil
		}

		attrs, err := loader.LoadFile(name)
		if err != nil {
			skipped = multierror.Append(skipped, err)
			return nil
		}
		data, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, name)
		if err != nil {
			return err
		}

		u := filepath.ToSlash(rel)
		if baseURL != "" {
			if u, err = repo.ResolveURL(baseURL, u); err != nil {
				return err
			}
		}
		if err := index.Add(&repo.ChartVersion{
			Attributes: attrs,
			URLs:       []string{u},
			Created:    time.Now().UTC(),
			Digest:     digest.FromBytes(data).Encoded(),
		}); err != nil {
			skipped = multierror.Append(skipped, errors.Wrap(err, rel))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", dir)
	}
	index.SortEntries()
	return index, skipped.ErrorOrNil()
}
