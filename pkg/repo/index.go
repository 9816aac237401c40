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

package repo

import (
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"helm.sh/chartrepo/pkg/chart"
)

// APIVersionV1 is the v1 API version for index and repository files.
const APIVersionV1 = "v1"

var (
	// ErrNoAPIVersion indicates that an API version was not specified.
	ErrNoAPIVersion = errors.New("no API version specified")
	// ErrNoChartVersion indicates that a chart with the given version is not found.
	ErrNoChartVersion = errors.New("no chart version found")
	// ErrNoChartName indicates that a chart with the given name is not found.
	ErrNoChartName = errors.New("no chart name found")
	// ErrEmptyIndexYaml indicates that the content of index.yaml is empty.
	ErrEmptyIndexYaml = errors.New("empty index.yaml file")
)

// ChartVersions is a list of versioned chart references.
// Implements a sorter on Version.
type ChartVersions []*ChartVersion

// Len returns the length.
func (c ChartVersions) Len() int { return len(c) }

// Swap swaps the position of two items in the versions slice.
func (c ChartVersions) Swap(i, j int) { c[i], c[j] = c[j], c[i] }

// Less returns true if the version of entry a is less than the version of entry b.
func (c ChartVersions) Less(a, b int) bool {
	// Failed parse pushes to the back.
	i, err := semver.NewVersion(c[a].Version)
	if err != nil {
		return true
	}
	j, err := semver.NewVersion(c[b].Version)
	if err != nil {
		return false
	}
	return i.LessThan(j)
}

// IndexFile represents the index file in a chart repository.
//
// Fields are declared, and encoded, in the order apiVersion, entries,
// generated.
type IndexFile struct {
	APIVersion string                   `json:"apiVersion"`
	Entries    map[string]ChartVersions `json:"entries"`
	Generated  time.Time                `json:"generated"`
}

// NewIndexFile initializes an index.
func NewIndexFile() *IndexFile {
	return &IndexFile{
		APIVersion: APIVersionV1,
		Generated:  time.Now(),
		Entries:    map[string]ChartVersions{},
	}
}

// Add appends a version entry to the index. Entries keep the order they were
// added in until SortEntries is called.
func (i *IndexFile) Add(cv *ChartVersion) error {
	if cv == nil || cv.Attributes == nil {
		return errors.New("chart version has no attributes")
	}
	if err := cv.Validate(); err != nil {
		return errors.Wrapf(err, "validate failed for %s-%s", cv.Name, cv.Version)
	}
	if i.Entries == nil {
		i.Entries = map[string]ChartVersions{}
	}
	i.Entries[cv.Name] = append(i.Entries[cv.Name], cv)
	return nil
}

// Has returns true if the index has an entry for a chart with the given name and exact version.
func (i IndexFile) Has(name, version string) bool {
	_, err := i.Get(name, version)
	return err == nil
}

// Len is the number of version entries across all charts.
func (i IndexFile) Len() int {
	n := 0
	for _, versions := range i.Entries {
		n += len(versions)
	}
	return n
}

// SortEntries sorts the entries by version in descending order.
//
// In canonical form, the individual version records should be sorted so that
// the most recent release for every version is in the 0th slot in the
// Entries.ChartVersions array. That way, tooling can predict the newest
// version without needing to parse SemVers.
func (i IndexFile) SortEntries() {
	for _, versions := range i.Entries {
		sort.Sort(sort.Reverse(versions))
	}
}

// Names returns the chart names of the index in lexical order.
func (i IndexFile) Names() []string {
	names := make([]string, 0, len(i.Entries))
	for name := range i.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the ChartVersion for the given name.
//
// If version is empty, this will return the chart with the latest stable version,
// prerelease versions will be skipped.
func (i IndexFile) Get(name, version string) (*ChartVersion, error) {
	vs, ok := i.Entries[name]
	if !ok {
		return nil, ErrNoChartName
	}
	if len(vs) == 0 {
		return nil, ErrNoChartVersion
	}

	var constraint *semver.Constraints
	if version == "" {
		constraint, _ = semver.NewConstraint("*")
	} else {
		var err error
		constraint, err = semver.NewConstraint(version)
		if err != nil {
			// not a semver constraint, fall back to an exact match
			for _, ver := range vs {
				if ver.Version == version {
					return ver, nil
				}
			}
			return nil, errors.Errorf("no chart version found for %s-%s", name, version)
		}
	}

	var best *ChartVersion
	var bestVersion *semver.Version
	for _, ver := range vs {
		if version != "" && ver.Version == version {
			return ver, nil
		}
		test, err := semver.NewVersion(ver.Version)
		if err != nil {
			continue
		}
		if !constraint.Check(test) {
			continue
		}
		if bestVersion == nil || test.GreaterThan(bestVersion) {
			best, bestVersion = ver, test
		}
	}
	if best != nil {
		return best, nil
	}
	return nil, errors.Errorf("no chart version found for %s-%s", name, version)
}

// ChartVersion represents a chart entry in the IndexFile
type ChartVersion struct {
	*chart.Attributes
	URLs    []string  `json:"urls"`
	Created time.Time `json:"created,omitempty"`
	Digest  string    `json:"digest,omitempty"`
}

// Validate checks that the entry can be published: the chart attributes
// are valid and there is at least one download URL.
func (cv *ChartVersion) Validate() error {
	if err := cv.Attributes.Validate(); err != nil {
		return err
	}
	if len(cv.URLs) == 0 {
		return chart.ValidationErrorf("chart %s-%s has no download URLs", cv.Name, cv.Version)
	}
	for _, u := range cv.URLs {
		if strings.TrimSpace(u) == "" {
			return chart.ValidationErrorf("chart %s-%s has an empty download URL", cv.Name, cv.Version)
		}
	}
	return nil
}
