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

package chart

import (
	"strings"
	"unicode"

	"github.com/mitchellh/copystructure"
	"github.com/pkg/errors"
)

// Maintainer describes a Chart maintainer.
type Maintainer struct {
	// Name is a user name or organization name
	Name string `json:"name,omitempty"`
	// Email is an optional email address to contact the named maintainer
	Email string `json:"email,omitempty"`
	// URL is an optional URL to an address for the named maintainer
	URL string `json:"url,omitempty"`
}

// Attributes are the chart attributes extracted from the Chart.yaml of a
// package archive. They are the only part of a package the repository
// keeps outside of the blob itself.
type Attributes struct {
	// The name of the chart. Required.
	Name string `json:"name,omitempty"`
	// A version string of the chart. Required, not checked for semver.
	Version string `json:"version,omitempty"`
	// A one-sentence description of the chart
	Description string `json:"description,omitempty"`
	// The URL to a relevant project page, git repo, or contact person
	Home string `json:"home,omitempty"`
	// Source is the URL to the source code of this chart
	Sources []string `json:"sources,omitempty"`
	// A list of string keywords
	Keywords []string `json:"keywords,omitempty"`
	// A list of name and URL/email address combinations for the maintainer(s)
	Maintainers []*Maintainer `json:"maintainers,omitempty"`
	// The URL to an icon file.
	Icon string `json:"icon,omitempty"`
	// The API Version of the chart.
	APIVersion string `json:"apiVersion,omitempty"`
	// The version of the application enclosed inside of this chart.
	AppVersion string `json:"appVersion,omitempty"`
	// Whether or not this chart is deprecated
	Deprecated bool `json:"deprecated,omitempty"`
}

// Validate checks the attributes for the required name and version and
// sanitizes string characters.
func (a *Attributes) Validate() error {
	if a == nil {
		return ValidationError("chart metadata is required")
	}

	a.Name = sanitizeString(a.Name)
	a.Version = sanitizeString(a.Version)
	a.Description = sanitizeString(a.Description)
	a.Home = sanitizeString(a.Home)
	a.Icon = sanitizeString(a.Icon)
	a.AppVersion = sanitizeString(a.AppVersion)
	for i := range a.Sources {
		a.Sources[i] = sanitizeString(a.Sources[i])
	}
	for i := range a.Keywords {
		a.Keywords[i] = sanitizeString(a.Keywords[i])
	}

	if strings.TrimSpace(a.Name) == "" {
		return ValidationError("chart metadata is missing the name attribute")
	}
	if strings.TrimSpace(a.Version) == "" {
		return ValidationError("chart metadata is missing the version attribute")
	}

	for _, m := range a.Maintainers {
		if m == nil {
			return ValidationError("maintainers must not contain empty or null nodes")
		}
		m.Name = sanitizeString(m.Name)
		m.Email = sanitizeString(m.Email)
		m.URL = sanitizeString(m.URL)
	}
	return nil
}

// Filename is the canonical package path of the chart, <name>-<version>.tgz.
func (a *Attributes) Filename() string {
	return a.Name + "-" + a.Version + PackageExtension
}

// ProvenanceFilename is the path of the provenance file signing the package.
func (a *Attributes) ProvenanceFilename() string {
	return a.Filename() + ProvenanceExtension
}

// Copy returns a deep copy of the attributes.
func (a *Attributes) Copy() (*Attributes, error) {
	if a == nil {
		return nil, nil
	}
	c, err := copystructure.Copy(a)
	if err != nil {
		return nil, errors.Wrapf(err, "copying attributes of %s", a.Name)
	}
	return c.(*Attributes), nil
}

// sanitizeString normalize spaces and removes non-printable characters.
func sanitizeString(str string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, str)
}
