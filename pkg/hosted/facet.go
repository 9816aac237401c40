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

// Package hosted implements repositories whose packages are uploaded to
// them directly.
package hosted // import "helm.sh/chartrepo/pkg/hosted"

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"helm.sh/chartrepo/pkg/asset"
	"helm.sh/chartrepo/pkg/chart"
	"helm.sh/chartrepo/pkg/chart/loader"
	"helm.sh/chartrepo/pkg/events"
	"helm.sh/chartrepo/pkg/storage"
)

// DefaultMaxChartSize is the largest accepted upload, 20MiB.
const DefaultMaxChartSize = 20 << 20

// ErrChartTooLarge is returned for uploads above the size limit.
var ErrChartTooLarge = errors.New("chart package is larger than the maximum size")

// Option configures a Facet.
type Option func(*Facet)

// WithPermission sets the permission checker. Without one every operation
// is denied.
func WithPermission(p Permission) Option {
	return func(f *Facet) {
		f.permissions = p
	}
}

// WithMaxChartSize bounds the size of uploads, in bytes.
func WithMaxChartSize(n int64) Option {
	return func(f *Facet) {
		if n > 0 {
			f.maxChartSize = n
		}
	}
}

// WithLogger sets the logger of the facet.
func WithLogger(log logrus.FieldLogger) Option {
	return func(f *Facet) {
		f.log = log
	}
}

// Facet serves and accepts the assets of one hosted repository. Every
// change is published on the event bus so that the index follows.
type Facet struct {
	repository   string
	storage      *storage.Storage
	bus          *events.Bus
	permissions  Permission
	maxChartSize int64
	log          logrus.FieldLogger
}

// NewFacet returns the hosted facet of repository.
func NewFacet(repository string, s *storage.Storage, bus *events.Bus, opts ...Option) *Facet {
	f := &Facet{
		repository:   repository,
		storage:      s,
		bus:          bus,
		maxChartSize: DefaultMaxChartSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		l := logrus.New()
		l.Out = io.Discard
		f.log = l
	}
	f.log = f.log.WithField("repository", repository)
	return f
}

// Repository is the name of the repository the facet serves.
func (f *Facet) Repository() string { return f.repository }

// Upload stores a chart package under the filename derived from its
// Chart.yaml, name-version.tgz.
func (f *Facet) Upload(ctx context.Context, body io.Reader) (*asset.Asset, error) {
	return f.UploadAt(ctx, "", body)
}

// UploadAt stores a chart package that a client addressed to p. The package
// is always stored under its canonical filename; p is only accepted when its
// final element equals that filename. An empty p accepts any package.
func (f *Facet) UploadAt(ctx context.Context, p string, body io.Reader) (*asset.Asset, error) {
	data, attrs, err := f.readPackage(body)
	if err != nil {
		return nil, err
	}
	name := attrs.Filename()
	if p != "" && path.Base(p) != name {
		return nil, chart.ValidationErrorf("package path %q does not match chart %s %s", p, attrs.Name, attrs.Version)
	}
	if err := check(ctx, f.permissions, f.repository, name, ActionWrite); err != nil {
		return nil, err
	}
	return f.storePackage(ctx, data, attrs)
}

// UploadWithProvenance stores a chart package together with its provenance
// file. Both are read and checked before either is stored.
func (f *Facet) UploadWithProvenance(ctx context.Context, body, prov io.Reader) (*asset.Asset, error) {
	data, attrs, err := f.readPackage(body)
	if err != nil {
		return nil, err
	}
	provData, err := f.readBounded(prov)
	if err != nil {
		return nil, err
	}
	for _, p := range []string{attrs.Filename(), attrs.ProvenanceFilename()} {
		if err := check(ctx, f.permissions, f.repository, p, ActionWrite); err != nil {
			return nil, err
		}
	}

	a, err := f.storePackage(ctx, data, attrs)
	if err != nil {
		return nil, err
	}
	if _, err := f.storeProvenance(ctx, attrs.ProvenanceFilename(), provData); err != nil {
		return a, err
	}
	return a, nil
}

// UploadProvenance stores the provenance file of a package. Provenance
// files are not part of the index, so storing one leaves the index alone.
func (f *Facet) UploadProvenance(ctx context.Context, p string, body io.Reader) (*asset.Asset, error) {
	if !strings.HasSuffix(p, chart.PackageExtension+chart.ProvenanceExtension) {
		return nil, chart.ValidationErrorf("provenance path %q must end in %s%s", p, chart.PackageExtension, chart.ProvenanceExtension)
	}
	if _, _, err := chart.ParseFilename(path.Base(p)); err != nil {
		return nil, chart.ValidationError(err.Error())
	}
	data, err := f.readBounded(body)
	if err != nil {
		return nil, err
	}
	if err := check(ctx, f.permissions, f.repository, p, ActionWrite); err != nil {
		return nil, err
	}
	return f.storeProvenance(ctx, p, data)
}

func (f *Facet) readPackage(body io.Reader) ([]byte, *chart.Attributes, error) {
	data, err := f.readBounded(body)
	if err != nil {
		return nil, nil, err
	}
	attrs, err := loader.LoadAttributes(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	return data, attrs, nil
}

func (f *Facet) storePackage(ctx context.Context, data []byte, attrs *chart.Attributes) (*asset.Asset, error) {
	name := attrs.Filename()
	content := asset.NewContent(data, asset.KindPackage.ContentType())
	a, err := f.storage.StorePackage(ctx, f.repository, content, attrs)
	if err != nil {
		return nil, errors.Wrapf(err, "storing %s", name)
	}

	f.log.WithFields(logrus.Fields{"path": name, "digest": content.Digest.String()}).Info("package uploaded")
	f.bus.Publish(events.Event{Type: events.AssetStored, Repository: f.repository, Path: name, Kind: asset.KindPackage})
	return a, nil
}

func (f *Facet) storeProvenance(ctx context.Context, p string, data []byte) (*asset.Asset, error) {
	content := asset.NewContent(data, asset.KindProvenance.ContentType())
	a, err := f.storage.PutAsset(ctx, f.repository, p, content, asset.KindProvenance, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "storing %s", p)
	}

	f.log.WithField("path", p).Info("provenance uploaded")
	f.bus.Publish(events.Event{Type: events.AssetStored, Repository: f.repository, Path: p, Kind: asset.KindProvenance})
	return a, nil
}

// Get returns the asset at p, or an error matching storage.IsNotFound.
func (f *Facet) Get(ctx context.Context, p string) (*asset.Content, *asset.Asset, error) {
	if err := check(ctx, f.permissions, f.repository, p, ActionRead); err != nil {
		return nil, nil, err
	}
	return f.storage.GetAsset(ctx, f.repository, p)
}

// Delete removes the asset at p and reports whether there was one.
func (f *Facet) Delete(ctx context.Context, p string) (bool, error) {
	if err := check(ctx, f.permissions, f.repository, p, ActionDelete); err != nil {
		return false, err
	}

	_, a, err := f.storage.GetAsset(ctx, f.repository, p)
	if storage.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	deleted, err := f.storage.DeleteAsset(ctx, f.repository, p)
	if err != nil || !deleted {
		return deleted, err
	}

	f.log.WithField("path", p).Info("asset deleted")
	f.bus.Publish(events.Event{Type: events.AssetDeleted, Repository: f.repository, Path: p, Kind: a.Kind})
	return true, nil
}

// DeleteComponent removes a chart version: its package and its provenance
// file. It reports whether the package existed.
func (f *Facet) DeleteComponent(ctx context.Context, name, version string) (bool, error) {
	attrs := &chart.Attributes{Name: name, Version: version}
	if err := attrs.Validate(); err != nil {
		return false, err
	}
	if err := check(ctx, f.permissions, f.repository, attrs.Filename(), ActionDelete); err != nil {
		return false, err
	}

	components, err := f.storage.Components(ctx, f.repository, storage.ChartFilter(name, version))
	if err != nil {
		return false, errors.Wrapf(err, "looking up chart %s %s", name, version)
	}
	if len(components) == 0 {
		return false, nil
	}

	deleted := false
	for _, a := range components {
		ok, err := f.Delete(ctx, a.Path)
		if err != nil {
			return deleted, err
		}
		deleted = deleted || ok
		if _, err := f.Delete(ctx, a.Attributes.ProvenanceFilename()); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// Charts returns the components of the repository, in the order they were
// first stored. When names are given only those charts are returned.
func (f *Facet) Charts(ctx context.Context, names ...string) ([]*asset.Asset, error) {
	if err := check(ctx, f.permissions, f.repository, asset.IndexPath, ActionRead); err != nil {
		return nil, err
	}
	var filter storage.FilterFunc
	if len(names) > 0 {
		filters := make([]storage.FilterFunc, 0, len(names))
		for _, name := range names {
			filters = append(filters, storage.ChartFilter(name, ""))
		}
		filter = storage.Any(filters...)
	}
	return f.storage.Components(ctx, f.repository, filter)
}

// InvalidateIndex asks for the index of the repository to be rebuilt.
func (f *Facet) InvalidateIndex(ctx context.Context) error {
	if err := check(ctx, f.permissions, f.repository, asset.IndexPath, ActionWrite); err != nil {
		return err
	}
	f.log.Info("index invalidated")
	f.bus.Publish(events.Event{Type: events.IndexInvalidated, Repository: f.repository})
	return nil
}

func (f *Facet) readBounded(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, f.maxChartSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "reading upload")
	}
	if int64(len(data)) > f.maxChartSize {
		return nil, errors.Wrapf(ErrChartTooLarge, "limit is %d bytes", f.maxChartSize)
	}
	return data, nil
}
