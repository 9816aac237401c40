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

// Package proxy implements repositories that cache a remote chart
// repository.
package proxy // import "helm.sh/chartrepo/pkg/proxy"

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"helm.sh/chartrepo/pkg/asset"
	"helm.sh/chartrepo/pkg/chart"
	"helm.sh/chartrepo/pkg/chart/loader"
	"helm.sh/chartrepo/pkg/getter"
	"helm.sh/chartrepo/pkg/repo"
	"helm.sh/chartrepo/pkg/storage"
)

const (
	// DefaultMetadataMaxAge is how long a cached index is served before the
	// remote is asked again.
	DefaultMetadataMaxAge = time.Hour
	// DefaultContentMaxAge means cached packages never go stale; a released
	// chart version does not change.
	DefaultContentMaxAge = time.Duration(-1)
)

// fetchTimeout bounds a fetch shared by several callers.
const fetchTimeout = getter.DefaultHTTPTimeout * time.Second

// UpstreamUnavailableError is returned when an asset is neither cached nor
// fetchable from the remote.
type UpstreamUnavailableError struct {
	URL string
	// StatusCode is the HTTP status of the remote, zero when there was no
	// response.
	StatusCode int
	Err        error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("upstream unavailable: %s: %s", e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// NotFound reports whether the remote answered that the asset does not exist.
func (e *UpstreamUnavailableError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Option configures a Facet.
type Option func(*Facet)

// WithGetter replaces the getter used to reach the remote.
func WithGetter(g getter.Getter) Option {
	return func(f *Facet) {
		f.getter = g
	}
}

// WithGetterOptions adds options, such as credentials, to the default getter.
func WithGetterOptions(opts ...getter.Option) Option {
	return func(f *Facet) {
		f.getterOpts = append(f.getterOpts, opts...)
	}
}

// WithMetadataMaxAge sets how long the cached index stays fresh. A negative
// age never expires.
func WithMetadataMaxAge(d time.Duration) Option {
	return func(f *Facet) {
		f.metadataMaxAge = d
	}
}

// WithContentMaxAge sets how long cached packages and provenance files stay
// fresh. A negative age never expires.
func WithContentMaxAge(d time.Duration) Option {
	return func(f *Facet) {
		f.contentMaxAge = d
	}
}

// WithLogger sets the logger of the facet.
func WithLogger(log logrus.FieldLogger) Option {
	return func(f *Facet) {
		f.log = log
	}
}

// Facet serves the assets of a remote repository from a local cache,
// fetching them on demand.
//
// A cached asset is served while it is fresh. A stale or missing asset is
// fetched from the remote once; when that fails a stale copy is served
// anyway. Cached indexes have their absolute download URLs rewritten to be
// relative to the remote, so that clients fetch packages through the proxy.
type Facet struct {
	repository     string
	remote         *url.URL
	storage        *storage.Storage
	getter         getter.Getter
	getterOpts     []getter.Option
	rewriter       *repo.URLRewriter
	metadataMaxAge time.Duration
	contentMaxAge  time.Duration
	log            logrus.FieldLogger

	fetches singleflight.Group
	now     func() time.Time
}

// NewFacet returns the proxy facet of repository, caching remoteURL.
func NewFacet(repository, remoteURL string, s *storage.Storage, opts ...Option) (*Facet, error) {
	remote, err := url.Parse(remoteURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid remote URL %q", remoteURL)
	}
	if !remote.IsAbs() || remote.Host == "" {
		return nil, errors.Errorf("remote URL %q must be absolute", remoteURL)
	}

	f := &Facet{
		repository:     repository,
		remote:         remote,
		storage:        s,
		metadataMaxAge: DefaultMetadataMaxAge,
		contentMaxAge:  DefaultContentMaxAge,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		l := logrus.New()
		l.Out = io.Discard
		f.log = l
	}
	f.log = f.log.WithFields(logrus.Fields{"repository": repository, "remote": remote.Redacted()})

	if f.getter == nil {
		opts := append([]getter.Option{getter.WithURL(remoteURL)}, f.getterOpts...)
		g, err := getter.All().ByScheme(remote.Scheme, opts...)
		if err != nil {
			return nil, errors.Wrapf(err, "remote URL %q", remoteURL)
		}
		f.getter = g
	}
	f.rewriter = &repo.URLRewriter{Base: remote, Log: f.log}
	return f, nil
}

// Repository is the name of the repository the facet serves.
func (f *Facet) Repository() string { return f.repository }

// Remote is the URL of the cached repository.
func (f *Facet) Remote() *url.URL { return f.remote }

// MaxAge returns how long a cached asset of kind stays fresh. Negative
// means forever.
func (f *Facet) MaxAge(kind asset.Kind) time.Duration {
	if kind.IsMetadata() {
		return f.metadataMaxAge
	}
	return f.contentMaxAge
}

// Get returns the asset of kind at p, from the cache or from the remote.
func (f *Facet) Get(ctx context.Context, kind asset.Kind, p string) (*asset.Content, error) {
	log := f.log.WithFields(logrus.Fields{"path": p, "kind": kind})

	cached, a, err := f.storage.GetAsset(ctx, f.repository, p)
	switch {
	case storage.IsNotFound(err):
		cached = nil
	case err != nil:
		return nil, errors.Wrapf(err, "reading cached %s", p)
	case f.fresh(kind, a):
		log.Debug("serving cached asset")
		return cached, nil
	}

	v, err, shared := f.fetches.Do(p, func() (interface{}, error) {
		// joined callers share this fetch, so it ends with none of their requests
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return f.fetch(fctx, kind, p)
	})
	if err == nil {
		if shared {
			log.Debug("joined a running fetch")
		}
		return v.(*asset.Content), nil
	}

	if cached != nil {
		log.WithError(err).Warn("remote unavailable, serving stale asset")
		return cached, nil
	}
	return nil, err
}

func (f *Facet) fresh(kind asset.Kind, a *asset.Asset) bool {
	maxAge := f.MaxAge(kind)
	if maxAge < 0 {
		return true
	}
	return a.Age(f.now()) < maxAge
}

// fetch downloads p, prepares it for the cache and stores it. Storage
// failures are logged; the fetched content is served regardless.
func (f *Facet) fetch(ctx context.Context, kind asset.Kind, p string) (*asset.Content, error) {
	href, err := repo.ResolveURL(f.remote.String(), p)
	if err != nil {
		return nil, &UpstreamUnavailableError{URL: p, Err: err}
	}

	log := f.log.WithFields(logrus.Fields{"path": p, "url": href})
	log.Debug("fetching from remote")

	buf, err := f.getter.Get(ctx, href)
	if err != nil {
		uerr := &UpstreamUnavailableError{URL: href, Err: err}
		var serr *getter.StatusError
		if errors.As(err, &serr) {
			uerr.StatusCode = serr.StatusCode
		}
		return nil, uerr
	}

	content := asset.NewContent(buf.Bytes(), kind.ContentType())
	var attrs *chart.Attributes
	switch kind {
	case asset.KindIndex:
		content, err = f.rewriter.RewriteContent(content)
		if err != nil {
			return nil, &UpstreamUnavailableError{URL: href, Err: err}
		}
	case asset.KindPackage:
		attrs, err = loader.LoadAttributes(bytes.NewReader(content.Data))
		if err != nil {
			return nil, &UpstreamUnavailableError{URL: href, Err: err}
		}
	}

	if _, err := f.storage.PutAsset(ctx, f.repository, p, content, kind, attrs); err != nil {
		log.WithError(err).Error("failed to cache asset")
		return content, nil
	}
	log.WithField("digest", content.Digest.String()).Info("cached asset from remote")
	return content, nil
}
