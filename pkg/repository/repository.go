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
Package repository composes hosted and proxy chart repositories from their
facets and keeps track of the repositories a server exposes.
*/
package repository // import "helm.sh/chartrepo/pkg/repository"

import (
	"context"

	"github.com/pkg/errors"

	"helm.sh/chartrepo/pkg/asset"
	"helm.sh/chartrepo/pkg/createindex"
	"helm.sh/chartrepo/pkg/hosted"
	"helm.sh/chartrepo/pkg/proxy"
)

// Type is the type of a repository.
type Type string

const (
	// TypeHosted repositories accept uploads and build their own index.
	TypeHosted Type = "hosted"
	// TypeProxy repositories cache a remote repository.
	TypeProxy Type = "proxy"
)

// ErrWrongType is returned for operations the repository type does not support.
var ErrWrongType = errors.New("operation not supported by repository type")

// Repository is one chart repository. Exactly one of Hosted and Proxy is
// set, according to Type. Index is only set for hosted repositories.
type Repository struct {
	Name   string
	Type   Type
	Hosted *hosted.Facet
	Proxy  *proxy.Facet
	Index  *createindex.Coordinator

	unsubscribe func()
}

// Get returns the content stored at p, fetching it from the remote for
// proxy repositories.
func (r *Repository) Get(ctx context.Context, p string) (*asset.Content, error) {
	kind, err := Classify(p)
	if err != nil {
		return nil, err
	}
	switch r.Type {
	case TypeHosted:
		content, _, err := r.Hosted.Get(ctx, trimSlash(p))
		return content, err
	case TypeProxy:
		return r.Proxy.Get(ctx, kind, trimSlash(p))
	}
	return nil, errors.Wrapf(ErrWrongType, "%s", r.Type)
}

// HostedFacet returns the hosted facet, or ErrWrongType for other
// repository types.
func (r *Repository) HostedFacet() (*hosted.Facet, error) {
	if r.Type != TypeHosted || r.Hosted == nil {
		return nil, errors.Wrapf(ErrWrongType, "repository %s is of type %s", r.Name, r.Type)
	}
	return r.Hosted, nil
}

func trimSlash(p string) string {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return p
}
