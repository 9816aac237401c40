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
	"bytes"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"helm.sh/chartrepo/pkg/asset"
)

// urlsKey is the mapping key of the download URL list of an index entry.
const urlsKey = "urls"

// URLRewriter rewrites the absolute download URLs of an index document into
// repository relative references, leaving the rest of the document alone.
//
// An absolute URL below Base becomes its path relative to Base. Any other
// absolute URL becomes its final path segment. Relative URLs, unparseable
// URLs and URLs without a path are passed through unchanged, so rewriting
// is idempotent.
type URLRewriter struct {
	// Base is the root of the upstream repository. Optional.
	Base *url.URL
	Log  logrus.FieldLogger
}

// NewURLRewriter returns a rewriter relative to base. An empty base
// rewrites every absolute URL to a bare filename.
func NewURLRewriter(base string, log logrus.FieldLogger) (*URLRewriter, error) {
	r := &URLRewriter{Log: log}
	if base == "" {
		return r, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid base URL %q", base)
	}
	r.Base = u
	return r, nil
}

// RewriteContent rewrites an index blob into a new blob. The input is not
// modified.
func (r *URLRewriter) RewriteContent(in *asset.Content) (*asset.Content, error) {
	var out bytes.Buffer
	if err := r.Rewrite(in.Reader(), &out); err != nil {
		return nil, err
	}
	return asset.NewContent(out.Bytes(), asset.KindIndex.ContentType()), nil
}

// Rewrite reads YAML documents from in one at a time and writes each,
// rewritten, to out. Scalar styles, comments and anchors are kept.
func (r *URLRewriter) Rewrite(in io.Reader, out io.Writer) error {
	dec := yaml.NewDecoder(in)
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)

	docs := 0
	for {
		var doc yaml.Node
		if err := dec.Decode(&doc); err != nil {
			if err == io.EOF {
				break
			}
			return &ParseError{Err: err}
		}

		f := &urlsFilter{rewrite: r.rewriteURL}
		emit(&doc, false, f)

		if err := enc.Encode(&doc); err != nil {
			return errors.Wrap(err, "writing rewritten index")
		}
		docs++
	}
	if docs == 0 {
		return nil
	}
	return enc.Close()
}

func (r *URLRewriter) logger() logrus.FieldLogger {
	if r.Log == nil {
		l := logrus.New()
		l.Out = io.Discard
		r.Log = l
	}
	return r.Log
}

func (r *URLRewriter) rewriteURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		r.logger().WithError(err).WithField("url", raw).Warn("invalid URL in index.yaml, leaving it unchanged")
		return raw
	}
	if !u.IsAbs() || u.Host == "" {
		return raw
	}

	if r.Base != nil {
		if rel, ok := relativeTo(r.Base, u); ok {
			return rel
		}
	}

	name := path.Base(u.Path)
	if u.Path == "" || name == "/" || name == "." {
		return raw
	}
	return name
}

// relativeTo returns the path of u relative to base when u lies below it.
func relativeTo(base, u *url.URL) (string, bool) {
	if !strings.EqualFold(base.Scheme, u.Scheme) || !strings.EqualFold(base.Host, u.Host) {
		return "", false
	}
	prefix := strings.TrimSuffix(base.Path, "/") + "/"
	if !strings.HasPrefix(u.Path, prefix) {
		return "", false
	}
	rel := strings.TrimPrefix(u.Path, prefix)
	if rel == "" {
		return "", false
	}
	return rel, true
}

// eventFilter receives the parse events of a document in order.
type eventFilter interface {
	scalar(n *yaml.Node, isKey bool)
	collectionStart(kind yaml.Kind)
	collectionEnd(kind yaml.Kind)
	alias(n *yaml.Node)
}

// emit walks a node tree depth first and replays it to f as the sequence of
// events a YAML parser would produce for it.
func emit(n *yaml.Node, isKey bool, f eventFilter) {
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			emit(c, false, f)
		}
	case yaml.MappingNode, yaml.SequenceNode:
		f.collectionStart(n.Kind)
		for i, c := range n.Content {
			emit(c, n.Kind == yaml.MappingNode && i%2 == 0, f)
		}
		f.collectionEnd(n.Kind)
	case yaml.ScalarNode:
		f.scalar(n, isKey)
	case yaml.AliasNode:
		f.alias(n)
	}
}

// urlsFilter rewrites the items of every sequence that is the value of a
// "urls" mapping key. The key arms the filter for the immediately following
// event; only a sequence start enters a list, and the matching sequence end
// leaves it. Only direct scalar items of a list are rewritten.
type urlsFilter struct {
	rewrite func(string) string

	armed bool
	depth int
	// lists holds the depths of the url lists currently open.
	lists []int
}

func (f *urlsFilter) inList() bool {
	return len(f.lists) > 0 && f.lists[len(f.lists)-1] == f.depth
}

func (f *urlsFilter) scalar(n *yaml.Node, isKey bool) {
	if !isKey && f.inList() {
		if n.Tag == "" || n.ShortTag() == "!!str" {
			n.Value = f.rewrite(n.Value)
		}
		return
	}
	f.armed = isKey && n.Value == urlsKey
}

func (f *urlsFilter) collectionStart(kind yaml.Kind) {
	f.depth++
	if f.armed && kind == yaml.SequenceNode {
		f.lists = append(f.lists, f.depth)
	}
	f.armed = false
}

func (f *urlsFilter) collectionEnd(yaml.Kind) {
	if f.inList() {
		f.lists = f.lists[:len(f.lists)-1]
	}
	f.depth--
}

func (f *urlsFilter) alias(*yaml.Node) {
	f.armed = false
}
