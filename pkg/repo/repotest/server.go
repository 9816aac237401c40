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

// Package repotest provides an upstream chart repository server for tests.
package repotest

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencontainers/go-digest"

	"helm.sh/chartrepo/pkg/chart"
	"helm.sh/chartrepo/pkg/chart/loader"
	"helm.sh/chartrepo/pkg/repo"
)

// NewTempServer creates a server inside of a temp dir.
//
// If the passed in string is not "", it will be treated as a shell glob, and files
// will be copied from that path to the server's docroot.
//
// The caller is responsible for destroying the temp directory as well as stopping
// the server.
func NewTempServer(glob string) (*Server, error) {
	tdir, err := os.MkdirTemp("", "chartrepo-repotest-")
	if err != nil {
		return nil, err
	}
	srv := NewServer(tdir)

	if glob != "" {
		if _, err := srv.CopyCharts(glob); err != nil {
			srv.Stop()
			return srv, err
		}
	}

	return srv, nil
}

// NewServer creates a repository server for testing.
//
// docroot should be a temp dir managed by the caller.
//
// This will start the server, serving files off of the docroot.
//
// Use CopyCharts or AddChart to move charts into the repository and then
// CreateIndex to index them for service.
func NewServer(docroot string) *Server {
	root, err := filepath.Abs(docroot)
	if err != nil {
		panic(err)
	}
	srv := &Server{
		docroot:  root,
		requests: map[string]int{},
	}
	srv.Start()
	return srv
}

// Server is an implementation of an upstream repository server for testing.
type Server struct {
	docroot    string
	srv        *httptest.Server
	middleware http.HandlerFunc

	unavailable atomic.Bool

	mu       sync.Mutex
	requests map[string]int
}

// WithMiddleware injects middleware in front of the server. This can be used to inject
// additional functionality like layering in an authentication frontend.
func (s *Server) WithMiddleware(middleware http.HandlerFunc) {
	s.middleware = middleware
}

// Root gets the docroot for the server.
func (s *Server) Root() string {
	return s.docroot
}

// SetUnavailable makes every request fail with 503 until it is called again
// with false.
func (s *Server) SetUnavailable(down bool) {
	s.unavailable.Store(down)
}

// Requests returns the number of requests received for path, unavailable
// responses included.
func (s *Server) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests["/"+strings.TrimPrefix(path, "/")]
}

// CopyCharts takes a glob expression and copies those charts to the server root.
func (s *Server) CopyCharts(origin string) ([]string, error) {
	files, err := filepath.Glob(origin)
	if err != nil {
		return []string{}, err
	}
	copied := make([]string, len(files))
	for i, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return []string{}, err
		}
		newname, err := s.WriteFile(filepath.Base(f), data)
		if err != nil {
			return []string{}, err
		}
		copied[i] = newname
	}

	err = s.CreateIndex(true)
	return copied, err
}

// WriteFile stores data at the repository relative path name, creating
// parent directories as needed, and returns the absolute file name.
func (s *Server) WriteFile(name string, data []byte) (string, error) {
	newname := filepath.Join(s.docroot, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(newname), 0755); err != nil {
		return "", err
	}
	return newname, os.WriteFile(newname, data, 0644)
}

// CreateIndex will read every chart package below docroot and generate an
// index.yaml file. When absolute is set the download URLs point at the
// server, otherwise they are relative to the repository root.
func (s *Server) CreateIndex(absolute bool) error {
	index := repo.NewIndexFile()
	err := filepath.Walk(s.docroot, func(name string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() || filepath.Ext(name) != chart.PackageExtension {
			return nil
		}
		attrs, err := loader.LoadFile(name)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.docroot, name)
		if err != nil {
			return err
		}
		u := filepath.ToSlash(rel)
		if absolute {
			u = s.URL() + "/" + u
		}
		return index.Add(&repo.ChartVersion{
			Attributes: attrs,
			URLs:       []string{u},
			Created:    fi.ModTime().UTC().Truncate(time.Second),
			Digest:     digest.FromBytes(data).Encoded(),
		})
	})
	if err != nil {
		return err
	}
	index.SortEntries()

	d, err := repo.Encode(index)
	if err != nil {
		return err
	}
	_, err = s.WriteFile("index.yaml", d)
	return err
}

// Start starts serving the docroot.
func (s *Server) Start() {
	files := http.FileServer(http.Dir(s.docroot))
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[r.URL.Path]++
		s.mu.Unlock()

		if s.unavailable.Load() {
			http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
			return
		}
		if s.middleware != nil {
			s.middleware.ServeHTTP(w, r)
		}
		files.ServeHTTP(w, r)
	}))
}

// Stop stops the server and closes all connections.
//
// It should be called explicitly.
func (s *Server) Stop() {
	s.srv.Close()
}

// URL returns the URL of the server.
//
// Example:
//
//	http://localhost:1776
func (s *Server) URL() string {
	return s.srv.URL
}
