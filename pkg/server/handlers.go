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


package server

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/gorilla/mux"

	"helm.sh/chartrepo/pkg/asset"
	"helm.sh/chartrepo/pkg/hosted"
	"helm.sh/chartrepo/pkg/repository"
)

type repositoryResponse struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Remote string `json:"remote,omitempty"`
}

type assetResponse struct {
	Repository string `json:"repository"`
	Path       string `json:"path"`
	Kind       string `json:"kind"`
	Digest     string `json:"digest"`
	Size       int64  `json:"size"`
}

type chartResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	assetResponse
}

func newAssetResponse(a *asset.Asset) assetResponse {
	return assetResponse{
		Repository: a.Repository,
		Path:       a.Path,
		Kind:       a.Kind.String(),
		Digest:     a.Digest.String(),
		Size:       a.Size,
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "OK\n")
}

func (s *Server) listRepositories(w http.ResponseWriter, r *http.Request) {
	res := []repositoryResponse{}
	for _, repo := range s.manager.List() {
		rr := repositoryResponse{Name: repo.Name, Type: string(repo.Type)}
		if repo.Proxy != nil {
			rr.Remote = repo.Proxy.Remote().Redacted()
		}
		res = append(res, rr)
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) repository(r *http.Request) (*repository.Repository, error) {
	return s.manager.Get(mux.Vars(r)["repo"])
}

// assetPath is the repository relative path of the request.
func assetPath(r *http.Request) string {
	if p, ok := mux.Vars(r)["path"]; ok {
		return p
	}
	return asset.IndexPath
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	repo, err := s.repository(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p := assetPath(r)
	content, err := repo.Get(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", content.ContentType)
	w.Header().Set("ETag", strconv.Quote(content.Digest.Encoded()))
	http.ServeContent(w, r, path.Base(p), content.LastModified, bytes.NewReader(content.Data))
}

func (s *Server) putAsset(w http.ResponseWriter, r *http.Request) {
	f, err := s.hostedFacet(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p := assetPath(r)
	kind, err := repository.Classify(p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var a *asset.Asset
	switch kind {
	case asset.KindPackage:
		a, err = f.UploadAt(r.Context(), p, r.Body)
	case asset.KindProvenance:
		a, err = f.UploadProvenance(r.Context(), p, r.Body)
	default:
		err = &httpError{status: http.StatusMethodNotAllowed, msg: "the index of a hosted repository is built by the server"}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, newAssetResponse(a))
}

// uploadChart accepts a package as the request body, or as the "chart"
// field of a multipart form with an optional "prov" field.
func (s *Server) uploadChart(w http.ResponseWriter, r *http.Request) {
	f, err := s.hostedFacet(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		a, err := f.Upload(r.Context(), r.Body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, newAssetResponse(a))
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, r, &httpError{status: http.StatusBadRequest, msg: err.Error()})
		return
	}
	chartFile, _, err := r.FormFile("chart")
	if err != nil {
		s.writeError(w, r, &httpError{status: http.StatusBadRequest, msg: "multipart form has no chart field"})
		return
	}
	defer chartFile.Close()

	var a *asset.Asset
	if provFile, _, perr := r.FormFile("prov"); perr == nil {
		defer provFile.Close()
		a, err = f.UploadWithProvenance(r.Context(), chartFile, provFile)
	} else {
		a, err = f.Upload(r.Context(), chartFile)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, newAssetResponse(a))
}

// listCharts lists the packages of a hosted repository, optionally only
// those of the charts named by "name" query parameters.
func (s *Server) listCharts(w http.ResponseWriter, r *http.Request) {
	f, err := s.hostedFacet(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	components, err := f.Charts(r.Context(), r.URL.Query()["name"]...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res := make([]chartResponse, 0, len(components))
	for _, a := range components {
		res = append(res, chartResponse{
			Name:          a.Attributes.Name,
			Version:       a.Attributes.Version,
			assetResponse: newAssetResponse(a),
		})
	}
	s.writeJSON(w, http.StatusOK, res)
}

// invalidateIndex schedules a rebuild of the index of a hosted repository.
func (s *Server) invalidateIndex(w http.ResponseWriter, r *http.Request) {
	f, err := s.hostedFacet(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := f.InvalidateIndex(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) deleteAsset(w http.ResponseWriter, r *http.Request) {
	f, err := s.hostedFacet(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p := assetPath(r)
	kind, err := repository.Classify(p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if kind == asset.KindIndex {
		s.writeError(w, r, &httpError{status: http.StatusMethodNotAllowed, msg: "the index of a hosted repository is built by the server"})
		return
	}

	deleted, err := f.Delete(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !deleted {
		s.writeError(w, r, &httpError{status: http.StatusNotFound, msg: p + " not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteChart(w http.ResponseWriter, r *http.Request) {
	f, err := s.hostedFacet(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	deleted, err := f.DeleteComponent(r.Context(), vars["name"], vars["version"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !deleted {
		s.writeError(w, r, &httpError{status: http.StatusNotFound, msg: fmt.Sprintf("chart %s %s not found", vars["name"], vars["version"])})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) hostedFacet(r *http.Request) (*hosted.Facet, error) {
	repo, err := s.repository(r)
	if err != nil {
		return nil, err
	}
	return repo.HostedFacet()
}
