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
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"helm.sh/chartrepo/pkg/chart"
	"helm.sh/chartrepo/pkg/chart/loader"
	"helm.sh/chartrepo/pkg/hosted"
	"helm.sh/chartrepo/pkg/proxy"
	"helm.sh/chartrepo/pkg/repo"
	"helm.sh/chartrepo/pkg/repository"
	"helm.sh/chartrepo/pkg/storage"
)

type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

type errorResponse struct {
	Error string `json:"error"`
}

// statusCode maps an error to the HTTP status it is reported with.
func statusCode(err error) int {
	var (
		herr     *httpError
		verr     chart.ValidationError
		aerr     *loader.ArchiveFormatError
		merr     *loader.ManifestParseError
		perr     *repo.ParseError
		upstream *proxy.UpstreamUnavailableError
	)
	switch {
	case errors.As(err, &herr):
		return herr.status
	case errors.As(err, &verr), errors.As(err, &aerr), errors.As(err, &merr), errors.As(err, &perr),
		errors.Is(err, loader.ErrManifestNotFound):
		return http.StatusBadRequest
	case errors.Is(err, hosted.ErrPermissionDenied):
		return http.StatusForbidden
	case storage.IsNotFound(err), errors.Is(err, repository.ErrUnsupportedPath), errors.Is(err, repository.ErrRepositoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrWrongType):
		return http.StatusMethodNotAllowed
	case errors.Is(err, hosted.ErrChartTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &upstream):
		if upstream.NotFound() {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusCode(err)
	log := s.log.WithFields(logrus.Fields{"method": r.Method, "url": r.URL.String(), "status": status})
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	} else {
		log.WithError(err).Debug("request rejected")
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).Error("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.log.WithError(err).Debug("failed to write response")
	}
}
