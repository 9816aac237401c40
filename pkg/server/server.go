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
Package server exposes chart repositories over HTTP.

Every repository is served below /repository/<name>/ in the layout Helm
clients expect: the index at index.yaml and packages and provenance files
at the paths the index refers to. Hosted repositories additionally accept
uploads and deletions.
*/
package server // import "helm.sh/chartrepo/pkg/server"

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"helm.sh/chartrepo/pkg/repository"
)

// Route defines a routing table entry to be registered with gorilla/mux.
type Route struct {
	Name        string
	Path        string
	Methods     []string
	HandlerFunc http.HandlerFunc
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for errors and access logs.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithShutdownTimeout bounds how long Serve waits for requests in flight
// once its context is done.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// Server serves the repositories of a manager.
type Server struct {
	manager         *repository.Manager
	log             logrus.FieldLogger
	accessLog       *accessLogWriter
	handler         http.Handler
	shutdownTimeout time.Duration
}

// New returns a server for the repositories of m.
func New(m *repository.Manager, opts ...Option) *Server {
	s := &Server{
		manager:         m,
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		l := logrus.New()
		l.Out = io.Discard
		s.log = l
	}

	router := mux.NewRouter()
	router.StrictSlash(true)
	for _, route := range s.routes() {
		router.NewRoute().
			Name(route.Name).
			Path(route.Path).
			Methods(route.Methods...).
			Handler(route.HandlerFunc)
	}
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, &httpError{status: http.StatusNotFound, msg: "not found"})
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, &httpError{status: http.StatusMethodNotAllowed, msg: "method not allowed"})
	})

	s.accessLog = &accessLogWriter{log: s.log}
	s.handler = handlers.CombinedLoggingHandler(s.accessLog,
		handlers.RecoveryHandler(handlers.RecoveryLogger(s.log))(router))
	return s
}

func (s *Server) routes() []Route {
	get := []string{http.MethodGet, http.MethodHead}
	return []Route{
		{"HealthCheck", "/healthz", get, s.healthCheck},
		{"ListRepositories", "/repository", get, s.listRepositories},
		{"ListCharts", "/repository/{repo}/api/charts", get, s.listCharts},
		{"UploadChart", "/repository/{repo}/api/charts", []string{http.MethodPost}, s.uploadChart},
		{"InvalidateIndex", "/repository/{repo}/api/index", []string{http.MethodPost}, s.invalidateIndex},
		{"DeleteChart", "/repository/{repo}/api/charts/{name}/{version}", []string{http.MethodDelete}, s.deleteChart},
		{"GetIndex", "/repository/{repo}/index.yaml", get, s.getAsset},
		{"GetAsset", "/repository/{repo}/{path:.+}", get, s.getAsset},
		{"PutAsset", "/repository/{repo}/{path:.+}", []string{http.MethodPut}, s.putAsset},
		{"DeleteAsset", "/repository/{repo}/{path:.+}", []string{http.MethodDelete}, s.deleteAsset},
	}
}

// accessLogWriter turns every line written to it into an info message.
// Lines are logged before Write returns.
type accessLogWriter struct {
	log logrus.FieldLogger

	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *accessLogWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Write(p)
	for {
		line, err := l.buf.ReadString('\n')
		if err != nil {
			// keep the partial line for the next write
			l.buf.WriteString(line)
			break
		}
		l.log.Info(strings.TrimSuffix(line, "\n"))
	}
	return len(p), nil
}

// Close logs a trailing partial line.
func (l *accessLogWriter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.buf.Len() > 0 {
		l.log.Info(l.buf.String())
		l.buf.Reset()
	}
	return nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Serve accepts connections on l until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(l)
	}()
	s.log.WithField("addr", l.Addr().String()).Info("serving chart repositories")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down server")
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	return s.Serve(ctx, l)
}

// Close flushes the access log.
func (s *Server) Close() error {
	return s.accessLog.Close()
}
