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
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helm.sh/chartrepo/internal/test"
	"helm.sh/chartrepo/pkg/asset"
	"helm.sh/chartrepo/pkg/chart"
	"helm.sh/chartrepo/pkg/chart/loader"
	"helm.sh/chartrepo/pkg/events"
	"helm.sh/chartrepo/pkg/hosted"
	"helm.sh/chartrepo/pkg/proxy"
	"helm.sh/chartrepo/pkg/repo"
	"helm.sh/chartrepo/pkg/repo/repotest"
	"helm.sh/chartrepo/pkg/repository"
	"helm.sh/chartrepo/pkg/storage"
)

type testEnv struct {
	srv      *httptest.Server
	upstream *repotest.Server
	storage  *storage.Storage
}

func newTestEnv(t *testing.T, opts ...repository.ManagerOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	upstream := repotest.NewServer(t.TempDir())
	t.Cleanup(upstream.Stop)
	_, err := upstream.WriteFile("mongodb-7.2.8.tgz", test.ChartArchive(t, "mongodb", "7.2.8"))
	require.NoError(t, err)
	require.NoError(t, upstream.CreateIndex(true))

	s := storage.Init(nil)
	m := repository.NewManager(s, events.New(), opts...)
	t.Cleanup(func() { _ = m.Close() })
	_, err = m.Create(ctx, repository.Config{Name: "charts", Type: repository.TypeHosted, RebuildInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	_, err = m.Create(ctx, repository.Config{Name: "small", Type: repository.TypeHosted, MaxChartSize: 16})
	require.NoError(t, err)
	_, err = m.Create(ctx, repository.Config{Name: "upstream", Type: repository.TypeProxy, RemoteURL: upstream.URL()})
	require.NoError(t, err)

	server := New(m)
	t.Cleanup(func() { _ = server.Close() })
	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, upstream: upstream, storage: s}
}

func (e *testEnv) do(t *testing.T, method, p string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+p, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return data
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var res errorResponse
	require.NoError(t, json.Unmarshal(readBody(t, resp), &res))
	return res.Error
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK\n", string(readBody(t, resp)))
}

func TestListRepositories(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/repository", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res []repositoryResponse
	require.NoError(t, json.Unmarshal(readBody(t, resp), &res))
	assert.Equal(t, []repositoryResponse{
		{Name: "charts", Type: "hosted"},
		{Name: "small", Type: "hosted"},
		{Name: "upstream", Type: "proxy", Remote: env.upstream.URL()},
	}, res)
}

func TestHostedRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	data := test.ChartArchive(t, "mongodb", "7.2.8")

	resp := env.do(t, http.MethodPut, "/repository/charts/mongodb-7.2.8.tgz", bytes.NewReader(data))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created assetResponse
	require.NoError(t, json.Unmarshal(readBody(t, resp), &created))
	assert.Equal(t, "mongodb-7.2.8.tgz", created.Path)
	assert.Equal(t, "package", created.Kind)

	resp = env.do(t, http.MethodGet, "/repository/charts/mongodb-7.2.8.tgz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-tar", resp.Header.Get("Content-Type"))
	assert.Equal(t, data, readBody(t, resp))

	var index *repo.IndexFile
	require.Eventually(t, func() bool {
		resp := env.do(t, http.MethodGet, "/repository/charts/index.yaml", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		i, err := repo.LoadIndex(readBody(t, resp))
		if err != nil || !i.Has("mongodb", "7.2.8") {
			return false
		}
		assert.Equal(t, "text/x-yaml", resp.Header.Get("Content-Type"))
		index = i
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cv, err := index.Get("mongodb", "7.2.8")
	require.NoError(t, err)
	assert.Equal(t, []string{"mongodb-7.2.8.tgz"}, cv.URLs)

	resp = env.do(t, http.MethodPut, "/repository/charts/mongodb-7.2.8.tgz.prov", strings.NewReader("signature\n"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/repository/charts/mongodb-7.2.8.tgz.prov", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))

	resp = env.do(t, http.MethodDelete, "/repository/charts/mongodb-7.2.8.tgz", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodDelete, "/repository/charts/mongodb-7.2.8.tgz", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/repository/charts/mongodb-7.2.8.tgz", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadChart(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/repository/charts/api/charts", bytes.NewReader(test.ChartArchive(t, "nginx", "1.0.0")))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("chart", "redis-2.0.0.tgz")
	require.NoError(t, err)
	_, err = fw.Write(test.ChartArchive(t, "redis", "2.0.0"))
	require.NoError(t, err)
	fw, err = mw.CreateFormFile("prov", "redis-2.0.0.tgz.prov")
	require.NoError(t, err)
	_, err = fw.Write([]byte("signature\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/repository/charts/api/charts", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	for _, p := range []string{"nginx-1.0.0.tgz", "redis-2.0.0.tgz", "redis-2.0.0.tgz.prov"} {
		_, _, err := env.storage.GetAsset(context.Background(), "charts", p)
		assert.NoError(t, err, p)
	}

	resp = env.do(t, http.MethodGet, "/repository/charts/api/charts?name=redis", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var charts []chartResponse
	require.NoError(t, json.Unmarshal(readBody(t, resp), &charts))
	require.Len(t, charts, 1)
	assert.Equal(t, "redis", charts[0].Name)
	assert.Equal(t, "2.0.0", charts[0].Version)
	assert.Equal(t, "redis-2.0.0.tgz", charts[0].Path)

	resp = env.do(t, http.MethodDelete, "/repository/charts/api/charts/redis/2.0.0", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, _, err = env.storage.GetAsset(context.Background(), "charts", "redis-2.0.0.tgz.prov")
	assert.True(t, storage.IsNotFound(err), "provenance is deleted with the chart")

	resp = env.do(t, http.MethodDelete, "/repository/charts/api/charts/redis/2.0.0", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadChartRejectsProvenance(t *testing.T) {
	env := newTestEnv(t, repository.WithPermission(hosted.PermissionFunc(func(_ context.Context, _, p string, action hosted.Action) (bool, error) {
		return action == hosted.ActionRead || !strings.HasSuffix(p, ".prov"), nil
	})))

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("chart", "redis-2.0.0.tgz")
	require.NoError(t, err)
	_, err = fw.Write(test.ChartArchive(t, "redis", "2.0.0"))
	require.NoError(t, err)
	fw, err = mw.CreateFormFile("prov", "redis-2.0.0.tgz.prov")
	require.NoError(t, err)
	_, err = fw.Write([]byte("signature\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/repository/charts/api/charts", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, _, err = env.storage.GetAsset(context.Background(), "charts", "redis-2.0.0.tgz")
	assert.True(t, storage.IsNotFound(err), "the chart is not stored without its provenance")
}

// waitForVersions polls the index of repository until its entries for name
// hold exactly versions, in that order.
func (e *testEnv) waitForVersions(t *testing.T, repository, name string, versions ...string) *repo.IndexFile {
	t.Helper()
	var index *repo.IndexFile
	require.Eventually(t, func() bool {
		resp := e.do(t, http.MethodGet, "/repository/"+repository+"/index.yaml", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		i, err := repo.LoadIndex(readBody(t, resp))
		if err != nil || len(i.Entries[name]) != len(versions) {
			return false
		}
		for n, cv := range i.Entries[name] {
			if cv.Version != versions[n] {
				return false
			}
		}
		index = i
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return index
}

func TestHostedUploadAndDelete(t *testing.T) {
	env := newTestEnv(t)

	for _, version := range []string{"6.0.0", "7.2.8"} {
		resp := env.do(t, http.MethodPost, "/repository/charts/api/charts", bytes.NewReader(test.ChartArchive(t, "mongodb", version)))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	index := env.waitForVersions(t, "charts", "mongodb", "6.0.0", "7.2.8")
	assert.Equal(t, 2, index.Len())

	resp := env.do(t, http.MethodDelete, "/repository/charts/api/charts/mongodb/6.0.0", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	index = env.waitForVersions(t, "charts", "mongodb", "7.2.8")
	assert.Equal(t, 1, index.Len())
	cv, err := index.Get("mongodb", "7.2.8")
	require.NoError(t, err)
	assert.Equal(t, []string{"mongodb-7.2.8.tgz"}, cv.URLs)
}

func TestInvalidateIndex(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// stored behind the repository's back, so no event announces it
	_, err := env.storage.StorePackage(ctx, "charts", asset.NewContent(test.ChartArchive(t, "nginx", "1.0.0"), "application/x-tar"), &chart.Attributes{Name: "nginx", Version: "1.0.0"})
	require.NoError(t, err)

	resp := env.do(t, http.MethodPost, "/repository/charts/api/index", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	env.waitForVersions(t, "charts", "nginx", "1.0.0")

	resp = env.do(t, http.MethodPost, "/repository/upstream/api/index", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/repository/missing/api/index", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ro := newTestEnv(t, repository.WithPermission(hosted.ReadOnly))
	resp = ro.do(t, http.MethodPost, "/repository/charts/api/index", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestProxy(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/repository/upstream/index.yaml", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := readBody(t, resp)
	assert.NotContains(t, string(data), env.upstream.URL())

	resp = env.do(t, http.MethodGet, "/repository/upstream/mongodb-7.2.8.tgz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, test.ChartArchive(t, "mongodb", "7.2.8"), readBody(t, resp))

	resp = env.do(t, http.MethodGet, "/repository/upstream/redis-1.0.0.tgz", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "an upstream 404 is a 404")

	env.upstream.SetUnavailable(true)
	resp = env.do(t, http.MethodGet, "/repository/upstream/nginx-1.0.0.tgz", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, errorMessage(t, resp), "nginx-1.0.0.tgz")

	// cached
	resp = env.do(t, http.MethodGet, "/repository/upstream/mongodb-7.2.8.tgz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/repository/upstream/mongodb-7.2.8.tgz", bytes.NewReader(test.ChartArchive(t, "mongodb", "7.2.8")))
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp = env.do(t, http.MethodDelete, "/repository/upstream/mongodb-7.2.8.tgz", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestErrors(t *testing.T) {
	env := newTestEnv(t)
	archive := test.ChartArchive(t, "mongodb", "7.2.8")

	tests := []struct {
		name   string
		method string
		path   string
		body   []byte
		status int
	}{
		{"unknown repository", http.MethodGet, "/repository/missing/index.yaml", nil, http.StatusNotFound},
		{"unsupported path", http.MethodGet, "/repository/charts/README.md", nil, http.StatusNotFound},
		{"missing asset", http.MethodGet, "/repository/charts/redis-1.0.0.tgz", nil, http.StatusNotFound},
		{"not an archive", http.MethodPut, "/repository/charts/mongodb-7.2.8.tgz", []byte("name: mongodb\n"), http.StatusBadRequest},
		{"path does not match chart", http.MethodPut, "/repository/charts/redis-7.2.8.tgz", archive, http.StatusBadRequest},
		{"manifest missing", http.MethodPost, "/repository/charts/api/charts", test.Archive(t, map[string]string{"mongodb/values.yaml": "a: b\n"}), http.StatusBadRequest},
		{"provenance without version", http.MethodPut, "/repository/charts/mongodb.tgz.prov", []byte("sig"), http.StatusBadRequest},
		{"index upload", http.MethodPut, "/repository/charts/index.yaml", []byte("apiVersion: v1\n"), http.StatusMethodNotAllowed},
		{"index delete", http.MethodDelete, "/repository/charts/index.yaml", nil, http.StatusMethodNotAllowed},
		{"too large", http.MethodPut, "/repository/small/mongodb-7.2.8.tgz", archive, http.StatusRequestEntityTooLarge},
		{"unknown route", http.MethodGet, "/charts/index.yaml", nil, http.StatusNotFound},
		{"wrong method", http.MethodPost, "/healthz", nil, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != nil {
				body = bytes.NewReader(tt.body)
			}
			resp := env.do(t, tt.method, tt.path, body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, errorMessage(t, resp))
		})
	}
}

func TestPermissionDenied(t *testing.T) {
	env := newTestEnv(t, repository.WithPermission(hosted.ReadOnly))

	resp := env.do(t, http.MethodPut, "/repository/charts/mongodb-7.2.8.tgz", bytes.NewReader(test.ChartArchive(t, "mongodb", "7.2.8")))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, errorMessage(t, resp), "permission denied")

	resp = env.do(t, http.MethodGet, "/repository/charts/mongodb-7.2.8.tgz", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{chart.ValidationError("bad"), http.StatusBadRequest},
		{&loader.ArchiveFormatError{Err: io.ErrUnexpectedEOF}, http.StatusBadRequest},
		{&loader.ManifestParseError{Err: io.ErrUnexpectedEOF}, http.StatusBadRequest},
		{loader.ErrManifestNotFound, http.StatusBadRequest},
		{&repo.ParseError{Err: io.ErrUnexpectedEOF}, http.StatusBadRequest},
		{&hosted.PermissionError{Repository: "charts", Path: "a.tgz", Action: hosted.ActionWrite}, http.StatusForbidden},
		{repository.ErrUnsupportedPath, http.StatusNotFound},
		{repository.ErrRepositoryNotFound, http.StatusNotFound},
		{repository.ErrWrongType, http.StatusMethodNotAllowed},
		{hosted.ErrChartTooLarge, http.StatusRequestEntityTooLarge},
		{&proxy.UpstreamUnavailableError{URL: "http://example.com/a.tgz", StatusCode: http.StatusNotFound}, http.StatusNotFound},
		{&proxy.UpstreamUnavailableError{URL: "http://example.com/a.tgz", StatusCode: http.StatusServiceUnavailable}, http.StatusBadGateway},
		{&proxy.UpstreamUnavailableError{URL: "http://example.com/a.tgz", Err: io.EOF}, http.StatusBadGateway},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusCode(tt.err), "%v", tt.err)
	}
}

func TestAccessLogWriter(t *testing.T) {
	out := &bytes.Buffer{}
	log := logrus.New()
	log.Out = out
	log.Formatter = &logrus.TextFormatter{DisableTimestamp: true}

	w := &accessLogWriter{log: log}
	n, err := w.Write([]byte("GET /healthz 200\nGET /repo"))
	require.NoError(t, err)
	assert.Equal(t, 26, n)
	assert.Equal(t, "level=info msg=\"GET /healthz 200\"\n", out.String(), "complete lines are logged before Write returns")

	_, err = w.Write([]byte("sitory 200\n"))
	require.NoError(t, err)
	assert.Contains(t, out.String(), `msg="GET /repository 200"`)

	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Contains(t, out.String(), "msg=partial")
}
