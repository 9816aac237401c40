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


// Package test holds helpers shared by tests: builders for chart packages
// and golden files below testdata/.
package test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var update = flag.Bool("update", false, "rewrite golden files with the current output")

// TestingT is the part of testing.T the helpers use.
type TestingT interface {
	Fatal(...interface{})
	Fatalf(string, ...interface{})
	Helper()
}

// Archive builds a gzip compressed tar stream holding the given files. Keys
// are archive paths, written in lexical order.
func Archive(t TestingT, files map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := &bytes.Buffer{}
	gzw := gzip.NewWriter(buf)
	tw := tar.NewWriter(gzw)
	for _, name := range names {
		body := files[name]
		if err := tw.WriteHeader(&tar.Header{
			Typeflag: tar.TypeReg,
			Name:     name,
			Mode:     0644,
			Size:     int64(len(body)),
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gzw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// ChartArchive builds a minimal chart package for the named chart version.
func ChartArchive(t TestingT, name, version string) []byte {
	t.Helper()
	return Archive(t, map[string]string{
		name + "/Chart.yaml": fmt.Sprintf("apiVersion: v2\nname: %s\nversion: %s\ndescription: A Helm chart for %s\nappVersion: %q\n", name, version, name, version),
		name + "/values.yaml": "replicaCount: 1\n",
	})
}

// AssertGoldenString fails t unless out equals testdata/<name>, ignoring
// CRLF line endings. Run with -update to rewrite the golden file instead.
func AssertGoldenString(t TestingT, out, name string) {
	t.Helper()

	golden := filepath.Join("testdata", name)
	got := strings.ReplaceAll(out, "\r\n", "\n")
	if *update {
		if err := os.WriteFile(golden, []byte(got), 0644); err != nil {
			t.Fatalf("updating golden file: %v", err)
		}
		return
	}

	data, err := os.ReadFile(golden)
	if err != nil {
		t.Fatalf("reading golden file: %v", err)
	}
	if want := strings.ReplaceAll(string(data), "\r\n", "\n"); want != got {
		t.Fatalf("output does not match %s\n\nwant:\n%s\n\ngot:\n%s", golden, want, got)
	}
}
