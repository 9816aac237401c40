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

package loader

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"helm.sh/chartrepo/pkg/chart"
)

// ChartfileName is the name of the manifest inside a chart archive.
const ChartfileName = "Chart.yaml"

var drivePathPattern = regexp.MustCompile(`^[a-zA-Z]:/`)

// ErrManifestNotFound indicates that the archive is well formed but holds no
// Chart.yaml in its top-level directory.
var ErrManifestNotFound = errors.New("manifest: Chart.yaml not found in chart archive")

// ArchiveFormatError indicates that the package is not a readable gzip
// compressed tar archive, or that its layout is unsafe or ambiguous.
type ArchiveFormatError struct {
	Err error
}

func (e *ArchiveFormatError) Error() string { return "archive: " + e.Err.Error() }

// Unwrap returns the underlying error.
func (e *ArchiveFormatError) Unwrap() error { return e.Err }

// ManifestParseError indicates that the Chart.yaml of a package is not valid YAML.
type ManifestParseError struct {
	Err error
}

func (e *ManifestParseError) Error() string { return "manifest: " + e.Err.Error() }

// Unwrap returns the underlying error.
func (e *ManifestParseError) Unwrap() error { return e.Err }

func archiveError(format string, args ...interface{}) error {
	return &ArchiveFormatError{Err: errors.Errorf(format, args...)}
}

// LoadFile extracts the chart attributes of an archive file.
func LoadFile(name string) (*chart.Attributes, error) {
	if fi, err := os.Stat(name); err != nil {
		return nil, err
	} else if fi.IsDir() {
		return nil, errors.New("cannot load a directory")
	}

	raw, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer raw.Close()

	if err := ensureArchive(name, raw); err != nil {
		return nil, err
	}

	attrs, err := LoadAttributes(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "file '%s' does not appear to be a valid chart file", name)
	}
	return attrs, nil
}

// ensureArchive's job is to return an informative error if the file does not appear to be a gzipped archive.
func ensureArchive(name string, raw *os.File) error {
	defer raw.Seek(0, 0) // reset read offset to allow archive loading to proceed.

	buffer := make([]byte, 512)
	_, err := raw.Read(buffer)
	if err != nil && err != io.EOF {
		return fmt.Errorf("file '%s' cannot be read: %s", name, err)
	}
	if contentType := http.DetectContentType(buffer); contentType != "application/x-gzip" {
		if strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml") {
			return &ArchiveFormatError{Err: fmt.Errorf("file '%s' seems to be a YAML file, but expected a gzipped archive", name)}
		}
		return &ArchiveFormatError{Err: fmt.Errorf("file '%s' does not appear to be a gzipped archive; got '%s'", name, contentType)}
	}
	return nil
}

// LoadAttributes reads a chart package from a gzip compressed tar stream and
// returns the attributes declared by its Chart.yaml.
//
// The archive must hold exactly one Chart.yaml directly inside its top-level
// directory. Manifests of bundled subcharts are deeper and are ignored. The
// path security checks of the chart loader are applied to every entry.
func LoadAttributes(in io.Reader) (*chart.Attributes, error) {
	manifest, err := findManifest(in)
	if err != nil {
		return nil, err
	}

	attrs := new(chart.Attributes)
	if err := yaml.Unmarshal(manifest, attrs); err != nil {
		return nil, &ManifestParseError{Err: errors.Wrap(err, "cannot load Chart.yaml")}
	}
	if err := attrs.Validate(); err != nil {
		return nil, err
	}
	return attrs, nil
}

func findManifest(in io.Reader) ([]byte, error) {
	unzipped, err := gzip.NewReader(in)
	if err != nil {
		return nil, &ArchiveFormatError{Err: err}
	}
	defer unzipped.Close()

	var (
		manifest []byte
		found    string
		entries  int
	)
	tr := tar.NewReader(unzipped)
	for {
		hd, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ArchiveFormatError{Err: err}
		}

		if hd.FileInfo().IsDir() {
			continue
		}

		switch hd.Typeflag {
		// We don't want to process these extension header files.
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			continue
		}

		// Archive could contain \ if generated on Windows
		delimiter := "/"
		if strings.ContainsRune(hd.Name, '\\') {
			delimiter = "\\"
		}

		parts := strings.Split(hd.Name, delimiter)
		if parts[0] == ChartfileName {
			return nil, archiveError("chart yaml not in base directory")
		}
		n := strings.Join(parts[1:], delimiter)

		// Normalize the path to the / delimiter
		n = strings.ReplaceAll(n, delimiter, "/")

		if path.IsAbs(n) {
			return nil, archiveError("chart illegally contains absolute paths")
		}

		n = path.Clean(n)
		if n == "." {
			return nil, archiveError("chart illegally contains content outside the base directory: %q", hd.Name)
		}
		if strings.HasPrefix(n, "..") {
			return nil, archiveError("chart illegally references parent directory")
		}
		if drivePathPattern.MatchString(n) {
			return nil, archiveError("chart contains illegally named files")
		}

		entries++

		if n != ChartfileName {
			continue
		}
		if found != "" {
			return nil, archiveError("chart archive contains more than one Chart.yaml: %q and %q", found, hd.Name)
		}

		b := bytes.NewBuffer(nil)
		if _, err := io.Copy(b, tr); err != nil {
			return nil, &ArchiveFormatError{Err: err}
		}
		manifest = b.Bytes()
		found = hd.Name
	}

	if entries == 0 {
		return nil, archiveError("no files in chart archive")
	}
	if found == "" {
		return nil, ErrManifestNotFound
	}
	return manifest, nil
}
