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

package asset

import (
	"bytes"
	_ "crypto/sha256" // register the canonical digest algorithm
	"io"
	"time"

	"github.com/opencontainers/go-digest"
)

// Content is an immutable, content addressed blob.
type Content struct {
	Data         []byte
	ContentType  string
	Digest       digest.Digest
	LastModified time.Time
}

// NewContent wraps data in a Content addressed by its sha256 digest.
func NewContent(data []byte, contentType string) *Content {
	return &Content{
		Data:         data,
		ContentType:  contentType,
		Digest:       digest.FromBytes(data),
		LastModified: time.Now().UTC(),
	}
}

// Size is the length of the content in bytes.
func (c *Content) Size() int64 { return int64(len(c.Data)) }

// Reader returns a reader over the content. Each call starts at the beginning.
func (c *Content) Reader() io.Reader { return bytes.NewReader(c.Data) }

// Verify reports whether the data still matches the recorded digest.
func (c *Content) Verify() bool {
	if err := c.Digest.Validate(); err != nil {
		return false
	}
	return c.Digest.Algorithm().FromBytes(c.Data) == c.Digest
}
