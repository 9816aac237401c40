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

package blob

import (
	"bytes"
	"context"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
)

var _ Store = (*S3)(nil)

// S3StoreName is the string name of the store.
const S3StoreName = "S3"

// S3Client is the subset of the S3 API the store uses.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options configure the S3 store.
type S3Options struct {
	Bucket string
	// Prefix is prepended to every key.
	Prefix string
	Region string
	// Endpoint overrides the S3 endpoint, e.g. for MinIO.
	Endpoint     string
	UsePathStyle bool
}

// S3 stores blobs as objects of an S3 bucket.
type S3 struct {
	bucket string
	prefix string
	client S3Client
	Log    func(string, ...interface{})
}

// NewS3 loads the default AWS configuration and returns a store writing to
// the configured bucket.
func NewS3(ctx context.Context, opts S3Options, logger func(string, ...interface{})) (*S3, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		logger("failed to load aws sdk configuration with error %v", err)
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(options *s3.Options) {
		if opts.Endpoint != "" {
			options.BaseEndpoint = aws.String(opts.Endpoint)
		}
		options.UsePathStyle = opts.UsePathStyle
	})

	return NewS3WithClient(client, opts.Bucket, opts.Prefix, logger), nil
}

// NewS3WithClient returns a store using client.
func NewS3WithClient(client S3Client, bucket, prefix string, logger func(string, ...interface{})) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix, Log: logger}
}

// Name returns the name of the store.
func (s *S3) Name() string {
	return S3StoreName
}

func (s *S3) key(key string) string {
	return path.Join(s.prefix, key)
}

// Put uploads data under key.
func (s *S3) Put(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
		Body:   bytes.NewReader(data),
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		s.Log("failed to put object %s with error %v", s.key(key), err)
		return err
	}
	return nil
}

// Get downloads the object under key.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	}

	resp, err := s.client.GetObject(ctx, input)
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, errors.Wrap(ErrBlobNotFound, key)
		}
		s.Log("failed to get object %s with error %v", s.key(key), err)
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// Delete removes the object under key. S3 deletes are idempotent, so a
// missing object is not reported.
func (s *S3) Delete(ctx context.Context, key string) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	}
	if _, err := s.client.DeleteObject(ctx, input); err != nil {
		s.Log("failed to delete object %s with error %v", s.key(key), err)
		return err
	}
	return nil
}
