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

// Package tlsutil builds TLS client configurations for upstream connections.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// TLSConfigOptions holds the material a TLS configuration is built from.
type TLSConfigOptions struct {
	insecureSkipTLSVerify     bool
	certPEMBlock, keyPEMBlock []byte
	caPEMBlock                []byte
}

// TLSConfigOption sets one piece of TLS material.
type TLSConfigOption func(options *TLSConfigOptions) error

// WithInsecureSkipVerify disables verification of the server certificate.
func WithInsecureSkipVerify(insecureSkipTLSVerify bool) TLSConfigOption {
	return func(options *TLSConfigOptions) error {
		options.insecureSkipTLSVerify = insecureSkipTLSVerify
		return nil
	}
}

// WithCertKeyPairFiles loads a client certificate. Both files empty means no
// client certificate.
func WithCertKeyPairFiles(certFile, keyFile string) TLSConfigOption {
	return func(options *TLSConfigOptions) error {
		if certFile == "" && keyFile == "" {
			return nil
		}

		certPEMBlock, err := os.ReadFile(certFile)
		if err != nil {
			return errors.Wrapf(err, "unable to read cert file: %q", certFile)
		}

		keyPEMBlock, err := os.ReadFile(keyFile)
		if err != nil {
			return errors.Wrapf(err, "unable to read key file: %q", keyFile)
		}

		options.certPEMBlock = certPEMBlock
		options.keyPEMBlock = keyPEMBlock
		return nil
	}
}

// WithCAFile loads the certificate authorities trusted for the server.
func WithCAFile(caFile string) TLSConfigOption {
	return func(options *TLSConfigOptions) error {
		if caFile == "" {
			return nil
		}

		caPEMBlock, err := os.ReadFile(caFile)
		if err != nil {
			return errors.Wrapf(err, "can't read CA file: %q", caFile)
		}

		options.caPEMBlock = caPEMBlock
		return nil
	}
}

// NewTLSConfig builds a client configuration. Every option is applied and
// all of their errors are reported together.
func NewTLSConfig(options ...TLSConfigOption) (*tls.Config, error) {
	to := TLSConfigOptions{}

	var errs *multierror.Error
	for _, option := range options {
		if err := option(&to); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	config := tls.Config{
		InsecureSkipVerify: to.insecureSkipTLSVerify,
	}

	if len(to.certPEMBlock) > 0 && len(to.keyPEMBlock) > 0 {
		cert, err := tls.X509KeyPair(to.certPEMBlock, to.keyPEMBlock)
		if err != nil {
			return nil, errors.Wrap(err, "unable to load cert from key pair")
		}
		config.Certificates = []tls.Certificate{cert}
	}

	if len(to.caPEMBlock) > 0 {
		cp := x509.NewCertPool()
		if !cp.AppendCertsFromPEM(to.caPEMBlock) {
			return nil, errors.New("failed to append certificates from pem block")
		}
		config.RootCAs = cp
	}

	return &config, nil
}
