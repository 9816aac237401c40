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

package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCertificate writes a self signed certificate and its key to dir.
func writeCertificate(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "chartrepo test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "crt.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600))
	return certFile, keyFile
}

func TestNewTLSConfig(t *testing.T) {
	certFile, keyFile := writeCertificate(t, t.TempDir())

	cfg, err := NewTLSConfig(
		WithInsecureSkipVerify(false),
		WithCertKeyPairFiles(certFile, keyFile),
		WithCAFile(certFile),
	)
	if err != nil {
		t.Fatalf("error building tls client config: %v", err)
	}

	if got := len(cfg.Certificates); got != 1 {
		t.Fatalf("expecting 1 client certificates, got %d", got)
	}
	if cfg.InsecureSkipVerify {
		t.Fatalf("insecure skip verify mismatch, expecting false")
	}
	if cfg.RootCAs == nil {
		t.Fatalf("mismatch tls RootCAs, expecting non-nil")
	}
}

func TestNewTLSConfigDefaults(t *testing.T) {
	cfg, err := NewTLSConfig(WithCertKeyPairFiles("", ""), WithCAFile(""), WithInsecureSkipVerify(true))
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)
	assert.Empty(t, cfg.Certificates)
	assert.Nil(t, cfg.RootCAs)
}

func TestNewTLSConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewTLSConfig(
		WithCertKeyPairFiles(filepath.Join(dir, "missing.pem"), filepath.Join(dir, "missing.key")),
		WithCAFile(filepath.Join(dir, "missing.crt")),
	)
	require.Error(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok, "expected a multierror, got %T", err)
	assert.Len(t, merr.Errors, 2)

	garbage := filepath.Join(dir, "garbage.crt")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0600))
	_, err = NewTLSConfig(WithCAFile(garbage))
	assert.EqualError(t, err, "failed to append certificates from pem block")

	_, err = NewTLSConfig(WithCertKeyPairFiles(garbage, garbage))
	assert.Error(t, err)
}
