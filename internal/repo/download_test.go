package repo

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/pierrec/lz4/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spicysparks/sparks-client/internal/bundle"
)

const bundleName = "index.android.bundle"

func noWait() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxDownloadAttempts-1)
}

func sortedNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range sortedNames(files) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarLz4Bytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	for _, name := range sortedNames(files) {
		body := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func serve(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadPackage_Formats(t *testing.T) {
	files := map[string]string{
		"payload/" + bundleName: "console.log('v2')",
		"payload/assets/a.png":  "png",
	}
	tests := []struct {
		name  string
		body  []byte
		entry string
	}{
		{name: "raw bundle", body: []byte("console.log('raw')"), entry: bundleName},
		{name: "zip", body: zipBytes(t, files), entry: "payload/" + bundleName},
		{name: "tar.lz4", body: tarLz4Bytes(t, files), entry: "payload/" + bundleName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.body)
			r := New(afero.NewMemMapFs(), home, WithBackOff(noWait))

			var last int64
			pkg, err := r.DownloadPackage(context.Background(), &bundle.Package{
				PackageHash: "h1",
				AppVersion:  "1.0.0",
				DownloadURL: srv.URL + "/pkg",
				IsPending:   true,
			}, bundleName, func(received, total int64) { last = received })
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.body)), last)
			assert.Equal(t, tt.entry, pkg.BundlePath)
			assert.False(t, pkg.IsPending)

			stored, err := r.Package("h1")
			require.NoError(t, err)
			assert.Equal(t, pkg, stored)

			ok, err := afero.Exists(r.fs, filepath.Join(r.packageFolder("h1"), filepath.FromSlash(tt.entry)))
			require.NoError(t, err)
			assert.True(t, ok)

			leftovers, err := afero.Glob(r.fs, filepath.Join(r.root, "download-*.tmp"))
			require.NoError(t, err)
			assert.Empty(t, leftovers)
		})
	}
}

func TestDownloadPackage_RejectsBadContent(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{name: "path traversal", body: zipBytes(t, map[string]string{"../evil.js": "x", bundleName: "y"})},
		{name: "missing entry bundle", body: zipBytes(t, map[string]string{"other.js": "x"})},
		{name: "truncated zip", body: []byte("PK\x03\x04garbage")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.body)
			r := New(afero.NewMemMapFs(), home, WithBackOff(noWait))
			_, err := r.DownloadPackage(context.Background(), &bundle.Package{
				PackageHash: "bad",
				DownloadURL: srv.URL,
			}, bundleName, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, bundle.ErrInvalidUpdate)
			assert.False(t, folderExists(t, r, "bad"))
		})
	}
}

func TestDownloadPackage_InvalidMetadata(t *testing.T) {
	r := New(afero.NewMemMapFs(), home)
	for _, pkg := range []*bundle.Package{
		nil,
		{PackageHash: "", DownloadURL: "http://x"},
		{PackageHash: "../x", DownloadURL: "http://x"},
		{PackageHash: "ok"},
	} {
		_, err := r.DownloadPackage(context.Background(), pkg, bundleName, nil)
		assert.ErrorIs(t, err, bundle.ErrInvalidUpdate)
	}
}

func TestDownloadPackage_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("bundle"))
	}))
	defer srv.Close()

	r := New(afero.NewMemMapFs(), home, WithBackOff(noWait))
	_, err := r.DownloadPackage(context.Background(), &bundle.Package{PackageHash: "h", DownloadURL: srv.URL}, bundleName, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDownloadPackage_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := New(afero.NewMemMapFs(), home, WithBackOff(noWait))
	_, err := r.DownloadPackage(context.Background(), &bundle.Package{PackageHash: "h", DownloadURL: srv.URL}, bundleName, nil)
	require.Error(t, err)
	assert.Equal(t, bundle.KindUnknown, bundle.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, folderExists(t, r, "h"))
}

func signedZip(t *testing.T, priv ed25519.PrivateKey, files map[string]string, tamper bool) (string, []byte) {
	t.Helper()
	staging := afero.NewMemMapFs()
	for name, body := range files {
		require.NoError(t, afero.WriteFile(staging, filepath.Join("/stage", name), []byte(body), 0o644))
	}
	hash, err := ContentHash(staging, "/stage")
	require.NoError(t, err)

	signed := hash
	if tamper {
		signed = "0000"
	}
	withSig := map[string]string{SignatureFile: base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(signed)))}
	for k, v := range files {
		withSig[k] = v
	}
	return hash, zipBytes(t, withSig)
}

func publicKeyPEM(t *testing.T, pub ed25519.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func TestDownloadPackage_Signature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	verifier, err := NewSignatureVerifier(publicKeyPEM(t, pub))
	require.NoError(t, err)
	files := map[string]string{bundleName: "signed", "assets/x.txt": "x"}

	t.Run("valid", func(t *testing.T) {
		hash, body := signedZip(t, priv, files, false)
		srv := serve(t, body)
		r := New(afero.NewMemMapFs(), home, WithVerifier(verifier), WithBackOff(noWait))
		_, err := r.DownloadPackage(context.Background(), &bundle.Package{PackageHash: hash, DownloadURL: srv.URL}, bundleName, nil)
		require.NoError(t, err)
	})

	t.Run("bad signature", func(t *testing.T) {
		hash, body := signedZip(t, priv, files, true)
		srv := serve(t, body)
		r := New(afero.NewMemMapFs(), home, WithVerifier(verifier), WithBackOff(noWait))
		_, err := r.DownloadPackage(context.Background(), &bundle.Package{PackageHash: hash, DownloadURL: srv.URL}, bundleName, nil)
		assert.ErrorIs(t, err, bundle.ErrInvalidUpdate)
	})

	t.Run("hash mismatch", func(t *testing.T) {
		_, body := signedZip(t, priv, files, false)
		srv := serve(t, body)
		r := New(afero.NewMemMapFs(), home, WithVerifier(verifier), WithBackOff(noWait))
		_, err := r.DownloadPackage(context.Background(), &bundle.Package{PackageHash: "announced", DownloadURL: srv.URL}, bundleName, nil)
		assert.ErrorIs(t, err, bundle.ErrInvalidUpdate)
	})

	t.Run("unsigned", func(t *testing.T) {
		srv := serve(t, zipBytes(t, files))
		r := New(afero.NewMemMapFs(), home, WithVerifier(verifier), WithBackOff(noWait))
		_, err := r.DownloadPackage(context.Background(), &bundle.Package{PackageHash: "h", DownloadURL: srv.URL}, bundleName, nil)
		assert.ErrorIs(t, err, bundle.ErrInvalidUpdate)
	})
}

func TestNewSignatureVerifier_InvalidKeys(t *testing.T) {
	for _, key := range []string{"", "   ", "not pem", "-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"} {
		_, err := NewSignatureVerifier(key)
		assert.ErrorIs(t, err, bundle.ErrInvalidConfiguration, "key %q", key)
	}

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	raw := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub}))
	_, err = NewSignatureVerifier(raw)
	assert.NoError(t, err)
}
