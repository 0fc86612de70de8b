package repo

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/spicysparks/sparks-client/internal/bundle"
)

// SignatureFile sits at the package root and holds the base64 ed25519
// signature of the package content hash.
const SignatureFile = ".sparkssignature"

// Verifier checks a package signature against its content hash.
type Verifier interface {
	Verify(contentHash string, signature []byte) error
}

type SignatureVerifier struct {
	key ed25519.PublicKey
}

// NewSignatureVerifier parses a PEM encoded ed25519 public key. The block
// may hold either a PKIX structure or the raw 32 key bytes.
func NewSignatureVerifier(pemKey string) (*SignatureVerifier, error) {
	if strings.TrimSpace(pemKey) == "" {
		return nil, bundle.InvalidConfiguration("parse public key", errors.New("specified public key is empty"))
	}
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, bundle.InvalidConfiguration("parse public key", errors.New("no PUBLIC KEY block found"))
	}
	if len(block.Bytes) == ed25519.PublicKeySize {
		return &SignatureVerifier{key: ed25519.PublicKey(block.Bytes)}, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, bundle.InvalidConfiguration("parse public key", err)
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, bundle.InvalidConfiguration("parse public key", fmt.Errorf("unsupported key type %T", parsed))
	}
	return &SignatureVerifier{key: key}, nil
}

func (v *SignatureVerifier) Verify(contentHash string, signature []byte) error {
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(signature)))
	if err != nil {
		return bundle.InvalidUpdate("verify signature", fmt.Errorf("decode signature: %w", err))
	}
	if !ed25519.Verify(v.key, []byte(contentHash), sig) {
		return bundle.InvalidUpdate("verify signature", errors.New("signature does not match package content"))
	}
	return nil
}

// ContentHash is the hex sha256 of the sorted "path:sha256" manifest of
// every file under dir, excluding the signature file at the root.
func ContentHash(fsys afero.Fs, dir string) (string, error) {
	var manifest []string
	err := afero.Walk(fsys, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == SignatureFile || rel == metadataFile {
			return nil
		}
		sum, err := fileSHA256(fsys, path)
		if err != nil {
			return err
		}
		manifest = append(manifest, rel+":"+sum)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("hash package content: %w", err)
	}
	sort.Strings(manifest)
	h := sha256.Sum256([]byte(strings.Join(manifest, "\n")))
	return hex.EncodeToString(h[:]), nil
}

func fileSHA256(fsys afero.Fs, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifyPackage enforces the signature when a verifier is configured. The
// content hash must also equal the package hash the server announced.
func (r *Repository) verifyPackage(folder, packageHash string) error {
	sigPath := filepath.Join(folder, SignatureFile)
	signed, err := afero.Exists(r.fs, sigPath)
	if err != nil {
		return bundle.Unknown("stat signature", err)
	}

	if r.verifier == nil {
		if signed {
			log.Warnf("package %s is signed but no public key is configured, skipping verification", packageHash)
		}
		return nil
	}
	if !signed {
		return bundle.InvalidUpdate("verify package", errors.New("public key is configured but the package is not signed"))
	}

	contentHash, err := ContentHash(r.fs, folder)
	if err != nil {
		return bundle.Unknown("verify package", err)
	}
	if contentHash != packageHash {
		return bundle.InvalidUpdate("verify package", fmt.Errorf("content hash %s does not match package hash %s", contentHash, packageHash))
	}
	sig, err := afero.ReadFile(r.fs, sigPath)
	if err != nil {
		return bundle.Unknown("read signature", err)
	}
	return r.verifier.Verify(contentHash, sig)
}
