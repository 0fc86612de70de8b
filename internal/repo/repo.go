// Package repo manages installed packages on disk: one folder per package
// hash plus an index naming the current and previous package.
package repo

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/spicysparks/sparks-client/internal/bundle"
	"github.com/spicysparks/sparks-client/internal/fsutil"
)

const (
	// DirName is the folder under the home directory holding all packages.
	DirName      = "Sparks"
	indexFile    = "sparks.json"
	metadataFile = "app.json"
)

type index struct {
	CurrentPackage  string `json:"currentPackage,omitempty"`
	PreviousPackage string `json:"previousPackage,omitempty"`
}

// HTTPDoer interface for HTTP requests (allows mocking in tests).
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Repository is safe for concurrent use; mutations are serialized.
type Repository struct {
	mu       sync.Mutex
	fs       afero.Fs
	root     string
	http     HTTPDoer
	verifier Verifier
	backOff  func() backoff.BackOff
}

type Option func(*Repository)

func WithHTTPClient(h HTTPDoer) Option {
	return func(r *Repository) { r.http = h }
}

// WithVerifier requires every downloaded package to carry a valid signature.
func WithVerifier(v Verifier) Option {
	return func(r *Repository) { r.verifier = v }
}

// WithBackOff replaces the retry policy used for downloads.
func WithBackOff(b func() backoff.BackOff) Option {
	return func(r *Repository) { r.backOff = b }
}

func New(fsys afero.Fs, home string, opts ...Option) *Repository {
	r := &Repository{
		fs:   fsys,
		root: filepath.Join(home, DirName),
		http: &http.Client{
			Timeout: 0, // packages can be large
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		backOff: defaultBackOff,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return backoff.WithMaxRetries(b, maxDownloadAttempts-1)
}

// Root returns the folder holding all packages.
func (r *Repository) Root() string { return r.root }

func (r *Repository) packageFolder(hash string) string {
	return filepath.Join(r.root, hash)
}

func (r *Repository) readIndex() (index, error) {
	var idx index
	b, err := afero.ReadFile(r.fs, filepath.Join(r.root, indexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return idx, bundle.Unknown("read package index", err)
	}
	if err := json.Unmarshal(b, &idx); err != nil {
		return idx, bundle.MalformedData("parse package index", err)
	}
	return idx, nil
}

func (r *Repository) writeIndex(idx index) error {
	b, err := json.Marshal(idx)
	if err != nil {
		return bundle.Unknown("encode package index", err)
	}
	if err := fsutil.WriteFileAtomic(r.fs, filepath.Join(r.root, indexFile), b); err != nil {
		return bundle.Unknown("write package index", err)
	}
	return nil
}

// CurrentPackageHash returns "" when no package is installed.
func (r *Repository) CurrentPackageHash() (string, error) {
	idx, err := r.readIndex()
	return idx.CurrentPackage, err
}

func (r *Repository) PreviousPackageHash() (string, error) {
	idx, err := r.readIndex()
	return idx.PreviousPackage, err
}

// Package returns the metadata of an installed package, or nil when the
// folder or its metadata does not exist.
func (r *Repository) Package(hash string) (*bundle.Package, error) {
	if hash == "" {
		return nil, nil
	}
	b, err := afero.ReadFile(r.fs, filepath.Join(r.packageFolder(hash), metadataFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, bundle.Unknown("read package metadata", err)
	}
	var pkg bundle.Package
	if err := json.Unmarshal(b, &pkg); err != nil {
		return nil, bundle.MalformedData("parse package metadata", err)
	}
	return &pkg, nil
}

func (r *Repository) CurrentPackage() (*bundle.Package, error) {
	hash, err := r.CurrentPackageHash()
	if err != nil {
		return nil, err
	}
	return r.Package(hash)
}

func (r *Repository) PreviousPackage() (*bundle.Package, error) {
	hash, err := r.PreviousPackageHash()
	if err != nil {
		return nil, err
	}
	return r.Package(hash)
}

// CurrentPackageFolder returns "" when no package is installed.
func (r *Repository) CurrentPackageFolder() (string, error) {
	hash, err := r.CurrentPackageHash()
	if err != nil || hash == "" {
		return "", err
	}
	return r.packageFolder(hash), nil
}

// CurrentPackageBundlePath returns the entry bundle of the current package,
// or "" when no package is installed.
func (r *Repository) CurrentPackageBundlePath(bundleName string) (string, error) {
	pkg, err := r.CurrentPackage()
	if err != nil || pkg == nil {
		return "", err
	}
	rel := pkg.BundlePath
	if rel == "" {
		rel = bundleName
	}
	return filepath.Join(r.packageFolder(pkg.PackageHash), filepath.FromSlash(rel)), nil
}

// InstallPackage makes pkg the current package. When currentIsPending is
// true the unconfirmed current package is discarded instead of becoming the
// previous one, so the last confirmed package stays available for rollback.
func (r *Repository) InstallPackage(pkg *bundle.Package, currentIsPending bool) error {
	if pkg == nil || pkg.PackageHash == "" {
		return bundle.Unknown("install package", errors.New("package has no hash"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.readIndex()
	if err != nil {
		return err
	}
	if idx.CurrentPackage == pkg.PackageHash {
		return nil
	}

	if currentIsPending {
		if idx.CurrentPackage != "" {
			r.removeFolder(idx.CurrentPackage)
		}
	} else {
		if idx.PreviousPackage != "" && idx.PreviousPackage != pkg.PackageHash {
			r.removeFolder(idx.PreviousPackage)
		}
		idx.PreviousPackage = idx.CurrentPackage
	}
	idx.CurrentPackage = pkg.PackageHash
	return r.writeIndex(idx)
}

// RollbackPackage discards the current package and restores the previous one.
func (r *Repository) RollbackPackage() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.readIndex()
	if err != nil {
		return err
	}
	if idx.CurrentPackage != "" {
		r.removeFolder(idx.CurrentPackage)
	}
	idx.CurrentPackage = idx.PreviousPackage
	idx.PreviousPackage = ""
	return r.writeIndex(idx)
}

// ClearUpdates removes every package and the index.
func (r *Repository) ClearUpdates() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fs.RemoveAll(r.root); err != nil {
		return bundle.Unknown("clear updates", err)
	}
	return nil
}

func (r *Repository) removeFolder(hash string) {
	if err := r.fs.RemoveAll(r.packageFolder(hash)); err != nil {
		log.Warnf("failed to remove package folder %s: %v", hash, err)
	}
}
