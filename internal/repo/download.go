package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"

	"github.com/spicysparks/sparks-client/internal/bundle"
	"github.com/spicysparks/sparks-client/internal/fsutil"
)

const maxDownloadAttempts = 3

// ProgressFunc is called while a package downloads.
// received: bytes written so far
// total: expected size (-1 if unknown)
type ProgressFunc func(received, total int64)

// DownloadPackage fetches pkg.DownloadURL, unpacks it into the package
// folder and writes the package metadata. Content that cannot be unpacked
// or verified fails with an InvalidUpdate error; transport failures leave
// the repository unchanged.
func (r *Repository) DownloadPackage(ctx context.Context, pkg *bundle.Package, bundleName string, progress ProgressFunc) (*bundle.Package, error) {
	if pkg == nil {
		return nil, bundle.InvalidUpdate("download package", errors.New("no package"))
	}
	hash := pkg.PackageHash
	if hash == "" || hash == "." || hash == ".." || filepath.Base(hash) != hash {
		return nil, bundle.InvalidUpdate("download package", fmt.Errorf("invalid package hash %q", hash))
	}
	if pkg.DownloadURL == "" {
		return nil, bundle.InvalidUpdate("download package", errors.New("package has no download url"))
	}

	if err := r.fs.MkdirAll(r.root, 0o755); err != nil {
		return nil, bundle.Unknown("create package root", err)
	}
	tmp := filepath.Join(r.root, "download-"+ulid.Make().String()+".tmp")
	defer func() {
		if err := r.fs.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Debugf("remove download file %s: %v", tmp, err)
		}
	}()

	log.Infof("downloading package %s from %s", hash, pkg.DownloadURL)
	if err := r.fetch(ctx, pkg.DownloadURL, tmp, progress); err != nil {
		return nil, bundle.Unknown("download package", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	folder := r.packageFolder(hash)
	// leftovers of an interrupted download or install of the same hash
	if err := r.fs.RemoveAll(folder); err != nil {
		return nil, bundle.Unknown("clean package folder", err)
	}
	installed, err := r.unpackAndVerify(tmp, folder, bundleName, pkg)
	if err != nil {
		if rmErr := r.fs.RemoveAll(folder); rmErr != nil {
			log.Warnf("failed to remove partial package %s: %v", hash, rmErr)
		}
		return nil, err
	}
	log.Infof("package %s downloaded, entry bundle %s", hash, installed.BundlePath)
	return installed, nil
}

func (r *Repository) unpackAndVerify(archive, folder, bundleName string, pkg *bundle.Package) (*bundle.Package, error) {
	if err := r.fs.MkdirAll(folder, 0o755); err != nil {
		return nil, bundle.Unknown("create package folder", err)
	}
	entry, err := r.unpack(archive, folder, bundleName)
	if err != nil {
		return nil, err
	}
	if err := r.verifyPackage(folder, pkg.PackageHash); err != nil {
		return nil, err
	}

	installed := pkg.Clone()
	installed.BundlePath = entry
	installed.IsPending = false
	installed.IsDebugOnly = false
	installed.FailedInstall = false
	b, err := json.Marshal(installed)
	if err != nil {
		return nil, bundle.Unknown("encode package metadata", err)
	}
	if err := fsutil.WriteFileAtomic(r.fs, filepath.Join(folder, metadataFile), b); err != nil {
		return nil, bundle.Unknown("write package metadata", err)
	}
	return installed, nil
}

func (r *Repository) fetch(ctx context.Context, url, dest string, progress ProgressFunc) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := r.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			if resp.StatusCode >= http.StatusInternalServerError {
				return err
			}
			return backoff.Permanent(err)
		}

		out, err := r.fs.Create(dest)
		if err != nil {
			return backoff.Permanent(err)
		}
		var reader io.Reader = resp.Body
		if progress != nil {
			reader = &progressReader{
				reader:   resp.Body,
				total:    resp.ContentLength,
				progress: progress,
			}
		}
		_, copyErr := io.Copy(out, reader)
		closeErr := out.Close()
		if copyErr != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return copyErr
		}
		if closeErr != nil {
			return backoff.Permanent(closeErr)
		}
		return nil
	}

	return backoff.RetryNotify(op, backoff.WithContext(r.backOff(), ctx), func(err error, d time.Duration) {
		log.Warnf("package download failed, retrying in %v: %v", d, err)
	})
}

// progressReader wraps a reader to report download progress.
type progressReader struct {
	reader   io.Reader
	total    int64
	current  int64
	progress ProgressFunc
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.current += int64(n)
	if pr.progress != nil {
		pr.progress(pr.current, pr.total)
	}
	return n, err
}
