package repo

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pierrec/lz4/v4"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/spicysparks/sparks-client/internal/bundle"
)

var (
	zipMagic = []byte("PK\x03\x04")
	lz4Magic = []byte{0x04, 0x22, 0x4d, 0x18}
)

// unpack extracts archive into dest and returns the slash separated path of
// the entry bundle relative to dest. A download that is neither a zip nor an
// lz4 compressed tar is the entry bundle itself.
func (r *Repository) unpack(archive, dest, bundleName string) (string, error) {
	f, err := r.fs.Open(archive)
	if err != nil {
		return "", bundle.Unknown("open download", err)
	}
	head := make([]byte, 4)
	n, err := io.ReadFull(f, head)
	f.Close()
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", bundle.Unknown("read download", err)
	}
	head = head[:n]

	switch {
	case bytes.Equal(head, zipMagic):
		err = extractZip(r.fs, archive, dest)
	case bytes.Equal(head, lz4Magic):
		err = extractTarLz4(r.fs, archive, dest)
	default:
		err = copyFile(r.fs, archive, filepath.Join(dest, bundleName))
	}
	if err != nil {
		return "", err
	}
	return findEntryBundle(r.fs, dest, bundleName)
}

// safeJoin resolves an archive entry name inside dest.
func safeJoin(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", bundle.InvalidUpdate("unpack package", fmt.Errorf("invalid path in archive: %s", name))
	}
	target := filepath.Join(dest, clean)
	if target != filepath.Clean(dest) && !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", bundle.InvalidUpdate("unpack package", fmt.Errorf("path traversal detected: %s", name))
	}
	return target, nil
}

func extractZip(fsys afero.Fs, archivePath, dest string) error {
	f, err := fsys.Open(archivePath)
	if err != nil {
		return bundle.Unknown("open archive", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return bundle.Unknown("stat archive", err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return bundle.InvalidUpdate("read zip archive", err)
	}

	for _, zf := range zr.File {
		target, err := safeJoin(dest, zf.Name)
		if err != nil {
			return err
		}
		mode := zf.Mode()
		switch {
		case mode.IsDir():
			if err := fsys.MkdirAll(target, 0o755); err != nil {
				return bundle.Unknown("create dir "+zf.Name, err)
			}
		case mode&fs.ModeSymlink != 0:
			log.Warnf("skipping symlink %s in package", zf.Name)
		default:
			rc, err := zf.Open()
			if err != nil {
				return bundle.InvalidUpdate("open "+zf.Name, err)
			}
			err = writeFile(fsys, target, rc, int64(zf.UncompressedSize64), mode.Perm())
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// extractTarLz4 extracts a tar.lz4 archive to the destination directory.
func extractTarLz4(fsys afero.Fs, archivePath, dest string) error {
	f, err := fsys.Open(archivePath)
	if err != nil {
		return bundle.Unknown("open archive", err)
	}
	defer f.Close()

	tarReader := tar.NewReader(lz4.NewReader(f))
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return bundle.InvalidUpdate("read tar header", err)
		}

		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := fsys.MkdirAll(target, 0o755); err != nil {
				return bundle.Unknown("create dir "+header.Name, err)
			}

		case tar.TypeReg:
			if err := writeFile(fsys, target, tarReader, header.Size, os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if filepath.IsAbs(header.Linkname) {
				return bundle.InvalidUpdate("unpack package", fmt.Errorf("absolute symlink not allowed: %s -> %s", header.Name, header.Linkname))
			}
			if _, err := safeJoin(dest, filepath.Join(filepath.Dir(header.Name), header.Linkname)); err != nil {
				return err
			}
			linker, ok := fsys.(afero.Linker)
			if !ok {
				log.Warnf("skipping symlink %s in package", header.Name)
				continue
			}
			_ = fsys.Remove(target)
			if err := linker.SymlinkIfPossible(header.Linkname, target); err != nil {
				return bundle.Unknown("create symlink "+header.Name, err)
			}

		case tar.TypeLink:
			src, err := safeJoin(dest, header.Linkname)
			if err != nil {
				return err
			}
			if err := copyFile(fsys, src, target); err != nil {
				return err
			}

		default:
			// Skip other types (char devices, block devices, etc.)
			continue
		}
	}
	return nil
}

func writeFile(fsys afero.Fs, target string, r io.Reader, size int64, perm fs.FileMode) error {
	if err := fsys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return bundle.Unknown("create parent dir", err)
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := fsys.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return bundle.Unknown("create file", err)
	}
	written, copyErr := io.Copy(out, r)
	closeErr := out.Close()
	if copyErr != nil {
		return bundle.InvalidUpdate("write "+filepath.Base(target), copyErr)
	}
	if size > 0 && written != size {
		return bundle.Unknown("write "+filepath.Base(target), fmt.Errorf("wrote %d of %d bytes (disk full?)", written, size))
	}
	if closeErr != nil {
		return bundle.Unknown("close "+filepath.Base(target), closeErr)
	}
	return nil
}

func copyFile(fsys afero.Fs, src, dst string) error {
	in, err := fsys.Open(src)
	if err != nil {
		return bundle.Unknown("open "+filepath.Base(src), err)
	}
	defer in.Close()
	return writeFile(fsys, dst, in, -1, 0o644)
}

// findEntryBundle returns the first file named bundleName in lexical walk
// order.
func findEntryBundle(fsys afero.Fs, dest, bundleName string) (string, error) {
	var found string
	errFound := errors.New("found")
	err := afero.Walk(fsys, dest, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && info.Name() == bundleName {
			rel, err := filepath.Rel(dest, path)
			if err != nil {
				return err
			}
			found = filepath.ToSlash(rel)
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return "", bundle.Unknown("search entry bundle", err)
	}
	if found == "" {
		return "", bundle.InvalidUpdate("unpack package", fmt.Errorf("package does not contain %s", bundleName))
	}
	return found, nil
}
