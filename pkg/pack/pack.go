// Package pack implements deterministic archival of a repository to a
// single stream and back: saving and reloading reproduces the on-disk
// layout bit-exactly for every content path. The container is a
// zstd-compressed tar stream — tar's format is exactly the ordered
// sequence of named byte blobs with metadata this operation needs.
package pack

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/silo-vc/silo/pkg/errs"
)

// epoch is the fixed modtime stamped on every archived entry so two packs
// of bit-identical repository content produce bit-identical archives
// regardless of when they were packed — only the repository's own content
// and on-disk names determine the archive bytes.
var epoch = time.Unix(0, 0).UTC()

// skipNames are repository-local, environment-specific files that a
// restored repository rebuilds on its own (locks, timestamp caches,
// derived-data caches) and that would otherwise break bit-exactness
// across machines.
var skipNames = map[string]bool{
	"mtimes.db":     true,
	"timestamps.db": true,
	"cache.db":      true,
}

func isSkipped(rel string) bool {
	if rel == "locks" || strings.HasPrefix(rel, "locks"+string(os.PathSeparator)) {
		return true
	}
	base := filepath.Base(rel)
	if skipNames[base] {
		return true
	}
	return strings.HasPrefix(base, ".lock")
}

// Pack walks repoPath and writes a deterministic, zstd-compressed tar
// stream of its content to w. Entries are emitted in sorted path order so
// two identical repository trees always produce byte-identical output.
func Pack(repoPath string, w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return errs.New(errs.Transient, err)
	}
	tw := tar.NewWriter(zw)

	var paths []string
	err = filepath.Walk(repoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(repoPath, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if isSkipped(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return errs.At(errs.Transient, repoPath, err)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		full := filepath.Join(repoPath, rel)
		info, err := os.Lstat(full)
		if err != nil {
			return errs.At(errs.Transient, rel, err)
		}
		if err := writeEntry(tw, full, rel, info); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return errs.New(errs.Transient, err)
	}
	if err := zw.Close(); err != nil {
		return errs.New(errs.Transient, err)
	}
	return nil
}

func writeEntry(tw *tar.Writer, full, rel string, info os.FileInfo) error {
	if info.IsDir() {
		hdr := &tar.Header{
			Name:     rel + "/",
			Typeflag: tar.TypeDir,
			Mode:     0o755,
			ModTime:  epoch,
		}
		return tw.WriteHeader(hdr)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return errs.At(errs.Transient, rel, err)
	}
	hdr := &tar.Header{
		Name:     rel,
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  epoch,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return errs.At(errs.Transient, rel, err)
	}
	if _, err := tw.Write(data); err != nil {
		return errs.At(errs.Transient, rel, err)
	}
	return nil
}

// Unpack reverses Pack: reads a zstd-compressed tar stream from r and
// recreates its directory tree rooted at destPath. The checkout-on-load
// step itself (honoring NoWorkingDir) is left to the caller
// (silo.Load), since it needs the tree/commit/ref stores
// already open against destPath to resolve HEAD.
func Unpack(r io.Reader, destPath string) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return errs.New(errs.Corruption, err)
	}
	defer zr.Close()
	tr := tar.NewReader(zr)

	if err := os.MkdirAll(destPath, 0o755); err != nil {
		return errs.At(errs.Transient, destPath, err)
	}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errs.New(errs.Corruption, err)
		}
		target := filepath.Join(destPath, hdr.Name)
		if !strings.HasPrefix(target, filepath.Clean(destPath)+string(os.PathSeparator)) && target != filepath.Clean(destPath) {
			return errs.At(errs.Invalid, hdr.Name, errNameEscapesDest)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errs.At(errs.Transient, hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errs.At(errs.Transient, hdr.Name, err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return errs.At(errs.Transient, hdr.Name, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return errs.At(errs.Corruption, hdr.Name, err)
			}
			if err := f.Close(); err != nil {
				return errs.At(errs.Transient, hdr.Name, err)
			}
		}
	}
	return nil
}

var errNameEscapesDest = &pathEscapeError{}

type pathEscapeError struct{}

func (*pathEscapeError) Error() string { return "pack: archive entry escapes destination directory" }
