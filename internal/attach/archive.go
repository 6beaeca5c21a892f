package attach

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode/v2"
)

// extractArchive unpacks one archive file into dir. Member paths are kept
// flat-relative and rejected when they would escape dir.
func extractArchive(path, ext, dir string) error {
	switch ext {
	case ".zip":
		return extractZip(path, dir)
	case ".7z":
		return extract7z(path, dir)
	case ".rar":
		return extractRar(path, dir)
	default:
		return fmt.Errorf("not an archive: %s", ext)
	}
}

func extractZip(path, dir string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer r.Close() //nolint:errcheck // read-only handle

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open zip member %s: %w", f.Name, err)
		}
		err = writeMember(dir, f.Name, rc)
		rc.Close() //nolint:errcheck // read side
		if err != nil {
			return err
		}
	}
	return nil
}

func extract7z(path, dir string) error {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open 7z: %w", err)
	}
	defer r.Close() //nolint:errcheck // read-only handle

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open 7z member %s: %w", f.Name, err)
		}
		err = writeMember(dir, f.Name, rc)
		rc.Close() //nolint:errcheck // read side
		if err != nil {
			return err
		}
	}
	return nil
}

func extractRar(path, dir string) error {
	r, err := rardecode.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open rar: %w", err)
	}
	defer r.Close() //nolint:errcheck // read-only handle

	for {
		hdr, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read rar member: %w", err)
		}
		if hdr.IsDir {
			continue
		}
		if err := writeMember(dir, hdr.Name, r); err != nil {
			return err
		}
	}
}

// writeMember stores one archive member under dir, guarding against path
// traversal in member names.
func writeMember(dir, name string, r io.Reader) error {
	clean := filepath.Clean(name)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return fmt.Errorf("archive member escapes extraction dir: %s", name)
	}
	target := filepath.Join(dir, clean)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create member dir: %w", err)
	}
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create member file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close() //nolint:errcheck // already failing
		return fmt.Errorf("write member %s: %w", name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close member %s: %w", name, err)
	}
	return nil
}
