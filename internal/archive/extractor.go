// Package archive handles the zip containers on both ends of the batch
// pipeline: unpacking uploaded input archives and packaging converted output.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"facturx-batch/internal/domain"
)

// Extract unpacks archivePath into destDir, preserving relative paths.
// Entries that would escape destDir are rejected. A corrupt or unreadable
// archive fails the whole job with ErrExtraction.
func Extract(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrExtraction, err)
	}
	defer zr.Close()

	for _, entry := range zr.File {
		if err := extractEntry(entry, destDir); err != nil {
			return fmt.Errorf("%w: entry %q: %v", domain.ErrExtraction, entry.Name, err)
		}
	}
	return nil
}

func extractEntry(entry *zip.File, destDir string) error {
	target := filepath.Join(destDir, filepath.FromSlash(entry.Name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("path escapes destination")
	}
	if entry.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Locate finds the entry named targetName under rootDir. It tries the exact
// path join first; on a miss it walks subdirectories depth-first comparing
// both the full given name and its base name, returning the first match.
// When duplicate base names exist across subdirectories, which one wins is
// unspecified and callers must not rely on it.
func Locate(rootDir, targetName string) (string, error) {
	direct := filepath.Join(rootDir, filepath.FromSlash(targetName))
	if fi, err := os.Stat(direct); err == nil && !fi.IsDir() {
		return direct, nil
	}

	base := filepath.Base(filepath.FromSlash(targetName))
	var found string
	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		name := d.Name()
		if name == targetName || name == base {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", domain.ErrPDFNotFound
	}
	return found, nil
}
