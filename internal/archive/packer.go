package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"

	"facturx-batch/internal/domain"
)

// Pack zips every regular file directly under sourceDir (flattened to the
// archive root) into a fresh archive next to sourceDir, using deflate at
// maximum compression. It returns the archive path and its final byte size.
// I/O failure surfaces as ErrPackaging, which is fatal to the batch.
func Pack(sourceDir string) (string, int64, error) {
	outPath := filepath.Clean(sourceDir) + ".zip"
	out, err := os.Create(outPath)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", domain.ErrPackaging, err)
	}

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	size, err := packDir(zw, out, sourceDir)
	if err != nil {
		zw.Close()
		out.Close()
		os.Remove(outPath)
		return "", 0, fmt.Errorf("%w: %v", domain.ErrPackaging, err)
	}
	return outPath, size, nil
}

func packDir(zw *zip.Writer, out *os.File, sourceDir string) (int64, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := addFile(zw, filepath.Join(sourceDir, entry.Name()), entry.Name()); err != nil {
			return 0, err
		}
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}
	fi, err := out.Stat()
	if err != nil {
		out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
