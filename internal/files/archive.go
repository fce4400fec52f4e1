package files

import (
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// copyBufferSize is the chunk size used for streamed file writes.
const copyBufferSize = 1 << 20 // 1 MiB

// Compress gzip-compresses the file at path into a sibling file with a
// .gz suffix and deletes the original. The copy is streamed so memory
// stays bounded for large inputs. It returns the path of the compressed
// file.
func Compress(path string) (string, error) {
	gzPath := path + ".gz"

	slog.Debug("Compressing file",
		slog.String("input", path),
		slog.String("output", gzPath))

	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open input %s: %w", path, err)
	}

	out, err := os.Create(gzPath)
	if err != nil {
		in.Close()
		return "", fmt.Errorf("create %s: %w", gzPath, err)
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		in.Close()
		os.Remove(gzPath)
		return "", fmt.Errorf("compress %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		in.Close()
		os.Remove(gzPath)
		return "", fmt.Errorf("finalize gzip stream for %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		in.Close()
		os.Remove(gzPath)
		return "", fmt.Errorf("close %s: %w", gzPath, err)
	}

	in.Close()
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("remove uncompressed input %s: %w", path, err)
	}

	slog.Info("File compressed",
		slog.String("file", filepath.Base(gzPath)))

	return gzPath, nil
}

// ExtractZip extracts the first entry of the archive at archivePath
// into destDir, deletes the archive, and returns the path of the
// extracted file. Bhavcopy archives are published with exactly one
// entry; extra entries are ignored with a warning rather than treated
// as fatal.
func ExtractZip(archivePath, destDir string) (string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("open archive %s: %w", archivePath, err)
	}

	if len(r.File) == 0 {
		r.Close()
		return "", fmt.Errorf("archive %s contains no entries", archivePath)
	}
	if len(r.File) > 1 {
		extras := make([]string, 0, len(r.File)-1)
		for _, f := range r.File[1:] {
			extras = append(extras, f.Name)
		}
		slog.Warn("Archive has unexpected extra entries, extracting first only",
			slog.String("archive", filepath.Base(archivePath)),
			slog.Any("ignored", extras))
	}

	entry := r.File[0]
	// Base strips any directory component so the entry cannot escape destDir.
	extractedPath := filepath.Join(destDir, filepath.Base(entry.Name))

	if err := extractEntry(entry, extractedPath); err != nil {
		r.Close()
		return "", err
	}
	r.Close()

	if err := os.Remove(archivePath); err != nil {
		return "", fmt.Errorf("remove archive %s: %w", archivePath, err)
	}

	slog.Debug("Archive extracted",
		slog.String("archive", filepath.Base(archivePath)),
		slog.String("entry", entry.Name),
		slog.String("path", extractedPath))

	return extractedPath, nil
}

func extractEntry(entry *zip.File, destPath string) error {
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer dst.Close()

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(dst, src, buf); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("extract entry %s: %w", entry.Name, err)
	}

	return dst.Sync()
}

// Exists checks if a file exists at the given path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
