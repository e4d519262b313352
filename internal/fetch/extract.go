package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"maenroll/internal/core"
)

// maxEntrySize bounds one expanded archive entry.
var maxEntrySize int64 = maxDownload * 4

// Result describes one fetched period.
type Result struct {
	Period core.PeriodKey
	URL    string
	Files  []string
	// Skipped is set when the period directory already held files.
	Skipped bool
}

// PeriodDir is where period's raw files live below dataDir.
func PeriodDir(dataDir string, period core.PeriodKey) string {
	return filepath.Join(dataDir, string(period))
}

// HasFiles reports whether dir exists and contains at least one entry.
func HasFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

// Fetch downloads period's extract into dataDir/period. A zip archive is
// expanded there; anything else is saved as MA_Enrollment_SCC_<period>.csv.
// A period directory that already has files is left alone.
func (c *Client) Fetch(ctx context.Context, dataDir string, period core.PeriodKey) (Result, error) {
	dir := PeriodDir(dataDir, period)
	if HasFiles(dir) {
		slog.InfoContext(ctx, "Period already downloaded", "period", period, "dir", dir)
		return Result{Period: period, Skipped: true}, nil
	}

	link, err := c.DownloadURL(ctx, period)
	if err != nil {
		return Result{Period: period}, err
	}
	slog.InfoContext(ctx, "Downloading extract", "period", period, "url", link)
	body, err := c.Download(ctx, period, link)
	if err != nil {
		return Result{Period: period, URL: link}, err
	}

	files, err := Store(dir, period, link, body)
	if err != nil {
		return Result{Period: period, URL: link}, &core.FetchError{Period: period, URL: link, Err: err}
	}
	slog.InfoContext(ctx, "Extract saved", "period", period, "files", len(files))
	return Result{Period: period, URL: link, Files: files}, nil
}

// Store writes a downloaded body into dir. Bodies from .zip links are
// expanded into a temporary sibling directory that is renamed into place
// once every entry is written; a body that does not open as an archive
// falls back to a raw save. A failed extraction leaves dir absent.
func Store(dir string, period core.PeriodKey, link string, body []byte) ([]string, error) {
	if isZipLink(link) {
		if _, err := zip.NewReader(bytes.NewReader(body), int64(len(body))); err == nil {
			return storeArchive(dir, body)
		}
		slog.Warn("Download is not a zip archive, saving raw body", "period", period, "url", link)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create period dir: %w", err)
	}
	out := filepath.Join(dir, fmt.Sprintf("MA_Enrollment_SCC_%s.csv", period))
	if err := os.WriteFile(out, body, 0o644); err != nil {
		return nil, fmt.Errorf("write extract: %w", err)
	}
	return []string{out}, nil
}

func storeArchive(dir string, archive []byte) ([]string, error) {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+"-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	staged, err := Unzip(archive, tmp)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		return nil, fmt.Errorf("chmod staging dir: %w", err)
	}
	// An empty leftover period directory would block the rename.
	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replace period dir: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return nil, fmt.Errorf("move extract into place: %w", err)
	}

	files := make([]string, len(staged))
	for i, f := range staged {
		files[i] = filepath.Join(dir, filepath.Base(f))
	}
	return files, nil
}

func isZipLink(link string) bool {
	l := strings.ToLower(link)
	if i := strings.IndexAny(l, "?#"); i >= 0 {
		l = l[:i]
	}
	return strings.HasSuffix(l, ".zip")
}

// Unzip expands archive into dir. Entry paths are flattened to their base
// names so nothing can be written outside dir.
func Unzip(archive []byte, dir string) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	var files []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entry := strings.ReplaceAll(f.Name, `\`, "/")
		name := path.Base(entry)
		if name == "." || name == "/" || name == ".." ||
			strings.HasPrefix(entry, "__MACOSX/") || strings.HasPrefix(name, "._") {
			continue
		}
		out := filepath.Join(dir, name)
		if err := extractFile(f, out); err != nil {
			return files, err
		}
		files = append(files, out)
	}
	return files, nil
}

func extractFile(f *zip.File, out string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	w, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	n, err := io.Copy(w, io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		w.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	if n > maxEntrySize {
		w.Close()
		return fmt.Errorf("extract %s: entry exceeds %d bytes", f.Name, maxEntrySize)
	}
	return w.Close()
}
