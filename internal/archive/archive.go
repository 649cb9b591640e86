// Package archive unpacks tile archives stored in the workspace.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"gocloud.dev/blob"
)

// ErrUnsafePath is returned for archive entries that would land outside
// the target directory.
var ErrUnsafePath = errors.New("archive: entry escapes target directory")

var (
	quadrantPattern = regexp.MustCompile(`[a-z]+`)
	sourcePattern   = regexp.MustCompile(`_[A-Z]+\..+$`)
)

// TargetDir returns the directory an archive is extracted into: the
// archive name without quadrant letters and without its source tag and
// extension. Archives of all quadrants of a tile share one directory.
//
//	SU12ne_DTM_EA.zip -> SU12_DTM
func TargetDir(archiveKey string) string {
	name := path.Base(archiveKey)
	name = quadrantPattern.ReplaceAllStringFunc(name, onlyFirst())
	name = sourcePattern.ReplaceAllString(name, "")
	if dir := path.Dir(archiveKey); dir != "." {
		return path.Join(dir, name)
	}
	return name
}

// onlyFirst returns a replacer that drops the first match and keeps the
// rest.
func onlyFirst() func(string) string {
	done := false
	return func(s string) string {
		if done {
			return s
		}
		done = true
		return ""
	}
}

// Extractor unpacks zip archives from one bucket key into a key prefix.
type Extractor struct {
	bucket *blob.Bucket
	logger *slog.Logger
}

// NewExtractor returns an extractor over bucket.
func NewExtractor(bucket *blob.Bucket, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{bucket: bucket, logger: logger.With("component", "archive")}
}

// Extract writes every file of the zip archive at archiveKey under
// targetPrefix and returns the number of files written. Directory entries
// are skipped; entry paths are kept relative to targetPrefix.
func (e *Extractor) Extract(ctx context.Context, archiveKey, targetPrefix string) (int, error) {
	attrs, err := e.bucket.Attributes(ctx, archiveKey)
	if err != nil {
		return 0, fmt.Errorf("archive: stat %s: %w", archiveKey, err)
	}

	zr, err := zip.NewReader(&bucketReaderAt{ctx: ctx, bucket: e.bucket, key: archiveKey}, attrs.Size)
	if err != nil {
		return 0, fmt.Errorf("archive: open %s: %w", archiveKey, err)
	}

	prefix := strings.TrimSuffix(targetPrefix, "/")
	count := 0
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if f.FileInfo().IsDir() {
			continue
		}
		name, err := entryName(f.Name)
		if err != nil {
			return count, fmt.Errorf("archive: %s: %w", archiveKey, err)
		}
		if err := e.writeEntry(ctx, f, path.Join(prefix, name)); err != nil {
			return count, fmt.Errorf("archive: %s: %w", archiveKey, err)
		}
		count++
	}

	e.logger.Info("archive extracted", "archive", archiveKey, "target", prefix, "files", count)
	return count, nil
}

func (e *Extractor) writeEntry(ctx context.Context, f *zip.File, key string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	writeCtx, abort := context.WithCancel(ctx)
	defer abort()

	w, err := e.bucket.NewWriter(writeCtx, key, nil)
	if err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	if _, err := io.Copy(w, rc); err != nil {
		abort()
		w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	return nil
}

// entryName cleans an entry path and rejects anything that would escape
// the target.
func entryName(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	clean := path.Clean(name)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return clean, nil
}

// bucketReaderAt serves zip's random access with range reads.
type bucketReaderAt struct {
	ctx    context.Context
	bucket *blob.Bucket
	key    string
}

func (r *bucketReaderAt) ReadAt(p []byte, off int64) (int, error) {
	rr, err := r.bucket.NewRangeReader(r.ctx, r.key, off, int64(len(p)), nil)
	if err != nil {
		return 0, err
	}
	defer rr.Close()
	n, err := io.ReadFull(rr, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}
