// Package workspace stores downloaded archives, extracted cells, rasters
// and mosaic descriptors in a blob bucket.
//
// The workspace is addressed by a gocloud bucket URL (file://, s3://,
// gs://, mem://) or a plain directory path. Keys are flat names relative
// to the workspace root: "SU12_DTM_EA.zip", "SU12_DTM/su1020_DTM_2m.asc",
// "SU12_DTM.vrt".
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/hipims/modelbuilder/pkg/raster"
)

// DefaultLocation is used when no workspace is configured.
const DefaultLocation = "file://./download"

// ErrUnavailable is returned when the workspace cannot be opened or
// created. It is permanent for the run.
var ErrUnavailable = errors.New("workspace: unavailable")

// Workspace is the shared working area for tiles and domains.
type Workspace struct {
	bucket   *blob.Bucket
	location string
	dir      string
}

// Open opens the workspace at location, creating a local directory once
// if it is missing.
func Open(ctx context.Context, location string) (*Workspace, error) {
	if location == "" {
		location = DefaultLocation
	}

	dir, local := localDir(location)
	if !local {
		bucket, err := blob.OpenBucket(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, location, err)
		}
		return &Workspace{bucket: bucket, location: location}, nil
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, location, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrUnavailable, abs, err)
	}
	bucket, err := fileblob.OpenBucket(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, abs, err)
	}
	return &Workspace{bucket: bucket, location: location, dir: abs}, nil
}

// New wraps an open bucket.
func New(bucket *blob.Bucket) *Workspace {
	return &Workspace{bucket: bucket, location: "bucket"}
}

// localDir reports whether location names a local directory and which.
func localDir(location string) (string, bool) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		return location, true
	}
	if u.Scheme != "file" {
		return "", false
	}
	// file://./download keeps "." in the host.
	return u.Host + u.Path, true
}

// Bucket returns the underlying bucket.
func (w *Workspace) Bucket() *blob.Bucket { return w.bucket }

// Location returns the location the workspace was opened with.
func (w *Workspace) Location() string { return w.location }

// Dir returns the local directory backing the workspace, or "" for remote
// buckets.
func (w *Workspace) Dir() string { return w.dir }

// Rasters returns a raster store over the workspace.
func (w *Workspace) Rasters() *raster.BucketProvider {
	return raster.NewBucketProvider(w.bucket)
}

// Close releases the bucket.
func (w *Workspace) Close() error { return w.bucket.Close() }

// Exists reports whether key is present.
func (w *Workspace) Exists(ctx context.Context, key string) (bool, error) {
	return w.bucket.Exists(ctx, key)
}

// AllExist reports whether every key is present.
func (w *Workspace) AllExist(ctx context.Context, keys ...string) (bool, error) {
	for _, k := range keys {
		ok, err := w.Exists(ctx, k)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// DirExists reports whether at least one key lives under dir.
func (w *Workspace) DirExists(ctx context.Context, dir string) (bool, error) {
	iter := w.bucket.List(&blob.ListOptions{Prefix: strings.TrimSuffix(dir, "/") + "/"})
	_, err := iter.Next(ctx)
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Glob returns the sorted keys directly under dir ("" for the root) whose
// base name matches pattern (path.Match syntax). Subdirectories are not
// descended into.
func (w *Workspace) Glob(ctx context.Context, dir, pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("workspace: glob %q: %w", pattern, err)
	}
	prefix := ""
	if dir != "" {
		prefix = strings.TrimSuffix(dir, "/") + "/"
	}

	var out []string
	iter := w.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("workspace: list %q: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		if ok, _ := path.Match(pattern, path.Base(obj.Key)); ok {
			out = append(out, obj.Key)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Dirs returns the sorted directory names directly under the root whose
// name matches pattern.
func (w *Workspace) Dirs(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := w.bucket.List(&blob.ListOptions{Delimiter: "/"})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("workspace: list: %w", err)
		}
		if !obj.IsDir {
			continue
		}
		name := strings.TrimSuffix(obj.Key, "/")
		if ok, _ := path.Match(pattern, name); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Delete removes key. A missing key is not an error.
func (w *Workspace) Delete(ctx context.Context, key string) error {
	if err := w.bucket.Delete(ctx, key); err != nil && !isNotExist(err) {
		return fmt.Errorf("workspace: delete %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every key beginning with prefix and returns how
// many were removed.
func (w *Workspace) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("workspace: refusing to delete with an empty prefix")
	}
	return w.deleteKeys(ctx, prefix)
}

// DeleteAll empties the workspace.
func (w *Workspace) DeleteAll(ctx context.Context) (int, error) {
	return w.deleteKeys(ctx, "")
}

func (w *Workspace) deleteKeys(ctx context.Context, prefix string) (int, error) {
	var keys []string
	iter := w.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("workspace: list %q: %w", prefix, err)
		}
		keys = append(keys, obj.Key)
	}

	deleted := 0
	for _, k := range keys {
		if err := w.Delete(ctx, k); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// Empty reports whether the workspace holds no keys at all.
func (w *Workspace) Empty(ctx context.Context) (bool, error) {
	iter := w.bucket.List(nil)
	_, err := iter.Next(ctx)
	if err == io.EOF {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("workspace: list: %w", err)
	}
	return false, nil
}

// Clean removes every artifact of a tile: archives of the tile and its
// quadrants, extracted directories and mosaic descriptors.
func (w *Workspace) Clean(ctx context.Context, tileID string) (int, error) {
	return w.DeletePrefix(ctx, tileID)
}

// Copy duplicates src to dst within the workspace.
func (w *Workspace) Copy(ctx context.Context, dst, src string) error {
	if err := w.bucket.Copy(ctx, dst, src, nil); err != nil {
		return fmt.Errorf("workspace: copy %s to %s: %w", src, dst, err)
	}
	return nil
}

// CopyTo streams src of this workspace to dstKey of dst.
func (w *Workspace) CopyTo(ctx context.Context, dst *Workspace, dstKey, src string) error {
	r, err := w.bucket.NewReader(ctx, src, nil)
	if err != nil {
		return fmt.Errorf("workspace: open %s: %w", src, err)
	}
	defer r.Close()

	writeCtx, abort := context.WithCancel(ctx)
	defer abort()
	wr, err := dst.bucket.NewWriter(writeCtx, dstKey, nil)
	if err != nil {
		return fmt.Errorf("workspace: create %s: %w", dstKey, err)
	}
	if _, err := io.Copy(wr, r); err != nil {
		abort()
		wr.Close()
		return fmt.Errorf("workspace: copy %s: %w", src, err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("workspace: write %s: %w", dstKey, err)
	}
	return nil
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
