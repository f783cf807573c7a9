package crash

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultOrphanAge is how old a file without a metadata sibling must be
// before RemoveOrphans deletes it.
const DefaultOrphanAge = 24 * time.Hour

// MetaFile is one metadata file found by ListMetaFiles.
type MetaFile struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// ListMetaFiles returns the regular .meta files in dir, oldest first.
// Ties are ordered by path. A missing directory yields no files.
func ListMetaFiles(dir string) ([]MetaFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list crash directory: %w", err)
	}

	var metas []MetaFile

	for _, entry := range entries {
		if !entry.Type().IsRegular() || filepath.Ext(entry.Name()) != ExtMeta {
			continue
		}

		fi, err := entry.Info()
		if err != nil {
			continue
		}

		metas = append(metas, MetaFile{
			Path:    filepath.Join(dir, entry.Name()),
			ModTime: fi.ModTime(),
			Size:    fi.Size(),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].ModTime.Equal(metas[j].ModTime) {
			return metas[i].ModTime.Before(metas[j].ModTime)
		}

		return metas[i].Path < metas[j].Path
	})

	return metas, nil
}

// ReportFiles returns every file of the record behind metaPath, that is
// each "<basename>.*" sibling including the metadata itself.
func ReportFiles(metaPath string) ([]string, error) {
	dir := filepath.Dir(metaPath)
	prefix := filepath.Base(BasePart(metaPath)) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list crash directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	return files, nil
}

// RemoveReportFiles deletes every file of the record behind metaPath.
func RemoveReportFiles(metaPath string) error {
	files, err := ReportFiles(metaPath)
	if err != nil {
		return err
	}

	var errs []error

	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("remove report files: %w", err)
	}

	return nil
}

// RemoveOrphans deletes regular files in dir that are older than maxAge
// and belong to no metadata file. It returns the removed paths.
func RemoveOrphans(dir string, now time.Time, maxAge time.Duration) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list crash directory: %w", err)
	}

	var removed []string

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		fi, err := entry.Info()
		if err != nil || now.Sub(fi.ModTime()) < maxAge {
			continue
		}

		if hasMetaSibling(path) {
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove orphan: %w", err)
		}

		removed = append(removed, path)
	}

	return removed, nil
}

// hasMetaSibling reports whether some "<stem>.meta" exists for path, where
// stem is path with one or more trailing extensions removed. A compressed
// payload "a.b.c.d.dmp.gz" therefore belongs to "a.b.c.d.meta".
func hasMetaSibling(path string) bool {
	for stem := BasePart(path); stem != path; stem = BasePart(stem) {
		if _, err := os.Stat(stem + ExtMeta); err == nil {
			return true
		}

		path = stem
	}

	return false
}
