package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

// Layout is the directory tree of one project under the output root.
type Layout struct {
	Root      string
	Frames    string
	Mosaics   string
	Georef    string
	Rectified string
	KMZ       string
	QC        string
}

// NewLayout derives the project tree for name under outputRoot.
func NewLayout(outputRoot, name string) Layout {
	root := filepath.Join(outputRoot, name)
	georef := filepath.Join(root, "Georeferenced")
	return Layout{
		Root:      root,
		Frames:    filepath.Join(root, "Frames"),
		Mosaics:   filepath.Join(root, "Mosaics"),
		Georef:    georef,
		Rectified: filepath.Join(georef, "Rectified Mosaics"),
		KMZ:       filepath.Join(georef, "KMZ files"),
		QC:        filepath.Join(root, "QC"),
	}
}

// TrackPath is where the normalized track is persisted.
func (l Layout) TrackPath() string {
	return filepath.Join(l.Root, "track.json")
}

// Ensure creates every directory of the layout. Existing directories are kept.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Root, l.Frames, l.Mosaics, l.Georef, l.Rectified, l.KMZ, l.QC} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// RemoveNumbered deletes the numbered images directly in dir and reports how
// many it removed. A missing dir is not an error.
func RemoveNumbered(dir string) (int, error) {
	files, err := NumberedImages(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	for _, path := range files {
		if err := os.Remove(path); err != nil {
			return 0, err
		}
	}
	return len(files), nil
}

// ListByExt returns the regular files directly in dir whose extension is in exts,
// sorted by name. Matching is case-insensitive.
func ListByExt(dir string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		want[strings.ToLower(e)] = struct{}{}
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := want[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// NumberedImages maps the integer stem of every image directly in dir to its path.
// Files whose stem is not an integer are ignored.
func NumberedImages(dir string) (map[int]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		id, err := strconv.Atoi(stem)
		if err != nil || id < 0 {
			continue
		}
		out[id] = filepath.Join(dir, e.Name())
	}
	return out, nil
}

// IsImageFile checks if a file is any supported image format.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, isImage := imageExts[ext]
	return isImage
}
