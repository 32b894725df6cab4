// Package archive lays accepted captures out on disk in dated folders and
// prunes old folders.
package archive

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
)

// Layout constants.
const (
	DayFormat     = "2006-01-02"
	TimeFormat    = "150405"
	Ext           = ".jpg"
	MaxThemeRunes = 50
)

// ErrCollision means a capture with the same name already exists. Callers
// treat it as a skip.
var ErrCollision = errors.New("capture file already exists")

var (
	invalidChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// Saved describes a file written to the archive.
type Saved struct {
	Filename   string
	Path       string
	CapturedAt time.Time
	Theme      string
	Size       int64
}

// Archive owns the screenshots directory.
type Archive struct {
	root string
}

func New(root string) *Archive {
	return &Archive{root: root}
}

// Root returns the screenshots directory.
func (a *Archive) Root() string { return a.root }

// SanitizeTheme makes a theme safe for use in a filename.
func SanitizeTheme(theme string) string {
	s := invalidChars.ReplaceAllString(theme, "_")
	s = whitespace.ReplaceAllString(s, "_")
	if r := []rune(s); len(r) > MaxThemeRunes {
		s = string(r[:MaxThemeRunes])
	}
	return s
}

// PathFor returns the folder and file name for a capture taken at t.
func (a *Archive) PathFor(t time.Time, theme string) (dir, name string) {
	dir = filepath.Join(a.root, t.Format(DayFormat))
	name = t.Format(TimeFormat)
	if s := SanitizeTheme(theme); s != "" {
		name += "_" + s
	}
	return dir, name + Ext
}

// SaveImage encodes img as JPEG at the given quality.
func (a *Archive) SaveImage(img image.Image, t time.Time, theme string, quality int) (Saved, error) {
	return a.write(t, theme, func(w io.Writer) error {
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	})
}

// SaveRaw stores the bytes as captured, for images that could not be decoded.
func (a *Archive) SaveRaw(data []byte, t time.Time, theme string) (Saved, error) {
	return a.write(t, theme, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func (a *Archive) write(t time.Time, theme string, encode func(io.Writer) error) (Saved, error) {
	dir, name := a.PathFor(t, theme)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Saved{}, apperrors.Wrap(err, apperrors.PersistenceWrite, "create capture folder")
	}
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return Saved{}, ErrCollision
	}
	if err != nil {
		return Saved{}, apperrors.Wrap(err, apperrors.PersistenceWrite, "create capture file")
	}

	if err := encode(f); err != nil {
		f.Close()
		os.Remove(path)
		return Saved{}, apperrors.Wrap(err, apperrors.PersistenceWrite, "write capture")
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return Saved{}, apperrors.Wrap(err, apperrors.PersistenceWrite, "close capture")
	}

	info, err := os.Stat(path)
	if err != nil {
		return Saved{}, apperrors.Wrap(err, apperrors.PersistenceWrite, "stat capture")
	}
	return Saved{
		Filename:   name,
		Path:       path,
		CapturedAt: t,
		Theme:      theme,
		Size:       info.Size(),
	}, nil
}

// Remove deletes a single capture file; a missing file is not an error.
func (a *Archive) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Resolve maps path onto a file inside the archive. Relative paths are taken
// from the root. Symlinks are followed before the containment check.
func (a *Archive) Resolve(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.root, path)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperrors.Newf(apperrors.NotFound, "image %s not found", path)
		}
		return "", apperrors.Wrap(err, apperrors.Internal, "resolve image path")
	}
	root, err := filepath.EvalSymlinks(a.root)
	if err != nil {
		return "", apperrors.Newf(apperrors.Forbidden, "%s is outside the screenshots directory", path)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", apperrors.Newf(apperrors.Forbidden, "%s is outside the screenshots directory", path)
	}
	return resolved, nil
}

// CleanupResult summarises a retention pass.
type CleanupResult struct {
	DeletedFiles int   `json:"deletedFiles"`
	DeletedBytes int64 `json:"deletedBytes"`
	DeletedDirs  int   `json:"deletedDirs"`
}

// Cutoff returns the first day kept when retaining days days before now.
func Cutoff(now time.Time, days int) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -days)
}

// Cleanup removes dated folders older than the retention window. Folders
// whose names are not dates are left alone.
func (a *Archive) Cleanup(now time.Time, days int) (CleanupResult, error) {
	var res CleanupResult
	entries, err := os.ReadDir(a.root)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, apperrors.Wrap(err, apperrors.Internal, "list capture folders")
	}

	cutoff := Cutoff(now, days)
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		day, err := time.ParseInLocation(DayFormat, e.Name(), now.Location())
		if err != nil || !day.Before(cutoff) {
			continue
		}

		dir := filepath.Join(a.root, e.Name())
		files, bytes := dirUsage(dir)
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", dir, err))
			continue
		}
		res.DeletedFiles += files
		res.DeletedBytes += bytes
		res.DeletedDirs++
		slog.Info("removed expired capture folder", "dir", e.Name(), "files", files)
	}
	if len(errs) > 0 {
		return res, apperrors.Wrap(errors.Join(errs...), apperrors.PersistenceWrite, "cleanup")
	}
	return res, nil
}

func dirUsage(dir string) (files int, size int64) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if info, err := e.Info(); err == nil {
			files++
			size += info.Size()
		}
	}
	return files, size
}

// IsCollision reports whether err is a name collision.
func IsCollision(err error) bool {
	return errors.Is(err, ErrCollision)
}
