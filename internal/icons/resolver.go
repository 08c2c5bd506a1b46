// Package icons turns symbolic icon names into image files a notification
// service can display, caching themed icons on disk.
package icons

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	logx "sysnotifier/pkg/logx"
)

// RasterWidth is the pixel width of icons rasterized from SVG.
const RasterWidth = 256

var errNotFound = errors.New("icon not found in theme")

// Resolver maps icon names to files. Theme and cache directories are fixed
// at construction; the cache is created on first write and never evicted.
type Resolver struct {
	themeDir string
	cacheDir string
	log      logx.Logger
}

func New(themeDir, cacheDir string, log logx.Logger) *Resolver {
	if abs, err := filepath.Abs(cacheDir); err == nil {
		cacheDir = abs
	}
	return &Resolver{themeDir: themeDir, cacheDir: cacheDir, log: log}
}

func (r *Resolver) ThemeDir() string { return r.themeDir }
func (r *Resolver) CacheDir() string { return r.cacheDir }

// Resolve returns an absolute path for name, or "" when no usable file
// exists. Lookup order:
//  1. name itself is an existing file
//  2. <cache>/<name>.png
//  3. the first theme file whose base name starts with name; SVGs are
//     rasterized to <cache>/<name>.png, other files copied into the cache
func (r *Resolver) Resolve(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	if p, ok := existingFile(name); ok {
		return p
	}

	if p, ok := existingFile(filepath.Join(r.cacheDir, name+".png")); ok {
		return p
	}

	src, err := r.find(name)
	if err != nil {
		r.log.Warn("cannot find icon", logx.String("icon", name), logx.String("theme_dir", r.themeDir), logx.Err(err))
		return ""
	}
	r.log.Debug("using icon", logx.String("icon", name), logx.String("path", src))

	var dst string
	switch ext := strings.ToLower(filepath.Ext(src)); ext {
	case ".svg", ".svgz":
		dst, err = r.rasterize(name, src, ext == ".svgz")
		if err != nil {
			r.log.Warn("cannot convert icon file", logx.String("icon", name), logx.String("path", src), logx.Err(err))
			return ""
		}
	default:
		dst, err = r.copyToCache(src)
		if err != nil {
			r.log.Warn("cannot copy icon file", logx.String("icon", name), logx.String("path", src), logx.Err(err))
			return ""
		}
	}

	if p, err := filepath.EvalSymlinks(dst); err == nil {
		return p
	}
	return dst
}

// existingFile reports whether p is an existing non-directory and returns
// its absolute, symlink-resolved path.
func existingFile(p string) (string, bool) {
	st, err := os.Stat(p)
	if err != nil || st.IsDir() {
		return "", false
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, true
	}
	return abs, true
}

// find walks the theme directory in lexical order and returns the first
// file whose base name starts with name.
func (r *Resolver) find(name string) (string, error) {
	if r.themeDir == "" {
		return "", errNotFound
	}
	var found string
	err := filepath.WalkDir(r.themeDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == r.themeDir {
				return err
			}
			// unreadable subtree
			return nil
		}
		if d.IsDir() || !strings.HasPrefix(d.Name(), name) {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if st, err := os.Stat(path); err != nil || st.IsDir() {
				return nil
			}
		}
		found = path
		return fs.SkipAll
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", errNotFound
	}
	return found, nil
}

func (r *Resolver) rasterize(name, src string, gzipped bool) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var in io.Reader = f
	if gzipped {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("svgz: %w", err)
		}
		defer zr.Close()
		in = zr
	}

	img, err := Rasterize(in, RasterWidth)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(r.cacheDir, name+".png")
	return dst, r.writeAtomic(dst, func(w io.Writer) error { return encodePNG(w, img) })
}

func (r *Resolver) copyToCache(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	dst := filepath.Join(r.cacheDir, filepath.Base(src))
	return dst, r.writeAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// writeAtomic writes through a temp file in the cache directory and
// renames it into place, so a concurrent reader never sees a partial icon.
func (r *Resolver) writeAtomic(dst string, write func(io.Writer) error) error {
	if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(r.cacheDir, ".icon-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
