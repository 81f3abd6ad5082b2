// Package local implements a filesystem-backed storage backend. Files live
// under a root directory owned by the backend; every operation resolves its
// path against that root and refuses paths that escape it.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/storekit-io/storekit"
)

// Backend stores files under a local directory root.
type Backend struct {
	root      string
	algorithm storekit.Algorithm
}

// New creates a local backend rooted at root, creating the directory when it
// does not exist.
func New(root string, algorithm storekit.Algorithm) (*Backend, error) {
	if root == "" {
		return nil, errors.New("local backend requires a root directory")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, err
	}
	if algorithm == "" {
		algorithm = storekit.DefaultAlgorithm
	}
	return &Backend{root: absRoot, algorithm: algorithm}, nil
}

// fullPath resolves a storage-relative path against the root, refusing paths
// that escape it.
func (b *Backend) fullPath(op, path string) (string, error) {
	full := filepath.Join(b.root, filepath.Clean(path))
	if !isPathUnderRoot(b.root, full) {
		return "", &storekit.PathError{Op: op, Path: path, Err: storekit.ErrNotAllowed}
	}
	return full, nil
}

func isPathUnderRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return !filepath.IsAbs(rel) && rel != ".." && !strings.HasPrefix(rel, "../")
}

// Exists implements storekit.Backend.
func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	full, err := b.fullPath("exists", path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &storekit.PathError{Op: "exists", Path: path, Err: err}
	}
	return !info.IsDir(), nil
}

// Read implements storekit.Backend.
func (b *Backend) Read(ctx context.Context, path string) ([]byte, error) {
	rc, err := b.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// ReadChunks implements storekit.Backend. The sequence opens the file anew on
// every range, so it can be iterated more than once.
func (b *Backend) ReadChunks(ctx context.Context, path string, chunkSize int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		rc, err := b.Open(ctx, path)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rc.Close()

		buf := make([]byte, chunkSize)
		for {
			n, err := io.ReadFull(rc, buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if !yield(chunk, nil) {
					return
				}
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return
			}
			if err != nil {
				yield(nil, &storekit.PathError{Op: "read", Path: path, Err: err})
				return
			}
		}
	}
}

// Open implements storekit.Backend.
func (b *Backend) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := b.fullPath("open", path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &storekit.PathError{Op: "open", Path: path, Err: storekit.ErrFileNotFound}
		}
		return nil, &storekit.PathError{Op: "open", Path: path, Err: err}
	}
	return f, nil
}

// Create implements storekit.Backend.
func (b *Backend) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := b.fullPath("create", path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return nil, &storekit.PathError{Op: "create", Path: path, Err: err}
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, &storekit.PathError{Op: "create", Path: path, Err: err}
	}
	return f, nil
}

// Write implements storekit.Backend.
func (b *Backend) Write(ctx context.Context, path string, content []byte) error {
	w, err := b.Create(ctx, path)
	if err != nil {
		return err
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return &storekit.PathError{Op: "write", Path: path, Err: err}
	}
	return w.Close()
}

// Save implements storekit.Backend.
func (b *Backend) Save(ctx context.Context, content io.Reader, path string) error {
	w, err := b.Create(ctx, path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, content); err != nil {
		w.Close()
		return &storekit.PathError{Op: "save", Path: path, Err: err}
	}
	return w.Close()
}

// Delete implements storekit.Backend. Deleting an absent file is not an
// error.
func (b *Backend) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := b.fullPath("delete", path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return &storekit.PathError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

// Copy implements storekit.Backend.
func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	srcFull, err := b.fullPath("copy", src)
	if err != nil {
		return err
	}
	dstFull, err := b.fullPath("copy", dst)
	if err != nil {
		return err
	}

	in, err := os.Open(srcFull)
	if err != nil {
		if os.IsNotExist(err) {
			return &storekit.PathError{Op: "copy", Path: src, Err: storekit.ErrFileNotFound}
		}
		return &storekit.PathError{Op: "copy", Path: src, Err: err}
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dstFull), 0755); err != nil {
		return &storekit.PathError{Op: "copy", Path: dst, Err: err}
	}
	out, err := os.Create(dstFull)
	if err != nil {
		return &storekit.PathError{Op: "copy", Path: dst, Err: err}
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return &storekit.PathError{Op: "copy", Path: dst, Err: err}
	}
	return out.Close()
}

// ListFiles implements storekit.Backend. Paths are root-relative and
// slash-separated regardless of platform.
func (b *Backend) ListFiles(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		err := filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(b.root, path)
			if err != nil {
				return err
			}
			if !yield(filepath.ToSlash(rel), nil) {
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			yield("", err)
		}
	}
}

// Metadata implements storekit.Backend. The checksum is computed on demand
// with the backend's configured algorithm.
func (b *Backend) Metadata(ctx context.Context, path string) (*storekit.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := b.fullPath("metadata", path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &storekit.PathError{Op: "metadata", Path: path, Err: storekit.ErrFileNotFound}
		}
		return nil, &storekit.PathError{Op: "metadata", Path: path, Err: err}
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, &storekit.PathError{Op: "metadata", Path: path, Err: err}
	}
	defer f.Close()

	checksum, err := storekit.Checksum(f, b.algorithm)
	if err != nil {
		return nil, &storekit.PathError{Op: "metadata", Path: path, Err: err}
	}

	return &storekit.Metadata{
		Checksum: checksum,
		Mime:     contentType(full),
		Size:     info.Size(),
		Modified: info.ModTime(),
	}, nil
}

// Serve implements storekit.Backend with http.ServeFile, which handles range
// requests and conditional headers.
func (b *Backend) Serve(w http.ResponseWriter, r *http.Request, path string) error {
	full, err := b.fullPath("serve", path)
	if err != nil {
		return err
	}
	http.ServeFile(w, r, full)
	return nil
}

// Root implements storekit.Backend.
func (b *Backend) Root() string { return b.root }

// Watch implements storekit.Watcher. The returned token signals once on the
// first change matching pattern under the root, then the watch stops.
func (b *Backend) Watch(ctx context.Context, pattern string) (*storekit.ChangeToken, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid watch pattern %q: %w", pattern, err)
	}

	token := storekit.NewChangeToken()
	watcher, err := newFSWatcher()
	if err != nil {
		return nil, &storekit.PathError{Op: "watch", Path: pattern, Err: err}
	}
	if err := watcher.Add(b.root); err != nil {
		watcher.Close()
		return nil, &storekit.PathError{Op: "watch", Path: pattern, Err: err}
	}

	// Recursive patterns need watches on every subdirectory; fsnotify does
	// not recurse on its own.
	if strings.Contains(pattern, "**") {
		filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				watcher.Add(path)
			}
			return nil
		})
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events():
				if !ok {
					return
				}
				rel, err := filepath.Rel(b.root, event.Name)
				if err != nil {
					continue
				}
				rel = filepath.ToSlash(rel)
				if g.Match(rel) || g.Match(filepath.Base(rel)) {
					token.Signal()
					return
				}
			case _, ok := <-watcher.Errors():
				if !ok {
					return
				}
			}
		}
	}()

	return token, nil
}

func contentType(path string) string {
	if ext := filepath.Ext(path); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	return http.DetectContentType(buf[:n])
}
