// Package memory implements an in-memory storage backend, mostly useful for
// tests and ephemeral data. All operations are safe for concurrent use.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"mime"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/storekit-io/storekit"
)

type entry struct {
	data     []byte
	modified time.Time
}

// Backend stores files in process memory.
type Backend struct {
	mu        sync.RWMutex
	files     map[string]entry
	watches   []*watch
	algorithm storekit.Algorithm
}

type watch struct {
	matcher glob.Glob
	token   *storekit.ChangeToken
}

// New creates an empty in-memory backend.
func New(algorithm storekit.Algorithm) *Backend {
	if algorithm == "" {
		algorithm = storekit.DefaultAlgorithm
	}
	return &Backend{
		files:     make(map[string]entry),
		algorithm: algorithm,
	}
}

func normalize(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// Exists implements storekit.Backend.
func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.files[normalize(p)]
	return ok, nil
}

// Read implements storekit.Backend.
func (b *Backend) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.files[normalize(p)]
	if !ok {
		return nil, &storekit.PathError{Op: "read", Path: p, Err: storekit.ErrFileNotFound}
	}
	data := make([]byte, len(e.data))
	copy(data, e.data)
	return data, nil
}

// ReadChunks implements storekit.Backend.
func (b *Backend) ReadChunks(ctx context.Context, p string, chunkSize int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		data, err := b.Read(ctx, p)
		if err != nil {
			yield(nil, err)
			return
		}
		for off := 0; off < len(data); off += chunkSize {
			end := min(off+chunkSize, len(data))
			if !yield(data[off:end], nil) {
				return
			}
		}
	}
}

// Open implements storekit.Backend.
func (b *Backend) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	data, err := b.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Create implements storekit.Backend. The file appears atomically when the
// returned writer is closed.
func (b *Backend) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memWriter{backend: b, path: normalize(p)}, nil
}

type memWriter struct {
	backend *Backend
	path    string
	buf     bytes.Buffer
	closed  bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write %s: stream closed", w.path)
	}
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.backend.store(w.path, w.buf.Bytes())
	return nil
}

// Write implements storekit.Backend.
func (b *Backend) Write(ctx context.Context, p string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := make([]byte, len(content))
	copy(data, content)
	b.store(normalize(p), data)
	return nil
}

// Save implements storekit.Backend.
func (b *Backend) Save(ctx context.Context, content io.Reader, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return &storekit.PathError{Op: "save", Path: p, Err: err}
	}
	b.store(normalize(p), data)
	return nil
}

func (b *Backend) store(p string, data []byte) {
	b.mu.Lock()
	b.files[p] = entry{data: data, modified: time.Now()}
	fired := b.fireWatches(p)
	b.mu.Unlock()

	for _, t := range fired {
		t.Signal()
	}
}

// Delete implements storekit.Backend. Deleting an absent file is not an
// error.
func (b *Backend) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = normalize(p)

	b.mu.Lock()
	_, ok := b.files[p]
	delete(b.files, p)
	var fired []*storekit.ChangeToken
	if ok {
		fired = b.fireWatches(p)
	}
	b.mu.Unlock()

	for _, t := range fired {
		t.Signal()
	}
	return nil
}

// Copy implements storekit.Backend.
func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	data, err := b.Read(ctx, src)
	if err != nil {
		return err
	}
	b.store(normalize(dst), data)
	return nil
}

// ListFiles implements storekit.Backend. Paths are yielded in sorted order.
func (b *Backend) ListFiles(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := ctx.Err(); err != nil {
			yield("", err)
			return
		}
		b.mu.RLock()
		paths := make([]string, 0, len(b.files))
		for p := range b.files {
			paths = append(paths, p)
		}
		b.mu.RUnlock()
		sort.Strings(paths)

		for _, p := range paths {
			if !yield(p, nil) {
				return
			}
		}
	}
}

// Metadata implements storekit.Backend.
func (b *Backend) Metadata(ctx context.Context, p string) (*storekit.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	e, ok := b.files[normalize(p)]
	b.mu.RUnlock()
	if !ok {
		return nil, &storekit.PathError{Op: "metadata", Path: p, Err: storekit.ErrFileNotFound}
	}

	checksum, err := storekit.Checksum(bytes.NewReader(e.data), b.algorithm)
	if err != nil {
		return nil, &storekit.PathError{Op: "metadata", Path: p, Err: err}
	}

	return &storekit.Metadata{
		Checksum: checksum,
		Mime:     contentType(p, e.data),
		Size:     int64(len(e.data)),
		Modified: e.modified,
	}, nil
}

// Serve implements storekit.Backend with http.ServeContent, so range and
// conditional requests behave as for real files.
func (b *Backend) Serve(w http.ResponseWriter, r *http.Request, p string) error {
	b.mu.RLock()
	e, ok := b.files[normalize(p)]
	b.mu.RUnlock()
	if !ok {
		return &storekit.PathError{Op: "serve", Path: p, Err: storekit.ErrFileNotFound}
	}
	http.ServeContent(w, r, path.Base(p), e.modified, bytes.NewReader(e.data))
	return nil
}

// Root implements storekit.Backend. Memory storage has no filesystem
// location.
func (b *Backend) Root() string { return "" }

// Watch implements storekit.Watcher natively: the token signals on the first
// mutation whose path matches pattern.
func (b *Backend) Watch(ctx context.Context, pattern string) (*storekit.ChangeToken, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid watch pattern %q: %w", pattern, err)
	}
	token := storekit.NewChangeToken()

	b.mu.Lock()
	b.watches = append(b.watches, &watch{matcher: g, token: token})
	b.mu.Unlock()

	context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, w := range b.watches {
			if w.token == token {
				b.watches = append(b.watches[:i], b.watches[i+1:]...)
				return
			}
		}
	})

	return token, nil
}

// fireWatches collects tokens to signal for a mutated path and removes them
// from the watch list. Callers must hold mu and signal after unlocking.
func (b *Backend) fireWatches(p string) []*storekit.ChangeToken {
	var fired []*storekit.ChangeToken
	remaining := b.watches[:0]
	for _, w := range b.watches {
		if w.matcher.Match(p) || w.matcher.Match(path.Base(p)) {
			fired = append(fired, w.token)
		} else {
			remaining = append(remaining, w)
		}
	}
	b.watches = remaining
	return fired
}

func contentType(p string, data []byte) string {
	if ext := path.Ext(p); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	if len(data) > 512 {
		data = data[:512]
	}
	return http.DetectContentType(data)
}
