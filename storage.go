package storekit

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// URLBuilder derives a URL for a file served through an application route.
// The serve package installs one on every storage it exposes; storages
// without one fall back to a conventional "/fs/{storage}/{filename}" path.
type URLBuilder func(storageName, filename string, external bool) string

var storageNameRe = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// Storage is a named, independently configured file collection. Construct it
// with New, then bind it to application settings with Configure before any
// I/O; it is immutable afterwards.
//
// Each storage resolves its own backend and effective configuration, so two
// storages in one application can live on entirely different backends.
type Storage struct {
	name       string
	extensions []string
	uploadTo   UploadTarget
	overwrite  bool
	urlBuilder URLBuilder

	backendName string
	backend     Backend
	config      Config
	settings    Settings
	encryptor   *Encryptor

	baseURLOnce sync.Once
	baseURLVal  string
}

// New creates a Storage with the given name. The name must be alphanumeric;
// it namespaces the storage's configuration keys ({NAME}_FS_*). The declared
// extension set defaults to the Defaults preset.
func New(name string, opts ...StorageOption) *Storage {
	s := &Storage{
		name:       name,
		extensions: Defaults,
		urlBuilder: defaultURLBuilder,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configure resolves the storage's effective configuration from settings and
// binds its backend. It must be called before any I/O operation; an unknown
// backend name fails here, not at first use.
func (s *Storage) Configure(settings Settings) error {
	if !storageNameRe.MatchString(s.name) {
		return fmt.Errorf("invalid storage name %q: must be alphanumeric", s.name)
	}

	backendName, cfg := resolveConfig(s.name, settings)
	backend, err := newBackend(backendName, s.name, cfg)
	if err != nil {
		return fmt.Errorf("configure storage %q: %w", s.name, err)
	}
	encryptor, err := newEncryptorFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("configure storage %q: %w", s.name, err)
	}

	s.backendName = backendName
	s.backend = backend
	s.config = cfg
	s.settings = settings
	s.encryptor = encryptor
	return nil
}

// Configure binds every storage to the given settings, stopping at the
// first failure.
func Configure(settings Settings, storages ...*Storage) error {
	for _, s := range storages {
		if err := s.Configure(settings); err != nil {
			return err
		}
	}
	return nil
}

// Name returns the storage name.
func (s *Storage) Name() string { return s.name }

// Backend returns the bound backend, or nil before Configure.
func (s *Storage) Backend() Backend { return s.backend }

// Config returns the effective configuration resolved by Configure.
func (s *Storage) Config() Config { return s.config }

// Root returns the backend's filesystem root, or "" when the backend has no
// direct filesystem semantics.
func (s *Storage) Root() string {
	if s.backend == nil {
		return ""
	}
	return s.backend.Root()
}

func (s *Storage) requireConfigured() error {
	if s.backend == nil {
		return fmt.Errorf("storage %q: %w", s.name, ErrNotConfigured)
	}
	return nil
}

func (s *Storage) requireExists(ctx context.Context, op, filename string) error {
	exists, err := s.backend.Exists(ctx, filename)
	if err != nil {
		return err
	}
	if !exists {
		return &PathError{Op: op, Path: filename, Err: ErrFileNotFound}
	}
	return nil
}

// ExtensionAllowed determines whether a specific extension (without the dot)
// is allowed: either it is in the configured allow-list, or it is in the
// storage's declared extension set and not in the deny-list.
func (s *Storage) ExtensionAllowed(ext string) bool {
	ext = strings.ToLower(ext)
	if slices.Contains(s.config.List("allow"), ext) {
		return true
	}
	return slices.Contains(s.extensions, ext) && !slices.Contains(s.config.List("deny"), ext)
}

// FileAllowed determines whether a file may be saved under basename, by
// checking its extension.
func (s *Storage) FileAllowed(basename string) bool {
	return s.ExtensionAllowed(Extension(basename))
}

// Exists reports whether a file exists in the storage.
func (s *Storage) Exists(ctx context.Context, filename string) (bool, error) {
	if err := s.requireConfigured(); err != nil {
		return false, err
	}
	return s.backend.Exists(ctx, filename)
}

// Read returns the entire content of a file, decrypted when the storage is
// encrypted. Fails with ErrFileNotFound when the file is absent.
func (s *Storage) Read(ctx context.Context, filename string) ([]byte, error) {
	if err := s.requireConfigured(); err != nil {
		return nil, err
	}
	if err := s.requireExists(ctx, "read", filename); err != nil {
		return nil, err
	}
	data, err := s.backend.Read(ctx, filename)
	if err != nil {
		return nil, err
	}
	if s.encryptor != nil {
		return s.encryptor.DecryptBytes(data)
	}
	return data, nil
}

// ReadChunks returns a lazy chunk sequence over a file's content, decrypted
// when the storage is encrypted. The existence check happens up front; the
// sequence itself is restartable.
func (s *Storage) ReadChunks(ctx context.Context, filename string, chunkSize int) (iter.Seq2[[]byte, error], error) {
	if err := s.requireConfigured(); err != nil {
		return nil, err
	}
	if err := s.requireExists(ctx, "read", filename); err != nil {
		return nil, err
	}
	if s.encryptor == nil {
		return s.backend.ReadChunks(ctx, filename, chunkSize), nil
	}

	seq := func(yield func([]byte, error) bool) {
		rc, err := s.backend.Open(ctx, filename)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rc.Close()

		dec := s.encryptor.DecryptReader(rc)
		buf := make([]byte, chunkSize)
		for {
			n, err := io.ReadFull(dec, buf)
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
				yield(nil, err)
				return
			}
		}
	}
	return seq, nil
}

// Open returns a stream over a file's content, decrypted when the storage is
// encrypted. Fails with ErrFileNotFound when the file is absent.
func (s *Storage) Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	if err := s.requireConfigured(); err != nil {
		return nil, err
	}
	if err := s.requireExists(ctx, "open", filename); err != nil {
		return nil, err
	}
	rc, err := s.backend.Open(ctx, filename)
	if err != nil {
		return nil, err
	}
	if s.encryptor != nil {
		return s.encryptor.DecryptStream(rc), nil
	}
	return rc, nil
}

// Create returns a stream for writing a file, encrypting transparently when
// the storage is encrypted. Existing content at filename is replaced.
func (s *Storage) Create(ctx context.Context, filename string) (io.WriteCloser, error) {
	if err := s.requireConfigured(); err != nil {
		return nil, err
	}
	w, err := s.backend.Create(ctx, filename)
	if err != nil {
		return nil, err
	}
	if s.encryptor != nil {
		return s.encryptor.EncryptWriter(w), nil
	}
	return w, nil
}

// Write persists content at filename, bypassing the save pipeline's filename
// derivation. It fails with ErrFileExists when the file exists and neither
// the per-call nor the storage-level overwrite flag is set; the guard applies
// identically to encrypted and plain storages.
func (s *Storage) Write(ctx context.Context, filename string, content []byte, overwrite bool) error {
	if err := s.requireConfigured(); err != nil {
		return err
	}
	if !s.overwrite && !overwrite {
		exists, err := s.backend.Exists(ctx, filename)
		if err != nil {
			return err
		}
		if exists {
			return &PathError{Op: "write", Path: filename, Err: ErrFileExists}
		}
	}
	if s.encryptor != nil {
		encrypted, err := s.encryptor.EncryptBytes(content)
		if err != nil {
			return err
		}
		return s.backend.Write(ctx, filename, encrypted)
	}
	return s.backend.Write(ctx, filename, content)
}

// Delete removes a file from the storage.
func (s *Storage) Delete(ctx context.Context, filename string) error {
	if err := s.requireConfigured(); err != nil {
		return err
	}
	return s.backend.Delete(ctx, filename)
}

// Copy duplicates a file within the storage. Fails with ErrFileNotFound when
// the source is absent.
func (s *Storage) Copy(ctx context.Context, src, dst string) error {
	if err := s.requireConfigured(); err != nil {
		return err
	}
	if err := s.requireExists(ctx, "copy", src); err != nil {
		return err
	}
	return s.backend.Copy(ctx, src, dst)
}

// Save persists content and returns the final stored path, including any
// prefix and upload-destination segments; callers should treat that path as
// the canonical identifier of the file.
//
// When no explicit filename is given and content is an *Upload, a safe
// filename is derived from the client-declared one. The resolved filename's
// extension must pass FileAllowed, and the resolved path must not collide
// with an existing file unless overwriting is permitted; both checks happen
// before any backend I/O.
func (s *Storage) Save(ctx context.Context, content io.Reader, opts ...SaveOption) (string, error) {
	return s.save(ctx, content, "", opts...)
}

// SaveFile saves the local file at localPath through the save pipeline,
// deriving the default filename from its base name. On encrypted storages
// the content is encrypted through a temporary file which is removed on
// every exit path.
func (s *Storage) SaveFile(ctx context.Context, localPath string, opts ...SaveOption) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	upload := &Upload{Filename: filepath.Base(localPath), Reader: f}
	return s.save(ctx, upload, localPath, opts...)
}

func (s *Storage) save(ctx context.Context, content io.Reader, localPath string, opts ...SaveOption) (string, error) {
	if err := s.requireConfigured(); err != nil {
		return "", err
	}

	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}

	filename := o.filename
	if filename == "" {
		if u, ok := content.(*Upload); ok && u.Filename != "" {
			filename = LowerExtension(SecureFilename(u.Filename))
		}
	}
	if filename == "" {
		return "", ErrMissingFilename
	}

	if !s.FileAllowed(filename) {
		return "", &PathError{Op: "save", Path: filename, Err: ErrUnauthorizedFileType}
	}

	if !o.prefix.IsZero() {
		if p := o.prefix.Resolve(); p != "" {
			filename = p + "/" + filename
		}
	}
	if !s.uploadTo.IsZero() {
		if dest := s.uploadTo.Resolve(); dest != "" {
			filename = dest + "/" + filename
		}
	}

	overwrite := s.overwrite
	if o.overwrite != nil {
		overwrite = *o.overwrite
	}
	if !overwrite {
		exists, err := s.backend.Exists(ctx, filename)
		if err != nil {
			return "", err
		}
		if exists {
			return "", &PathError{Op: "save", Path: filename, Err: ErrFileExists}
		}
	}

	if s.encryptor != nil {
		if localPath != "" {
			tmpPath, err := s.encryptor.EncryptFileToTemp(localPath)
			if err != nil {
				return "", err
			}
			defer os.Remove(tmpPath)

			tmp, err := os.Open(tmpPath)
			if err != nil {
				return "", err
			}
			defer tmp.Close()

			if err := s.backend.Save(ctx, tmp, filename); err != nil {
				return "", err
			}
			return filename, nil
		}
		enc := s.encryptor.EncryptStream(content)
		defer enc.Close()
		if err := s.backend.Save(ctx, enc, filename); err != nil {
			return "", err
		}
		return filename, nil
	}

	if err := s.backend.Save(ctx, content, filename); err != nil {
		return "", err
	}
	return filename, nil
}

// ListFiles returns a lazy sequence over every file path in the storage.
func (s *Storage) ListFiles(ctx context.Context) iter.Seq2[string, error] {
	if err := s.requireConfigured(); err != nil {
		return func(yield func(string, error) bool) { yield("", err) }
	}
	return s.backend.ListFiles(ctx)
}

// Find returns the stored paths matching a glob pattern, e.g. "*.png" or
// "avatars/**".
func (s *Storage) Find(ctx context.Context, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	var matches []string
	for name, err := range s.ListFiles(ctx) {
		if err != nil {
			return nil, err
		}
		if g.Match(name) {
			matches = append(matches, name)
		}
	}
	return matches, nil
}

// Metadata returns metadata for a stored file. Filename and URL are filled
// in by the storage; the rest comes from the backend.
func (s *Storage) Metadata(ctx context.Context, filename string) (*Metadata, error) {
	if err := s.requireConfigured(); err != nil {
		return nil, err
	}
	meta, err := s.backend.Metadata(ctx, filename)
	if err != nil {
		return nil, err
	}
	meta.Filename = path.Base(filename)
	meta.URL = s.URL(filename, true)
	return meta, nil
}

// Serve writes a stored file to an HTTP response. Fails with
// ErrFileNotFound before touching the response when the file is absent.
func (s *Storage) Serve(w http.ResponseWriter, r *http.Request, filename string) error {
	if err := s.requireConfigured(); err != nil {
		return err
	}
	if err := s.requireExists(r.Context(), "serve", filename); err != nil {
		return err
	}
	return s.backend.Serve(w, r, filename)
}

// ResolveConflict produces an alternative basename "name_N.ext" for
// increasing N starting at 1, returning the first one with no colliding
// entry in targetFolder. It is advisory tooling for callers who want
// auto-renaming; Save does not invoke it and fails with ErrFileExists
// instead.
func (s *Storage) ResolveConflict(targetFolder, basename string) string {
	ext := filepath.Ext(basename)
	name := strings.TrimSuffix(basename, ext)
	for count := 1; ; count++ {
		candidate := fmt.Sprintf("%s_%d%s", name, count, ext)
		if _, err := os.Stat(filepath.Join(targetFolder, candidate)); os.IsNotExist(err) {
			return candidate
		}
	}
}

// Path returns the direct filesystem path of a stored file. Fails with
// ErrNotSupported when the bound backend has no filesystem root (object
// stores and the like).
func (s *Storage) Path(filename string) (string, error) {
	if err := s.requireConfigured(); err != nil {
		return "", err
	}
	root := s.backend.Root()
	if root == "" {
		return "", &PathError{Op: "path", Path: filename, Err: ErrNotSupported}
	}
	return filepath.Join(root, filename), nil
}

// HasURL reports whether the storage has an explicit public base URL, from
// either its effective configuration or the global FS_URL setting.
func (s *Storage) HasURL() bool {
	return s.config.Get("url") != "" || s.settings.Get("FS_URL") != ""
}

// BaseURL returns the storage's public base URL, normalized to carry a
// scheme and end with "/". Without an explicit URL setting it falls back to
// the route-based URL builder.
func (s *Storage) BaseURL() string {
	s.baseURLOnce.Do(func() {
		s.baseURLVal = s.resolveBaseURL()
	})
	return s.baseURLVal
}

func (s *Storage) resolveBaseURL() string {
	if u := s.config.Get("url"); u != "" {
		return cleanURL(u)
	}

	base := s.settings.Get("FS_URL")
	if u := s.settings.Get("FS_" + strings.ToUpper(s.backendName) + "_URL"); u != "" {
		base = u
	}
	if base != "" {
		return cleanURL(strings.TrimSuffix(base, "/") + "/" + s.name)
	}
	return s.urlBuilder(s.name, "", true)
}

// URL returns the URL a stored file is accessed at. It does not check that
// the file exists. With no explicit base URL configured, the URL is built
// from the serving route; external requests an absolute URL where the
// builder supports it.
func (s *Storage) URL(filename string, external bool) string {
	filename = strings.TrimPrefix(filename, "/")
	if s.HasURL() {
		return s.BaseURL() + filename
	}
	return s.urlBuilder(s.name, filename, external)
}

// SetURLBuilder installs the route-based URL builder. The serve package
// calls it for every storage it exposes.
func (s *Storage) SetURLBuilder(builder URLBuilder) {
	s.urlBuilder = builder
}

// cleanURL normalizes a configured base URL: a missing scheme defaults to
// https, and a trailing slash is guaranteed.
func cleanURL(u string) string {
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

func defaultURLBuilder(storageName, filename string, external bool) string {
	return "/" + path.Join("fs", storageName, filename)
}
