package storekit

import (
	"context"
	"io"
	"iter"
	"net/http"
	"time"
)

// Metadata describes a stored file. Backends may attach driver-specific
// fields through Extra; Filename, URL, Checksum, Mime and Modified are
// always populated.
type Metadata struct {
	// Filename is the base filename, without any path or prefix.
	Filename string

	// URL is the file's public URL.
	URL string

	// Checksum is formatted "algorithm:hexdigest".
	Checksum string

	// Mime is the detected or declared content type.
	Mime string

	// Size is the file size in bytes.
	Size int64

	// Modified is the last modification time.
	Modified time.Time

	// Extra holds backend-specific fields.
	Extra map[string]string
}

// Backend is the contract every storage driver implements. A Backend is
// created once per Storage at configure time and owns its root path or
// connection for its lifetime. Implementations must be safe for concurrent
// use by multiple callers.
//
// Backends perform raw I/O only: overwrite policy, file-type validation and
// encryption are all enforced by the Storage facade before a backend method
// is reached.
type Backend interface {
	// Exists reports whether a file exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Read returns the entire file content.
	Read(ctx context.Context, path string) ([]byte, error)

	// ReadChunks returns a lazy chunk sequence over the file content.
	// The backend re-opens the source each time the sequence is ranged,
	// so the sequence is restartable.
	ReadChunks(ctx context.Context, path string, chunkSize int) iter.Seq2[[]byte, error]

	// Open returns a stream for reading file content.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Create returns a stream for writing file content. The file is not
	// guaranteed to be visible until the stream is closed.
	Create(ctx context.Context, path string) (io.WriteCloser, error)

	// Write persists in-memory content at path, replacing any existing file.
	Write(ctx context.Context, path string, content []byte) error

	// Save streams content to path, replacing any existing file.
	Save(ctx context.Context, content io.Reader, path string) error

	// Delete removes a file.
	Delete(ctx context.Context, path string) error

	// Copy duplicates a file within the backend.
	Copy(ctx context.Context, src, dst string) error

	// ListFiles returns a lazy sequence over every file path in the backend.
	ListFiles(ctx context.Context) iter.Seq2[string, error]

	// Metadata returns metadata for a stored file. The URL field is left
	// empty; the facade fills it in.
	Metadata(ctx context.Context, path string) (*Metadata, error)

	// Serve writes the file to an HTTP response. Object-store backends may
	// respond with a redirect instead of streaming the content.
	Serve(w http.ResponseWriter, r *http.Request, path string) error

	// Root returns the backend's absolute filesystem root, or "" when the
	// backend has no direct filesystem semantics.
	Root() string
}
