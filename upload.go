package storekit

import (
	"io"
	"mime/multipart"
)

// Upload bundles a byte stream with the filename the client declared for it.
// When saved without an explicit filename, the storage derives a safe
// filename from the declared one.
type Upload struct {
	// Filename is the client-declared filename. It is untrusted: the save
	// pipeline strips directory components and unsafe characters before use.
	Filename string

	// Reader provides the upload content.
	Reader io.Reader
}

// NewUpload wraps a reader with a client-declared filename.
func NewUpload(filename string, r io.Reader) *Upload {
	return &Upload{Filename: filename, Reader: r}
}

// OpenMultipart opens a multipart file header as an Upload. The caller is
// responsible for closing the returned Upload.
func OpenMultipart(fh *multipart.FileHeader) (*Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	return &Upload{Filename: fh.Filename, Reader: f}, nil
}

// Read implements io.Reader.
func (u *Upload) Read(p []byte) (int, error) {
	return u.Reader.Read(p)
}

// Close closes the underlying reader when it is a closer.
func (u *Upload) Close() error {
	if c, ok := u.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
