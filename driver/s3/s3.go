// Package s3 implements a storage backend on Amazon S3 and S3-compatible
// object stores. Objects live under an optional key prefix; the backend has
// no filesystem root.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/storekit-io/storekit"
)

// defaultPresignExpiry bounds how long a Serve redirect URL stays valid.
const defaultPresignExpiry = time.Hour

// Backend stores files as objects in an S3 bucket.
type Backend struct {
	client        *s3.Client
	bucket        string
	prefix        string
	presignExpiry time.Duration
}

// Option configures a Backend.
type Option func(*Backend)

// WithPrefix namespaces all object keys under prefix.
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = strings.Trim(prefix, "/")
	}
}

// WithPresignExpiry sets how long presigned Serve URLs stay valid.
func WithPresignExpiry(d time.Duration) Option {
	return func(b *Backend) {
		b.presignExpiry = d
	}
}

// New creates an S3 backend on the given bucket.
func New(client *s3.Client, bucket string, opts ...Option) (*Backend, error) {
	if bucket == "" {
		return nil, errors.New("s3 backend requires a bucket")
	}
	b := &Backend{
		client:        client,
		bucket:        bucket,
		presignExpiry: defaultPresignExpiry,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Backend) key(p string) string {
	return path.Join(b.prefix, strings.TrimPrefix(path.Clean("/"+p), "/"))
}

// Exists implements storekit.Backend.
func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, mapError("exists", p, err)
	}
	return true, nil
}

// Read implements storekit.Backend.
func (b *Backend) Read(ctx context.Context, p string) ([]byte, error) {
	rc, err := b.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// ReadChunks implements storekit.Backend. Each range issues a fresh
// GetObject, so the sequence can be iterated more than once.
func (b *Backend) ReadChunks(ctx context.Context, p string, chunkSize int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		rc, err := b.Open(ctx, p)
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
				yield(nil, mapError("read", p, err))
				return
			}
		}
	}
}

// Open implements storekit.Backend.
func (b *Backend) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	if err != nil {
		return nil, mapError("open", p, err)
	}
	return resp.Body, nil
}

// Create implements storekit.Backend. S3 needs the object size up front, so
// writes are buffered and uploaded when the stream is closed.
func (b *Backend) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	return &objectWriter{ctx: ctx, backend: b, path: p}, nil
}

type objectWriter struct {
	ctx     context.Context
	backend *Backend
	path    string
	buf     bytes.Buffer
	closed  bool
}

func (w *objectWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write %s: stream closed", w.path)
	}
	return w.buf.Write(p)
}

func (w *objectWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.backend.putObject(w.ctx, w.path, bytes.NewReader(w.buf.Bytes()), int64(w.buf.Len()))
}

// Write implements storekit.Backend.
func (b *Backend) Write(ctx context.Context, p string, content []byte) error {
	return b.putObject(ctx, p, bytes.NewReader(content), int64(len(content)))
}

// Save implements storekit.Backend. Readers without a known size are
// buffered; PutObject needs a content length.
func (b *Backend) Save(ctx context.Context, content io.Reader, p string) error {
	if r, ok := content.(*bytes.Reader); ok {
		return b.putObject(ctx, p, r, int64(r.Len()))
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return mapError("save", p, err)
	}
	return b.putObject(ctx, p, bytes.NewReader(data), int64(len(data)))
}

func (b *Backend) putObject(ctx context.Context, p string, body io.Reader, size int64) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.key(p)),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return mapError("save", p, err)
	}
	return nil
}

// Delete implements storekit.Backend. S3 DeleteObject is idempotent, so
// deleting an absent object is not an error.
func (b *Backend) Delete(ctx context.Context, p string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	if err != nil {
		return mapError("delete", p, err)
	}
	return nil
}

// Copy implements storekit.Backend using a server-side CopyObject.
func (b *Backend) Copy(ctx context.Context, src, dst string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		CopySource: aws.String(b.bucket + "/" + b.key(src)),
		Key:        aws.String(b.key(dst)),
	})
	if err != nil {
		return mapError("copy", src, err)
	}
	return nil
}

// ListFiles implements storekit.Backend, paging through ListObjectsV2.
func (b *Backend) ListFiles(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(b.bucket),
		}
		if b.prefix != "" {
			input.Prefix = aws.String(b.prefix + "/")
		}

		paginator := s3.NewListObjectsV2Paginator(b.client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield("", mapError("list", "", err))
				return
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if b.prefix != "" {
					key = strings.TrimPrefix(key, b.prefix+"/")
				}
				if !yield(key, nil) {
					return
				}
			}
		}
	}
}

// Metadata implements storekit.Backend. The checksum is the object's ETag,
// which is the MD5 digest for objects uploaded in a single part.
func (b *Backend) Metadata(ctx context.Context, p string) (*storekit.Metadata, error) {
	resp, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	if err != nil {
		return nil, mapError("metadata", p, err)
	}

	meta := &storekit.Metadata{
		Checksum: "md5:" + strings.Trim(aws.ToString(resp.ETag), `"`),
		Mime:     aws.ToString(resp.ContentType),
		Size:     aws.ToInt64(resp.ContentLength),
		Modified: aws.ToTime(resp.LastModified),
	}
	if len(resp.Metadata) > 0 {
		meta.Extra = resp.Metadata
	}
	return meta, nil
}

// Serve implements storekit.Backend by redirecting the client to a presigned
// GetObject URL, so content flows from S3 instead of through the application.
func (b *Backend) Serve(w http.ResponseWriter, r *http.Request, p string) error {
	presigner := s3.NewPresignClient(b.client)
	req, err := presigner.PresignGetObject(r.Context(), &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = b.presignExpiry
	})
	if err != nil {
		return mapError("serve", p, err)
	}
	http.Redirect(w, r, req.URL, http.StatusFound)
	return nil
}

// Root implements storekit.Backend. Object storage has no filesystem
// location.
func (b *Backend) Root() string { return "" }

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &notFound)
}

func mapError(op, p string, err error) error {
	if isNotFound(err) {
		return &storekit.PathError{Op: op, Path: p, Err: storekit.ErrFileNotFound}
	}
	return &storekit.PathError{Op: op, Path: p, Err: err}
}
