package storekit

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// encChunkSize is the plaintext size of one encrypted frame.
const encChunkSize = 64 * 1024

// Encryptor transparently encrypts and decrypts file content with
// AES-256-GCM. It is attached to a Storage at configure time when the
// effective configuration carries an encryption_key; backends never see it.
//
// Wire format: a random 12-byte base nonce, then a sequence of frames, each
// a 4-byte big-endian ciphertext length followed by the sealed chunk. The
// per-frame nonce is the base nonce with the frame counter folded into its
// trailing bytes, so no nonce is ever reused under one key within a file.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an Encryptor from a 32-byte AES-256 key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{aead: aead}, nil
}

// newEncryptorFromConfig builds an Encryptor from the effective
// configuration's base64-encoded encryption_key, or returns nil when the
// key is absent.
func newEncryptorFromConfig(cfg Config) (*Encryptor, error) {
	raw := cfg.Get("encryption_key")
	if raw == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	return NewEncryptor(key)
}

func (e *Encryptor) frameNonce(base []byte, frame uint64) []byte {
	nonce := make([]byte, len(base))
	copy(nonce, base)
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], frame)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-8+i] ^= ctr[i]
	}
	return nonce
}

// EncryptBytes encrypts in-memory content.
func (e *Encryptor) EncryptBytes(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := e.EncryptWriter(nopWriteCloser{&buf})
	if _, err := w.Write(plain); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecryptBytes decrypts in-memory content produced by EncryptBytes or any
// of the stream entry points.
func (e *Encryptor) DecryptBytes(data []byte) ([]byte, error) {
	return io.ReadAll(e.DecryptReader(bytes.NewReader(data)))
}

// EncryptWriter wraps w so that everything written to the returned stream is
// persisted encrypted. Closing the stream flushes the final frame and closes w.
func (e *Encryptor) EncryptWriter(w io.WriteCloser) io.WriteCloser {
	return &encryptWriter{e: e, dst: w}
}

// EncryptStream returns a reader yielding the encrypted form of r, produced
// incrementally so arbitrarily large content never needs buffering. The
// caller must close the returned reader on every exit path; closing it
// terminates the encrypting goroutine even when the consumer stops early.
func (e *Encryptor) EncryptStream(r io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		w := e.EncryptWriter(nopWriteCloser{pw})
		if _, err := io.Copy(w, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(w.Close())
	}()
	return pr
}

// DecryptReader returns a reader yielding the plaintext of the encrypted
// stream r.
func (e *Encryptor) DecryptReader(r io.Reader) io.Reader {
	return &decryptReader{e: e, src: r}
}

// DecryptStream is DecryptReader for a ReadCloser; closing the returned
// stream closes rc.
func (e *Encryptor) DecryptStream(rc io.ReadCloser) io.ReadCloser {
	return &readCloser{Reader: e.DecryptReader(rc), closer: rc}
}

// EncryptFileToTemp encrypts the file at path into a temporary file and
// returns the temporary path. The caller must remove the returned file on
// every exit path; on error no temporary file is left behind.
func (e *Encryptor) EncryptFileToTemp(path string) (tmpPath string, err error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "storekit-enc-*")
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := e.EncryptWriter(tmp)
	if _, err = io.Copy(w, src); err != nil {
		return "", err
	}
	if err = w.Close(); err != nil {
		return "", err
	}
	return tmp.Name(), nil
}

type encryptWriter struct {
	e      *Encryptor
	dst    io.WriteCloser
	base   []byte
	frame  uint64
	buf    []byte
	closed bool
}

func (w *encryptWriter) writeHeader() error {
	if w.base != nil {
		return nil
	}
	base := make([]byte, w.e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, base); err != nil {
		return err
	}
	if _, err := w.dst.Write(base); err != nil {
		return err
	}
	w.base = base
	return nil
}

func (w *encryptWriter) flushFrame(plain []byte) error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	sealed := w.e.aead.Seal(nil, w.e.frameNonce(w.base, w.frame), plain, nil)
	w.frame++

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(sealed)))
	if _, err := w.dst.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.dst.Write(sealed)
	return err
}

func (w *encryptWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("write on closed encrypted stream")
	}
	w.buf = append(w.buf, p...)
	for len(w.buf) >= encChunkSize {
		if err := w.flushFrame(w.buf[:encChunkSize]); err != nil {
			return 0, err
		}
		w.buf = w.buf[encChunkSize:]
	}
	return len(p), nil
}

func (w *encryptWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if len(w.buf) > 0 {
		if err := w.flushFrame(w.buf); err != nil {
			w.dst.Close()
			return err
		}
		w.buf = nil
	} else if err := w.writeHeader(); err != nil {
		// Empty content still gets a header so decryption round-trips.
		w.dst.Close()
		return err
	}
	return w.dst.Close()
}

type decryptReader struct {
	e     *Encryptor
	src   io.Reader
	base  []byte
	frame uint64
	buf   []byte
	err   error
}

func (d *decryptReader) readHeader() error {
	base := make([]byte, d.e.aead.NonceSize())
	if _, err := io.ReadFull(d.src, base); err != nil {
		return fmt.Errorf("encrypted content truncated: %w", err)
	}
	d.base = base
	return nil
}

func (d *decryptReader) nextFrame() error {
	var hdr [4]byte
	if _, err := io.ReadFull(d.src, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("encrypted frame truncated: %w", err)
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > uint32(encChunkSize+d.e.aead.Overhead()) {
		return errors.New("encrypted frame exceeds maximum size")
	}

	sealed := make([]byte, size)
	if _, err := io.ReadFull(d.src, sealed); err != nil {
		return fmt.Errorf("encrypted frame truncated: %w", err)
	}
	plain, err := d.e.aead.Open(nil, d.e.frameNonce(d.base, d.frame), sealed, nil)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}
	d.frame++
	d.buf = plain
	return nil
}

func (d *decryptReader) Read(p []byte) (int, error) {
	if d.base == nil && d.err == nil {
		d.err = d.readHeader()
	}
	for len(d.buf) == 0 && d.err == nil {
		d.err = d.nextFrame()
	}
	if len(d.buf) > 0 {
		n := copy(p, d.buf)
		d.buf = d.buf[n:]
		return n, nil
	}
	return 0, d.err
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r *readCloser) Close() error { return r.closer.Close() }
