package storekit

import (
	"bytes"
	"crypto/rand"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	e, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	return e
}

func TestNewEncryptorRejectsBadKey(t *testing.T) {
	if _, err := NewEncryptor(make([]byte, 16)); err == nil {
		t.Error("NewEncryptor accepted a 16-byte key")
	}
}

func TestEncryptDecryptBytes(t *testing.T) {
	e := newTestEncryptor(t)

	tests := []struct {
		name  string
		plain []byte
	}{
		{"empty", nil},
		{"small", []byte("hello")},
		{"one frame", bytes.Repeat([]byte("a"), encChunkSize)},
		{"multiple frames", bytes.Repeat([]byte("ab"), 3*encChunkSize/2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := e.EncryptBytes(tt.plain)
			if err != nil {
				t.Fatalf("EncryptBytes failed: %v", err)
			}
			if len(tt.plain) > 0 && bytes.Contains(encrypted, tt.plain) {
				t.Error("ciphertext contains plaintext")
			}

			decrypted, err := e.DecryptBytes(encrypted)
			if err != nil {
				t.Fatalf("DecryptBytes failed: %v", err)
			}
			if !bytes.Equal(decrypted, tt.plain) {
				t.Error("round trip does not preserve content")
			}
		})
	}
}

func TestEncryptStream(t *testing.T) {
	e := newTestEncryptor(t)
	plain := strings.Repeat("streaming content ", 10000)

	encrypted, err := io.ReadAll(e.EncryptStream(strings.NewReader(plain)))
	if err != nil {
		t.Fatalf("reading encrypted stream failed: %v", err)
	}

	decrypted, err := io.ReadAll(e.DecryptReader(bytes.NewReader(encrypted)))
	if err != nil {
		t.Fatalf("reading decrypted stream failed: %v", err)
	}
	if string(decrypted) != plain {
		t.Error("stream round trip does not preserve content")
	}
}

func TestDecryptDetectsTampering(t *testing.T) {
	e := newTestEncryptor(t)

	encrypted, err := e.EncryptBytes([]byte("authentic content"))
	if err != nil {
		t.Fatalf("EncryptBytes failed: %v", err)
	}
	// Flip a bit inside the sealed frame, past the nonce and length header.
	encrypted[len(encrypted)-1] ^= 0x01

	if _, err := e.DecryptBytes(encrypted); err == nil {
		t.Error("tampered content decrypted without error")
	}
}

func TestDecryptRejectsTruncation(t *testing.T) {
	e := newTestEncryptor(t)

	encrypted, err := e.EncryptBytes([]byte("content"))
	if err != nil {
		t.Fatalf("EncryptBytes failed: %v", err)
	}
	if _, err := e.DecryptBytes(encrypted[:len(encrypted)-4]); err == nil {
		t.Error("truncated content decrypted without error")
	}
}

func TestDecryptRejectsReorderedFrames(t *testing.T) {
	e := newTestEncryptor(t)
	plain := bytes.Repeat([]byte("x"), 2*encChunkSize)

	encrypted, err := e.EncryptBytes(plain)
	if err != nil {
		t.Fatalf("EncryptBytes failed: %v", err)
	}

	// Swap the two frames behind the nonce; per-frame nonces must make the
	// reordered stream fail authentication.
	nonceLen := len(encrypted) - 2*(4+encChunkSize+16)
	frameLen := 4 + encChunkSize + 16
	swapped := append([]byte(nil), encrypted[:nonceLen]...)
	swapped = append(swapped, encrypted[nonceLen+frameLen:]...)
	swapped = append(swapped, encrypted[nonceLen:nonceLen+frameLen]...)

	if _, err := e.DecryptBytes(swapped); err == nil {
		t.Error("reordered frames decrypted without error")
	}
}

func TestEncryptFileToTemp(t *testing.T) {
	e := newTestEncryptor(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(src, []byte("file content"), 0644); err != nil {
		t.Fatal(err)
	}

	tmpPath, err := e.EncryptFileToTemp(src)
	if err != nil {
		t.Fatalf("EncryptFileToTemp failed: %v", err)
	}
	defer os.Remove(tmpPath)

	encrypted, err := os.ReadFile(tmpPath)
	if err != nil {
		t.Fatal(err)
	}
	decrypted, err := e.DecryptBytes(encrypted)
	if err != nil {
		t.Fatalf("DecryptBytes failed: %v", err)
	}
	if string(decrypted) != "file content" {
		t.Error("temp file round trip does not preserve content")
	}
}

func TestEncryptFileToTempMissingSource(t *testing.T) {
	e := newTestEncryptor(t)
	if _, err := e.EncryptFileToTemp(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("EncryptFileToTemp succeeded on a missing file")
	}
}

func TestNewEncryptorFromConfig(t *testing.T) {
	cfg := Config{}
	e, err := newEncryptorFromConfig(cfg)
	if err != nil {
		t.Fatalf("newEncryptorFromConfig failed: %v", err)
	}
	if e != nil {
		t.Error("encryptor created without a key")
	}

	cfg.set("encryption_key", "not base64!")
	if _, err := newEncryptorFromConfig(cfg); err == nil {
		t.Error("malformed key accepted")
	}

	cfg.set("encryption_key", "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=")
	e, err = newEncryptorFromConfig(cfg)
	if err != nil {
		t.Fatalf("newEncryptorFromConfig failed: %v", err)
	}
	if e == nil {
		t.Error("no encryptor for a valid key")
	}
}
