package memory

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/storekit-io/storekit"
)

func TestRoundTrip(t *testing.T) {
	b := New("")
	ctx := context.Background()

	if err := b.Save(ctx, strings.NewReader("content"), "a.txt"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	exists, err := b.Exists(ctx, "a.txt")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("saved file does not exist")
	}

	data, err := b.Read(ctx, "a.txt")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "content" {
		t.Errorf("Read = %q, want %q", data, "content")
	}
}

func TestReadMissing(t *testing.T) {
	b := New("")
	_, err := b.Read(context.Background(), "missing.txt")
	if !storekit.IsNotFound(err) {
		t.Errorf("Read error = %v, want ErrFileNotFound", err)
	}
}

func TestReadIsolatesCaller(t *testing.T) {
	b := New("")
	ctx := context.Background()

	if err := b.Write(ctx, "a.txt", []byte("abc")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, err := b.Read(ctx, "a.txt")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	data[0] = 'X'

	again, err := b.Read(ctx, "a.txt")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(again) != "abc" {
		t.Error("mutating a read buffer changed stored content")
	}
}

func TestCreateAppearsOnClose(t *testing.T) {
	b := New("")
	ctx := context.Background()

	w, err := b.Create(ctx, "out.txt")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := io.WriteString(w, "partial"); err != nil {
		t.Fatal(err)
	}

	exists, err := b.Exists(ctx, "out.txt")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("file visible before Close")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	exists, err = b.Exists(ctx, "out.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Error("file missing after Close")
	}
}

func TestDeleteIdempotent(t *testing.T) {
	b := New("")
	ctx := context.Background()

	if err := b.Write(ctx, "a.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := b.Delete(ctx, "a.txt"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := b.Delete(ctx, "a.txt"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestCopy(t *testing.T) {
	b := New("")
	ctx := context.Background()

	if err := b.Write(ctx, "src.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := b.Copy(ctx, "src.txt", "dst.txt"); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	data, err := b.Read(ctx, "dst.txt")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "x" {
		t.Errorf("copied content = %q, want %q", data, "x")
	}

	if err := b.Copy(ctx, "missing.txt", "dst.txt"); !storekit.IsNotFound(err) {
		t.Errorf("Copy error = %v, want ErrFileNotFound", err)
	}
}

func TestListFilesSorted(t *testing.T) {
	b := New("")
	ctx := context.Background()
	for _, name := range []string{"c.txt", "a.txt", "sub/b.txt"} {
		if err := b.Write(ctx, name, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	var got []string
	for name, err := range b.ListFiles(ctx) {
		if err != nil {
			t.Fatalf("list error: %v", err)
		}
		got = append(got, name)
	}
	want := []string{"a.txt", "c.txt", "sub/b.txt"}
	if !slices.Equal(got, want) {
		t.Errorf("ListFiles = %v, want %v", got, want)
	}
}

func TestReadChunks(t *testing.T) {
	b := New("")
	ctx := context.Background()
	content := strings.Repeat("x", 1000)
	if err := b.Write(ctx, "a.txt", []byte(content)); err != nil {
		t.Fatal(err)
	}

	var got []byte
	var chunks int
	for chunk, err := range b.ReadChunks(ctx, "a.txt", 256) {
		if err != nil {
			t.Fatalf("chunk error: %v", err)
		}
		got = append(got, chunk...)
		chunks++
	}
	if string(got) != content {
		t.Error("reassembled chunks differ from content")
	}
	if chunks != 4 {
		t.Errorf("chunks = %d, want 4", chunks)
	}
}

func TestMetadata(t *testing.T) {
	b := New("")
	ctx := context.Background()
	if err := b.Write(ctx, "doc.json", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}

	meta, err := b.Metadata(ctx, "doc.json")
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if meta.Size != 7 {
		t.Errorf("Size = %d, want 7", meta.Size)
	}
	if !strings.HasPrefix(meta.Checksum, "sha256:") {
		t.Errorf("Checksum = %q, want sha256 prefix", meta.Checksum)
	}
	if !strings.Contains(meta.Mime, "json") {
		t.Errorf("Mime = %q, want a json type", meta.Mime)
	}
	if meta.Modified.IsZero() {
		t.Error("Modified is zero")
	}
}

func TestServe(t *testing.T) {
	b := New("")
	ctx := context.Background()
	if err := b.Write(ctx, "hello.txt", []byte("hello world")); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/hello.txt", nil)
	if err := b.Serve(rec, req, "hello.txt"); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	if rec.Code != 200 {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "hello world" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "hello world")
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/hello.txt", nil)
	req.Header.Set("Range", "bytes=0-4")
	if err := b.Serve(rec, req, "hello.txt"); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	if rec.Code != 206 {
		t.Errorf("range status = %d, want 206", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Errorf("range body = %q, want %q", rec.Body.String(), "hello")
	}
}

func TestWatch(t *testing.T) {
	b := New("")
	ctx := context.Background()

	token, err := b.Watch(ctx, "*.json")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := b.Write(ctx, "ignored.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if token.HasChanged() {
		t.Error("token fired for a non-matching path")
	}

	if err := b.Write(ctx, "config.json", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if !token.HasChanged() {
		t.Error("token did not fire for a matching write")
	}
}

func TestWatchCancel(t *testing.T) {
	b := New("")
	ctx, cancel := context.WithCancel(context.Background())

	token, err := b.Watch(ctx, "*.json")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	cancel()

	// AfterFunc runs asynchronously.
	deadline := time.Now().Add(time.Second)
	for {
		b.mu.RLock()
		n := len(b.watches)
		b.mu.RUnlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watch not removed after context cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := b.Write(context.Background(), "config.json", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if token.HasChanged() {
		t.Error("cancelled watch still fired")
	}
}

func TestNormalize(t *testing.T) {
	b := New("")
	ctx := context.Background()
	if err := b.Write(ctx, "/sub/../a.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	data, err := b.Read(ctx, "a.txt")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(data, []byte("x")) {
		t.Error("normalized paths do not alias")
	}
}
