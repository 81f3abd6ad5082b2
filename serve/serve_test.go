package serve

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/storekit-io/storekit"
	_ "github.com/storekit-io/storekit/driver/memory"
)

func newTestServer(t *testing.T, opts ...Option) (*storekit.Storage, *httptest.Server) {
	t.Helper()

	s := storekit.New("docs")
	if err := s.Configure(storekit.Settings{"FS_BACKEND": "memory"}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(log, []*storekit.Storage{s}, opts...)

	r := chi.NewRouter()
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return s, srv
}

func TestGetFile(t *testing.T) {
	s, srv := newTestServer(t)
	ctx := context.Background()

	if _, err := s.Save(ctx, strings.NewReader("served content"), storekit.SaveAs("sub/doc.txt")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	resp, err := http.Get(srv.URL + "/fs/docs/sub/doc.txt")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "served content" {
		t.Errorf("body = %q, want %q", body, "served content")
	}
}

func TestGetMissingFile(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/fs/docs/missing.txt")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetUnknownStorage(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/fs/other/doc.txt")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestURLBuilderInstalled(t *testing.T) {
	s, _ := newTestServer(t)

	if got := s.URL("a.txt", false); got != "/fs/docs/a.txt" {
		t.Errorf("URL = %q, want %q", got, "/fs/docs/a.txt")
	}
}

func TestURLBuilderExternal(t *testing.T) {
	s, _ := newTestServer(t, WithBaseURL("https://app.example.com"))

	if got := s.URL("a.txt", true); got != "https://app.example.com/fs/docs/a.txt" {
		t.Errorf("external URL = %q", got)
	}
	if got := s.URL("a.txt", false); got != "/fs/docs/a.txt" {
		t.Errorf("internal URL = %q", got)
	}
}

func TestCustomPrefix(t *testing.T) {
	s, srv := newTestServer(t, WithPrefix("/media"))
	ctx := context.Background()

	if _, err := s.Save(ctx, strings.NewReader("x"), storekit.SaveAs("a.txt")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	resp, err := http.Get(srv.URL + "/media/docs/a.txt")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := s.URL("a.txt", false); got != "/media/docs/a.txt" {
		t.Errorf("URL = %q, want %q", got, "/media/docs/a.txt")
	}
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	s, srv := newTestServer(t, WithUploads())

	body, contentType := multipartBody(t, "file", "Report.PDF", "pdf bytes")
	resp, err := http.Post(srv.URL+"/fs/docs", contentType, body)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	stored, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(stored) != "Report.pdf" {
		t.Errorf("stored path = %q, want %q", stored, "Report.pdf")
	}
	if loc := resp.Header.Get("Location"); loc != "/fs/docs/Report.pdf" {
		t.Errorf("Location = %q, want %q", loc, "/fs/docs/Report.pdf")
	}

	data, err := s.Read(context.Background(), "Report.pdf")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "pdf bytes" {
		t.Errorf("content = %q, want %q", data, "pdf bytes")
	}
}

func TestUploadRejectsUnauthorizedType(t *testing.T) {
	_, srv := newTestServer(t, WithUploads())

	body, contentType := multipartBody(t, "file", "virus.exe", "mz")
	resp, err := http.Post(srv.URL+"/fs/docs", contentType, body)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", resp.StatusCode)
	}
}

func TestUploadConflict(t *testing.T) {
	s, srv := newTestServer(t, WithUploads())
	if _, err := s.Save(context.Background(), strings.NewReader("x"), storekit.SaveAs("a.txt")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	body, contentType := multipartBody(t, "file", "a.txt", "y")
	resp, err := http.Post(srv.URL+"/fs/docs", contentType, body)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestUploadDisabledByDefault(t *testing.T) {
	_, srv := newTestServer(t)

	body, contentType := multipartBody(t, "file", "a.txt", "x")
	resp, err := http.Post(srv.URL+"/fs/docs", contentType, body)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusCreated {
		t.Error("upload route mounted without WithUploads")
	}
}

func TestUploadMissingField(t *testing.T) {
	_, srv := newTestServer(t, WithUploads())

	body, contentType := multipartBody(t, "wrong", "a.txt", "x")
	resp, err := http.Post(srv.URL+"/fs/docs", contentType, body)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
