// Package serve exposes storages over HTTP. It mounts one download route and
// one upload route per storage on a chi router, and installs route-based URL
// builders so Storage.URL resolves to the mounted paths.
package serve

import (
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storekit-io/storekit"
)

// maxUploadMemory bounds the in-memory part of multipart parsing; larger
// uploads spill to temporary files.
const maxUploadMemory = 32 << 20

// Handler serves the files of a set of storages.
type Handler struct {
	storages map[string]*storekit.Storage
	log      *slog.Logger
	prefix   string
	baseURL  string
	uploads  bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithPrefix mounts the routes under prefix instead of "/fs".
func WithPrefix(prefix string) Option {
	return func(h *Handler) {
		h.prefix = "/" + strings.Trim(prefix, "/")
	}
}

// WithBaseURL sets the absolute base used for external URLs, e.g.
// "https://cdn.example.com".
func WithBaseURL(base string) Option {
	return func(h *Handler) {
		h.baseURL = strings.TrimSuffix(base, "/")
	}
}

// WithUploads enables the POST upload route.
func WithUploads() Option {
	return func(h *Handler) {
		h.uploads = true
	}
}

// NewHandler creates a Handler for the given storages and installs a
// route-based URL builder on each of them.
func NewHandler(log *slog.Logger, storages []*storekit.Storage, opts ...Option) *Handler {
	h := &Handler{
		storages: make(map[string]*storekit.Storage, len(storages)),
		log:      log,
		prefix:   "/fs",
	}
	for _, opt := range opts {
		opt(h)
	}
	for _, s := range storages {
		h.storages[s.Name()] = s
		s.SetURLBuilder(h.buildURL)
	}
	return h
}

// RegisterRoutes mounts the storage routes:
//
//	GET  {prefix}/{storage}/*  download a file
//	POST {prefix}/{storage}    upload a multipart file (when enabled)
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get(h.prefix+"/{storage}/*", h.HandleGet)
	if h.uploads {
		r.Post(h.prefix+"/{storage}", h.HandleUpload)
	}
}

func (h *Handler) buildURL(storageName, filename string, external bool) string {
	u := h.prefix + "/" + path.Join(storageName, filename)
	if external && h.baseURL != "" {
		return h.baseURL + u
	}
	return u
}

func (h *Handler) storage(w http.ResponseWriter, r *http.Request) *storekit.Storage {
	name := chi.URLParam(r, "storage")
	s, ok := h.storages[name]
	if !ok {
		h.log.Warn("unknown storage requested", "storage", name)
		http.NotFound(w, r)
		return nil
	}
	return s
}

// HandleGet streams a stored file to the client.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s := h.storage(w, r)
	if s == nil {
		return
	}
	filename := chi.URLParam(r, "*")
	if filename == "" {
		http.NotFound(w, r)
		return
	}

	if err := s.Serve(w, r, filename); err != nil {
		if storekit.IsNotFound(err) {
			http.NotFound(w, r)
			return
		}
		h.log.Error("serve failed", "storage", s.Name(), "file", filename, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// HandleUpload saves the "file" part of a multipart form and responds with
// the stored path and its URL.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	s := h.storage(w, r)
	if s == nil {
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	_, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}

	upload, err := storekit.OpenMultipart(header)
	if err != nil {
		h.log.Error("open upload failed", "storage", s.Name(), "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer upload.Close()

	stored, err := s.Save(r.Context(), upload)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case storekit.IsUnauthorizedFileType(err):
			status = http.StatusUnsupportedMediaType
		case storekit.IsExists(err):
			status = http.StatusConflict
		case errors.Is(err, storekit.ErrMissingFilename):
			status = http.StatusBadRequest
		default:
			h.log.Error("save failed", "storage", s.Name(), "file", header.Filename, "err", err)
		}
		http.Error(w, err.Error(), status)
		return
	}

	h.log.Info("file uploaded", "storage", s.Name(), "file", stored, "size", header.Size)
	w.Header().Set("Location", s.URL(stored, false))
	w.WriteHeader(http.StatusCreated)
	w.Write([]byte(stored))
}
