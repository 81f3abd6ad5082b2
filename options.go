package storekit

// UploadTarget is a path segment prepended to filenames before persistence,
// either a static path or a supplier computed per call.
type UploadTarget struct {
	static   string
	computed func() string
}

// StaticTarget returns an UploadTarget for a fixed path.
func StaticTarget(path string) UploadTarget {
	return UploadTarget{static: path}
}

// ComputedTarget returns an UploadTarget whose path is computed at save time.
func ComputedTarget(fn func() string) UploadTarget {
	return UploadTarget{computed: fn}
}

// Resolve returns the target path, invoking the supplier if there is one.
func (t UploadTarget) Resolve() string {
	if t.computed != nil {
		return t.computed()
	}
	return t.static
}

// IsZero reports whether the target is unset.
func (t UploadTarget) IsZero() bool {
	return t.static == "" && t.computed == nil
}

// StorageOption configures a Storage at construction time.
type StorageOption func(*Storage)

// WithExtensions sets the storage's declared extension set. The default is
// the Defaults preset.
func WithExtensions(extensions ...string) StorageOption {
	return func(s *Storage) {
		s.extensions = extensions
	}
}

// WithUploadTo sets the upload destination prepended to every saved filename.
func WithUploadTo(target UploadTarget) StorageOption {
	return func(s *Storage) {
		s.uploadTo = target
	}
}

// WithOverwrite sets the storage's default overwrite policy.
func WithOverwrite(allow bool) StorageOption {
	return func(s *Storage) {
		s.overwrite = allow
	}
}

// WithURLBuilder sets the route-based URL builder used when no public base
// URL is configured. The serve package installs one automatically.
func WithURLBuilder(builder URLBuilder) StorageOption {
	return func(s *Storage) {
		s.urlBuilder = builder
	}
}

// saveOptions collects the per-call settings of a save operation.
type saveOptions struct {
	filename  string
	prefix    UploadTarget
	overwrite *bool
}

// SaveOption configures a single save operation.
type SaveOption func(*saveOptions)

// SaveAs sets an explicit filename, overriding any client-declared one.
func SaveAs(filename string) SaveOption {
	return func(o *saveOptions) {
		o.filename = filename
	}
}

// SavePrefix prepends a static path segment to the resolved filename.
func SavePrefix(prefix string) SaveOption {
	return func(o *saveOptions) {
		o.prefix = StaticTarget(prefix)
	}
}

// SavePrefixFunc prepends a path segment computed at save time.
func SavePrefixFunc(fn func() string) SaveOption {
	return func(o *saveOptions) {
		o.prefix = ComputedTarget(fn)
	}
}

// SaveOverwrite overrides the storage's default overwrite policy for one call.
func SaveOverwrite(allow bool) SaveOption {
	return func(o *saveOptions) {
		o.overwrite = &allow
	}
}
