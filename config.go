package storekit

import (
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Identity keys excluded from backend-level inheritance: letting FS_LOCAL_ROOT
// flow into every local-backed storage would make all of them share one root.
var backendExcludedKeys = []string{"BACKEND", "URL", "ROOT"}

// Settings is the application-level configuration mapping. Keys follow the
// operator-facing convention: global FS_* keys, per-backend FS_{BACKEND}_*
// keys and per-storage {STORAGE}_FS_* keys.
type Settings map[string]string

// Get returns the value for key, or "" when absent.
func (s Settings) Get(key string) string {
	return s[key]
}

// GlobalConfig holds the documented global settings.
type GlobalConfig struct {
	// Backend is the default backend name for storages without a
	// {STORAGE}_FS_BACKEND override.
	Backend string `env:"FS_BACKEND" envDefault:"local"`

	// URL is the default public base URL for storages.
	URL string `env:"FS_URL"`

	// Root is the base directory filesystem-backed storages derive their
	// per-storage root from.
	Root string `env:"FS_ROOT"`
}

// LoadSettings builds a Settings mapping from the process environment.
// The documented globals are parsed (and defaulted) first, then every
// FS_* and *_FS_* environment variable is overlaid verbatim.
func LoadSettings() (Settings, error) {
	var gc GlobalConfig
	if err := env.Parse(&gc); err != nil {
		return nil, err
	}

	settings := Settings{"FS_BACKEND": gc.Backend}
	if gc.URL != "" {
		settings["FS_URL"] = gc.URL
	}
	if gc.Root != "" {
		settings["FS_ROOT"] = gc.Root
	}

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if strings.HasPrefix(key, "FS_") || strings.Contains(key, "_FS_") {
			settings[key] = value
		}
	}

	return settings, nil
}

// Config is the effective configuration for a single storage: the merged
// result of global defaults, backend-level settings and storage-level
// settings. Keys are stored lower-case.
type Config map[string]string

// Get returns the value for key, or "" when absent.
func (c Config) Get(key string) string {
	return c[strings.ToLower(key)]
}

// Has reports whether key is present.
func (c Config) Has(key string) bool {
	_, ok := c[strings.ToLower(key)]
	return ok
}

// Bool parses the value for key as a boolean; absent or malformed values
// are false.
func (c Config) Bool(key string) bool {
	v, err := strconv.ParseBool(c.Get(key))
	return err == nil && v
}

// List splits the value for key on commas, trimming whitespace around each
// entry and dropping empty ones.
func (c Config) List(key string) []string {
	raw := c.Get(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) set(key, value string) {
	c[strings.ToLower(key)] = value
}

// resolveConfig merges settings into one effective configuration for the
// named storage. Precedence, lowest first: seeded defaults, backend-level
// FS_{BACKEND}_* keys (minus the identity keys), storage-level
// {STORAGE}_FS_* keys. Prefixes match case-insensitively on the backend
// name; merged keys are stored lower-case.
func resolveConfig(storageName string, settings Settings) (backendName string, cfg Config) {
	prefix := strings.ToUpper(storageName) + "_FS_"

	backendName = settings.Get(prefix + "BACKEND")
	if backendName == "" {
		backendName = settings.Get("FS_BACKEND")
	}
	bPrefix := "FS_" + strings.ToUpper(backendName) + "_"

	excluded := make(map[string]bool, len(backendExcludedKeys))
	for _, k := range backendExcludedKeys {
		excluded[bPrefix+k] = true
	}

	cfg = Config{
		"allow": strings.Join(Defaults, ","),
		"deny":  "",
	}
	if root := settings.Get("FS_ROOT"); root != "" {
		cfg.set("root", path.Join(root, storageName))
	}

	for key, value := range settings {
		if len(key) < len(bPrefix) || !strings.EqualFold(key[:len(bPrefix)], bPrefix) {
			continue
		}
		if excluded[strings.ToUpper(key)] {
			continue
		}
		cfg.set(key[len(bPrefix):], value)
	}

	for key, value := range settings {
		if strings.HasPrefix(key, prefix) {
			cfg.set(key[len(prefix):], value)
		}
	}

	return backendName, cfg
}
