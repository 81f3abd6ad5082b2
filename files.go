package storekit

import (
	"regexp"
	"slices"
	"strings"
)

// Extension presets, usable as the declared extension set of a Storage.
// Combine them with slices.Concat.
var (
	Text        = []string{"txt"}
	Documents   = []string{"rtf", "odf", "ods", "gnumeric", "abw", "doc", "docx", "xls", "xlsx", "pdf"}
	Images      = []string{"jpg", "jpe", "jpeg", "png", "gif", "svg", "bmp", "webp"}
	Audio       = []string{"wav", "mp3", "aac", "ogg", "oga", "flac"}
	Data        = []string{"csv", "ini", "json", "plist", "xml", "yaml", "yml"}
	Scripts     = []string{"js", "php", "pl", "py", "rb", "sh"}
	Archives    = []string{"gz", "bz2", "zip", "tar", "tgz", "txz", "7z"}
	Executables = []string{"so", "exe", "dll"}

	// Defaults is the preset used when a Storage declares no extension set.
	Defaults = slices.Concat(Text, Documents, Images, Data)
)

// Extension returns the lower-cased extension of filename, without the
// leading dot, or "" when the filename has none.
func Extension(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 || i == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}

// LowerExtension lower-cases the extension of filename, preserving the
// basename's case.
func LowerExtension(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return filename
	}
	return filename[:i] + strings.ToLower(filename[i:])
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Reserved device names on Windows; a bare "con.txt" would name a device.
var windowsDeviceNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true,
	"COM5": true, "COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true,
	"LPT5": true, "LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SecureFilename turns a client-supplied filename into one safe to hand to a
// backend: directory components are stripped, whitespace becomes underscores
// and any character outside [A-Za-z0-9_.-] is dropped. Returns "" when
// nothing safe remains.
func SecureFilename(filename string) string {
	for _, sep := range []string{"/", "\\"} {
		if i := strings.LastIndex(filename, sep); i >= 0 {
			filename = filename[i+1:]
		}
	}
	filename = strings.Join(strings.Fields(filename), "_")
	filename = unsafeFilenameChars.ReplaceAllString(filename, "")
	filename = strings.Trim(filename, "._")

	if base, _, ok := strings.Cut(filename, "."); ok && windowsDeviceNames[strings.ToUpper(base)] {
		filename = "_" + filename
	} else if windowsDeviceNames[strings.ToUpper(filename)] {
		filename = "_" + filename
	}

	return filename
}
