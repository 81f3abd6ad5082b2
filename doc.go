// Package storekit provides named file storages on top of pluggable
// backends, with configuration-driven backend selection, filename
// validation, transparent encryption, and HTTP serving.
//
// A Storage is a named collection of files. The application declares its
// storages up front and binds them to settings once at startup; from then on
// every operation goes through the storage's backend:
//
//	import (
//	    "github.com/storekit-io/storekit"
//	    _ "github.com/storekit-io/storekit/driver/local"
//	)
//
//	avatars := storekit.New("avatars", storekit.WithExtensions(storekit.Images...))
//	docs := storekit.New("docs")
//
//	settings, err := storekit.LoadSettings()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := storekit.Configure(settings, avatars, docs); err != nil {
//	    log.Fatal(err)
//	}
//
//	stored, err := avatars.Save(ctx, storekit.NewUpload("me.png", file))
//
// # Backends
//
// Backends register themselves under a name; importing a driver package for
// its side effects makes it available:
//
//   - Local filesystem (github.com/storekit-io/storekit/driver/local)
//   - Amazon S3 and compatible stores (github.com/storekit-io/storekit/driver/s3)
//   - In-memory (github.com/storekit-io/storekit/driver/memory)
//
// # Configuration
//
// Settings come from the environment (or any map handed to Configure) and
// resolve per storage with three levels of precedence:
//
//	AVATARS_FS_BACKEND=s3      storage-level, highest
//	FS_S3_REGION=eu-west-1     backend-level
//	FS_BACKEND=local           global default
//
// Storage-level keys are {NAME}_FS_{KEY}; backend-level keys are
// FS_{BACKEND}_{KEY} and apply to every storage bound to that backend.
// FS_URL and FS_ROOT set the default public URL and local root for all
// storages.
//
// # Validation
//
// Each storage declares the file extensions it accepts, defaulting to a
// conservative set of text, document, image, and data formats. The
// configured allow and deny lists refine the declared set per deployment:
//
//	avatars := storekit.New("avatars", storekit.WithExtensions(storekit.Images...))
//	// AVATARS_FS_DENY=svg rejects SVG uploads without a code change
//
// # Encryption
//
// Setting a base64-encoded 32-byte encryption_key on a storage encrypts
// content with AES-256-GCM before it reaches the backend, and decrypts it
// transparently on the way out. Backends only ever see ciphertext.
//
// # Serving
//
// The serve subpackage mounts download and upload routes for a set of
// storages on a chi router and wires Storage.URL to the mounted paths.
// Storages with an explicit FS_URL build URLs from it instead, which suits
// CDN or reverse-proxy deployments.
//
// # Errors
//
// Failures wrap sentinel errors such as ErrFileNotFound and ErrFileExists,
// usually inside a *PathError carrying the operation and path:
//
//	_, err := docs.Read(ctx, "missing.pdf")
//	if storekit.IsNotFound(err) {
//	    // handle absence
//	}
package storekit
