package contentcache

import (
	"errors"

	"github.com/trendhive/content-cache/cache"
	"github.com/trendhive/content-cache/storage"
	"github.com/trendhive/content-cache/transport"
)

// Root-level aliases so callers can match errors without importing the
// subpackages that produce them.
var (
	// ErrNotFound is returned when no entry exists for a key.
	ErrNotFound = storage.ErrNotFound

	// ErrNoContent is returned by Resolve when the fetch failed and no
	// fallback entry qualified.
	ErrNoContent = cache.ErrNoContent

	// ErrNotConnected is returned when a publish is attempted while the
	// transport is disconnected.
	ErrNotConnected = transport.ErrNotConnected

	// ErrInvalidConfig is returned when the client configuration is invalid.
	ErrInvalidConfig = cache.ErrInvalidConfig

	// ErrClosed is returned when operations are performed after Close.
	ErrClosed = errors.New("client is closed")
)
