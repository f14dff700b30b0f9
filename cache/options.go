package cache

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
)

// Options configures a Manager instance.
type Options struct {
	// TTL is how long a fresh entry stays servable.
	TTL time.Duration

	// FallbackMaxAge is the ceiling for fallback entries. Intentionally
	// much looser than TTL: fallback trades staleness for availability.
	FallbackMaxAge time.Duration

	// FetchTimeout bounds each call to the fetch collaborator.
	FetchTimeout time.Duration

	// Enabled toggles both tiers. When false every lookup misses and
	// every write is skipped.
	Enabled bool

	// LocalCacheFactory creates the optional in-process micro-tier.
	// If nil, defaults to an LRU factory.
	LocalCacheFactory LocalCacheFactory

	// Logger is the logger for the manager.
	// If nil, defaults to a no-op logger.
	Logger Logger

	// Clock supplies time. If nil, defaults to the real clock.
	Clock clockwork.Clock

	// DebugMode enables debug logging.
	DebugMode bool
}

// DefaultOptions returns default manager options.
func DefaultOptions() Options {
	return Options{
		TTL:            6 * time.Hour,
		FallbackMaxAge: 30 * 24 * time.Hour,
		FetchTimeout:   30 * time.Second,
		Enabled:        true,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.TTL <= 0 {
		return ErrInvalidConfig
	}
	if o.FallbackMaxAge < o.TTL {
		return ErrInvalidConfig
	}
	if o.FetchTimeout <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ErrInvalidConfig is returned when manager options are invalid.
var ErrInvalidConfig = NewError("invalid cache configuration")

// ErrNoContent is returned by Resolve when the fetch failed and no
// fallback entry qualified.
var ErrNoContent = NewError("no content available")

// NewError creates a new error with the given message.
func NewError(msg string) error {
	return errors.New(msg)
}
