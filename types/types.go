package types

import (
	"encoding/json"
	"time"
)

// Source identifies how a cache entry was produced.
type Source string

const (
	// SourceScraped marks content produced by a live fetch.
	SourceScraped Source = "scraped"

	// SourceFallback marks same-category content served in place of a failed fetch.
	SourceFallback Source = "fallback"
)

// Note is one processed content item extracted from a fetch.
type Note struct {
	Title string `json:"title"`
	Desc  string `json:"desc"`
	Likes int    `json:"likes,omitempty"`
}

// CacheEntry is the unit stored in every cache tier.
// Exactly one current entry exists per Key in each tier; a re-fetch
// supersedes the previous entry instead of appending to it.
type CacheEntry struct {
	Key            string    `json:"key"`
	Category       string    `json:"category,omitempty"`
	Data           string    `json:"data"`
	ProcessedNotes []Note    `json:"processedNotes"`
	Source         Source    `json:"source"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the entry is past its expiry at the given
// instant. Entries written before expiry timestamps were recorded fall
// back to CreatedAt plus the supplied TTL. The boundary is exclusive:
// an entry expires the moment now passes ExpiresAt.
func (e CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	if !e.ExpiresAt.IsZero() {
		return e.ExpiresAt.Before(now)
	}
	return e.CreatedAt.Add(ttl).Before(now)
}

// TierStats summarizes one cache tier's rows at an instant.
type TierStats struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Expired int `json:"expired"`
}

// OutboxRecord is one durable local mutation awaiting transmission.
// Synced transitions false to true exactly once and never reverts.
type OutboxRecord struct {
	ID        int64           `json:"id"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	Synced    bool            `json:"synced"`
	CreatedAt time.Time       `json:"createdAt"`
}

// SyncMessage is the wire form of an outbox record on the sync topic.
type SyncMessage struct {
	ClientID  string          `json:"clientId"`
	RecordID  int64           `json:"recordId"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// HeartbeatMessage is the periodic telemetry snapshot published on the
// metrics topic. Metrics carries the Prometheus text exposition format.
type HeartbeatMessage struct {
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
	Metrics   string `json:"metrics"`
}
