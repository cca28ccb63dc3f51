// Package knowledge fetches and normalizes source content into hashed,
// cacheable packets.
//
// A Packet is a snapshot of one official source page: normalized markdown,
// the time it was last checked, and a SHA-256 content hash. Packets are
// superseded, never mutated — a later fetch atomically replaces the cache
// entry for the same URL. Hash comparison is the authoritative way to detect
// that source content changed; timestamps advance on every fetch including
// no-op refreshes.
package knowledge

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/feegate-io/feegate/internal/cryptoutil"
)

// MaxContentChars bounds packet content for downstream context limits.
const MaxContentChars = 15000

// Packet is a normalized, hashed snapshot of fetched source content.
type Packet struct {
	SourceURL       string    `json:"source_url"`
	ContentMarkdown string    `json:"content_markdown"`
	LastChecked     time.Time `json:"last_checked"`
	ContentHash     string    `json:"content_hash"`
}

// SchemaError reports a malformed packet or cache record. Always fatal for
// the affected record — malformed data is never coerced into a valid shape.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid knowledge packet: %s: %s", e.Field, e.Reason)
}

// NewPacket builds a packet from normalized content, truncating to
// MaxContentChars and computing the content hash over the truncated text.
// Truncation backs up to a rune boundary so the stored content stays valid
// UTF-8 and survives a JSON round-trip with its hash intact.
func NewPacket(sourceURL, normalized string, checkedAt time.Time) *Packet {
	if len(normalized) > MaxContentChars {
		cut := MaxContentChars
		for cut > 0 && !utf8.RuneStart(normalized[cut]) {
			cut--
		}
		normalized = normalized[:cut]
	}
	return &Packet{
		SourceURL:       sourceURL,
		ContentMarkdown: normalized,
		LastChecked:     checkedAt,
		ContentHash:     cryptoutil.ContentHash(normalized),
	}
}

// Validate enforces the packet schema: non-empty source URL, 64-hex content
// hash, and a hash that actually matches the content it is stored with.
func (p *Packet) Validate() error {
	if p.SourceURL == "" {
		return &SchemaError{Field: "source_url", Reason: "empty"}
	}
	if err := cryptoutil.ValidateContentHash(p.ContentHash); err != nil {
		return &SchemaError{Field: "content_hash", Reason: err.Error()}
	}
	if cryptoutil.ContentHash(p.ContentMarkdown) != p.ContentHash {
		return &SchemaError{Field: "content_hash", Reason: "hash does not match content"}
	}
	return nil
}

// ContentChangedFrom reports whether p carries different content than other,
// by hash.
func (p *Packet) ContentChangedFrom(other *Packet) bool {
	if other == nil {
		return true
	}
	return p.ContentHash != other.ContentHash
}
