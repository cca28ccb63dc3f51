package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	feegateotel "github.com/feegate-io/feegate/internal/otel"
)

var tracer = feegateotel.Tracer("github.com/feegate-io/feegate/internal/knowledge")

// ErrCacheMiss reports that no usable cached packet exists for a key.
// Corrupt records deliberately surface as misses so the fetcher falls
// through to a live fetch.
var ErrCacheMiss = errors.New("knowledge cache miss")

// CacheStore is the storage port for cached packets: read-by-key and
// atomic-replace-by-key. Implementations must guarantee a reader never
// observes a partially written record.
type CacheStore interface {
	// Get returns the current packet for key, or ErrCacheMiss.
	Get(ctx context.Context, key string) (*Packet, error)
	// Replace atomically installs pkt as the current packet for key,
	// superseding any prior entry.
	Replace(ctx context.Context, key string, pkt *Packet) error
	Close() error
}

// SQLiteCache persists one packet per URL digest in SQLite. Row replacement
// is a single statement inside SQLite's write transaction, so concurrent
// readers only ever see the old or the new record, never a torn one.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache opens (and if needed creates) the cache database.
func NewSQLiteCache(dbPath string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge cache database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS knowledge_cache (
		url_digest TEXT PRIMARY KEY,
		packet_json TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		last_checked TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cache_last_checked ON knowledge_cache(last_checked);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating knowledge cache schema: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

// Close releases the database connection.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// Get retrieves the packet stored under key. Any corruption — bad JSON, bad
// hash length, hash/content mismatch — is logged and reported as a miss.
func (c *SQLiteCache) Get(ctx context.Context, key string) (*Packet, error) {
	ctx, span := tracer.Start(ctx, "knowledge.cache.get",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	var packetJSON string
	query := `SELECT packet_json FROM knowledge_cache WHERE url_digest = ?`
	err := c.db.QueryRowContext(ctx, query, key).Scan(&packetJSON)
	if err == sql.ErrNoRows {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("querying knowledge cache: %w", err)
	}

	var pkt Packet
	if err := json.Unmarshal([]byte(packetJSON), &pkt); err != nil {
		log.Warn().Str("cache_key", key).Err(err).Msg("corrupt cache record, treating as miss")
		return nil, ErrCacheMiss
	}
	if err := pkt.Validate(); err != nil {
		log.Warn().Str("cache_key", key).Err(err).Msg("cache record failed schema validation, treating as miss")
		return nil, ErrCacheMiss
	}

	return &pkt, nil
}

// Replace installs pkt under key, superseding any prior record. The packet is
// schema-validated first so a malformed packet can never become visible.
func (c *SQLiteCache) Replace(ctx context.Context, key string, pkt *Packet) error {
	ctx, span := tracer.Start(ctx, "knowledge.cache.replace",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.String("packet.content_hash", pkt.ContentHash),
		))
	defer span.End()

	if err := pkt.Validate(); err != nil {
		return fmt.Errorf("refusing to cache malformed packet: %w", err)
	}

	packetJSON, err := json.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("marshaling packet: %w", err)
	}

	query := `INSERT INTO knowledge_cache (url_digest, packet_json, content_hash, last_checked)
	          VALUES (?, ?, ?, ?)
	          ON CONFLICT(url_digest) DO UPDATE SET
	            packet_json = excluded.packet_json,
	            content_hash = excluded.content_hash,
	            last_checked = excluded.last_checked`

	if _, err := c.db.ExecContext(ctx, query, key, string(packetJSON), pkt.ContentHash, pkt.LastChecked); err != nil {
		return fmt.Errorf("replacing cache entry: %w", err)
	}

	return nil
}
