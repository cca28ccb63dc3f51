package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/feegate-io/feegate/internal/cryptoutil"
)

// FetchState labels where the fetch state machine ended up. The fallback
// policy — always attempt a live fetch, fall back to cache only on failure —
// is expressed as explicit transitions so it stays independently testable.
type FetchState string

const (
	StateCold     FetchState = "cold"     // no attempt made yet
	StateRetrying FetchState = "retrying" // transient failure, backoff in progress
	StateFresh    FetchState = "fresh"    // live fetch succeeded
	StateDegraded FetchState = "degraded" // live fetch exhausted, stale cache served
	StateFailed   FetchState = "failed"   // live fetch exhausted, no usable cache
)

// Result is a fetch outcome: the packet plus the state it was produced in.
type Result struct {
	Packet   *Packet
	State    FetchState
	Attempts int
	// ContentChanged is true when the fetched content hash differs from the
	// previously cached hash (always true on a cold cache).
	ContentChanged bool
}

// Degraded reports whether the packet is stale-but-available cache data.
func (r *Result) Degraded() bool {
	return r.State == StateDegraded
}

// FetchError reports that live fetching exhausted its retries and no usable
// cache entry existed.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// RetryOptions bounds the retry loop. Backoff grows exponentially from
// InitialDelay, capped at MaxDelay.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryOptions mirrors the production fetch policy: 3 attempts,
// exponential backoff bounded between 1s and 10s.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

func (o *RetryOptions) applyDefaults() {
	d := DefaultRetryOptions()
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = d.InitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = d.MaxDelay
	}
	if o.Multiplier <= 0 {
		o.Multiplier = d.Multiplier
	}
}

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Fetcher produces knowledge packets with caching, bounded retry, and
// stale-cache fallback. Safe for concurrent use; writes for the same URL are
// serialized per cache key.
type Fetcher struct {
	client  *http.Client
	cache   CacheStore
	timeout time.Duration
	retry   RetryOptions

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// Option configures the Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the HTTP client (tests use httptest transports).
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithTimeout sets the per-attempt timeout for live fetches.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// WithRetryOptions overrides the retry policy.
func WithRetryOptions(o RetryOptions) Option {
	return func(f *Fetcher) { f.retry = o }
}

// NewFetcher creates a fetcher backed by the given cache store.
func NewFetcher(cache CacheStore, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{},
		cache:    cache,
		timeout:  10 * time.Second,
		retry:    DefaultRetryOptions(),
		keyLocks: make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(f)
	}
	f.retry.applyDefaults()
	return f
}

// Fetch runs the fetch state machine for url:
//
//	Cold → (attempt) → Fresh            on success
//	Cold → Retrying(n) → ... → Fresh    transient failures within the ceiling
//	Cold → Retrying(n) → ... → Degraded retries exhausted, cache available
//	Cold → Retrying(n) → ... → Failed   retries exhausted, no cache
//
// Cancellation via ctx aborts immediately with the context's error; no
// partial cache write occurs. A malformed response body is fatal and not
// retried.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "knowledge.fetch",
		trace.WithAttributes(attribute.String("fetch.url", url)))
	defer span.End()

	key := cryptoutil.URLDigest(url)
	prior, priorErr := f.cache.Get(ctx, key)
	if priorErr != nil && !errors.Is(priorErr, ErrCacheMiss) {
		return nil, fmt.Errorf("reading knowledge cache: %w", priorErr)
	}

	pkt, attempts, err := f.fetchLive(ctx, url)
	if err != nil {
		// Cancellation is surfaced as-is so callers can tell a caller-imposed
		// deadline apart from an upstream network failure.
		if ctx.Err() != nil {
			span.RecordError(ctx.Err())
			return nil, ctx.Err()
		}

		var schemaErr *SchemaError
		if errors.As(err, &schemaErr) {
			span.RecordError(err)
			return nil, err
		}

		if prior != nil {
			log.Warn().
				Str("url", url).
				Int("attempts", attempts).
				Err(err).
				Msg("live fetch exhausted, serving stale cache")
			span.SetAttributes(attribute.String("fetch.state", string(StateDegraded)))
			return &Result{Packet: prior, State: StateDegraded, Attempts: attempts}, nil
		}

		span.RecordError(err)
		span.SetAttributes(attribute.String("fetch.state", string(StateFailed)))
		return nil, &FetchError{URL: url, Attempts: attempts, Err: err}
	}

	if err := f.replaceSerialized(ctx, key, pkt); err != nil {
		return nil, fmt.Errorf("persisting knowledge packet: %w", err)
	}

	changed := pkt.ContentChangedFrom(prior)
	span.SetAttributes(
		attribute.String("fetch.state", string(StateFresh)),
		attribute.Bool("fetch.content_changed", changed),
		attribute.Int("fetch.attempts", attempts),
	)
	return &Result{Packet: pkt, State: StateFresh, Attempts: attempts, ContentChanged: changed}, nil
}

// fetchLive attempts the live fetch with bounded retry and exponential
// backoff. Returns the packet, the number of attempts consumed, and the last
// error on exhaustion.
func (f *Fetcher) fetchLive(ctx context.Context, url string) (*Packet, int, error) {
	delay := f.retry.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= f.retry.MaxAttempts; attempt++ {
		body, err := f.attempt(ctx, url)
		if err == nil {
			normalized, nerr := Normalize(body)
			if nerr != nil {
				// Malformed response: fatal, no retry.
				return nil, attempt, &SchemaError{Field: "content_markdown", Reason: nerr.Error()}
			}
			return NewPacket(url, normalized, time.Now().UTC()), attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		if attempt == f.retry.MaxAttempts {
			return nil, attempt, lastErr
		}

		log.Warn().
			Str("url", url).
			Int("attempt", attempt).
			Int("max_attempts", f.retry.MaxAttempts).
			Dur("delay", delay).
			Err(err).
			Msg("live fetch failed, retrying")

		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * f.retry.Multiplier)
			if delay > f.retry.MaxDelay {
				delay = f.retry.MaxDelay
			}
		}
	}

	return nil, f.retry.MaxAttempts, lastErr
}

// attempt performs one HTTP GET with the per-attempt timeout applied.
func (f *Fetcher) attempt(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating fetch request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("source returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading source body: %w", err)
	}
	return string(body), nil
}

// replaceSerialized serializes cache writes per key so concurrent fetches of
// the same URL cannot race the replace.
func (f *Fetcher) replaceSerialized(ctx context.Context, key string, pkt *Packet) error {
	f.mu.Lock()
	lock, ok := f.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		f.keyLocks[key] = lock
	}
	f.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return f.cache.Replace(ctx, key, pkt)
}
