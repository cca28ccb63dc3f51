// Package config holds OPERATOR-LEVEL configuration for a feegate installation.
//
// This is infrastructure config set by whoever deploys feegate, NOT end-user
// input. It covers the data directory, the audit signing key, fetch limits,
// and generation-provider endpoints. Set via env vars (FEEGATE_*) or the
// feegate.config.yaml file.
//
// Generation API keys (e.g. OPENAI_API_KEY) are read from the environment at
// provider construction time and never stored in this struct.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/feegate-io/feegate/internal/cryptoutil"
)

// Viper keys. Each maps to an env var with the FEEGATE_ prefix
// (e.g. "signing_key" → FEEGATE_SIGNING_KEY) and to a YAML field
// in feegate.config.yaml.
const (
	KeyDataDir       = "data_dir"
	KeySigningKey    = "signing_key"
	KeyFetchTimeout  = "fetch_timeout_seconds"
	KeyOllamaBaseURL = "ollama_base_url"
	KeyProvider      = "provider"
	KeyPromptVersion = "prompt_version"
)

// Defaults that do NOT involve crypto material. The signing key intentionally
// has no baked-in default — when unset we generate a deterministic per-machine
// fallback and warn loudly.
const (
	DefaultFetchTimeoutSec = 10
	DefaultOllamaURL       = "http://localhost:11434"
	DefaultProvider        = "ollama"
	DefaultPromptVersion   = "v1.2-beta"
)

// Config holds resolved operator-level configuration for a feegate process.
type Config struct {
	DataDir       string        // Base directory for all state (~/.feegate)
	SigningKey    string        // HMAC-SHA256 key for audit ledger signing (≥32 bytes)
	FetchTimeout  time.Duration // Per-attempt timeout for live source fetches
	OllamaBaseURL string        // Ollama API endpoint (operator infrastructure)
	Provider      string        // Generation provider name ("ollama", "openai")
	PromptVersion string        // Generation-policy version stamped into responses and audit entries

	usingDefaultSigningKey bool
}

// UsingDefaultSigningKey returns true if the audit signing key fell back to a
// generated default. Commands should warn when this is the case.
func (c *Config) UsingDefaultSigningKey() bool {
	return c.usingDefaultSigningKey
}

// CacheDBPath returns the full path to the knowledge cache SQLite database.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.DataDir, "knowledge.db")
}

// AuditDBPath returns the full path to the audit ledger SQLite database.
func (c *Config) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// NotesPath returns the full path to the markdown notes file that the
// SAVE_NOTES action appends to.
func (c *Config) NotesPath() string {
	return filepath.Join(c.DataDir, "notes.md")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKey logs a warning when the signing key is not explicitly set.
// Suppressed when FEEGATE_QUICKSTART=1 or true (first-time exploration, demos).
func (c *Config) WarnIfDefaultKey() {
	if isQuickstart() {
		return
	}
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default FEEGATE_SIGNING_KEY — set via env var or config file for production")
	}
}

func isQuickstart() bool {
	v := os.Getenv("FEEGATE_QUICKSTART")
	return v == "1" || v == "true" || v == "TRUE"
}

func init() {
	viper.SetEnvPrefix("FEEGATE")
	viper.AutomaticEnv()
	viper.SetDefault(KeyFetchTimeout, DefaultFetchTimeoutSec)
	viper.SetDefault(KeyOllamaBaseURL, DefaultOllamaURL)
	viper.SetDefault(KeyProvider, DefaultProvider)
	viper.SetDefault(KeyPromptVersion, DefaultPromptVersion)
}

// Load reads configuration from Viper (which merges env vars, config
// file, and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:       resolveDataDir(),
		SigningKey:    viper.GetString(KeySigningKey),
		FetchTimeout:  time.Duration(viper.GetInt(KeyFetchTimeout)) * time.Second,
		OllamaBaseURL: viper.GetString(KeyOllamaBaseURL),
		Provider:      viper.GetString(KeyProvider),
		PromptVersion: viper.GetString(KeyPromptVersion),
	}

	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "audit-ledger-signing")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".feegate"
	}
	return filepath.Join(home, ".feegate")
}

// deriveDefaultKey produces a deterministic 32-byte fallback key from the
// data directory path and a salt. This is NOT cryptographically strong — it
// exists solely so `feegate ask` works out of the box while still signing
// audit entries with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("feegate:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if err := validateSigningKey(c.SigningKey); err != nil {
		return err
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout_seconds must be positive")
	}
	switch c.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("provider must be one of ollama, openai (got %q)", c.Provider)
	}
	return nil
}

// validateSigningKey accepts either ≥32 raw bytes or ≥64 hex characters
// (decoded length ≥32 for HMAC-SHA256). Hex is checked first (disjoint from
// raw) so that hex format is validated; raw is accepted otherwise when n ≥ 32.
func validateSigningKey(key string) error {
	n := len(key)
	if n >= 64 && n%2 == 0 && cryptoutil.IsHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return fmt.Errorf("decoding signing_key hex: %w", err)
		}
		if len(decoded) < 32 {
			return fmt.Errorf("signing_key hex must decode to at least 32 bytes (got %d)", len(decoded))
		}
		return nil
	}
	if n >= 32 {
		return nil
	}
	return fmt.Errorf("signing_key must be at least 32 bytes or 64+ hex characters (got %d); set FEEGATE_SIGNING_KEY", n)
}
