package testutil

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/feegate-io/feegate/internal/audit"
	"github.com/feegate-io/feegate/internal/knowledge"
)

// NewTestCache creates a knowledge cache in a temp dir and registers
// t.Cleanup to close it.
func NewTestCache(t *testing.T) *knowledge.SQLiteCache {
	t.Helper()
	cache, err := knowledge.NewSQLiteCache(filepath.Join(t.TempDir(), "knowledge.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

// NewTestLedger creates an audit ledger in a temp dir with the default
// executors (notes file in the same dir, email drafts to emailOut) and an
// HMAC verifier keyed with TestSigningKey. Registers t.Cleanup to close it.
func NewTestLedger(t *testing.T, emailOut io.Writer) (*audit.Ledger, *audit.HMACVerifier) {
	t.Helper()
	dir := t.TempDir()

	verifier, err := audit.NewHMACVerifier(TestSigningKey)
	if err != nil {
		t.Fatal(err)
	}
	if emailOut == nil {
		emailOut = io.Discard
	}
	ledger, err := audit.NewLedger(
		filepath.Join(dir, "audit.db"),
		TestSigningKey,
		verifier,
		audit.DefaultExecutors(filepath.Join(dir, "notes.md"), emailOut),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger, verifier
}
