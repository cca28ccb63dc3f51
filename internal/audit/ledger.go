// Package audit provides an HMAC-signed, append-only ledger for every
// side-effecting action.
//
// Each genuinely new ActionRequest appends exactly one signed entry before
// its side effect runs, keyed by a caller-supplied idempotency token. Entries
// are never edited or deleted — the package contains no UPDATE or DELETE
// statement against the ledger table. Replays return the previously recorded
// outcome without re-executing the side effect.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	feegateotel "github.com/feegate-io/feegate/internal/otel"
)

var tracer = feegateotel.Tracer("github.com/feegate-io/feegate/internal/audit")

// Domain errors.
var (
	ErrMissingApprovalToken = errors.New("action request carries no approval token")
	ErrUnknownAction        = errors.New("action tag is not registered")
	// ErrReconciliationRequired reports an idempotency key whose ledger entry
	// exists but whose outcome was never recorded — a crash landed between
	// the append and result recording. The effect state is unknown; this is
	// resolved by an operator, never automatically.
	ErrReconciliationRequired = errors.New("ledger entry exists without a recorded outcome; manual reconciliation required")
)

// Entry is one immutable ledger record.
type Entry struct {
	ID                    string    `json:"id"`
	IdempotencyKey        string    `json:"idempotency_key"`
	Timestamp             time.Time `json:"timestamp"`
	Actor                 string    `json:"actor"`
	ActionType            string    `json:"action_type"`
	ActionPayload         string    `json:"action_payload"`
	ContentHashSnapshot   string    `json:"content_hash_snapshot"`
	PromptVersionSnapshot string    `json:"prompt_version_snapshot"`
	Signature             string    `json:"signature"`
}

// ActionRequest asks the ledger to record and execute one side effect.
type ActionRequest struct {
	Action                string         `json:"action"`
	Payload               map[string]any `json:"payload"`
	ApprovalToken         string         `json:"approval_token"`
	IdempotencyKey        string         `json:"idempotency_key"`
	Actor                 string         `json:"actor"`
	ContentHashSnapshot   string         `json:"content_hash_snapshot"`
	PromptVersionSnapshot string         `json:"prompt_version_snapshot"`
}

// ActionResult is the outcome of a recorded action. Replayed is true when the
// idempotency key had already been processed and the side effect was skipped.
type ActionResult struct {
	EntryID  string `json:"entry_id"`
	Outcome  string `json:"outcome"`
	Success  bool   `json:"success"`
	Replayed bool   `json:"replayed"`
}

// Executor performs the actual side effect for an action tag. Supplied by a
// collaborator; the ledger only guarantees recording and idempotency.
type Executor interface {
	Execute(ctx context.Context, action string, payload map[string]any) (string, error)
}

// Verifier attests that an approval token proves user consent for an action.
// Token issuance is an external trust boundary; the ledger only requires that
// a token be present and that the verifier accept it.
type Verifier interface {
	Verify(ctx context.Context, token, action string) error
}

// Ledger persists signed audit entries and executes approved actions at most
// once per idempotency key.
type Ledger struct {
	db        *sql.DB
	signer    *Signer
	verifier  Verifier
	executors map[string]Executor
}

// NewLedger opens (and if needed creates) the ledger database.
func NewLedger(dbPath, signingKey string, verifier Verifier, executors map[string]Executor) (*Ledger, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		idempotency_key TEXT NOT NULL UNIQUE,
		timestamp TIMESTAMP NOT NULL,
		actor TEXT NOT NULL,
		action_type TEXT NOT NULL,
		action_payload TEXT NOT NULL,
		content_hash_snapshot TEXT NOT NULL,
		prompt_version_snapshot TEXT NOT NULL,
		signature TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS action_results (
		idempotency_key TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		success INTEGER NOT NULL,
		completed_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor);
	CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action_type);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	return &Ledger{
		db:        db,
		signer:    signer,
		verifier:  verifier,
		executors: executors,
	}, nil
}

// Close releases the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordAndExecute processes one action request:
//
//  1. approval-token verification (presence, then the verifier's attestation)
//  2. idempotency replay check — a seen key returns the stored outcome
//  3. append one signed ledger entry
//  4. execute the side effect
//  5. record the outcome
//
// The entry is appended before the side effect runs, so a crash mid-action
// leaves a reconciliation marker (entry without outcome) rather than an
// invisible effect.
func (l *Ledger) RecordAndExecute(ctx context.Context, req *ActionRequest) (*ActionResult, error) {
	ctx, span := tracer.Start(ctx, "audit.record_and_execute",
		trace.WithAttributes(
			attribute.String("action.type", req.Action),
			attribute.String("action.idempotency_key", req.IdempotencyKey),
		))
	defer span.End()

	if req.ApprovalToken == "" {
		return nil, ErrMissingApprovalToken
	}
	if err := l.verifier.Verify(ctx, req.ApprovalToken, req.Action); err != nil {
		return nil, fmt.Errorf("verifying approval token: %w", err)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	executor, ok := l.executors[req.Action]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, req.Action)
	}

	if prior, err := l.priorResult(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if prior != nil {
		span.SetAttributes(attribute.Bool("action.replayed", true))
		log.Info().
			Str("idempotency_key", req.IdempotencyKey).
			Str("action", req.Action).
			Msg("idempotent replay, side effect skipped")
		return prior, nil
	}

	entry, err := l.append(ctx, req)
	if errors.Is(err, errDuplicateKey) {
		// Lost the append race to a concurrent request with the same key; the
		// winner's outcome is authoritative.
		return l.awaitPrior(ctx, req.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}

	outcome, execErr := executor.Execute(ctx, req.Action, req.Payload)
	result := &ActionResult{
		EntryID: entry.ID,
		Outcome: outcome,
		Success: execErr == nil,
	}
	if execErr != nil {
		result.Outcome = execErr.Error()
	}

	if err := l.recordResult(ctx, req.IdempotencyKey, result); err != nil {
		return nil, fmt.Errorf("recording action outcome: %w", err)
	}

	if execErr != nil {
		return result, fmt.Errorf("executing %s: %w", req.Action, execErr)
	}
	return result, nil
}

// errDuplicateKey reports an append that hit the idempotency UNIQUE index.
var errDuplicateKey = errors.New("idempotency key already appended")

// awaitPrior resolves a lost append race: the winning request may still be
// executing, so poll briefly for its recorded outcome before giving up with
// the reconciliation error.
func (l *Ledger) awaitPrior(ctx context.Context, key string) (*ActionResult, error) {
	lastErr := fmt.Errorf("key %s: %w", key, ErrReconciliationRequired)
	for i := 0; i < 50; i++ {
		prior, err := l.priorResult(ctx, key)
		if prior != nil {
			log.Info().
				Str("idempotency_key", key).
				Msg("idempotent replay, side effect skipped")
			return prior, nil
		}
		if err != nil && !errors.Is(err, ErrReconciliationRequired) {
			return nil, err
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	return nil, lastErr
}

// priorResult returns the stored outcome for a seen idempotency key, nil when
// the key is new, or ErrReconciliationRequired when an entry exists without
// an outcome.
func (l *Ledger) priorResult(ctx context.Context, key string) (*ActionResult, error) {
	var (
		entryID string
		outcome string
		success int
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT entry_id, outcome, success FROM action_results WHERE idempotency_key = ?`, key).
		Scan(&entryID, &outcome, &success)
	if err == nil {
		return &ActionResult{EntryID: entryID, Outcome: outcome, Success: success == 1, Replayed: true}, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("querying action results: %w", err)
	}

	var ledgerID string
	err = l.db.QueryRowContext(ctx,
		`SELECT id FROM audit_log WHERE idempotency_key = ?`, key).Scan(&ledgerID)
	if err == nil {
		return nil, fmt.Errorf("key %s: %w", key, ErrReconciliationRequired)
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	return nil, nil
}

// append writes one signed entry. The UNIQUE constraint on idempotency_key is
// the backstop against two concurrent workers appending for the same key.
func (l *Ledger) append(ctx context.Context, req *ActionRequest) (*Entry, error) {
	payloadJSON, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling action payload: %w", err)
	}

	entry := &Entry{
		ID:                    uuid.NewString(),
		IdempotencyKey:        req.IdempotencyKey,
		Timestamp:             time.Now().UTC(),
		Actor:                 req.Actor,
		ActionType:            req.Action,
		ActionPayload:         string(payloadJSON),
		ContentHashSnapshot:   req.ContentHashSnapshot,
		PromptVersionSnapshot: req.PromptVersionSnapshot,
	}

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshaling audit entry: %w", err)
	}
	signature, err := l.signer.Sign(entryJSON)
	if err != nil {
		return nil, fmt.Errorf("signing audit entry: %w", err)
	}
	entry.Signature = signature

	query := `INSERT INTO audit_log
	          (id, idempotency_key, timestamp, actor, action_type, action_payload, content_hash_snapshot, prompt_version_snapshot, signature)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = l.db.ExecContext(ctx, query,
		entry.ID, entry.IdempotencyKey, entry.Timestamp, entry.Actor, entry.ActionType,
		entry.ActionPayload, entry.ContentHashSnapshot, entry.PromptVersionSnapshot, entry.Signature,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("key %s: %w", req.IdempotencyKey, errDuplicateKey)
		}
		return nil, fmt.Errorf("appending audit entry: %w", err)
	}

	return entry, nil
}

func (l *Ledger) recordResult(ctx context.Context, key string, result *ActionResult) error {
	success := 0
	if result.Success {
		success = 1
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO action_results (idempotency_key, entry_id, outcome, success, completed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		key, result.EntryID, result.Outcome, success, time.Now().UTC())
	return err
}

// Get retrieves a ledger entry by ID.
func (l *Ledger) Get(ctx context.Context, id string) (*Entry, error) {
	ctx, span := tracer.Start(ctx, "audit.get",
		trace.WithAttributes(attribute.String("entry.id", id)))
	defer span.End()

	return l.scanEntry(l.db.QueryRowContext(ctx, `
		SELECT id, idempotency_key, timestamp, actor, action_type, action_payload,
		       content_hash_snapshot, prompt_version_snapshot, signature
		FROM audit_log WHERE id = ?`, id))
}

// List returns ledger entries matching the given filters, newest first.
func (l *Ledger) List(ctx context.Context, actor, actionType string, from, to time.Time, limit int) ([]Entry, error) {
	ctx, span := tracer.Start(ctx, "audit.list",
		trace.WithAttributes(
			attribute.String("filter.actor", actor),
			attribute.String("filter.action_type", actionType),
		))
	defer span.End()

	query := `SELECT id, idempotency_key, timestamp, actor, action_type, action_payload,
	                 content_hash_snapshot, prompt_version_snapshot, signature
	          FROM audit_log WHERE 1=1`
	args := []any{}

	if actor != "" {
		query += ` AND actor = ?`
		args = append(args, actor)
	}
	if actionType != "" {
		query += ` AND action_type = ?`
		args = append(args, actionType)
	}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.IdempotencyKey, &e.Timestamp, &e.Actor, &e.ActionType,
			&e.ActionPayload, &e.ContentHashSnapshot, &e.PromptVersionSnapshot, &e.Signature); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		results = append(results, e)
	}

	span.SetAttributes(attribute.Int("audit.entry_count", len(results)))
	return results, rows.Err()
}

// VerifyEntry checks the HMAC signature integrity of a ledger entry.
func (l *Ledger) VerifyEntry(ctx context.Context, id string) (bool, error) {
	entry, err := l.Get(ctx, id)
	if err != nil {
		return false, err
	}

	signature := entry.Signature
	entry.Signature = ""

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("marshaling for verification: %w", err)
	}

	return l.signer.Verify(entryJSON, signature), nil
}

func (l *Ledger) scanEntry(row *sql.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.IdempotencyKey, &e.Timestamp, &e.Actor, &e.ActionType,
		&e.ActionPayload, &e.ContentHashSnapshot, &e.PromptVersionSnapshot, &e.Signature)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("audit entry not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying audit entry: %w", err)
	}
	return &e, nil
}
