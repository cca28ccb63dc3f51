package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "test-signing-key-at-least-32-chars!!"

type countingExecutor struct {
	calls   int
	outcome string
	err     error
}

func (e *countingExecutor) Execute(_ context.Context, _ string, _ map[string]any) (string, error) {
	e.calls++
	return e.outcome, e.err
}

func newTestLedger(t *testing.T, executors map[string]Executor) (*Ledger, *HMACVerifier) {
	t.Helper()
	verifier, err := NewHMACVerifier(testSigningKey)
	require.NoError(t, err)

	ledger, err := NewLedger(filepath.Join(t.TempDir(), "audit.db"), testSigningKey, verifier, executors)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return ledger, verifier
}

func newRequest(verifier *HMACVerifier, key string) *ActionRequest {
	return &ActionRequest{
		Action:                ActionSaveNotes,
		Payload:               map[string]any{"scenario": "EXIT_LOAD", "content": "Exit load is 1%."},
		ApprovalToken:         verifier.MintToken(ActionSaveNotes),
		IdempotencyKey:        key,
		Actor:                 "user_approved_action",
		ContentHashSnapshot:   strings.Repeat("ab", 32),
		PromptVersionSnapshot: "v1.2-beta",
	}
}

func TestRecordAndExecute_AppendsOneSignedEntry(t *testing.T) {
	exec := &countingExecutor{outcome: "Notes saved successfully."}
	ledger, verifier := newTestLedger(t, map[string]Executor{ActionSaveNotes: exec})
	ctx := context.Background()

	result, err := ledger.RecordAndExecute(ctx, newRequest(verifier, "key-1"))
	require.NoError(t, err)

	assert.Equal(t, 1, exec.calls)
	assert.True(t, result.Success)
	assert.False(t, result.Replayed)
	assert.Equal(t, "Notes saved successfully.", result.Outcome)

	entries, err := ledger.List(ctx, "", "", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ActionSaveNotes, entries[0].ActionType)
	assert.Equal(t, strings.Repeat("ab", 32), entries[0].ContentHashSnapshot)
	assert.Equal(t, "v1.2-beta", entries[0].PromptVersionSnapshot)
	assert.True(t, strings.HasPrefix(entries[0].Signature, "hmac-sha256:"))

	ok, err := ledger.VerifyEntry(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.True(t, ok, "entry signature must verify")
}

func TestRecordAndExecute_IdempotentReplay(t *testing.T) {
	exec := &countingExecutor{outcome: "Notes saved successfully."}
	ledger, verifier := newTestLedger(t, map[string]Executor{ActionSaveNotes: exec})
	ctx := context.Background()

	first, err := ledger.RecordAndExecute(ctx, newRequest(verifier, "key-dup"))
	require.NoError(t, err)
	second, err := ledger.RecordAndExecute(ctx, newRequest(verifier, "key-dup"))
	require.NoError(t, err)

	assert.Equal(t, 1, exec.calls, "side effect must execute exactly once")
	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Outcome, second.Outcome)
	assert.Equal(t, first.EntryID, second.EntryID)

	entries, err := ledger.List(ctx, "", "", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "ledger contains exactly one entry for the key")
}

// slowExecutor holds the side effect open long enough for a second request
// with the same key to arrive mid-flight.
type slowExecutor struct {
	mu    sync.Mutex
	calls int
}

func (e *slowExecutor) Execute(_ context.Context, _ string, _ map[string]any) (string, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	return "Notes saved successfully.", nil
}

func TestRecordAndExecute_ConcurrentFirstRequestsSameKey(t *testing.T) {
	exec := &slowExecutor{}
	ledger, verifier := newTestLedger(t, map[string]Executor{ActionSaveNotes: exec})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*ActionResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = ledger.RecordAndExecute(ctx, newRequest(verifier, "key-race"))
		}(i)
	}
	wg.Wait()

	// The loser of the append race resolves to the winner's outcome; neither
	// caller sees a constraint error.
	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, "Notes saved successfully.", results[i].Outcome)
		assert.True(t, results[i].Success)
	}
	assert.Equal(t, results[0].EntryID, results[1].EntryID)

	exec.mu.Lock()
	assert.Equal(t, 1, exec.calls, "side effect must execute exactly once")
	exec.mu.Unlock()

	entries, err := ledger.List(ctx, "", "", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecordAndExecute_FailedExecutionIsStillRecorded(t *testing.T) {
	exec := &countingExecutor{err: assert.AnError}
	ledger, verifier := newTestLedger(t, map[string]Executor{ActionSaveNotes: exec})
	ctx := context.Background()

	result, err := ledger.RecordAndExecute(ctx, newRequest(verifier, "key-fail"))
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)

	// The failure is recorded; a replay returns it without re-executing.
	replay, err := ledger.RecordAndExecute(ctx, newRequest(verifier, "key-fail"))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.False(t, replay.Success)
	assert.Equal(t, 1, exec.calls)

	entries, err := ledger.List(ctx, "", "", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecordAndExecute_MissingApprovalToken(t *testing.T) {
	ledger, verifier := newTestLedger(t, map[string]Executor{ActionSaveNotes: &countingExecutor{}})

	req := newRequest(verifier, "key-noauth")
	req.ApprovalToken = ""

	_, err := ledger.RecordAndExecute(context.Background(), req)
	assert.ErrorIs(t, err, ErrMissingApprovalToken)
}

func TestRecordAndExecute_RejectedApprovalToken(t *testing.T) {
	exec := &countingExecutor{}
	ledger, verifier := newTestLedger(t, map[string]Executor{ActionSaveNotes: exec})

	req := newRequest(verifier, "key-badauth")
	req.ApprovalToken = "forged"

	_, err := ledger.RecordAndExecute(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrApprovalRejected)
	assert.Equal(t, 0, exec.calls, "side effect must not run without attested consent")
}

func TestRecordAndExecute_UnknownAction(t *testing.T) {
	ledger, verifier := newTestLedger(t, map[string]Executor{ActionSaveNotes: &countingExecutor{}})

	req := newRequest(verifier, "key-unknown")
	req.Action = "DELETE_EVERYTHING"
	req.ApprovalToken = verifier.MintToken("DELETE_EVERYTHING")

	_, err := ledger.RecordAndExecute(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestRecordAndExecute_ReconciliationRequired(t *testing.T) {
	ledger, verifier := newTestLedger(t, map[string]Executor{ActionSaveNotes: &countingExecutor{}})
	ctx := context.Background()

	// Simulate a crash between the append and result recording: an entry
	// exists with no outcome row.
	req := newRequest(verifier, "key-crashed")
	_, err := ledger.append(ctx, req)
	require.NoError(t, err)

	_, err = ledger.RecordAndExecute(ctx, req)
	assert.ErrorIs(t, err, ErrReconciliationRequired)
}

func TestNotesExecutor_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	exec := &NotesExecutor{Path: path}
	ctx := context.Background()

	_, err := exec.Execute(ctx, ActionSaveNotes, map[string]any{
		"scenario": "EXIT_LOAD", "content": "first", "content_hash": "aa",
	})
	require.NoError(t, err)
	_, err = exec.Execute(ctx, ActionSaveNotes, map[string]any{
		"scenario": "STAMP_DUTY", "content": "second", "content_hash": "bb",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "first")
	assert.Contains(t, string(data), "second", "append, never truncate")
}

func TestEmailExecutor_Drafts(t *testing.T) {
	var out strings.Builder
	exec := &EmailExecutor{Out: &out}

	outcome, err := exec.Execute(context.Background(), ActionEmailSupport, map[string]any{
		"recipient": "support@hdfcfund.com",
		"subject":   "Fee clarification",
		"body":      "Please confirm the exit load schedule.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Email drafted and logged.", outcome)
	assert.Contains(t, out.String(), "To: support@hdfcfund.com")
	assert.Contains(t, out.String(), "EMAIL DRAFT START")
}
