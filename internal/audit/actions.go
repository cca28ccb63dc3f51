package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Registered action tags. Closed set: the ledger refuses anything else.
const (
	ActionSaveNotes    = "SAVE_NOTES"
	ActionEmailSupport = "EMAIL_SUPPORT"
)

// ErrApprovalRejected reports an approval token the verifier did not accept.
var ErrApprovalRejected = errors.New("approval token rejected")

// HMACVerifier attests approval tokens minted as HMAC-SHA256 over the action
// tag. Token issuance normally lives with the session layer; this verifier
// covers single-process deployments where issuance and attestation share a
// key.
type HMACVerifier struct {
	key []byte
}

// NewHMACVerifier creates a verifier sharing key material with the issuer.
func NewHMACVerifier(key string) (*HMACVerifier, error) {
	keyBytes, err := resolveSigningKey(key)
	if err != nil {
		return nil, err
	}
	return &HMACVerifier{key: keyBytes}, nil
}

// MintToken issues an approval token for an action. Exposed for the CLI and
// tests; a production deployment mints tokens in the user session layer.
func (v *HMACVerifier) MintToken(action string) string {
	h := hmac.New(sha256.New, v.key)
	h.Write([]byte("approve:" + action))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks that token attests consent for action.
func (v *HMACVerifier) Verify(_ context.Context, token, action string) error {
	if !hmac.Equal([]byte(token), []byte(v.MintToken(action))) {
		return ErrApprovalRejected
	}
	return nil
}

// NotesExecutor appends validated explanations to a markdown notes file.
type NotesExecutor struct {
	Path string
}

// Execute appends one note section. The file is opened in append mode so
// concurrent appends never truncate prior notes.
func (e *NotesExecutor) Execute(_ context.Context, _ string, payload map[string]any) (string, error) {
	scenario, _ := payload["scenario"].(string)
	content, _ := payload["content"].(string)
	contentHash, _ := payload["content_hash"].(string)
	if content == "" {
		return "", fmt.Errorf("notes payload missing content")
	}

	section := fmt.Sprintf("\n## [%s] Scenario: %s\n%s\n*(Content Hash: %s)*\n",
		time.Now().UTC().Format("2006-01-02 15:04:05"), scenario, content, contentHash)

	f, err := os.OpenFile(e.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("opening notes file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(section); err != nil {
		return "", fmt.Errorf("appending notes: %w", err)
	}
	return "Notes saved successfully.", nil
}

// EmailExecutor drafts a support email to the given writer. Drafting only —
// nothing is ever sent from this process.
type EmailExecutor struct {
	Out io.Writer
}

// Execute renders the draft.
func (e *EmailExecutor) Execute(_ context.Context, _ string, payload map[string]any) (string, error) {
	recipient, _ := payload["recipient"].(string)
	subject, _ := payload["subject"].(string)
	body, _ := payload["body"].(string)
	if recipient == "" {
		return "", fmt.Errorf("email payload missing recipient")
	}

	draft := fmt.Sprintf("--- EMAIL DRAFT START ---\nTo: %s\nSubject: %s\n\n%s\n--- EMAIL DRAFT END ---\n",
		recipient, subject, body)
	if _, err := io.WriteString(e.Out, draft); err != nil {
		return "", fmt.Errorf("writing email draft: %w", err)
	}
	return "Email drafted and logged.", nil
}

// DefaultExecutors wires the built-in executors for the closed action set.
func DefaultExecutors(notesPath string, emailOut io.Writer) map[string]Executor {
	return map[string]Executor{
		ActionSaveNotes:    &NotesExecutor{Path: notesPath},
		ActionEmailSupport: &EmailExecutor{Out: emailOut},
	}
}
