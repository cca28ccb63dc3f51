// Package llm holds the generation collaborator: providers that turn a
// knowledge packet and a fee intent into raw candidate bullets.
//
// Providers are untrusted from the pipeline's point of view. They are asked
// to cite the source URL in every bullet, but nothing here is a guarantee —
// the citation gate in the validator package is what actually enforces it.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/feegate-io/feegate/internal/knowledge"
)

// TimeoutGenerate bounds a single generation call.
const TimeoutGenerate = 60 * time.Second

// ErrProviderNotAvailable reports a provider that is not configured
// (e.g. missing API key).
var ErrProviderNotAvailable = errors.New("provider not available")

// Provider is the interface all generation providers implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "ollama").
	Name() string
	// GenerateBullets produces raw candidate bullet strings grounded in the
	// packet, each expected (but not guaranteed) to embed the source URL.
	GenerateBullets(ctx context.Context, pkt *knowledge.Packet, intent string) ([]string, error)
}

// buildPrompt renders the grounding prompt shared by all providers.
func buildPrompt(pkt *knowledge.Packet, intent string) (system, user string) {
	system = "You are a mutual-fund fee explainer. Answer ONLY from the provided official document. " +
		"Respond as markdown bullet points. Every bullet MUST end with the exact citation [Source](" + pkt.SourceURL + "). " +
		"Never mention performance, comparisons, or advice. If the document does not mention the fee, say so in one cited bullet."
	user = "Fee category: " + intent + "\n\nOfficial document (last checked " +
		pkt.LastChecked.Format("2006-01-02") + "):\n\n" + pkt.ContentMarkdown
	return system, user
}

// parseBullets extracts bullet lines from a markdown response. Lines that are
// not bullets (headers, prose) are dropped; the validator decides whether
// what remains is acceptable.
func parseBullets(content string) []string {
	var bullets []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			bullets = append(bullets, strings.TrimSpace(trimmed[2:]))
		}
	}
	return bullets
}
