// Package validator enforces the citation gate on generated fee explanations.
//
// Generation output is untrusted. Every candidate bullet must carry the exact
// source URL of the knowledge packet it was grounded in — verbatim, no fuzzy
// matching, no "at least one bullet cites" aggregation. A single uncited
// bullet fails the whole response. This is the hard guarantee that no
// unverifiable statement ever reaches a user.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/feegate-io/feegate/internal/knowledge"
)

// Action is a follow-on action the user may approve. Closed set.
type Action string

const (
	ActionSaveNotes    Action = "SAVE_NOTES"
	ActionEmailSupport Action = "EMAIL_SUPPORT"
)

// DisclaimerText is the fixed informational disclaimer attached to every
// validated response.
const DisclaimerText = "This information is for educational purposes only and does not constitute investment advice."

// answerHeader is a generic fixed header; rendering is the UI's concern.
const answerHeader = "Here are the fees explained:"

// Bullet is one validated explanatory statement with its citation retained
// as structured metadata.
type Bullet struct {
	Text        string `json:"text"`
	CitationURL string `json:"citation_url"`
}

// ValidatedResponse is the only response shape that ever reaches a caller.
type ValidatedResponse struct {
	AnswerText       string   `json:"answer_text"`
	Bullets          []Bullet `json:"bullets"`
	LastCheckedStr   string   `json:"last_checked_str"`
	SourcesUsed      []string `json:"sources_used"`
	SuggestedActions []Action `json:"suggested_actions"`
	PromptVersion    string   `json:"prompt_version"`
	DisclaimerText   string   `json:"disclaimer_text"`
	Degraded         bool     `json:"degraded,omitempty"`
}

// CitationError reports the first bullet that failed the citation gate.
type CitationError struct {
	Bullet      string
	ExpectedURL string
}

func (e *CitationError) Error() string {
	return fmt.Sprintf("bullet missing strict citation: %q (expected link: %s)", e.Bullet, e.ExpectedURL)
}

// Validate checks raw candidate bullets against the packet they were grounded
// in and assembles the final response. Fails fast on the first uncited bullet;
// no partial response is ever produced.
func Validate(rawBullets []string, pkt *knowledge.Packet, promptVersion string) (*ValidatedResponse, error) {
	validated := make([]Bullet, 0, len(rawBullets))

	for _, raw := range rawBullets {
		if !strings.Contains(raw, pkt.SourceURL) {
			return nil, &CitationError{Bullet: raw, ExpectedURL: pkt.SourceURL}
		}
		validated = append(validated, Bullet{
			Text:        stripCitation(raw, pkt.SourceURL),
			CitationURL: pkt.SourceURL,
		})
	}

	return &ValidatedResponse{
		AnswerText:       answerHeader,
		Bullets:          validated,
		LastCheckedStr:   "Last checked: " + pkt.LastChecked.Format("2006-01-02"),
		SourcesUsed:      sourcesUsed(validated),
		SuggestedActions: []Action{ActionSaveNotes, ActionEmailSupport},
		PromptVersion:    promptVersion,
		DisclaimerText:   DisclaimerText,
	}, nil
}

// stripCitation removes the citation markup from display text: markdown links
// targeting the source URL first, then any bare occurrence of the URL.
func stripCitation(text, sourceURL string) string {
	linkRe := regexp.MustCompile(`\[[^\]]*\]\(` + regexp.QuoteMeta(sourceURL) + `\)`)
	text = linkRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "("+sourceURL+")", "")
	text = strings.ReplaceAll(text, sourceURL, "")
	text = strings.ReplaceAll(text, "[]", "")
	return strings.TrimSpace(text)
}

// sourcesUsed returns the distinct citation URLs across bullets, in first-use
// order. By construction this is exactly the set of URLs appearing in the
// validated bullets.
func sourcesUsed(bullets []Bullet) []string {
	seen := make(map[string]bool, 1)
	var sources []string
	for _, b := range bullets {
		if !seen[b.CitationURL] {
			seen[b.CitationURL] = true
			sources = append(sources, b.CitationURL)
		}
	}
	return sources
}
