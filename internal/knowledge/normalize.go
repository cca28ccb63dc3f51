package knowledge

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// Normalize converts raw HTML into plain readable markdown: structural markup
// stripped, per-line whitespace trimmed, blank lines collapsed. A conversion
// failure means the response body was not usable HTML — that is malformed
// input, not a transient fault, so the caller must not retry it.
func Normalize(html string) (string, error) {
	markdown, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("converting HTML to markdown: %w", err)
	}
	return collapseLines(markdown), nil
}

// collapseLines trims each line and drops empty ones.
func collapseLines(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	first := true
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !first {
			b.WriteByte('\n')
		}
		b.WriteString(trimmed)
		first = false
	}
	return b.String()
}
