package extractor

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/microcosm-cc/bluemonday"
)

// ToMarkdown sanitizes untrusted page HTML and converts it to markdown.
// Sanitization happens first so script and event-handler payloads never
// reach the converter.
func ToMarkdown(html string) (string, error) {
	sanitized := bluemonday.UGCPolicy().Sanitize(html)

	conv := md.NewConverter("", true, nil)
	out, err := conv.ConvertString(sanitized)
	if err != nil {
		return "", fmt.Errorf("extractor: convert markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}
