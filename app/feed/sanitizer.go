package feed

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer reduces feed markup to plain text.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	policy := bluemonday.StrictPolicy()
	policy.AddSpaceWhenStrippingTag(true)
	return &Sanitizer{policy: policy}
}

// Clean strips every tag, decodes entities and collapses whitespace.
func (s *Sanitizer) Clean(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	text := s.policy.Sanitize(raw)
	text = html.UnescapeString(text)
	return strings.Join(strings.Fields(text), " ")
}
