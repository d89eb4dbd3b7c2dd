package feed

import "testing"

func TestSanitizerClean(t *testing.T) {
	sanitizer := NewSanitizer()

	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"empty", "", ""},
		{"whitespace only", "   \n\t ", ""},
		{"plain text", "Go 1.24 released", "Go 1.24 released"},
		{"strips tags", "<p>Go <b>1.24</b> released</p>", "Go 1.24 released"},
		{"separates blocks", "<p>first</p><p>second</p>", "first second"},
		{"drops scripts", "<p>before</p><script>alert(1)</script><p>after</p>", "before after"},
		{"decodes entities", "Tom &amp; Jerry &lt;3", "Tom & Jerry <3"},
		{"collapses whitespace", "a\n\n  b\t c", "a b c"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := sanitizer.Clean(test.raw); got != test.expected {
				t.Errorf("Clean(%q): expected %q, got %q", test.raw, test.expected, got)
			}
		})
	}
}
