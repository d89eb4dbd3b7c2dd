package feed

import (
	"testing"
	"time"
)

func TestParseRSS2(t *testing.T) {
	rssData := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>r/golang</title>
    <link>https://www.reddit.com/r/golang</link>
    <description>Go news</description>
    <item>
      <title>  Go 1.24 is released  </title>
      <link>https://go.dev/blog/go1.24</link>
      <description>&lt;p&gt;Generic type aliases and more&lt;/p&gt;</description>
      <guid>item-1</guid>
      <pubDate>Tue, 11 Feb 2025 10:00:00 GMT</pubDate>
      <author>gopher@example.com (The Gopher)</author>
      <category>release</category>
      <category>go</category>
    </item>
    <item>
      <title>Swiss tables in the runtime</title>
      <link>https://go.dev/blog/swisstable</link>
      <description>Faster maps</description>
    </item>
  </channel>
</rss>`

	parser := NewParser()
	items, err := parser.Run([]byte(rssData))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got: %d", len(items))
	}

	item1 := items[0]
	if item1.Title != "Go 1.24 is released" {
		t.Errorf("Expected trimmed title, got: '%s'", item1.Title)
	}
	if item1.Link != "https://go.dev/blog/go1.24" {
		t.Errorf("Expected link 'https://go.dev/blog/go1.24', got: %s", item1.Link)
	}
	if item1.GUID != "item-1" {
		t.Errorf("Expected GUID 'item-1', got: %s", item1.GUID)
	}
	if item1.Description != "<p>Generic type aliases and more</p>" {
		t.Errorf("Expected raw description markup, got: %s", item1.Description)
	}
	expected := time.Date(2025, 2, 11, 10, 0, 0, 0, time.UTC)
	if !item1.PublishedAt.Equal(expected) {
		t.Errorf("Expected published %v, got %v", expected, item1.PublishedAt)
	}
	if len(item1.Categories) != 2 {
		t.Errorf("Expected 2 categories, got: %d", len(item1.Categories))
	}
	if len(item1.Authors) != 1 {
		t.Errorf("Expected 1 author, got: %v", item1.Authors)
	}

	item2 := items[1]
	if !item2.PublishedAt.IsZero() {
		t.Errorf("Expected zero publish time for undated item, got %v", item2.PublishedAt)
	}
	if item2.GUID != "https://go.dev/blog/swisstable" {
		t.Errorf("Expected GUID to fall back to link, got: %s", item2.GUID)
	}
}

func TestParseAtomUsesUpdatedWhenUnpublished(t *testing.T) {
	atomData := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Go blog</title>
  <link href="https://go.dev/blog"/>
  <updated>2025-02-11T12:00:00Z</updated>
  <id>tag:go.dev,2025:blog</id>
  <entry>
    <title>Testing concurrent code with synctest</title>
    <link href="https://go.dev/blog/synctest"/>
    <id>tag:go.dev,2025:blog/synctest</id>
    <updated>2025-02-19T08:30:00Z</updated>
    <author><name>Damien Neil</name></author>
    <content type="html">&lt;p&gt;Testing time is hard&lt;/p&gt;</content>
  </entry>
</feed>`

	parser := NewParser()
	items, err := parser.Run([]byte(atomData))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got: %d", len(items))
	}

	item := items[0]
	if item.Link != "https://go.dev/blog/synctest" {
		t.Errorf("Expected link 'https://go.dev/blog/synctest', got: %s", item.Link)
	}
	expected := time.Date(2025, 2, 19, 8, 30, 0, 0, time.UTC)
	if !item.PublishedAt.Equal(expected) {
		t.Errorf("Expected updated time %v, got %v", expected, item.PublishedAt)
	}
	if item.Content == "" {
		t.Error("Expected content to be kept")
	}
	if len(item.Authors) != 1 || item.Authors[0] != "Damien Neil" {
		t.Errorf("Expected author 'Damien Neil', got %v", item.Authors)
	}
}

func TestParseInvalidFeed(t *testing.T) {
	parser := NewParser()
	if _, err := parser.Run([]byte("invalid xml")); err == nil {
		t.Error("Expected error for invalid XML")
	}
}

func TestParser_formatAuthor(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name, email, expected string
	}{
		{"Rob", "rob@example.com", "rob@example.com (Rob)"},
		{"Rob", "", "Rob"},
		{"", "rob@example.com", "rob@example.com"},
		{"  ", "  ", ""},
	}

	for _, test := range tests {
		if got := parser.formatAuthor(test.name, test.email); got != test.expected {
			t.Errorf("formatAuthor(%q, %q): expected %q, got %q", test.name, test.email, test.expected, got)
		}
	}
}
