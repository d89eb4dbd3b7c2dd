package feed

import (
	"time"

	"github.com/lysyi3m/rss-intel/app/news"
)

// Item is an entry as parsed from an RSS/Atom document.
type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	PublishedAt time.Time
	Authors     []string // "email (name)" or "name"
	Categories  []string

	IsFiltered   bool
	FilterReason string
}

// Configuration types

// Config describes one topic: where its items come from and how they are
// filtered.
type Config struct {
	Name      string           // Derived from filename (without .yml extension)
	Endpoints []ConfigEndpoint `yaml:"endpoints"`
	Settings  ConfigSettings   `yaml:"settings"`
	Filters   []ConfigFilter   `yaml:"filters"`
}

type ConfigEndpoint struct {
	URL  string          `yaml:"url"`
	Hint news.SourceHint `yaml:"hint"`
}

type ConfigSettings struct {
	Enabled        bool `yaml:"enabled"`
	MaxItems       int  `yaml:"max_items"`       // per endpoint
	Timeout        int  `yaml:"timeout"`         // seconds
	ExtractContent bool `yaml:"extract_content"` // fetch article text when the feed has no summary
}

type ConfigFilter struct {
	Field    string   `yaml:"field"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}
