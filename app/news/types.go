package news

import (
	"fmt"
	"time"
)

type Category string

const (
	CategoryBreaking Category = "breaking"
	CategoryRecent   Category = "recent"
	CategoryPopular  Category = "popular"
)

// Categories lists the buckets in the order snapshots render them.
var Categories = []Category{CategoryBreaking, CategoryRecent, CategoryPopular}

type SourceHint string

const (
	HintPrimary    SourceHint = "primary"
	HintWeeklyTop  SourceHint = "weekly-top"
	HintMonthlyTop SourceHint = "monthly-top"
	HintOther      SourceHint = "other"
)

func ParseSourceHint(s string) (SourceHint, error) {
	switch hint := SourceHint(s); hint {
	case HintPrimary, HintWeeklyTop, HintMonthlyTop, HintOther:
		return hint, nil
	default:
		return "", fmt.Errorf("unknown source hint %q", s)
	}
}

const (
	MinPriority     = 1
	MaxPriority     = 5
	DefaultPriority = 3
)

type NewsItem struct {
	Title              string     `json:"title"`
	TranslatedTitle    string     `json:"translated_title"`
	Link               string     `json:"link"`
	Summary            string     `json:"summary"`
	IdentityHash       string     `json:"identity_hash"`
	PublishedAt        time.Time  `json:"published_at"`
	Priority           int        `json:"priority"`
	Category           Category   `json:"category"`
	SourceHint         SourceHint `json:"source_hint"`
	EnrichmentDegraded bool       `json:"enrichment_degraded"`
}

// RawItem is a candidate as fetched from a source endpoint, before identity
// and enrichment are applied.
type RawItem struct {
	Title       string
	Link        string
	Summary     string
	PublishedAt time.Time
	SourceHint  SourceHint
	SourceURL   string
}

// Batch is the outcome of collecting one topic across all its endpoints.
type Batch struct {
	Topic          string
	Items          []RawItem
	ExtractContent bool
	Endpoints      int
	FailedFetches  int
	Filtered       int
}

type CycleReport struct {
	CycleID       string        `json:"cycle_id"`
	Topic         string        `json:"topic"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Collected     int           `json:"collected"`
	FailedFetches int           `json:"failed_fetches"`
	Duplicates    int           `json:"duplicates"`
	Enriched      int           `json:"enriched"`
	DegradedItems int           `json:"degraded_items"`
	Dropped       int           `json:"dropped"`
	Published     bool          `json:"published"`
	Version       uint64        `json:"version"`
	Degraded      bool          `json:"degraded"`
}
