package feed

import (
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
)

type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Run marks every item that a topic filter rejects. Matching is a
// case-insensitive substring test.
func (f *Filterer) Run(items []Item, topicConfig *Config) []Item {
	if len(topicConfig.Filters) == 0 {
		return items
	}

	marked := make([]Item, 0, len(items))
	for _, item := range items {
		item.IsFiltered, item.FilterReason = f.applyFilters(item, topicConfig.Filters)
		if item.IsFiltered {
			slog.Debug("Item filtered", "topic", topicConfig.Name, "title", item.Title, "reason", item.FilterReason)
		}
		marked = append(marked, item)
	}

	return marked
}

// Keep returns the items that passed the filters and how many were dropped.
func (f *Filterer) Keep(items []Item, topicConfig *Config) ([]Item, int) {
	kept := make([]Item, 0, len(items))
	for _, item := range f.Run(items, topicConfig) {
		if !item.IsFiltered {
			kept = append(kept, item)
		}
	}
	return kept, len(items) - len(kept)
}

func (f *Filterer) applyFilters(item Item, filters []ConfigFilter) (bool, string) {
	for _, filter := range filters {
		value := f.getFieldValue(item, filter.Field)

		for _, exclude := range filter.Excludes {
			if f.matchesFilter(value, exclude) {
				return true, fmt.Sprintf("Excluded by %s filter: contains '%s'", filter.Field, exclude)
			}
		}

		if len(filter.Includes) > 0 && !f.matchesAny(value, filter.Includes) {
			return true, fmt.Sprintf("Excluded by %s filter: does not contain any of %v", filter.Field, filter.Includes)
		}
	}

	return false, ""
}

func (f *Filterer) matchesAny(value string, patterns []string) bool {
	for _, pattern := range patterns {
		if f.matchesFilter(value, pattern) {
			return true
		}
	}
	return false
}

// Casers are stateful, so each comparison gets its own.
func (f *Filterer) matchesFilter(value, pattern string) bool {
	folder := cases.Fold()
	return strings.Contains(folder.String(value), folder.String(pattern))
}

func (f *Filterer) getFieldValue(item Item, field string) string {
	switch field {
	case "title":
		return item.Title
	case "description":
		return item.Description
	case "content":
		return item.Content
	case "authors":
		return strings.Join(item.Authors, " ")
	case "link":
		return item.Link
	case "categories":
		return strings.Join(item.Categories, " ")
	default:
		return ""
	}
}
