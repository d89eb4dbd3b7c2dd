package news

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestCategorizer_Categorize(t *testing.T) {
	now := time.Date(2025, 2, 12, 12, 0, 0, 0, time.UTC)
	categorizer := NewCategorizer(48*time.Hour, clockwork.NewFakeClockAt(now))

	tests := []struct {
		name      string
		hint      SourceHint
		published time.Time
		expected  Category
	}{
		{"fresh primary", HintPrimary, now.Add(-time.Hour), CategoryBreaking},
		{"exactly at window", HintPrimary, now.Add(-48 * time.Hour), CategoryBreaking},
		{"older than window", HintPrimary, now.Add(-49 * time.Hour), CategoryRecent},
		{"fresh monthly top is popular", HintMonthlyTop, now.Add(-time.Hour), CategoryPopular},
		{"old monthly top is popular", HintMonthlyTop, now.Add(-30 * 24 * time.Hour), CategoryPopular},
		{"fresh weekly top is recent", HintWeeklyTop, now.Add(-time.Minute), CategoryRecent},
		{"fresh other", HintOther, now.Add(-time.Hour), CategoryBreaking},
		{"future dated", HintPrimary, now.Add(time.Hour), CategoryBreaking},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := NewsItem{SourceHint: tt.hint, PublishedAt: tt.published}
			assert.Equal(t, tt.expected, categorizer.Categorize(item))
		})
	}
}

func TestCategorizer_DefaultWindow(t *testing.T) {
	now := time.Date(2025, 2, 12, 12, 0, 0, 0, time.UTC)
	categorizer := NewCategorizer(0, clockwork.NewFakeClockAt(now))

	assert.Equal(t, CategoryBreaking, categorizer.Categorize(NewsItem{PublishedAt: now.Add(-47 * time.Hour)}))
	assert.Equal(t, CategoryRecent, categorizer.Categorize(NewsItem{PublishedAt: now.Add(-49 * time.Hour)}))
}

func TestCategorizer_Run(t *testing.T) {
	now := time.Date(2025, 2, 12, 12, 0, 0, 0, time.UTC)
	categorizer := NewCategorizer(48*time.Hour, clockwork.NewFakeClockAt(now))

	items := []NewsItem{
		{Title: "a", SourceHint: HintPrimary, PublishedAt: now},
		{Title: "b", SourceHint: HintMonthlyTop, PublishedAt: now},
		{Title: "c", SourceHint: HintPrimary, PublishedAt: now.Add(-72 * time.Hour)},
	}
	categorizer.Run(items)

	assert.Equal(t, CategoryBreaking, items[0].Category)
	assert.Equal(t, CategoryPopular, items[1].Category)
	assert.Equal(t, CategoryRecent, items[2].Category)
}
