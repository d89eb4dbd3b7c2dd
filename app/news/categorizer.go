package news

import (
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultBreakingWindow = 48 * time.Hour

type Categorizer struct {
	window time.Duration
	clock  clockwork.Clock
}

func NewCategorizer(window time.Duration, clock clockwork.Clock) *Categorizer {
	if window <= 0 {
		window = DefaultBreakingWindow
	}
	return &Categorizer{window: window, clock: clock}
}

// Categorize applies source hints before age: monthly-top is popular and
// weekly-top is recent no matter how fresh the item is.
func (c *Categorizer) Categorize(item NewsItem) Category {
	switch item.SourceHint {
	case HintMonthlyTop:
		return CategoryPopular
	case HintWeeklyTop:
		return CategoryRecent
	}

	if c.clock.Since(item.PublishedAt) <= c.window {
		return CategoryBreaking
	}
	return CategoryRecent
}

func (c *Categorizer) Run(items []NewsItem) {
	for i := range items {
		items[i].Category = c.Categorize(items[i])
	}
}
