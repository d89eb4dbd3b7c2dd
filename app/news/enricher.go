package news

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lysyi3m/rss-intel/app/inference"
)

const SummaryLimit = 500

type Generator interface {
	Generate(ctx context.Context, prompt string, class inference.ModelClass, opts ...inference.Option) (string, error)
}

// Sanitizer turns a markup-laden summary into plain text.
type Sanitizer interface {
	Clean(raw string) string
}

// ArticleExtractor fetches the page behind a link and returns its readable
// text.
type ArticleExtractor interface {
	Extract(ctx context.Context, link string) (string, error)
}

type EnricherConfig struct {
	Language    string
	Timeout     time.Duration
	Concurrency int
}

// Enricher translates and scores new items. The semaphore is shared by every
// topic so the inference backend never sees more than Concurrency requests
// from enrichment at once.
type Enricher struct {
	generator Generator
	sanitizer Sanitizer
	extractor ArticleExtractor
	sem       *semaphore.Weighted
	language  string
	timeout   time.Duration
}

type EnrichResult struct {
	Items    []NewsItem
	Degraded int
	Dropped  int
}

var errUnusableResponse = errors.New("unusable model response")

var priorityPattern = regexp.MustCompile(`\d+`)

func NewEnricher(generator Generator, sanitizer Sanitizer, extractor ArticleExtractor, cfg EnricherConfig) *Enricher {
	return &Enricher{
		generator: generator,
		sanitizer: sanitizer,
		extractor: extractor,
		sem:       semaphore.NewWeighted(int64(max(cfg.Concurrency, 1))),
		language:  cfg.Language,
		timeout:   cfg.Timeout,
	}
}

// Run enriches items concurrently and returns those finished before ctx
// ends, in input order. Items still in flight when ctx ends, or whose
// requests the rate limiter could not admit before it, are dropped rather
// than published with defaults, so the next cycle picks them up again.
func (e *Enricher) Run(ctx context.Context, items []NewsItem, extractContent bool) EnrichResult {
	type enriched struct {
		index   int
		item    NewsItem
		dropped bool
	}

	results := make(chan enriched, len(items))
	for i, item := range items {
		go func() {
			if err := e.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer e.sem.Release(1)

			out, err := e.enrichItem(ctx, item, extractContent)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				slog.Debug("Enrichment deferred to next cycle", "title", item.Title, "error", err)
			}
			results <- enriched{index: i, item: out, dropped: err != nil}
		}()
	}

	done := make([]*NewsItem, len(items))
	received := 0
	keep := func(r enriched) {
		received++
		if !r.dropped {
			done[r.index] = &r.item
		}
	}
collect:
	for received < len(items) {
		select {
		case r := <-results:
			keep(r)
		case <-ctx.Done():
			break collect
		}
	}
	for received < len(items) {
		select {
		case r := <-results:
			keep(r)
			continue
		default:
		}
		break
	}

	result := EnrichResult{Items: make([]NewsItem, 0, received)}
	for _, item := range done {
		if item == nil {
			result.Dropped++
			continue
		}
		if item.EnrichmentDegraded {
			result.Degraded++
		}
		result.Items = append(result.Items, *item)
	}

	return result
}

// enrichItem fails only when a request was throttled; every other inference
// failure degrades the item instead.
func (e *Enricher) enrichItem(ctx context.Context, item NewsItem, extractContent bool) (NewsItem, error) {
	item.Summary = e.summary(ctx, item, extractContent)

	translated, err := e.translate(ctx, item.Title)
	if errors.Is(err, inference.ErrThrottled) {
		return item, err
	}
	if err != nil {
		slog.Debug("Title translation failed, keeping original", "title", item.Title, "error", err)
		translated = item.Title
		item.EnrichmentDegraded = true
	}
	item.TranslatedTitle = translated

	priority, err := e.prioritize(ctx, item.Title)
	if errors.Is(err, inference.ErrThrottled) {
		return item, err
	}
	if err != nil {
		slog.Debug("Priority scoring failed, using default", "title", item.Title, "error", err)
		priority = DefaultPriority
		item.EnrichmentDegraded = true
	}
	item.Priority = priority

	return item, nil
}

func (e *Enricher) translate(ctx context.Context, title string) (string, error) {
	prompt := fmt.Sprintf("Translate this news headline into %s. Reply with the translated headline only.\n\nHeadline: %s", e.language, title)

	text, err := e.generator.Generate(ctx, prompt, inference.ModelFast,
		inference.WithTimeout(e.timeout),
		inference.WithSystem("You translate news headlines faithfully and concisely."))
	if err != nil {
		return "", err
	}

	translated := firstLine(text)
	translated = strings.Trim(translated, "\"'“”«» ")
	if translated == "" {
		return "", fmt.Errorf("%w: empty translation", errUnusableResponse)
	}
	return translated, nil
}

func (e *Enricher) prioritize(ctx context.Context, title string) (int, error) {
	prompt := fmt.Sprintf("Rate how important this news headline is for a technology-minded reader, "+
		"from %d (minor) to %d (critical). Reply with a single number.\n\nHeadline: %s", MinPriority, MaxPriority, title)

	text, err := e.generator.Generate(ctx, prompt, inference.ModelFast, inference.WithTimeout(e.timeout))
	if err != nil {
		return 0, err
	}
	return ParsePriority(text)
}

// ParsePriority reads the first integer in a model reply and clamps it into
// the priority range.
func ParsePriority(text string) (int, error) {
	match := priorityPattern.FindString(text)
	if match == "" {
		return 0, fmt.Errorf("%w: no priority in %q", errUnusableResponse, text)
	}

	value, err := strconv.Atoi(match)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errUnusableResponse, err)
	}
	return min(max(value, MinPriority), MaxPriority), nil
}

func (e *Enricher) summary(ctx context.Context, item NewsItem, extractContent bool) string {
	text := e.sanitizer.Clean(item.Summary)

	if text == "" && extractContent && e.extractor != nil && item.Link != "" {
		extracted, err := e.extractor.Extract(ctx, item.Link)
		if err != nil {
			slog.Debug("Content extraction failed", "link", item.Link, "error", err)
		} else {
			text = e.sanitizer.Clean(extracted)
		}
	}

	return truncateRunes(text, SummaryLimit)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit]))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
