package feed

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lysyi3m/rss-intel/app/news"
)

const maxFeedSize = 10 << 20

// FeedFetchError is a failure scoped to one endpoint of a topic.
type FeedFetchError struct {
	Topic string
	URL   string
	Err   error
}

func (e *FeedFetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s for topic %s: %v", e.URL, e.Topic, e.Err)
}

func (e *FeedFetchError) Unwrap() error {
	return e.Err
}

// Collector pulls raw items for a topic from each of its endpoints.
type Collector struct {
	configCache *ConfigCache
	httpClient  *http.Client
	parser      *Parser
	filterer    *Filterer
	userAgent   string
	clock       clockwork.Clock
}

func NewCollector(configCache *ConfigCache, httpClient *http.Client, parser *Parser, filterer *Filterer, userAgent string, clock clockwork.Clock) *Collector {
	return &Collector{
		configCache: configCache,
		httpClient:  httpClient,
		parser:      parser,
		filterer:    filterer,
		userAgent:   userAgent,
		clock:       clock,
	}
}

// Collect fetches every endpoint of topic in turn. An endpoint that fails is
// logged and skipped; only an unknown topic is an error.
func (c *Collector) Collect(ctx context.Context, topic string) (*news.Batch, error) {
	topicConfig, err := c.configCache.GetConfig(topic)
	if err != nil {
		return nil, err
	}

	endpoints, err := c.configCache.ListEndpoints(topic)
	if err != nil {
		return nil, err
	}

	batch := &news.Batch{
		Topic:          topic,
		ExtractContent: topicConfig.Settings.ExtractContent,
		Endpoints:      len(endpoints),
	}

	for _, endpoint := range endpoints {
		items, err := c.collectEndpoint(ctx, topicConfig, endpoint)
		if err != nil {
			batch.FailedFetches++
			slog.Warn("Endpoint skipped", "topic", topic, "url", endpoint.URL, "error", err)
			continue
		}

		kept, filtered := c.filterer.Keep(items, topicConfig)
		batch.Filtered += filtered

		now := c.clock.Now()
		for _, item := range kept {
			batch.Items = append(batch.Items, news.RawItem{
				Title:       item.Title,
				Link:        item.Link,
				Summary:     cmp.Or(item.Description, item.Content),
				PublishedAt: publishedOrNow(item.PublishedAt, now),
				SourceHint:  endpoint.Hint,
				SourceURL:   endpoint.URL,
			})
		}
	}

	slog.Debug("Topic collected", "topic", topic, "endpoints", batch.Endpoints, "failed", batch.FailedFetches, "items", len(batch.Items), "filtered", batch.Filtered)

	return batch, nil
}

func (c *Collector) collectEndpoint(ctx context.Context, topicConfig *Config, endpoint ConfigEndpoint) ([]Item, error) {
	data, err := c.fetch(ctx, endpoint.URL, time.Duration(topicConfig.Settings.Timeout)*time.Second)
	if err != nil {
		return nil, &FeedFetchError{Topic: topicConfig.Name, URL: endpoint.URL, Err: err}
	}

	items, err := c.parser.Run(data)
	if err != nil {
		return nil, &FeedFetchError{Topic: topicConfig.Name, URL: endpoint.URL, Err: err}
	}

	usable := make([]Item, 0, len(items))
	for _, item := range items {
		if item.Title == "" || item.Link == "" {
			continue
		}
		usable = append(usable, item)
	}

	if limit := topicConfig.Settings.MaxItems; limit > 0 && len(usable) > limit {
		usable = usable[:limit]
	}

	return usable, nil
}

func (c *Collector) fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

func publishedOrNow(publishedAt, now time.Time) time.Time {
	if publishedAt.IsZero() {
		return now
	}
	return publishedAt
}
