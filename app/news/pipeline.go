package news

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type Collector interface {
	Collect(ctx context.Context, topic string) (*Batch, error)
}

type ItemEnricher interface {
	Run(ctx context.Context, items []NewsItem, extractContent bool) EnrichResult
}

type SnapshotStore interface {
	Read(topic string) *Snapshot
	Publish(topic string, snapshot *Snapshot) (*Snapshot, error)
}

// Pipeline runs one refresh cycle for a topic: collect, deduplicate, enrich,
// categorize, merge and publish.
type Pipeline struct {
	collector   Collector
	enricher    ItemEnricher
	categorizer *Categorizer
	store       SnapshotStore
	deadline    time.Duration
	clock       clockwork.Clock
}

func NewPipeline(collector Collector, enricher ItemEnricher, categorizer *Categorizer, store SnapshotStore, deadline time.Duration, clock clockwork.Clock) *Pipeline {
	return &Pipeline{
		collector:   collector,
		enricher:    enricher,
		categorizer: categorizer,
		store:       store,
		deadline:    deadline,
		clock:       clock,
	}
}

// Run executes a cycle under the configured deadline. When the deadline
// expires, whatever finished enrichment is still published and the cycle is
// reported degraded. Cancellation of ctx itself abandons the cycle.
func (p *Pipeline) Run(ctx context.Context, topic string) (*CycleReport, error) {
	report := &CycleReport{
		CycleID:   uuid.NewString(),
		Topic:     topic,
		StartedAt: p.clock.Now(),
	}
	defer func() {
		report.Duration = p.clock.Since(report.StartedAt)
	}()

	cycleCtx := ctx
	if p.deadline > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, p.deadline)
		defer cancel()
	}

	batch, err := p.collector.Collect(cycleCtx, topic)
	if err != nil {
		return report, fmt.Errorf("failed to collect topic: %w", err)
	}
	report.Collected = len(batch.Items)
	report.FailedFetches = batch.FailedFetches

	current := p.store.Read(topic)
	candidates, duplicates := Deduplicate(batch.Items, current)
	report.Duplicates = duplicates

	result := p.enricher.Run(cycleCtx, candidates, batch.ExtractContent)
	report.Enriched = len(result.Items)
	report.DegradedItems = result.Degraded
	report.Dropped = result.Dropped

	if ctx.Err() != nil {
		return report, fmt.Errorf("cycle abandoned: %w", ctx.Err())
	}
	report.Degraded = errors.Is(cycleCtx.Err(), context.DeadlineExceeded)
	if report.Degraded {
		slog.Warn("Cycle deadline expired, publishing partial results", "topic", topic, "enriched", report.Enriched, "dropped", report.Dropped)
	}

	p.categorizer.Run(result.Items)

	if len(result.Items) == 0 && current.Version() > 0 && current.Degraded() == report.Degraded {
		report.Version = current.Version()
		return report, nil
	}

	published, err := p.store.Publish(topic, Merge(current, result.Items, report.Degraded))
	if err != nil {
		return report, fmt.Errorf("failed to publish snapshot: %w", err)
	}
	report.Published = true
	report.Version = published.Version()

	return report, nil
}
