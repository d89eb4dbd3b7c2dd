package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/lysyi3m/rss-intel/app/news"
)

type RefreshTopicTask struct {
	Task
	runner CycleRunner
	Report *news.CycleReport
}

func NewRefreshTopicTask(topic string, runner CycleRunner, clock clockwork.Clock) *RefreshTopicTask {
	return &RefreshTopicTask{
		Task:   NewTask(TaskTypeRefreshTopic, topic, clock),
		runner: runner,
	}
}

func (t *RefreshTopicTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	report, err := t.runner.Run(ctx, t.Topic)
	t.Report = report
	if err != nil {
		return fmt.Errorf("failed to refresh topic: %w", err)
	}

	slog.Info("Task completed",
		"type", "RefreshTopic",
		"topic", t.Topic,
		"duration", t.GetDuration(),
		"collected", report.Collected,
		"failed_fetches", report.FailedFetches,
		"duplicates", report.Duplicates,
		"enriched", report.Enriched,
		"degraded_items", report.DegradedItems,
		"dropped", report.Dropped,
		"published", report.Published,
		"version", report.Version,
		"degraded", report.Degraded)

	return nil
}
