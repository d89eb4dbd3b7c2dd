package tasks

import (
	"context"

	"github.com/lysyi3m/rss-intel/app/news"
)

// TaskSchedulerInterface is what the rest of the application needs from the
// scheduler.
// Example usage:
//
//	scheduler := NewScheduler(pipeline, configCache, clock, interval, workers)
//	scheduler.Start()
//	defer scheduler.Stop()
//	err := scheduler.TriggerRefresh("ai")
type TaskSchedulerInterface interface {
	Start()
	Stop()
	TriggerRefresh(topic string) error
	Stats() Stats
}

// CycleRunner executes one refresh cycle for a topic.
type CycleRunner interface {
	Run(ctx context.Context, topic string) (*news.CycleReport, error)
}

// TopicProvider returns the topics that currently have subscribers.
type TopicProvider interface {
	ActiveTopics() []string
}
