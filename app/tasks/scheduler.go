package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lysyi3m/rss-intel/app/news"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

var (
	ErrTopicBusy = errors.New("topic refresh already in progress")
	ErrQueueFull = errors.New("task queue is full")
)

const taskQueueSize = 300

// Scheduler runs refresh cycles on a fixed interval. The number of workers
// bounds how many cycles run at once, and a topic never has two cycles in
// flight: a tick that finds its topic busy is skipped.
type Scheduler struct {
	runner      CycleRunner
	topics      TopicProvider
	clock       clockwork.Clock
	interval    time.Duration
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface

	mu          sync.Mutex
	busy        map[string]bool
	lastReports map[string]news.CycleReport
	processed   int
	failed      int
	skipped     int
}

type Stats struct {
	Workers     int                         `json:"workers"`
	Interval    string                      `json:"interval"`
	Queued      int                         `json:"queued"`
	Running     []string                    `json:"running"`
	Processed   int                         `json:"processed"`
	Failed      int                         `json:"failed"`
	Skipped     int                         `json:"skipped"`
	LastReports map[string]news.CycleReport `json:"last_reports"`
}

func NewScheduler(runner CycleRunner, topics TopicProvider, clock clockwork.Clock, interval time.Duration, workerCount int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		runner:      runner,
		topics:      topics,
		clock:       clock,
		interval:    interval,
		workerCount: max(workerCount, 1),
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, taskQueueSize),
		busy:        make(map[string]bool),
		lastReports: make(map[string]news.CycleReport),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := s.clock.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.Chan():
				s.enqueueTasks()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// TriggerRefresh queues a cycle for topic outside the regular ticks. It is
// refused with ErrTopicBusy while a cycle for the topic is queued or running.
func (s *Scheduler) TriggerRefresh(topic string) error {
	return s.enqueueTopic(topic)
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.taskQueue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Scheduler) enqueueTasks() {
	topics := s.topics.ActiveTopics()
	if len(topics) == 0 {
		slog.Debug("No active topics")
		return
	}

	slog.Debug("Scheduling refresh cycles", "count", len(topics))

	for _, topic := range topics {
		if err := s.enqueueTopic(topic); err != nil {
			if errors.Is(err, ErrTopicBusy) {
				slog.Info("Tick skipped, previous cycle still running", "topic", topic)
				continue
			}
			slog.Warn("Failed to enqueue RefreshTopicTask", "topic", topic, "error", err)
		}
	}
}

func (s *Scheduler) enqueueTopic(topic string) error {
	s.mu.Lock()
	if s.busy[topic] {
		s.skipped++
		s.mu.Unlock()
		return ErrTopicBusy
	}
	s.busy[topic] = true
	s.mu.Unlock()

	if err := s.EnqueueTask(NewRefreshTopicTask(topic, s.runner, s.clock)); err != nil {
		s.release(topic)
		return fmt.Errorf("failed to enqueue topic %s: %w", topic, err)
	}
	return nil
}

func (s *Scheduler) release(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, topic)
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	defer s.release(task.GetTopic())

	task.Start()
	err := task.Execute(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed++
	if refresh, ok := task.(*RefreshTopicTask); ok && refresh.Report != nil {
		s.lastReports[task.GetTopic()] = *refresh.Report
	}

	if err != nil {
		s.failed++
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "topic", task.GetTopic(), "error", err)
	}
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := make([]string, 0, len(s.busy))
	for topic := range s.busy {
		running = append(running, topic)
	}
	slices.Sort(running)

	reports := make(map[string]news.CycleReport, len(s.lastReports))
	for topic, report := range s.lastReports {
		reports[topic] = report
	}

	return Stats{
		Workers:     s.workerCount,
		Interval:    s.interval.String(),
		Queued:      len(s.taskQueue),
		Running:     running,
		Processed:   s.processed,
		Failed:      s.failed,
		Skipped:     s.skipped,
		LastReports: reports,
	}
}
