package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type TaskType string

const (
	TaskTypeRefreshTopic TaskType = "refresh_topic"
)

type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	GetTopic() string
	Start()
	GetDuration() time.Duration
}

type Task struct {
	ID        string
	Type      TaskType
	Topic     string
	StartedAt *time.Time
	clock     clockwork.Clock
}

func (t *Task) GetID() string {
	return t.ID
}

func (t *Task) GetType() TaskType {
	return t.Type
}

func (t *Task) GetTopic() string {
	return t.Topic
}

func (t *Task) Start() {
	now := t.clock.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return t.clock.Since(*t.StartedAt)
}

func NewTask(taskType TaskType, topic string, clock clockwork.Clock) Task {
	return Task{
		ID:    uuid.NewString(),
		Type:  taskType,
		Topic: topic,
		clock: clock,
	}
}
