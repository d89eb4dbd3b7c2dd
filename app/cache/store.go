package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lysyi3m/rss-intel/app/news"
)

var ErrCacheCorruption = errors.New("cache corruption")

// CorruptionError rejects a snapshot that breaks a cache invariant. The
// previously published snapshot stays in place.
type CorruptionError struct {
	Topic  string
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("cache corruption for topic %s: %s", e.Topic, e.Reason)
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrCacheCorruption
}

// Persister stores published snapshots so they survive a restart.
type Persister interface {
	SaveSnapshot(ctx context.Context, snapshot *news.Snapshot) error
}

const persistTimeout = 10 * time.Second

// Store holds the published snapshot of every topic. Reads are lock free;
// publishers are serialized and swap in complete snapshots. Persistence runs
// after the swap, outside the publish lock.
type Store struct {
	topics    sync.Map
	mu        sync.Mutex
	caps      news.Caps
	clock     clockwork.Clock
	persister Persister
	persisted sync.Map // topic -> *persistState
}

// persistState serializes the saves of one topic and remembers the last
// version written.
type persistState struct {
	mu      sync.Mutex
	version uint64
}

type Stats struct {
	Topics int            `json:"topics"`
	Items  int            `json:"items"`
	Detail []TopicSummary `json:"detail"`
}

type TopicSummary struct {
	Topic       string    `json:"topic"`
	Version     uint64    `json:"version"`
	PublishedAt time.Time `json:"published_at"`
	Degraded    bool      `json:"degraded"`
	Breaking    int       `json:"breaking"`
	Recent      int       `json:"recent"`
	Popular     int       `json:"popular"`
}

func NewStore(caps news.Caps, clock clockwork.Clock, persister Persister) *Store {
	return &Store{
		caps:      caps,
		clock:     clock,
		persister: persister,
	}
}

// Read returns the current snapshot of topic. A topic that was never
// published yields an empty snapshot at version zero.
func (s *Store) Read(topic string) *news.Snapshot {
	if ptr, ok := s.topics.Load(topic); ok {
		if snapshot := ptr.(*atomic.Pointer[news.Snapshot]).Load(); snapshot != nil {
			return snapshot
		}
	}
	return news.EmptySnapshot(topic)
}

// Publish validates snapshot, applies the category caps and makes it the
// current version of topic.
func (s *Store) Publish(topic string, snapshot *news.Snapshot) (*news.Snapshot, error) {
	if err := validate(topic, snapshot); err != nil {
		slog.Error("Snapshot rejected", "topic", topic, "error", err)
		return nil, err
	}

	s.mu.Lock()
	ptr := s.pointer(topic)
	version := uint64(1)
	if previous := ptr.Load(); previous != nil {
		version = previous.Version() + 1
	}

	published := snapshot.Stamp(version, s.clock.Now(), s.caps)
	ptr.Store(published)
	s.mu.Unlock()

	slog.Debug("Snapshot published", "topic", topic, "version", version, "items", published.Len(), "degraded", published.Degraded())

	s.persist(published)

	return published, nil
}

// persist saves snapshot unless a newer version of its topic was already
// saved. Failures are logged; the published snapshot stays in place.
func (s *Store) persist(snapshot *news.Snapshot) {
	if s.persister == nil {
		return
	}

	value, _ := s.persisted.LoadOrStore(snapshot.Topic(), &persistState{})
	state := value.(*persistState)

	state.mu.Lock()
	defer state.mu.Unlock()

	if snapshot.Version() <= state.version {
		slog.Debug("Skipping stale snapshot save", "topic", snapshot.Topic(), "version", snapshot.Version(), "saved", state.version)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.persister.SaveSnapshot(ctx, snapshot); err != nil {
		slog.Error("Failed to persist snapshot", "topic", snapshot.Topic(), "version", snapshot.Version(), "error", err)
		return
	}
	state.version = snapshot.Version()
}

// Restore installs previously persisted snapshots, keeping their versions.
// It is meant to run before any cycle publishes.
func (s *Store) Restore(snapshots []*news.Snapshot) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for _, snapshot := range snapshots {
		if err := validate(snapshot.Topic(), snapshot); err != nil {
			slog.Warn("Skipping persisted snapshot", "topic", snapshot.Topic(), "error", err)
			continue
		}
		ptr := s.pointer(snapshot.Topic())
		if current := ptr.Load(); current != nil && current.Version() >= snapshot.Version() {
			continue
		}
		ptr.Store(snapshot)
		restored++
	}
	return restored
}

func (s *Store) Topics() []string {
	var topics []string
	s.topics.Range(func(key, _ any) bool {
		topics = append(topics, key.(string))
		return true
	})
	slices.Sort(topics)
	return topics
}

func (s *Store) Stats() Stats {
	stats := Stats{Detail: []TopicSummary{}}
	for _, topic := range s.Topics() {
		snapshot := s.Read(topic)
		summary := TopicSummary{
			Topic:       topic,
			Version:     snapshot.Version(),
			PublishedAt: snapshot.PublishedAt(),
			Degraded:    snapshot.Degraded(),
			Breaking:    len(snapshot.Breaking()),
			Recent:      len(snapshot.Recent()),
			Popular:     len(snapshot.Popular()),
		}
		stats.Topics++
		stats.Items += snapshot.Len()
		stats.Detail = append(stats.Detail, summary)
	}
	return stats
}

func (s *Store) pointer(topic string) *atomic.Pointer[news.Snapshot] {
	ptr, _ := s.topics.LoadOrStore(topic, new(atomic.Pointer[news.Snapshot]))
	return ptr.(*atomic.Pointer[news.Snapshot])
}

func validate(topic string, snapshot *news.Snapshot) error {
	if snapshot == nil {
		return &CorruptionError{Topic: topic, Reason: "snapshot is nil"}
	}
	if snapshot.Topic() != topic {
		return &CorruptionError{Topic: topic, Reason: fmt.Sprintf("snapshot belongs to topic %q", snapshot.Topic())}
	}

	seen := make(map[string]struct{}, snapshot.Len())
	for _, item := range snapshot.Items() {
		if item.IdentityHash == "" {
			return &CorruptionError{Topic: topic, Reason: fmt.Sprintf("item %q has no identity hash", item.Link)}
		}
		if _, ok := seen[item.IdentityHash]; ok {
			return &CorruptionError{Topic: topic, Reason: fmt.Sprintf("duplicate identity hash %s", item.IdentityHash)}
		}
		seen[item.IdentityHash] = struct{}{}

		if item.Priority < news.MinPriority || item.Priority > news.MaxPriority {
			return &CorruptionError{Topic: topic, Reason: fmt.Sprintf("item %s has priority %d", item.IdentityHash, item.Priority)}
		}
		if !slices.Contains(news.Categories, item.Category) {
			return &CorruptionError{Topic: topic, Reason: fmt.Sprintf("item %s has unknown category %q", item.IdentityHash, item.Category)}
		}
	}

	return nil
}
