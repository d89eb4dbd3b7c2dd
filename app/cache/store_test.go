package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-intel/app/news"
)

var testNow = time.Date(2025, 2, 12, 12, 0, 0, 0, time.UTC)

type recordingPersister struct {
	mu       sync.Mutex
	versions []uint64
	err      error
}

func (p *recordingPersister) SaveSnapshot(ctx context.Context, snapshot *news.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.versions = append(p.versions, snapshot.Version())
	return p.err
}

func item(title string, category news.Category, priority int) news.NewsItem {
	link := "https://example.com/" + title
	return news.NewsItem{
		Title:        title,
		Link:         link,
		IdentityHash: news.IdentityHash(title, link),
		PublishedAt:  testNow,
		Priority:     priority,
		Category:     category,
		SourceHint:   news.HintPrimary,
	}
}

func TestStore_ReadUnknownTopic(t *testing.T) {
	store := NewStore(news.Caps{}, clockwork.NewFakeClockAt(testNow), nil)

	snapshot := store.Read("never-published")

	require.NotNil(t, snapshot)
	assert.Equal(t, "never-published", snapshot.Topic())
	assert.Equal(t, uint64(0), snapshot.Version())
	assert.Equal(t, 0, snapshot.Len())
	assert.Empty(t, store.Topics())
}

func TestStore_Publish(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	persister := &recordingPersister{}
	store := NewStore(news.Caps{}, clock, persister)

	first, err := store.Publish("golang", news.NewSnapshot("golang", []news.NewsItem{item("a", news.CategoryBreaking, 3)}, false))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.Version())
	assert.Equal(t, testNow, first.PublishedAt())

	clock.Advance(time.Minute)
	second, err := store.Publish("golang", news.NewSnapshot("golang", []news.NewsItem{item("a", news.CategoryBreaking, 3), item("b", news.CategoryRecent, 4)}, true))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Version())
	assert.Equal(t, testNow.Add(time.Minute), second.PublishedAt())

	current := store.Read("golang")
	assert.Same(t, second, current)
	assert.True(t, current.Degraded())
	assert.Equal(t, 2, current.Len())

	assert.Equal(t, []uint64{1, 2}, persister.versions)
	assert.Equal(t, []string{"golang"}, store.Topics())
}

func TestStore_Publish_AppliesCaps(t *testing.T) {
	store := NewStore(news.Caps{Breaking: 2, Recent: 1}, clockwork.NewFakeClockAt(testNow), nil)

	var items []news.NewsItem
	for i := range 4 {
		items = append(items, item(fmt.Sprintf("breaking-%d", i), news.CategoryBreaking, 5-i))
	}
	items = append(items, item("recent-0", news.CategoryRecent, 3), item("recent-1", news.CategoryRecent, 2))
	items = append(items, item("popular-0", news.CategoryPopular, 3), item("popular-1", news.CategoryPopular, 3))

	published, err := store.Publish("golang", news.NewSnapshot("golang", items, false))
	require.NoError(t, err)

	breaking := published.Breaking()
	require.Len(t, breaking, 2)
	assert.Equal(t, "breaking-0", breaking[0].Title)
	assert.Equal(t, "breaking-1", breaking[1].Title)
	assert.Len(t, published.Recent(), 1)
	assert.Len(t, published.Popular(), 2, "zero cap is unbounded")
}

func TestStore_Publish_RejectsCorruptSnapshots(t *testing.T) {
	valid := item("a", news.CategoryBreaking, 3)

	noHash := item("b", news.CategoryBreaking, 3)
	noHash.IdentityHash = ""

	badPriority := item("c", news.CategoryBreaking, 9)
	badCategory := item("d", news.Category("trending"), 3)

	tests := []struct {
		name     string
		topic    string
		snapshot *news.Snapshot
	}{
		{"nil snapshot", "golang", nil},
		{"wrong topic", "golang", news.NewSnapshot("rust", []news.NewsItem{valid}, false)},
		{"missing identity", "golang", news.NewSnapshot("golang", []news.NewsItem{valid, noHash}, false)},
		{"duplicate identity", "golang", news.NewSnapshot("golang", []news.NewsItem{valid, valid}, false)},
		{"priority out of range", "golang", news.NewSnapshot("golang", []news.NewsItem{badPriority}, false)},
		{"unknown category", "golang", news.NewSnapshot("golang", []news.NewsItem{badCategory}, false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			persister := &recordingPersister{}
			store := NewStore(news.Caps{}, clockwork.NewFakeClockAt(testNow), persister)

			previous, err := store.Publish("golang", news.NewSnapshot("golang", []news.NewsItem{valid}, false))
			require.NoError(t, err)

			_, err = store.Publish(tt.topic, tt.snapshot)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCacheCorruption)

			var corruption *CorruptionError
			require.ErrorAs(t, err, &corruption)
			assert.Equal(t, "golang", corruption.Topic)

			assert.Same(t, previous, store.Read("golang"), "previous snapshot stays published")
			assert.Equal(t, []uint64{1}, persister.versions)
		})
	}
}

func TestStore_Publish_PersistenceFailureKeepsSnapshot(t *testing.T) {
	persister := &recordingPersister{err: errors.New("disk full")}
	store := NewStore(news.Caps{}, clockwork.NewFakeClockAt(testNow), persister)

	published, err := store.Publish("golang", news.NewSnapshot("golang", []news.NewsItem{item("a", news.CategoryRecent, 3)}, false))

	require.NoError(t, err)
	assert.Same(t, published, store.Read("golang"))
}

// gatedPersister blocks saves of one topic until release is closed.
type gatedPersister struct {
	topic   string
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	saved []string
}

func (p *gatedPersister) SaveSnapshot(ctx context.Context, snapshot *news.Snapshot) error {
	if snapshot.Topic() == p.topic {
		p.started <- struct{}{}
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, fmt.Sprintf("%s@%d", snapshot.Topic(), snapshot.Version()))
	return nil
}

func (p *gatedPersister) savedSnapshots() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.saved)
}

func publishWithin(t *testing.T, store *Store, topic string, items ...news.NewsItem) *news.Snapshot {
	t.Helper()

	type outcome struct {
		snapshot *news.Snapshot
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		snapshot, err := store.Publish(topic, news.NewSnapshot(topic, items, false))
		done <- outcome{snapshot, err}
	}()

	select {
	case o := <-done:
		require.NoError(t, o.err)
		return o.snapshot
	case <-time.After(2 * time.Second):
		t.Fatalf("publish of %s blocked", topic)
		return nil
	}
}

func TestStore_Publish_SlowPersistenceBlocksNoOtherTopic(t *testing.T) {
	persister := &gatedPersister{topic: "golang", started: make(chan struct{}, 1), release: make(chan struct{})}
	store := NewStore(news.Caps{}, clockwork.NewFakeClockAt(testNow), persister)

	slow := make(chan struct{})
	go func() {
		defer close(slow)
		_, err := store.Publish("golang", news.NewSnapshot("golang", []news.NewsItem{item("a", news.CategoryRecent, 3)}, false))
		assert.NoError(t, err)
	}()

	select {
	case <-persister.started:
	case <-time.After(2 * time.Second):
		t.Fatal("golang snapshot was never saved")
	}

	assert.Equal(t, uint64(1), store.Read("golang").Version(), "visible before it is saved")

	rust := publishWithin(t, store, "rust", item("r", news.CategoryPopular, 3))
	assert.Equal(t, uint64(1), rust.Version())
	assert.Equal(t, []string{"rust@1"}, persister.savedSnapshots())

	close(persister.release)
	<-slow
	assert.ElementsMatch(t, []string{"rust@1", "golang@1"}, persister.savedSnapshots())
}

func TestStore_PersistSkipsStaleVersions(t *testing.T) {
	persister := &recordingPersister{}
	store := NewStore(news.Caps{}, clockwork.NewFakeClockAt(testNow), persister)

	newer := news.NewSnapshot("golang", nil, false).Stamp(3, testNow, news.Caps{})
	older := news.NewSnapshot("golang", nil, false).Stamp(2, testNow, news.Caps{})

	store.persist(newer)
	store.persist(older)

	assert.Equal(t, []uint64{3}, persister.versions)
}

func TestStore_ConcurrentReadersSeeCompleteSnapshots(t *testing.T) {
	store := NewStore(news.Caps{}, clockwork.NewRealClock(), nil)

	const versions = 50
	done := make(chan struct{})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastVersion uint64
			for {
				select {
				case <-done:
					return
				default:
				}

				snapshot := store.Read("golang")
				version := snapshot.Version()

				// Every version n carries exactly n items.
				if snapshot.Len() != int(version) {
					t.Errorf("version %d has %d items", version, snapshot.Len())
					return
				}
				if version < lastVersion {
					t.Errorf("version went backwards: %d after %d", version, lastVersion)
					return
				}
				lastVersion = version
			}
		}()
	}

	var items []news.NewsItem
	for i := range versions {
		items = append(items, item(fmt.Sprintf("story-%d", i), news.CategoryRecent, 3))
		_, err := store.Publish("golang", news.NewSnapshot("golang", items, false))
		require.NoError(t, err)
	}

	close(done)
	wg.Wait()

	assert.Equal(t, uint64(versions), store.Read("golang").Version())
}

func TestStore_Restore(t *testing.T) {
	store := NewStore(news.Caps{}, clockwork.NewFakeClockAt(testNow), nil)

	golang := news.NewSnapshot("golang", []news.NewsItem{item("a", news.CategoryRecent, 3)}, false).Stamp(7, testNow, news.Caps{})
	rust := news.NewSnapshot("rust", []news.NewsItem{item("b", news.CategoryPopular, 4)}, true).Stamp(2, testNow, news.Caps{})
	corrupt := news.NewSnapshot("zig", []news.NewsItem{item("c", news.CategoryPopular, 0)}, false).Stamp(1, testNow, news.Caps{})

	restored := store.Restore([]*news.Snapshot{golang, rust, corrupt})

	assert.Equal(t, 2, restored)
	assert.Equal(t, uint64(7), store.Read("golang").Version())
	assert.True(t, store.Read("rust").Degraded())
	assert.Equal(t, uint64(0), store.Read("zig").Version())

	// Older snapshots never replace newer ones
	stale := news.NewSnapshot("golang", nil, false).Stamp(3, testNow, news.Caps{})
	assert.Equal(t, 0, store.Restore([]*news.Snapshot{stale}))

	// Publishing continues from the restored version
	next, err := store.Publish("golang", news.NewSnapshot("golang", nil, false))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), next.Version())
}

func TestStore_Stats(t *testing.T) {
	store := NewStore(news.Caps{}, clockwork.NewFakeClockAt(testNow), nil)

	_, err := store.Publish("rust", news.NewSnapshot("rust", []news.NewsItem{item("r", news.CategoryPopular, 3)}, false))
	require.NoError(t, err)
	_, err = store.Publish("golang", news.NewSnapshot("golang", []news.NewsItem{
		item("a", news.CategoryBreaking, 3),
		item("b", news.CategoryRecent, 3),
	}, true))
	require.NoError(t, err)

	stats := store.Stats()

	assert.Equal(t, 2, stats.Topics)
	assert.Equal(t, 3, stats.Items)
	require.Len(t, stats.Detail, 2)
	assert.Equal(t, "golang", stats.Detail[0].Topic)
	assert.Equal(t, 1, stats.Detail[0].Breaking)
	assert.True(t, stats.Detail[0].Degraded)
	assert.Equal(t, "rust", stats.Detail[1].Topic)
	assert.Equal(t, 1, stats.Detail[1].Popular)
}
