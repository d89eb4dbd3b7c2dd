package news

import (
	"cmp"
	"maps"
	"slices"
	"time"
)

// EvictedLimit bounds how many capped-out identities a topic remembers.
const EvictedLimit = 1000

// Caps bounds the size of each category bucket. Zero means unbounded.
type Caps struct {
	Breaking int
	Recent   int
	Popular  int
}

func (c Caps) For(category Category) int {
	switch category {
	case CategoryBreaking:
		return c.Breaking
	case CategoryRecent:
		return c.Recent
	case CategoryPopular:
		return c.Popular
	default:
		return 0
	}
}

// Snapshot is the complete state of a topic at one version. It is never
// modified after construction; accessors hand out copies.
type Snapshot struct {
	topic       string
	version     uint64
	publishedAt time.Time
	degraded    bool
	buckets     map[Category][]NewsItem
	index       map[string]struct{}

	// identities pushed out by a category cap, oldest first
	evicted      []string
	evictedIndex map[string]struct{}
}

// NewSnapshot groups items by their category and orders every bucket by
// priority, then recency. Items with an unknown category are kept so that
// publish-time validation can reject them.
func NewSnapshot(topic string, items []NewsItem, degraded bool) *Snapshot {
	s := &Snapshot{
		topic:    topic,
		degraded: degraded,
		buckets:  make(map[Category][]NewsItem, len(Categories)),
		index:    make(map[string]struct{}, len(items)),
	}

	for _, item := range items {
		s.buckets[item.Category] = append(s.buckets[item.Category], item)
		s.index[item.IdentityHash] = struct{}{}
	}
	for category := range s.buckets {
		slices.SortStableFunc(s.buckets[category], compareRank)
	}

	return s
}

// EmptySnapshot is what readers see for a topic that was never published.
func EmptySnapshot(topic string) *Snapshot {
	return NewSnapshot(topic, nil, false)
}

func compareRank(a, b NewsItem) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	if c := b.PublishedAt.Compare(a.PublishedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.IdentityHash, b.IdentityHash)
}

// Stamp returns a copy carrying the given version and publish time, with
// every bucket truncated to its cap. Evicted items leave the identity index
// and are remembered as evicted.
func (s *Snapshot) Stamp(version uint64, publishedAt time.Time, caps Caps) *Snapshot {
	stamped := &Snapshot{
		topic:       s.topic,
		version:     version,
		publishedAt: publishedAt,
		degraded:    s.degraded,
		buckets:     make(map[Category][]NewsItem, len(s.buckets)),
		index:       make(map[string]struct{}, len(s.index)),
	}

	var dropped []string
	for _, category := range slices.Sorted(maps.Keys(s.buckets)) {
		items := s.buckets[category]
		if limit := caps.For(category); limit > 0 && len(items) > limit {
			for _, item := range items[limit:] {
				dropped = append(dropped, item.IdentityHash)
			}
			items = items[:limit]
		}
		stamped.buckets[category] = items
		for _, item := range items {
			stamped.index[item.IdentityHash] = struct{}{}
		}
	}

	stamped.evicted, stamped.evictedIndex = rememberEvicted(s.evicted, dropped, stamped.index)

	return stamped
}

// WithEvicted returns a copy that also remembers hashes as evicted. Hashes
// that are still published are ignored.
func (s *Snapshot) WithEvicted(hashes []string) *Snapshot {
	out := *s
	out.evicted, out.evictedIndex = rememberEvicted(s.evicted, hashes, s.index)
	return &out
}

func rememberEvicted(previous, added []string, published map[string]struct{}) ([]string, map[string]struct{}) {
	evicted := make([]string, 0, len(previous)+len(added))
	index := make(map[string]struct{}, len(previous)+len(added))

	for _, hash := range slices.Concat(previous, added) {
		if _, ok := published[hash]; ok {
			continue
		}
		if _, ok := index[hash]; ok {
			continue
		}
		index[hash] = struct{}{}
		evicted = append(evicted, hash)
	}

	if extra := len(evicted) - EvictedLimit; extra > 0 {
		for _, hash := range evicted[:extra] {
			delete(index, hash)
		}
		evicted = slices.Clone(evicted[extra:])
	}

	return evicted, index
}

func (s *Snapshot) Topic() string          { return s.topic }
func (s *Snapshot) Version() uint64        { return s.version }
func (s *Snapshot) PublishedAt() time.Time { return s.publishedAt }
func (s *Snapshot) Degraded() bool         { return s.degraded }

func (s *Snapshot) Bucket(category Category) []NewsItem {
	return slices.Clone(s.buckets[category])
}

func (s *Snapshot) Breaking() []NewsItem { return s.Bucket(CategoryBreaking) }
func (s *Snapshot) Recent() []NewsItem   { return s.Bucket(CategoryRecent) }
func (s *Snapshot) Popular() []NewsItem  { return s.Bucket(CategoryPopular) }

// Items returns every item, bucket by bucket in render order, followed by
// any items whose category is not a known bucket.
func (s *Snapshot) Items() []NewsItem {
	items := make([]NewsItem, 0, s.Len())
	for _, category := range Categories {
		items = append(items, s.buckets[category]...)
	}
	for category, bucket := range s.buckets {
		if !slices.Contains(Categories, category) {
			items = append(items, bucket...)
		}
	}
	return items
}

func (s *Snapshot) Len() int {
	n := 0
	for _, items := range s.buckets {
		n += len(items)
	}
	return n
}

func (s *Snapshot) Contains(identityHash string) bool {
	_, ok := s.index[identityHash]
	return ok
}

// Seen reports whether the identity is published or was evicted by a cap.
func (s *Snapshot) Seen(identityHash string) bool {
	if s.Contains(identityHash) {
		return true
	}
	_, ok := s.evictedIndex[identityHash]
	return ok
}

// Evicted lists the remembered evicted identities, oldest first.
func (s *Snapshot) Evicted() []string {
	return slices.Clone(s.evicted)
}

// Merge builds the next snapshot of a topic: everything already published is
// carried forward untouched along with the evicted identities, and fresh
// items are added unless their identity is already present.
func Merge(previous *Snapshot, fresh []NewsItem, degraded bool) *Snapshot {
	items := previous.Items()
	seen := make(map[string]struct{}, len(items)+len(fresh))
	for _, item := range items {
		seen[item.IdentityHash] = struct{}{}
	}

	for _, item := range fresh {
		if _, ok := seen[item.IdentityHash]; ok {
			continue
		}
		seen[item.IdentityHash] = struct{}{}
		items = append(items, item)
	}

	return NewSnapshot(previous.Topic(), items, degraded).WithEvicted(previous.Evicted())
}

type SnapshotView struct {
	Topic       string     `json:"topic"`
	Version     uint64     `json:"version"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Degraded    bool       `json:"degraded"`
	Breaking    []NewsItem `json:"breaking"`
	Recent      []NewsItem `json:"recent"`
	Popular     []NewsItem `json:"popular"`
}

func (s *Snapshot) View() SnapshotView {
	view := SnapshotView{
		Topic:    s.topic,
		Version:  s.version,
		Degraded: s.degraded,
		Breaking: nonNil(s.Breaking()),
		Recent:   nonNil(s.Recent()),
		Popular:  nonNil(s.Popular()),
	}
	if !s.publishedAt.IsZero() {
		publishedAt := s.publishedAt
		view.PublishedAt = &publishedAt
	}
	return view
}

func nonNil(items []NewsItem) []NewsItem {
	if items == nil {
		return []NewsItem{}
	}
	return items
}
