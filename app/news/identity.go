package news

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// IdentityHash derives the key used to recognise the same story across
// sources and cycles. Titles differing only in case, Unicode form or
// whitespace produce the same hash.
func IdentityHash(title, link string) string {
	content := NormalizeTitle(title) + "|" + strings.TrimSpace(link)
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

func NormalizeTitle(title string) string {
	normalized := norm.NFKC.String(title)
	normalized = cases.Fold().String(normalized)
	return strings.Join(strings.Fields(normalized), " ")
}

// Deduplicate turns raw candidates into items that are new to the topic.
// Candidates already present in current, or evicted from it by a category
// cap, are dropped, as are repeats within the batch; the first occurrence
// wins. It returns the survivors and the
// number of candidates dropped.
func Deduplicate(raw []RawItem, current *Snapshot) ([]NewsItem, int) {
	seen := make(map[string]struct{}, len(raw))
	items := make([]NewsItem, 0, len(raw))
	duplicates := 0

	for _, r := range raw {
		hash := IdentityHash(r.Title, r.Link)
		if current != nil && current.Seen(hash) {
			duplicates++
			continue
		}
		if _, ok := seen[hash]; ok {
			duplicates++
			continue
		}
		seen[hash] = struct{}{}

		items = append(items, NewsItem{
			Title:        r.Title,
			Link:         r.Link,
			Summary:      r.Summary,
			IdentityHash: hash,
			PublishedAt:  r.PublishedAt,
			Priority:     DefaultPriority,
			SourceHint:   r.SourceHint,
		})
	}

	return items, duplicates
}
