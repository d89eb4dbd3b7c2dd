package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lysyi3m/rss-intel/app/news"
)

// SnapshotRepository persists the published snapshot of each topic so the
// identity index can be rebuilt after a restart.
type SnapshotRepository struct {
	db *DB
}

func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// SaveSnapshot replaces the stored snapshot of a topic in one transaction.
func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, snapshot *news.Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO topic_snapshots (topic, version, published_at, degraded)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (topic) DO UPDATE SET
			version = excluded.version,
			published_at = excluded.published_at,
			degraded = excluded.degraded
	`, snapshot.Topic(), snapshot.Version(), formatTime(snapshot.PublishedAt()), snapshot.Degraded())
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM news_items WHERE topic = ?`, snapshot.Topic()); err != nil {
		return fmt.Errorf("failed to clear snapshot items: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO news_items (
			topic, identity_hash, title, translated_title, link, summary,
			published_at, priority, category, source_hint, enrichment_degraded, position
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare item insert: %w", err)
	}
	defer stmt.Close()

	for _, category := range news.Categories {
		for position, item := range snapshot.Bucket(category) {
			_, err := stmt.ExecContext(ctx,
				snapshot.Topic(), item.IdentityHash, item.Title, item.TranslatedTitle, item.Link, item.Summary,
				formatTime(item.PublishedAt), item.Priority, string(item.Category), string(item.SourceHint),
				item.EnrichmentDegraded, position)
			if err != nil {
				return fmt.Errorf("failed to insert item %s: %w", item.IdentityHash, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM evicted_identities WHERE topic = ?`, snapshot.Topic()); err != nil {
		return fmt.Errorf("failed to clear evicted identities: %w", err)
	}

	for position, hash := range snapshot.Evicted() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO evicted_identities (topic, identity_hash, position) VALUES (?, ?, ?)
		`, snapshot.Topic(), hash, position)
		if err != nil {
			return fmt.Errorf("failed to insert evicted identity %s: %w", hash, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	return nil
}

// LoadSnapshots returns every stored snapshot with its original version.
func (r *SnapshotRepository) LoadSnapshots(ctx context.Context) ([]*news.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT topic, version, published_at, degraded
		FROM topic_snapshots
		ORDER BY topic
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshots: %w", err)
	}

	type header struct {
		topic       string
		version     uint64
		publishedAt string
		degraded    bool
	}

	var headers []header
	for rows.Next() {
		var h header
		if err := rows.Scan(&h.topic, &h.version, &h.publishedAt, &h.degraded); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		headers = append(headers, h)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}
	rows.Close()

	snapshots := make([]*news.Snapshot, 0, len(headers))
	for _, h := range headers {
		items, err := r.getItems(ctx, h.topic)
		if err != nil {
			return nil, err
		}

		evicted, err := r.getEvicted(ctx, h.topic)
		if err != nil {
			return nil, err
		}

		publishedAt, err := parseTime(h.publishedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid published_at for topic %s: %w", h.topic, err)
		}

		snapshot := news.NewSnapshot(h.topic, items, h.degraded).WithEvicted(evicted).Stamp(h.version, publishedAt, news.Caps{})
		snapshots = append(snapshots, snapshot)
	}

	return snapshots, nil
}

func (r *SnapshotRepository) GetSnapshotCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM topic_snapshots`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get snapshot count: %w", err)
	}
	return count, nil
}

func (r *SnapshotRepository) getItems(ctx context.Context, topic string) ([]news.NewsItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT identity_hash, title, translated_title, link, summary,
		       published_at, priority, category, source_hint, enrichment_degraded
		FROM news_items
		WHERE topic = ?
		ORDER BY category, position
	`, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to get items: %w", err)
	}
	defer rows.Close()

	var items []news.NewsItem
	for rows.Next() {
		var (
			item        news.NewsItem
			publishedAt string
			category    string
			sourceHint  string
		)
		err := rows.Scan(
			&item.IdentityHash, &item.Title, &item.TranslatedTitle, &item.Link, &item.Summary,
			&publishedAt, &item.Priority, &category, &sourceHint, &item.EnrichmentDegraded,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}

		if item.PublishedAt, err = parseTime(publishedAt); err != nil {
			return nil, fmt.Errorf("invalid published_at for item %s: %w", item.IdentityHash, err)
		}
		item.Category = news.Category(category)
		item.SourceHint = news.SourceHint(sourceHint)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}

	return items, nil
}

func (r *SnapshotRepository) getEvicted(ctx context.Context, topic string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT identity_hash FROM evicted_identities WHERE topic = ? ORDER BY position
	`, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to get evicted identities: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("failed to scan evicted identity: %w", err)
		}
		hashes = append(hashes, hash)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evicted identities: %w", err)
	}

	return hashes, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
