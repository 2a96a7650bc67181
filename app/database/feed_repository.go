package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

var _ FeedRepository = (*SQLFeedRepository)(nil)

// SQLFeedRepository handles database operations for feeds
type SQLFeedRepository struct {
	db *DB
}

func NewFeedRepository(db *DB) *SQLFeedRepository {
	return &SQLFeedRepository{db: db}
}

const feedColumns = `id, url, name, hashtags, active, last_status, last_fetched_at, created_at, updated_at`

func (r *SQLFeedRepository) CreateFeed(url, name string, hashtags []string) (int64, error) {
	now := time.Now().UTC().Unix()
	result, err := r.db.Exec(`
		INSERT INTO feeds (url, name, hashtags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, url, name, joinTags(hashtags), now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert feed: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get feed id: %w", err)
	}
	return id, nil
}

// UpsertFeed inserts a feed or updates an existing one matched by URL.
// Used when registering feeds from a seed file at startup.
func (r *SQLFeedRepository) UpsertFeed(url, name string, hashtags []string, active bool) (int64, error) {
	existing, err := r.GetFeedByURL(url)
	if err != nil {
		return 0, fmt.Errorf("failed to check existing feed: %w", err)
	}

	if existing != nil {
		_, err = r.db.Exec(`
			UPDATE feeds
			SET name = ?, hashtags = ?, active = ?, updated_at = ?
			WHERE id = ?
		`, name, joinTags(hashtags), boolToInt(active), time.Now().UTC().Unix(), existing.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to update feed: %w", err)
		}
		return existing.ID, nil
	}

	id, err := r.CreateFeed(url, name, hashtags)
	if err != nil {
		return 0, err
	}
	if !active {
		if err := r.SetFeedActive(id, false); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (r *SQLFeedRepository) UpdateFeed(id int64, url, name string, hashtags []string) error {
	_, err := r.db.Exec(`
		UPDATE feeds
		SET url = ?, name = ?, hashtags = ?, updated_at = ?
		WHERE id = ?
	`, url, name, joinTags(hashtags), time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update feed: %w", err)
	}
	return nil
}

func (r *SQLFeedRepository) SetFeedActive(id int64, active bool) error {
	_, err := r.db.Exec(`
		UPDATE feeds
		SET active = ?, updated_at = ?
		WHERE id = ?
	`, boolToInt(active), time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to set feed active status: %w", err)
	}
	return nil
}

// DeleteFeed removes a feed; links and posted items cascade.
func (r *SQLFeedRepository) DeleteFeed(id int64) error {
	_, err := r.db.Exec(`DELETE FROM feeds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete feed: %w", err)
	}
	return nil
}

func (r *SQLFeedRepository) GetFeed(id int64) (*Feed, error) {
	row := r.db.QueryRow(`SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)
	return scanFeed(row)
}

func (r *SQLFeedRepository) GetFeedByURL(url string) (*Feed, error) {
	row := r.db.QueryRow(`SELECT `+feedColumns+` FROM feeds WHERE url = ?`, url)
	return scanFeed(row)
}

func (r *SQLFeedRepository) ListFeeds() ([]Feed, error) {
	rows, err := r.db.Query(`SELECT ` + feedColumns + ` FROM feeds ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		feed, err := scanFeedRow(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feed rows: %w", err)
	}
	return feeds, nil
}

func (r *SQLFeedRepository) GetFeedCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM feeds`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get feed count: %w", err)
	}
	return count, nil
}

func (r *SQLFeedRepository) GetActiveFeedCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM feeds WHERE active = 1`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get active feed count: %w", err)
	}
	return count, nil
}

// MarkFetched records a successful fetch, advancing the feed's baseline.
func (r *SQLFeedRepository) MarkFetched(id int64, fetchedAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE feeds
		SET last_status = 'ok', last_fetched_at = ?, updated_at = ?
		WHERE id = ?
	`, fetchedAt.UTC().Unix(), time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark feed fetched: %w", err)
	}
	return nil
}

// MarkFetchFailed flags the feed without touching last_fetched_at, so the
// next run retries from the same baseline.
func (r *SQLFeedRepository) MarkFetchFailed(id int64) error {
	_, err := r.db.Exec(`
		UPDATE feeds
		SET last_status = 'error', updated_at = ?
		WHERE id = ?
	`, time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark feed fetch failure: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row *sql.Row) (*Feed, error) {
	feed, err := scanFeedFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return feed, err
}

func scanFeedRow(rows *sql.Rows) (*Feed, error) {
	return scanFeedFrom(rows)
}

func scanFeedFrom(s rowScanner) (*Feed, error) {
	var feed Feed
	var hashtags string
	var active int
	var lastFetched sql.NullInt64
	var createdAt, updatedAt int64

	err := s.Scan(&feed.ID, &feed.URL, &feed.Name, &hashtags, &active,
		&feed.LastStatus, &lastFetched, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan feed row: %w", err)
	}

	feed.Hashtags = splitTags(hashtags)
	feed.Active = active != 0
	feed.LastFetchedAt = unixPtr(lastFetched)
	feed.CreatedAt = time.Unix(createdAt, 0).UTC()
	feed.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &feed, nil
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
