package database

import (
	"database/sql"
	"fmt"
	"time"
)

var _ ItemRepository = (*SQLItemRepository)(nil)

// SQLItemRepository handles the posted-item dedup ledger. A row's existence
// is the sole authority on "already posted"; rows are never updated or
// deleted outside of feed/account cascades.
type SQLItemRepository struct {
	db *DB
}

func NewItemRepository(db *DB) *SQLItemRepository {
	return &SQLItemRepository{db: db}
}

func (r *SQLItemRepository) IsPosted(feedID, accountID int64, guid string) (bool, error) {
	var one int
	err := r.db.QueryRow(`
		SELECT 1 FROM posted_items
		WHERE feed_id = ? AND account_id = ? AND item_guid = ?
	`, feedID, accountID, guid).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check posted item: %w", err)
	}
	return true, nil
}

// MarkPosted records a successful publish. The insert is its own committed
// transaction, so a crash later in the run cannot roll it back.
func (r *SQLItemRepository) MarkPosted(feedID, accountID int64, guid string, postedAt time.Time) error {
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO posted_items (feed_id, account_id, item_guid, posted_at)
		VALUES (?, ?, ?, ?)
	`, feedID, accountID, guid, postedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to mark item posted: %w", err)
	}
	return nil
}

func (r *SQLItemRepository) GetPostedCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM posted_items`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get posted count: %w", err)
	}
	return count, nil
}

func (r *SQLItemRepository) GetPostedCountForFeed(feedID int64) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM posted_items WHERE feed_id = ?`, feedID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get posted count for feed: %w", err)
	}
	return count, nil
}
