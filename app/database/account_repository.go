package database

import (
	"database/sql"
	"fmt"
	"time"
)

var _ AccountRepository = (*SQLAccountRepository)(nil)

// SQLAccountRepository handles database operations for destination accounts
// and feed-account links
type SQLAccountRepository struct {
	db *DB
}

func NewAccountRepository(db *DB) *SQLAccountRepository {
	return &SQLAccountRepository{db: db}
}

const accountColumns = `id, instance_url, client_id, client_secret, access_token, handle, profile_url, created_at`

// InsertLinkedAccount persists an account after a successful token exchange
// and credential verification.
func (r *SQLAccountRepository) InsertLinkedAccount(account Account) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO accounts (instance_url, client_id, client_secret, access_token, handle, profile_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, account.InstanceURL, account.ClientID, account.ClientSecret,
		account.AccessToken, account.Handle, account.ProfileURL,
		time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get account id: %w", err)
	}
	return id, nil
}

// DeleteAccount removes an account; links and posted items cascade.
func (r *SQLAccountRepository) DeleteAccount(id int64) error {
	_, err := r.db.Exec(`DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

func (r *SQLAccountRepository) GetAccount(id int64) (*Account, error) {
	var account Account
	var createdAt int64
	err := r.db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id).Scan(
		&account.ID, &account.InstanceURL, &account.ClientID, &account.ClientSecret,
		&account.AccessToken, &account.Handle, &account.ProfileURL, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	account.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &account, nil
}

func (r *SQLAccountRepository) ListAccounts() ([]Account, error) {
	rows, err := r.db.Query(`SELECT ` + accountColumns + ` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var account Account
		var createdAt int64
		err := rows.Scan(&account.ID, &account.InstanceURL, &account.ClientID,
			&account.ClientSecret, &account.AccessToken, &account.Handle,
			&account.ProfileURL, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		account.CreatedAt = time.Unix(createdAt, 0).UTC()
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account rows: %w", err)
	}
	return accounts, nil
}

func (r *SQLAccountRepository) GetLinkedAccountCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM accounts WHERE access_token != ''`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get linked account count: %w", err)
	}
	return count, nil
}

// SetFeedAccounts replaces the set of accounts a feed fans out to.
func (r *SQLAccountRepository) SetFeedAccounts(feedID int64, accountIDs []int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM feed_accounts WHERE feed_id = ?`, feedID); err != nil {
		return fmt.Errorf("failed to clear feed links: %w", err)
	}
	for _, accountID := range accountIDs {
		_, err := tx.Exec(`INSERT INTO feed_accounts (feed_id, account_id) VALUES (?, ?)`, feedID, accountID)
		if err != nil {
			return fmt.Errorf("failed to insert feed link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit feed links: %w", err)
	}
	return nil
}

func (r *SQLAccountRepository) GetFeedAccountIDs(feedID int64) ([]int64, error) {
	rows, err := r.db.Query(`SELECT account_id FROM feed_accounts WHERE feed_id = ? ORDER BY account_id`, feedID)
	if err != nil {
		return nil, fmt.Errorf("failed to get feed links: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan link row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating link rows: %w", err)
	}
	return ids, nil
}

func (r *SQLAccountRepository) ListActiveLinks() ([]Link, error) {
	rows, err := r.db.Query(`
		SELECT f.id, f.url, f.name, f.hashtags, f.active, f.last_status, f.last_fetched_at, f.created_at, f.updated_at,
		       a.id, a.instance_url, a.client_id, a.client_secret, a.access_token, a.handle, a.profile_url, a.created_at
		FROM feed_accounts fa
		JOIN feeds f    ON f.id = fa.feed_id
		JOIN accounts a ON a.id = fa.account_id
		WHERE f.active = 1 AND a.access_token != ''
		ORDER BY f.id, a.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var link Link
		var hashtags string
		var active int
		var lastFetched sql.NullInt64
		var feedCreated, feedUpdated, accountCreated int64

		err := rows.Scan(
			&link.Feed.ID, &link.Feed.URL, &link.Feed.Name, &hashtags, &active,
			&link.Feed.LastStatus, &lastFetched, &feedCreated, &feedUpdated,
			&link.Account.ID, &link.Account.InstanceURL, &link.Account.ClientID,
			&link.Account.ClientSecret, &link.Account.AccessToken,
			&link.Account.Handle, &link.Account.ProfileURL, &accountCreated,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link row: %w", err)
		}

		link.Feed.Hashtags = splitTags(hashtags)
		link.Feed.Active = active != 0
		link.Feed.LastFetchedAt = unixPtr(lastFetched)
		link.Feed.CreatedAt = time.Unix(feedCreated, 0).UTC()
		link.Feed.UpdatedAt = time.Unix(feedUpdated, 0).UTC()
		link.Account.CreatedAt = time.Unix(accountCreated, 0).UTC()
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating link rows: %w", err)
	}
	return links, nil
}
