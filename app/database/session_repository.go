package database

import (
	"database/sql"
	"fmt"
	"time"
)

var _ SessionRepository = (*SQLSessionRepository)(nil)

// SQLSessionRepository handles transient OAuth link sessions
type SQLSessionRepository struct {
	db *DB
}

func NewSessionRepository(db *DB) *SQLSessionRepository {
	return &SQLSessionRepository{db: db}
}

func (r *SQLSessionRepository) CreateSession(session LinkSession) (int64, error) {
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	result, err := r.db.Exec(`
		INSERT INTO link_sessions (instance_url, client_id, client_secret, nonce, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, session.InstanceURL, session.ClientID, session.ClientSecret,
		session.Nonce, createdAt.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert link session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get session id: %w", err)
	}
	return id, nil
}

// ConsumeSession deletes and returns the session in a single statement, so
// two callbacks racing on the same nonce cannot both succeed.
func (r *SQLSessionRepository) ConsumeSession(instanceURL, nonce string) (*LinkSession, error) {
	var session LinkSession
	var createdAt int64
	err := r.db.QueryRow(`
		DELETE FROM link_sessions
		WHERE instance_url = ? AND nonce = ?
		RETURNING id, instance_url, client_id, client_secret, nonce, created_at
	`, instanceURL, nonce).Scan(
		&session.ID, &session.InstanceURL, &session.ClientID,
		&session.ClientSecret, &session.Nonce, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume link session: %w", err)
	}

	session.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &session, nil
}

// PurgeExpiredSessions removes abandoned linking attempts.
func (r *SQLSessionRepository) PurgeExpiredSessions(olderThan time.Time) (int64, error) {
	result, err := r.db.Exec(`
		DELETE FROM link_sessions WHERE created_at < ?
	`, olderThan.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge link sessions: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged sessions: %w", err)
	}
	return removed, nil
}
