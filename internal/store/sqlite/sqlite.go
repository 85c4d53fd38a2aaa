// Package sqlite implements store.Store on a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/betairc-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS bans (
	channel    TEXT NOT NULL,
	nickname   TEXT NOT NULL,
	banned_by  TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (channel, nickname)
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (and if needed creates) the database at dbPath and ensures the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveBan upserts one ban record.
func (s *SQLiteStore) SaveBan(ctx context.Context, ban store.Ban) error {
	query := `
		INSERT INTO bans (channel, nickname, banned_by, reason)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (channel, nickname) DO UPDATE SET
			banned_by = excluded.banned_by,
			reason    = excluded.reason
	`
	if _, err := s.db.ExecContext(ctx, query, ban.Channel, ban.Nickname, ban.BannedBy, ban.Reason); err != nil {
		return fmt.Errorf("insert ban: %w", err)
	}
	return nil
}

// ListBans returns every persisted ban.
func (s *SQLiteStore) ListBans(ctx context.Context) ([]store.Ban, error) {
	query := `
		SELECT channel, nickname, banned_by, reason, created_at
		FROM bans
		ORDER BY channel, nickname
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select bans: %w", err)
	}
	defer rows.Close()

	var bans []store.Ban
	for rows.Next() {
		var b store.Ban
		if err := rows.Scan(&b.Channel, &b.Nickname, &b.BannedBy, &b.Reason, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		bans = append(bans, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bans: %w", err)
	}
	return bans, nil
}
