package identity

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"qqbot/pkg/logger"
)

// Store persists identity records in SQLite so caches survive restarts.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenStore creates or opens the database at path.
func OpenStore(path string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return newStore(db, log)
}

// OpenMemoryStore creates an in-memory store (useful for testing).
func OpenMemoryStore(log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory database: %w", err)
	}
	// Each new connection to :memory: is a fresh database.
	db.SetMaxOpenConns(1)
	return newStore(db, log)
}

func newStore(db *sql.DB, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db, log: logger.Component(log, "identity.store")}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS identities (
    account_id TEXT NOT NULL,
    kind TEXT NOT NULL CHECK(kind IN ('friend','group','member')),
    group_id TEXT NOT NULL DEFAULT '',
    id TEXT NOT NULL,
    record TEXT NOT NULL DEFAULT '{}',
    updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (account_id, kind, group_id, id)
);

CREATE INDEX IF NOT EXISTS idx_identities_account ON identities(account_id);
`

func (s *Store) Close() error { return s.db.Close() }

// SaveRecord writes the merged record. Failures are logged, not returned,
// so a broken database never blocks message handling.
func (s *Store) SaveRecord(accountID string, kind Kind, groupID, id string, rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		s.log.Warn("encode identity record failed", "kind", kind, "id", id, "error", err)
		return
	}
	_, err = s.db.Exec(`
INSERT INTO identities (account_id, kind, group_id, id, record, updated_at)
VALUES (?, ?, ?, ?, ?, datetime('now'))
ON CONFLICT(account_id, kind, group_id, id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		accountID, string(kind), groupID, id, string(data))
	if err != nil {
		s.log.Warn("save identity record failed", "kind", kind, "id", id, "error", err)
	}
}

func (s *Store) DeleteRecord(accountID string, kind Kind, groupID, id string) {
	if _, err := s.db.Exec(`DELETE FROM identities WHERE account_id = ? AND kind = ? AND group_id = ? AND id = ?`,
		accountID, string(kind), groupID, id); err != nil {
		s.log.Warn("delete identity record failed", "kind", kind, "id", id, "error", err)
		return
	}
	if kind == KindGroup {
		if _, err := s.db.Exec(`DELETE FROM identities WHERE account_id = ? AND kind = 'member' AND group_id = ?`,
			accountID, id); err != nil {
			s.log.Warn("delete group members failed", "group_id", id, "error", err)
		}
	}
}

// LoadInto fills caches with every stored record.
func (s *Store) LoadInto(caches *Caches) (int, error) {
	rows, err := s.db.Query(`SELECT account_id, kind, group_id, id, record FROM identities`)
	if err != nil {
		return 0, fmt.Errorf("querying identities: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var accountID, kind, groupID, id, data string
		if err := rows.Scan(&accountID, &kind, &groupID, &id, &data); err != nil {
			return n, fmt.Errorf("scanning identity: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.log.Warn("skipping malformed identity record", "kind", kind, "id", id, "error", err)
			continue
		}
		caches.Account(accountID).load(Kind(kind), groupID, id, rec)
		n++
	}
	return n, rows.Err()
}
