package store

import (
	"database/sql"

	"github.com/google/uuid"
)

// Store holds the connection pool. Query helpers that must run inside a
// caller's transaction are package-level functions taking a *sql.Tx.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

type scanner interface {
	Scan(dest ...any) error
}

// parseID returns notFound for ids that are not UUIDs, so malformed path or
// body ids never reach a UUID column.
func parseID(id string, notFound error) error {
	if _, err := uuid.Parse(id); err != nil {
		return notFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
