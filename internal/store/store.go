// Package store is the data access layer for vigil: targets, change events,
// read/star marks, subscriptions and folders, all in one SQLite database.
package store

import (
	"database/sql"
	"fmt"

	"github.com/hazyhaar/vigil/internal/dbopen"
)

// Store wraps the vigil database.
type Store struct {
	DB *sql.DB
}

// Open opens (creating if necessary) the vigil database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	if err := ApplySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{DB: db}, nil
}

// New wraps an already-opened database. The caller is responsible for having
// applied the schema.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping() error {
	return s.DB.Ping()
}
