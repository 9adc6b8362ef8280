package model

import "database/sql"

// Store wraps the application database. All queries go through here; the
// whatsmeow credential store is owned separately by the database package.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}
