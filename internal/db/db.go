// Package db persists analysis runs, triggers, and ranked events to a
// sqlite results database.
package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the results database at path. Schema setup is
// handled by MigrateUp, not here.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Single writer with retry keeps the worker pool simple.
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	return &DB{db}, nil
}

// retryOnBusy retries a write a few times when sqlite reports the database
// locked, which can happen despite busy_timeout under WAL checkpointing.
func retryOnBusy(fn func() error) error {
	const maxRetries = 5
	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		time.Sleep(time.Duration(10*(i+1)) * time.Millisecond)
	}
	return err
}
