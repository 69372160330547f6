// Package database wraps the sqlite3 handle used for durable plugin
// state, serializing writers over a single connection.
package database

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

type Manager struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the sqlite3 database at path and verifies the
// connection before handing it out.
func Open(path string) (*Manager, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("could not open sqlite3 database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not reach sqlite3 database: %w", err)
	}

	logrus.WithField("file", path).Debug("opened sqlite3 database")
	return &Manager{db: db}, nil
}

// Write runs a single mutating statement.
func (m *Manager) Write(query string, args ...any) (sql.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.Exec(query, args...)
}

// WriteTx runs fn inside a transaction, rolling back on error.
func (m *Manager) WriteTx(fn func(*sql.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (m *Manager) QueryRow(query string, args ...any) *sql.Row {
	return m.db.QueryRow(query, args...)
}

func (m *Manager) Query(query string, args ...any) (*sql.Rows, error) {
	return m.db.Query(query, args...)
}

func (m *Manager) Close() error {
	return m.db.Close()
}
