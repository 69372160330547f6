package tail

import (
	"database/sql"
	"fmt"
	"time"

	"sluice/internal/database"
)

// fileCursor is the persisted read position of one tailed file. A file is
// identified by path plus inode so rotation under the same name starts a
// fresh cursor.
type fileCursor struct {
	Path   string
	Offset int64
	Line   int64
	Inode  uint64
}

// OffsetStore persists file cursors across restarts.
type OffsetStore interface {
	CreateTable() error
	Lookup(path string, inode uint64) (*fileCursor, error)
	SaveAll(cursors []fileCursor) error
	Delete(path string, inode uint64) error
	Prune(olderThan time.Duration) (int64, error)
	Close() error
}

type sqliteStore struct {
	db *database.Manager
}

func newSQLiteStore(path string) (OffsetStore, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) CreateTable() error {
	query := `CREATE TABLE IF NOT EXISTS tail_offsets (
        path TEXT NOT NULL,
        offset INTEGER NOT NULL,
        line INTEGER NOT NULL,
        inode INTEGER NOT NULL,
        updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (path, inode)
    )`
	if _, err := s.db.Write(query); err != nil {
		return fmt.Errorf("could not create db table tail_offsets: %w", err)
	}
	return nil
}

func (s *sqliteStore) Lookup(path string, inode uint64) (*fileCursor, error) {
	query := `SELECT path, offset, line, inode
              FROM tail_offsets
              WHERE path = $1 AND inode = $2`

	cursor := &fileCursor{}
	err := s.db.QueryRow(query, path, inode).Scan(
		&cursor.Path,
		&cursor.Offset,
		&cursor.Line,
		&cursor.Inode,
	)
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

func (s *sqliteStore) SaveAll(cursors []fileCursor) error {
	return s.db.WriteTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
            INSERT OR REPLACE INTO tail_offsets
            (path, offset, line, inode, updated_at)
            VALUES ($1, $2, $3, $4, $5)
        `)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, cursor := range cursors {
			_, err := stmt.Exec(
				cursor.Path,
				cursor.Offset,
				cursor.Line,
				cursor.Inode,
				time.Now(),
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) Delete(path string, inode uint64) error {
	query := `DELETE FROM tail_offsets WHERE path = $1 AND inode = $2`
	_, err := s.db.Write(query, path, inode)
	return err
}

func (s *sqliteStore) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Format("2006-01-02 15:04:05")
	query := `DELETE FROM tail_offsets WHERE updated_at < datetime($1)`

	res, err := s.db.Write(query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
