package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps every stored mask as a revision row. Load returns the
// newest. Older rows beyond keep are pruned on save.
type SQLiteStore struct {
	db   *sql.DB
	keep int

	once sync.Once
}

// OpenSQLite opens or creates the revision database. keep <= 0 keeps all
// revisions.
func OpenSQLite(path string, keep int) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, keep: keep}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mask_revisions (
			revision INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			created_at TEXT NOT NULL,
			size INTEGER NOT NULL,
			png BLOB NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]byte, Revision, error) {
	var (
		rev Revision
		at  string
		png []byte
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT revision, session, created_at, size, png FROM mask_revisions ORDER BY revision DESC LIMIT 1`)
	if err := row.Scan(&rev.Number, &rev.Session, &at, &rev.Size, &png); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, Revision{}, ErrNoMask
		}
		return nil, Revision{}, fmt.Errorf("load mask: %w", err)
	}
	rev.At, _ = time.Parse(time.RFC3339Nano, at)
	return png, rev, nil
}

func (s *SQLiteStore) Save(ctx context.Context, png []byte, session string) (Revision, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO mask_revisions(session, created_at, size, png) VALUES(?,?,?,?)`,
		session, now.Format(time.RFC3339Nano), len(png), png)
	if err != nil {
		return Revision{}, fmt.Errorf("save mask: %w", err)
	}
	n, err := res.LastInsertId()
	if err != nil {
		return Revision{}, err
	}
	if s.keep > 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM mask_revisions WHERE revision <= ?`, n-int64(s.keep)); err != nil {
			return Revision{}, fmt.Errorf("prune revisions: %w", err)
		}
	}
	return Revision{Number: n, Session: session, At: now, Size: len(png)}, nil
}

// History lists up to n revisions, newest first, without their pixels.
func (s *SQLiteStore) History(ctx context.Context, n int) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT revision, session, created_at, size FROM mask_revisions ORDER BY revision DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var (
			rev Revision
			at  string
		)
		if err := rows.Scan(&rev.Number, &rev.Session, &at, &rev.Size); err != nil {
			return nil, err
		}
		rev.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
	})
	return err
}
