package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "rvbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Load(ctx context.Context, kind Kind) ([]byte, error) {
	b, perr := s.loadFrom(ctx, "documents", kind)
	if perr == nil && b != nil {
		return b, nil
	}
	bb, berr := s.loadFrom(ctx, "documents_backup", kind)
	if berr == nil && bb != nil {
		if perr != nil {
			s.log.Warn("primary document unreadable, using backup", logx.String("kind", string(kind)), logx.Err(perr))
		}
		return bb, nil
	}
	if perr == nil && berr == nil {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrStoreRead, kind, errors.Join(perr, berr))
}

func (s *sqliteStore) loadFrom(ctx context.Context, table string, kind Kind) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM `+table+` WHERE kind = ?`, string(kind)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := checkDocument(kind, body); err != nil {
		return nil, fmt.Errorf("%s/%s: %w", table, kind, err)
	}
	return body, nil
}

func (s *sqliteStore) Save(ctx context.Context, kind Kind, data []byte) error {
	now := time.Now().UnixMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStoreWrite, kind, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"documents", "documents_backup"} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+table+`(kind, body, updated_at) VALUES(?,?,?)
			 ON CONFLICT(kind) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at`,
			string(kind), data, now,
		); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrStoreWrite, kind, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStoreWrite, kind, err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
