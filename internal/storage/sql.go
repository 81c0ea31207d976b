package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/cyderes/social-feed/internal/models"
)

const createPostsTable = `
CREATE TABLE IF NOT EXISTS cached_posts (
	id         INTEGER PRIMARY KEY,
	user_id    INTEGER NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT ''
)`

const (
	deletePostsQuery = `DELETE FROM cached_posts`
	insertPostQuery  = `INSERT INTO cached_posts (id, user_id, title, body, avatar_url) VALUES (?, ?, ?, ?, ?)`
	selectPostsQuery = `SELECT id, user_id, title, body, avatar_url FROM cached_posts ORDER BY id ASC`
)

// SQLStorage implements Storage on a SQL database through sqlx. It backs
// both the embedded SQLite cache and PostgreSQL.
type SQLStorage struct {
	mu sync.RWMutex
	db *sqlx.DB
}

var _ Storage = (*SQLStorage)(nil)

// NewSQLiteStorage opens (creating if needed) the SQLite cache file at path
func NewSQLiteStorage(ctx context.Context, path string) (*SQLStorage, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database %s: %w", path, err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	store := newSQLStorage(db)
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgreSQLStorage connects to PostgreSQL and ensures the cache table exists
func NewPostgreSQLStorage(ctx context.Context, uri string) (*SQLStorage, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := newSQLStorage(db)
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newSQLStorage(db *sqlx.DB) *SQLStorage {
	return &SQLStorage{db: db}
}

func (s *SQLStorage) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createPostsTable); err != nil {
		return fmt.Errorf("failed to create cached_posts table: %w", err)
	}
	return nil
}

// ReplaceAll deletes and inserts inside a single transaction
func (s *SQLStorage) ReplaceAll(ctx context.Context, posts []models.CachedPost) (err error) {
	rows := models.NormalizeCached(posts)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return writeError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, deletePostsQuery); err != nil {
		return writeError(fmt.Errorf("failed to delete posts: %w", err))
	}

	if len(rows) > 0 {
		stmt, prepErr := tx.PreparexContext(ctx, tx.Rebind(insertPostQuery))
		if prepErr != nil {
			err = prepErr
			return writeError(fmt.Errorf("failed to prepare insert: %w", err))
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err = stmt.ExecContext(ctx, row.ID, row.UserID, row.Title, row.Body, row.AvatarURL); err != nil {
				return writeError(fmt.Errorf("failed to insert post %d: %w", row.ID, err))
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return writeError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// FetchAll returns all cached posts ordered by ID
func (s *SQLStorage) FetchAll(ctx context.Context) ([]models.CachedPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	posts := []models.CachedPost{}
	if err := s.db.SelectContext(ctx, &posts, selectPostsQuery); err != nil {
		return nil, readError(err)
	}
	return posts, nil
}

// Ping verifies the database connection
func (s *SQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStorage) Close() error {
	return s.db.Close()
}
