// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Key/value schema with lazy + swept TTL expiry; entities are serialised as JSON

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on top of a single kv table, per the
// schema in SPEC_FULL.md §4.2: kv(key TEXT PRIMARY KEY, value TEXT NOT
// NULL, expires_at INTEGER NULL), indexed on expires_at. Absence of
// expires_at denotes a client row; presence denotes a token row.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	cancel context.CancelFunc
}

const (
	clientKeyPrefix  = "client:"
	accessKeyPrefix  = "access_token:"
	refreshKeyPrefix = "refresh_token:"

	sweepInterval = 5 * time.Minute
)

// NewSQLiteStore opens (creating if needed) a SQLite database at path,
// enables WAL mode, creates the schema, and starts the background
// expiry sweeper. Call Close to stop the sweeper and release the
// database handle.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.sweepLoop(ctx)

	logger.Info("sqlite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at INTEGER NULL
		);

		CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.CleanupExpired(ctx); err != nil {
				s.logger.Warn("sweep failed", "error", err)
			}
		}
	}
}

// Close stops the sweeper and closes the database handle.
func (s *SQLiteStore) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.db.Close()
}

func (s *SQLiteStore) CleanupExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at < ?`,
		time.Now().Unix())
	return err
}

// --- generic kv helpers ---

func (s *SQLiteStore) getRow(ctx context.Context, key string) (string, error) {
	var value string
	var expiresAt sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key)
	if err := row.Scan(&value, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	if expiresAt.Valid && time.Now().Unix() > expiresAt.Int64 {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		return "", ErrNotFound
	}
	return value, nil
}

func (s *SQLiteStore) putRow(ctx context.Context, key, value string, expiresAt *time.Time) error {
	var exp sql.NullInt64
	if expiresAt != nil {
		exp = sql.NullInt64{Int64: expiresAt.Unix(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, exp)
	return err
}

func (s *SQLiteStore) deleteRow(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

// --- clients ---

func (s *SQLiteStore) GetClient(ctx context.Context, clientID string) (*Client, error) {
	raw, err := s.getRow(ctx, clientKeyPrefix+clientID)
	if err != nil {
		return nil, err
	}
	var c Client
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decoding client %s: %w", clientID, err)
	}
	return &c, nil
}

func (s *SQLiteStore) SaveClient(ctx context.Context, c *Client) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding client: %w", err)
	}
	return s.putRow(ctx, clientKeyPrefix+c.ClientID, string(raw), nil)
}

func (s *SQLiteStore) DeleteClient(ctx context.Context, clientID string) error {
	return s.deleteRow(ctx, clientKeyPrefix+clientID)
}

func (s *SQLiteStore) ListDynamicClients(ctx context.Context) ([]*Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT value FROM kv WHERE key LIKE ? AND expires_at IS NULL`, clientKeyPrefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Client
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var c Client
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decoding client row: %w", err)
		}
		if c.IsDynamic {
			out = append(out, &c)
		}
	}
	return out, rows.Err()
}

// --- access tokens ---

func (s *SQLiteStore) GetAccessToken(ctx context.Context, tokenHash string) (*AccessToken, error) {
	raw, err := s.getRow(ctx, accessKeyPrefix+tokenHash)
	if err != nil {
		return nil, err
	}
	var t AccessToken
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decoding access token: %w", err)
	}
	return &t, nil
}

func (s *SQLiteStore) SaveAccessToken(ctx context.Context, t *AccessToken) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding access token: %w", err)
	}
	return s.putRow(ctx, accessKeyPrefix+t.TokenHash, string(raw), &t.ExpiresAt)
}

func (s *SQLiteStore) DeleteAccessToken(ctx context.Context, tokenHash string) error {
	return s.deleteRow(ctx, accessKeyPrefix+tokenHash)
}

// --- refresh tokens ---

func (s *SQLiteStore) GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	raw, err := s.getRow(ctx, refreshKeyPrefix+tokenHash)
	if err != nil {
		return nil, err
	}
	var t RefreshToken
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decoding refresh token: %w", err)
	}
	return &t, nil
}

func (s *SQLiteStore) SaveRefreshToken(ctx context.Context, t *RefreshToken) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding refresh token: %w", err)
	}
	return s.putRow(ctx, refreshKeyPrefix+t.TokenHash, string(raw), &t.ExpiresAt)
}

func (s *SQLiteStore) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	return s.deleteRow(ctx, refreshKeyPrefix+tokenHash)
}

// RotateRefreshToken deletes oldHash and inserts newToken inside a
// single transaction, so that a failed insert leaves the old token
// reachable rather than losing both.
func (s *SQLiteStore) RotateRefreshToken(ctx context.Context, oldHash string, newToken *RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotate transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, refreshKeyPrefix+oldHash)
	if err != nil {
		return fmt.Errorf("delete old refresh token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rotate refresh token: %w", ErrNotFound)
	}

	raw, err := json.Marshal(newToken)
	if err != nil {
		return fmt.Errorf("encoding refresh token: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, refreshKeyPrefix+newToken.TokenHash, string(raw), newToken.ExpiresAt.Unix()); err != nil {
		return fmt.Errorf("insert new refresh token: %w", err)
	}

	return tx.Commit()
}
