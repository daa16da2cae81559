// Package tilestore persists tiles in one SQLite database per basemap.
package tilestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/SandiRizqi/terestria-sub000/internal/domain"
)

const driverName = "sqlite3_tiles"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			_, err := conn.Exec("PRAGMA temp_store = MEMORY", nil)
			return err
		},
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS tiles (
	tile_key         TEXT PRIMARY KEY,
	z                INTEGER NOT NULL,
	x                INTEGER NOT NULL,
	y                INTEGER NOT NULL,
	data             BLOB NOT NULL,
	cached_at        INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tiles_last_accessed ON tiles(last_accessed_at);
`

// handle is one open basemap database. Operations hold mu shared;
// close holds it exclusively so it never runs under an operation.
type handle struct {
	basemapID string
	path      string
	db        *sql.DB

	mu     sync.RWMutex
	closed bool
}

func openHandle(ctx context.Context, basemapID, path string) (*handle, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers inside the process.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &handle{basemapID: basemapID, path: path, db: db}, nil
}

func (h *handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	return h.db.Close()
}

func (h *handle) put(ctx context.Context, rec domain.TileRecord) error {
	k := rec.Key
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO tiles (tile_key, z, x, y, data, cached_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tile_key) DO UPDATE SET
			data = excluded.data,
			cached_at = excluded.cached_at,
			last_accessed_at = excluded.last_accessed_at`,
		k.StoreKey(), k.Z, k.X, k.Y, rec.Data, rec.CachedAt.UnixMilli(), rec.LastAccessedAt.UnixMilli())
	return err
}

func (h *handle) get(ctx context.Context, key string) (domain.TileRecord, bool, error) {
	var (
		rec              domain.TileRecord
		cached, accessed int64
	)
	err := h.db.QueryRowContext(ctx,
		`SELECT z, x, y, data, cached_at, last_accessed_at FROM tiles WHERE tile_key = ?`, key).
		Scan(&rec.Key.Z, &rec.Key.X, &rec.Key.Y, &rec.Data, &cached, &accessed)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TileRecord{}, false, nil
	}
	if err != nil {
		return domain.TileRecord{}, false, err
	}
	rec.Key.BasemapID = h.basemapID
	rec.CachedAt = time.UnixMilli(cached).UTC()
	rec.LastAccessedAt = time.UnixMilli(accessed).UTC()
	return rec, true, nil
}

func (h *handle) has(ctx context.Context, key string) (bool, error) {
	var one int
	err := h.db.QueryRowContext(ctx, `SELECT 1 FROM tiles WHERE tile_key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (h *handle) touch(ctx context.Context, key string, now time.Time) error {
	_, err := h.db.ExecContext(ctx,
		`UPDATE tiles SET last_accessed_at = ? WHERE tile_key = ?`, now.UnixMilli(), key)
	return err
}

func (h *handle) info(ctx context.Context) (domain.CacheInfo, error) {
	var (
		count, size, lastMs int64
	)
	err := h.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(data)), 0), COALESCE(MAX(cached_at), 0)
		FROM tiles`).Scan(&count, &size, &lastMs)
	if err != nil {
		return domain.CacheInfo{}, err
	}

	info := domain.CacheInfo{
		BasemapID:   h.basemapID,
		TileCount:   count,
		SizeInBytes: size,
	}
	if lastMs > 0 {
		info.LastModified = time.UnixMilli(lastMs).UTC()
	}
	return info, nil
}

func (h *handle) clear(ctx context.Context) (int64, error) {
	res, err := h.db.ExecContext(ctx, `DELETE FROM tiles`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	// Give the pages back to the filesystem; the delete itself already committed.
	_, _ = h.db.ExecContext(ctx, `VACUUM`)
	return n, nil
}

func (h *handle) evictOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := h.db.ExecContext(ctx,
		`DELETE FROM tiles WHERE last_accessed_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
