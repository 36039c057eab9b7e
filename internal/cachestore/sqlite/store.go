// Package sqlite persists the worker's caches in a SQLite database so they
// survive restarts of the proxy.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/rohmanhakim/gravity-worker/internal/cachestore"
	"github.com/rohmanhakim/gravity-worker/internal/cachestore/sqlite/migrations"
	"github.com/rohmanhakim/gravity-worker/internal/resource"
	"github.com/rohmanhakim/gravity-worker/pkg/failure"
	"github.com/rohmanhakim/gravity-worker/pkg/fileutil"
	_ "modernc.org/sqlite"
)

const pragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// Storage is a SQLite-backed cachestore.Storage.
type Storage struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the
// schema. The special path ":memory:" keeps everything in memory.
func Open(ctx context.Context, path string) (*Storage, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if path != ":memory:" {
		path = filepath.Clean(path)
		if err := fileutil.EnsureParentDir(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path+"?"+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one connection serializes writers and keeps ":memory:" a single database
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Storage{db: db, now: time.Now}, nil
}

func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) Open(ctx context.Context, name string) (cachestore.Cache, failure.ClassifiedError) {
	if err := cachestore.ValidateName(name); err != nil {
		return nil, err
	}
	if _, err := ensureCache(ctx, s.db, name, s.now()); err != nil {
		return nil, cachestore.BackendError("open cache", err)
	}
	return &cache{storage: s, name: name}, nil
}

func (s *Storage) Has(ctx context.Context, name string) (bool, failure.ClassifiedError) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM caches WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, cachestore.BackendError("has cache", err)
	}
	return n > 0, nil
}

func (s *Storage) Delete(ctx context.Context, name string) (bool, failure.ClassifiedError) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, cachestore.BackendError("delete cache", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM caches WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, cachestore.BackendError("delete cache", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE cache_id = ?`, id); err != nil {
		return false, cachestore.BackendError("delete cache entries", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM caches WHERE id = ?`, id); err != nil {
		return false, cachestore.BackendError("delete cache", err)
	}
	if err := tx.Commit(); err != nil {
		return false, cachestore.BackendError("delete cache", err)
	}
	return true, nil
}

func (s *Storage) Keys(ctx context.Context) ([]string, failure.ClassifiedError) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM caches ORDER BY id`)
	if err != nil {
		return nil, cachestore.BackendError("list caches", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, cachestore.BackendError("list caches", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, cachestore.BackendError("list caches", err)
	}
	return names, nil
}

func (s *Storage) Match(ctx context.Context, req resource.Request) (resource.Response, bool, failure.ClassifiedError) {
	key, keyErr := cachestore.Key(req)
	if keyErr != nil {
		return resource.Response{}, false, keyErr
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT e.status, e.status_text, e.headers_json, e.body
		 FROM entries e JOIN caches c ON c.id = e.cache_id
		 WHERE e.request_key = ?
		 ORDER BY c.id
		 LIMIT 1`,
		key,
	)
	return scanResponse(row)
}

// cache addresses one named cache. It resolves the name on every call.
type cache struct {
	storage *Storage
	name    string
}

func (c *cache) Name() string {
	return c.name
}

func (c *cache) Match(ctx context.Context, req resource.Request) (resource.Response, bool, failure.ClassifiedError) {
	key, keyErr := cachestore.Key(req)
	if keyErr != nil {
		return resource.Response{}, false, keyErr
	}
	row := c.storage.db.QueryRowContext(ctx,
		`SELECT e.status, e.status_text, e.headers_json, e.body
		 FROM entries e JOIN caches c ON c.id = e.cache_id
		 WHERE c.name = ? AND e.request_key = ?`,
		c.name, key,
	)
	return scanResponse(row)
}

func (c *cache) Digest(ctx context.Context, req resource.Request) (string, bool, failure.ClassifiedError) {
	key, keyErr := cachestore.Key(req)
	if keyErr != nil {
		return "", false, keyErr
	}
	var digest string
	err := c.storage.db.QueryRowContext(ctx,
		`SELECT e.digest
		 FROM entries e JOIN caches c ON c.id = e.cache_id
		 WHERE c.name = ? AND e.request_key = ?`,
		c.name, key,
	).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, cachestore.BackendError("read digest", err)
	}
	return digest, true, nil
}

func (c *cache) Put(ctx context.Context, req resource.Request, resp resource.Response) failure.ClassifiedError {
	return c.PutAll(ctx, []cachestore.Entry{{Request: req, Response: resp}})
}

func (c *cache) PutAll(ctx context.Context, entries []cachestore.Entry) failure.ClassifiedError {
	now := c.storage.now()
	records := make([]cachestore.Record, 0, len(entries))
	for _, e := range entries {
		key, err := cachestore.Key(e.Request)
		if err != nil {
			return err
		}
		records = append(records, cachestore.NewRecord(key, e.Response, now))
	}

	tx, err := c.storage.db.BeginTx(ctx, nil)
	if err != nil {
		return cachestore.BackendError("put entries", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := ensureCache(ctx, tx, c.name, now)
	if err != nil {
		return cachestore.BackendError("put entries", err)
	}
	for _, rec := range records {
		headers, err := json.Marshal(rec.Response.Header)
		if err != nil {
			return cachestore.BackendError("encode headers", err)
		}
		body := rec.Response.Body
		if body == nil {
			body = []byte{}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO entries (cache_id, request_key, status, status_text, headers_json, body, digest, stored_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(cache_id, request_key) DO UPDATE SET
			    status = excluded.status,
			    status_text = excluded.status_text,
			    headers_json = excluded.headers_json,
			    body = excluded.body,
			    digest = excluded.digest,
			    stored_at = excluded.stored_at`,
			id, rec.Key, rec.Response.Status, rec.Response.StatusText, string(headers), body, rec.Digest, rec.StoredAt.UnixMilli(),
		)
		if err != nil {
			return cachestore.BackendError("put entry", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return cachestore.BackendError("put entries", err)
	}
	return nil
}

func (c *cache) Delete(ctx context.Context, req resource.Request) (bool, failure.ClassifiedError) {
	key, keyErr := cachestore.Key(req)
	if keyErr != nil {
		return false, keyErr
	}
	res, err := c.storage.db.ExecContext(ctx,
		`DELETE FROM entries
		 WHERE request_key = ? AND cache_id = (SELECT id FROM caches WHERE name = ?)`,
		key, c.name,
	)
	if err != nil {
		return false, cachestore.BackendError("delete entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, cachestore.BackendError("delete entry", err)
	}
	return n > 0, nil
}

func (c *cache) Keys(ctx context.Context) ([]string, failure.ClassifiedError) {
	rows, err := c.storage.db.QueryContext(ctx,
		`SELECT e.request_key
		 FROM entries e JOIN caches c ON c.id = e.cache_id
		 WHERE c.name = ?
		 ORDER BY e.seq`,
		c.name,
	)
	if err != nil {
		return nil, cachestore.BackendError("list entries", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, cachestore.BackendError("list entries", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, cachestore.BackendError("list entries", err)
	}
	return keys, nil
}

func (c *cache) Size(ctx context.Context) (int64, failure.ClassifiedError) {
	var total int64
	err := c.storage.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(LENGTH(e.body)), 0)
		 FROM entries e JOIN caches c ON c.id = e.cache_id
		 WHERE c.name = ?`,
		c.name,
	).Scan(&total)
	if err != nil {
		return 0, cachestore.BackendError("size", err)
	}
	return total, nil
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ensureCache creates the named cache if absent and returns its id.
func ensureCache(ctx context.Context, q execQuerier, name string, now time.Time) (int64, error) {
	if _, err := q.ExecContext(ctx,
		`INSERT INTO caches (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, now.UTC().UnixMilli(),
	); err != nil {
		return 0, err
	}
	var id int64
	if err := q.QueryRowContext(ctx, `SELECT id FROM caches WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func scanResponse(row *sql.Row) (resource.Response, bool, failure.ClassifiedError) {
	var (
		resp    resource.Response
		headers string
	)
	err := row.Scan(&resp.Status, &resp.StatusText, &headers, &resp.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return resource.Response{}, false, nil
	}
	if err != nil {
		return resource.Response{}, false, cachestore.BackendError("match", err)
	}
	resp.Header = http.Header{}
	if err := json.Unmarshal([]byte(headers), &resp.Header); err != nil {
		return resource.Response{}, false, cachestore.BackendError("decode headers", err)
	}
	return resp, true, nil
}

var _ cachestore.Storage = (*Storage)(nil)
