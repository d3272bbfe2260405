package cachestore

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS generations (
    name TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
    generation TEXT NOT NULL,
    request_key TEXT NOT NULL,
    url TEXT NOT NULL,
    status INTEGER NOT NULL,
    status_text TEXT NOT NULL,
    header TEXT NOT NULL,
    body BLOB NOT NULL,
    stored_at INTEGER NOT NULL,
    PRIMARY KEY (generation, request_key)
);
`

// SQLiteStorage persists generations in a single SQLite database. Bodies are stored
// gzipped. An optional LRU keeps recently matched entries in memory.
type SQLiteStorage struct {
	db *sql.DB
	// hotMu orders database reads/writes with their hot-layer updates so a slow reader
	// cannot re-insert a row that a writer has just replaced.
	hotMu sync.Mutex
	hot    *lru.Cache[string, models.CacheEntry]
	now    func() time.Time
	closed atomic.Bool
}

// NewSQLiteStorage opens (or creates) the database at path. hotSize <= 0 disables the
// in-memory layer.
func NewSQLiteStorage(ctx context.Context, path string, hotSize int) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("prepare cache database: %w", err)
		}
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	if hotSize > 0 {
		hot, err := lru.New[string, models.CacheEntry](hotSize)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create hot cache: %w", err)
		}
		s.hot = hot
	}
	return s, nil
}

func (s *SQLiteStorage) Open(ctx context.Context, name string) (Store, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO generations (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING",
		name, s.now().UnixNano())
	if err != nil {
		return nil, s.wrap(fmt.Errorf("open generation %s: %w", name, err))
	}
	return &sqliteStore{name: name, storage: s}, nil
}

func (s *SQLiteStorage) Lookup(ctx context.Context, name string) (Store, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("generation %s: %w", name, ErrNotFound)
	}
	return &sqliteStore{name: name, storage: s}, nil
}

func (s *SQLiteStorage) Has(ctx context.Context, name string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM generations WHERE name = ?", name).Scan(&n)
	if err != nil {
		return false, s.wrap(err)
	}
	return n > 0, nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	s.hotMu.Lock()
	defer s.hotMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, s.wrap(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE generation = ?", name); err != nil {
		return false, fmt.Errorf("delete entries of %s: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM generations WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("delete generation %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete of %s: %w", name, err)
	}

	if s.hot != nil {
		prefix := hotKey(name, "")
		for _, k := range s.hot.Keys() {
			if strings.HasPrefix(k, prefix) {
				s.hot.Remove(k)
			}
		}
	}

	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStorage) Names(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM generations ORDER BY rowid")
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Match(ctx context.Context, key string) (*models.CacheEntry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	row := s.db.QueryRowContext(ctx, `
SELECT e.request_key, e.url, e.status, e.status_text, e.header, e.body, e.stored_at
FROM entries e JOIN generations g ON g.name = e.generation
WHERE e.request_key = ?
ORDER BY g.rowid
LIMIT 1`, key)
	entry, err := scanEntry(row)
	return entry, s.wrap(err)
}

// Close releases the database. Every later call fails with ErrClosed.
func (s *SQLiteStorage) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}

// wrap marks errors raised after Close as ErrClosed
func (s *SQLiteStorage) wrap(err error) error {
	if err != nil && s.closed.Load() && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

type sqliteStore struct {
	name    string
	storage *SQLiteStorage
}

func (st *sqliteStore) Name() string { return st.name }

func (st *sqliteStore) Match(ctx context.Context, key string) (*models.CacheEntry, error) {
	hot := st.storage.hot
	if hot != nil {
		st.storage.hotMu.Lock()
		defer st.storage.hotMu.Unlock()
		if entry, ok := hot.Get(hotKey(st.name, key)); ok {
			entry.Response = entry.Response.Clone()
			return &entry, nil
		}
	}

	row := st.storage.db.QueryRowContext(ctx, `
SELECT request_key, url, status, status_text, header, body, stored_at
FROM entries WHERE generation = ? AND request_key = ?`, st.name, key)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, st.storage.wrap(err)
	}
	if hot != nil {
		cached := *entry
		cached.Response = entry.Response.Clone()
		hot.Add(hotKey(st.name, key), cached)
	}
	return entry, nil
}

func (st *sqliteStore) Put(ctx context.Context, key string, resp *models.Response) error {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	body, err := compress(resp.Body)
	if err != nil {
		return fmt.Errorf("compress body: %w", err)
	}

	st.storage.hotMu.Lock()
	defer st.storage.hotMu.Unlock()

	storedAt := st.storage.now()
	_, err = st.storage.db.ExecContext(ctx, `
INSERT INTO entries (generation, request_key, url, status, status_text, header, body, stored_at)
SELECT ?, ?, ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM generations WHERE name = ?)
ON CONFLICT(generation, request_key) DO UPDATE SET
    url = excluded.url,
    status = excluded.status,
    status_text = excluded.status_text,
    header = excluded.header,
    body = excluded.body,
    stored_at = excluded.stored_at`,
		st.name, key, resp.URL, resp.Status, resp.StatusText, string(header), body, storedAt.UnixNano(), st.name)
	if err != nil {
		return st.storage.wrap(fmt.Errorf("put %s in %s: %w", key, st.name, err))
	}

	if st.storage.hot != nil {
		st.storage.hot.Remove(hotKey(st.name, key))
	}
	return nil
}

func (st *sqliteStore) Delete(ctx context.Context, key string) (bool, error) {
	st.storage.hotMu.Lock()
	defer st.storage.hotMu.Unlock()

	res, err := st.storage.db.ExecContext(ctx,
		"DELETE FROM entries WHERE generation = ? AND request_key = ?", st.name, key)
	if err != nil {
		return false, st.storage.wrap(err)
	}
	if st.storage.hot != nil {
		st.storage.hot.Remove(hotKey(st.name, key))
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (st *sqliteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := st.storage.db.QueryContext(ctx,
		"SELECT request_key FROM entries WHERE generation = ? ORDER BY request_key", st.name)
	if err != nil {
		return nil, st.storage.wrap(err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func scanEntry(row *sql.Row) (*models.CacheEntry, error) {
	var (
		entry    models.CacheEntry
		resp     models.Response
		header   string
		body     []byte
		storedAt int64
	)
	err := row.Scan(&entry.RequestKey, &resp.URL, &resp.Status, &resp.StatusText, &header, &body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	resp.Header = http.Header{}
	if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
		return nil, fmt.Errorf("decode header of %s: %w", entry.RequestKey, err)
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	if resp.Body, err = decompress(body); err != nil {
		return nil, fmt.Errorf("decode body of %s: %w", entry.RequestKey, err)
	}
	entry.Response = &resp
	entry.StoredAt = time.Unix(0, storedAt)
	return &entry, nil
}

func hotKey(generation, key string) string {
	return generation + "\x00" + key
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
