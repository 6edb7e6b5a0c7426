// Package kv implements the transactional key-value engine the rest of the
// store is built on: named tables mapping string keys to lists of string
// values, with explicit transactions and composite-key helpers for the
// relations that are logically two-column (state-path, timestamp) keyed.
//
// The engine is backed by SQLite (github.com/mattn/go-sqlite3), following
// the same open/pragma/schema-version bootstrap shape the rest of the
// store's ambient stack uses elsewhere. Each logical relation from the data
// model is one physical table; values are stored as a JSON-encoded list of
// strings so a get/put pair round-trips exactly, including empty lists and
// single "scalar" values (a table used as a string->string map is simply one
// that never stores more than one element per key).
package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// compositeSep separates the path and timestamp halves of a composite key.
// Base-32 store paths and decimal timestamps can never contain this
// sequence, so splitting is exact and invertible.
const compositeSep = "⨨" // ⨨, kept out of any legal path alphabet

// Engine is the transactional key-value store. All tables live in one
// SQLite database file.
type Engine struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the pragmas the
// engine depends on for durability and concurrent-read behavior.
func Open(path string) (*Engine, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: ping %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("kv: pragma %q: %w", p, err)
		}
	}

	return &Engine{db: db}, nil
}

// Close closes the underlying database connection.
func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

// DB exposes the underlying *sql.DB for components (verify, registry) that
// need to run cross-table maintenance statements directly.
func (e *Engine) DB() *sql.DB {
	return e.db
}

func tableIdent(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("kv: empty table name")
	}
	for _, r := range name {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
		if !ok {
			return "", fmt.Errorf("kv: illegal table name %q", name)
		}
	}
	return `"kv_` + name + `"`, nil
}

// OpenTable creates the named table if it does not already exist.
func (e *Engine) OpenTable(ctx context.Context, name string) error {
	ident, err := tableIdent(name)
	if err != nil {
		return err
	}
	_, err = e.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (k TEXT PRIMARY KEY, v TEXT NOT NULL)`, ident))
	if err != nil {
		return fmt.Errorf("kv: open table %s: %w", name, err)
	}
	return nil
}

// DeleteTable drops the named table entirely.
func (e *Engine) DeleteTable(ctx context.Context, name string) error {
	ident, err := tableIdent(name)
	if err != nil {
		return err
	}
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, ident)); err != nil {
		return fmt.Errorf("kv: delete table %s: %w", name, err)
	}
	return nil
}

// Txn wraps an open SQLite transaction. A nil *Txn is the "no transaction"
// sentinel: read helpers treat it as "take a fresh snapshot for this call
// alone" by querying the engine's pool directly.
type Txn struct {
	tx *sql.Tx
}

// BeginTxn starts a new transaction.
func (e *Engine) BeginTxn(ctx context.Context) (*Txn, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("kv: begin txn: %w", err)
	}
	return &Txn{tx: tx}, nil
}

// Commit commits an open transaction.
func (e *Engine) Commit(t *Txn) error {
	if t == nil || t.tx == nil {
		return fmt.Errorf("kv: commit of nil transaction")
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("kv: commit: %w", err)
	}
	t.tx = nil
	return nil
}

// Abort rolls back an open transaction.
func (e *Engine) Abort(t *Txn) error {
	if t == nil || t.tx == nil {
		return nil
	}
	err := t.tx.Rollback()
	t.tx = nil
	if err != nil {
		return fmt.Errorf("kv: abort: %w", err)
	}
	return nil
}

// MoveTo reparents the open transaction held by src onto dst: after this
// call dst drives the transaction src used to hold, and src is left holding
// nothing (Commit and Abort against src are no-ops, and reads and writes
// through src run directly against the database, as with the
// "no-transaction" sentinel). This mirrors the key-value engine's
// moveTo(dst, src) contract without requiring the underlying driver to
// support transaction reparenting itself — only the Go-level handle moves.
func MoveTo(dst, src *Txn) {
	if dst == nil || src == nil {
		return
	}
	dst.tx = src.tx
	src.tx = nil
}

func (e *Engine) querier(t *Txn) interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
} {
	if t != nil && t.tx != nil {
		return t.tx
	}
	return e.db
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("kv: encode list: %w", err)
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	var values []string
	if err := json.Unmarshal([]byte(s), &values); err != nil {
		return nil, fmt.Errorf("kv: decode list: %w", err)
	}
	return values, nil
}

// GetList returns the list of values stored at key in table, or nil if the
// key is absent.
func (e *Engine) GetList(ctx context.Context, t *Txn, table, key string) ([]string, error) {
	ident, err := tableIdent(table)
	if err != nil {
		return nil, err
	}
	row := e.querier(t).QueryRowContext(ctx, fmt.Sprintf(`SELECT v FROM %s WHERE k = ?`, ident), key)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("kv: get %s[%s]: %w", table, key, err)
	}
	return decodeList(v)
}

// Get returns the single value stored at key, or ("", false) if absent.
// On a key with more than one stored value it returns the first one and no
// error; callers that need list semantics use GetList.
func (e *Engine) Get(ctx context.Context, t *Txn, table, key string) (string, bool, error) {
	values, err := e.GetList(ctx, t, table, key)
	if err != nil {
		return "", false, err
	}
	if values == nil {
		return "", false, nil
	}
	if len(values) == 0 {
		return "", true, nil
	}
	return values[0], true, nil
}

// PutList stores values at key in table, replacing anything previously
// there.
func (e *Engine) PutList(ctx context.Context, t *Txn, table, key string, values []string) error {
	ident, err := tableIdent(table)
	if err != nil {
		return err
	}
	encoded, err := encodeList(values)
	if err != nil {
		return err
	}
	_, err = e.querier(t).ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, ident),
		key, encoded)
	if err != nil {
		return fmt.Errorf("kv: put %s[%s]: %w", table, key, err)
	}
	return nil
}

// Put stores a single value at key, equivalent to PutList with a one
// element list.
func (e *Engine) Put(ctx context.Context, t *Txn, table, key, value string) error {
	return e.PutList(ctx, t, table, key, []string{value})
}

// Delete removes key from table entirely.
func (e *Engine) Delete(ctx context.Context, t *Txn, table, key string) error {
	ident, err := tableIdent(table)
	if err != nil {
		return err
	}
	_, err = e.querier(t).ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE k = ?`, ident), key)
	if err != nil {
		return fmt.Errorf("kv: delete %s[%s]: %w", table, key, err)
	}
	return nil
}

// EnumerateKeys returns every key currently stored in table, in no
// particular order; callers that need determinism sort the result
// themselves.
func (e *Engine) EnumerateKeys(ctx context.Context, t *Txn, table string) ([]string, error) {
	ident, err := tableIdent(table)
	if err != nil {
		return nil, err
	}
	rows, err := e.querier(t).QueryContext(ctx, fmt.Sprintf(`SELECT k FROM %s`, ident))
	if err != nil {
		return nil, fmt.Errorf("kv: enumerate %s: %w", table, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("kv: enumerate %s: %w", table, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// EnumerateEntries returns every (key, values) pair in table.
func (e *Engine) EnumerateEntries(ctx context.Context, t *Txn, table string) (map[string][]string, error) {
	ident, err := tableIdent(table)
	if err != nil {
		return nil, err
	}
	rows, err := e.querier(t).QueryContext(ctx, fmt.Sprintf(`SELECT k, v FROM %s`, ident))
	if err != nil {
		return nil, fmt.Errorf("kv: enumerate entries %s: %w", table, err)
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("kv: enumerate entries %s: %w", table, err)
		}
		values, err := decodeList(v)
		if err != nil {
			return nil, err
		}
		out[k] = values
	}
	return out, rows.Err()
}

// MakeCompositeKey joins a path and a timestamp into the composite key form
// used by ref-sc, ref-ss, snapshots and revision-comments.
func MakeCompositeKey(path string, timestamp int64) string {
	return path + compositeSep + strconv.FormatInt(timestamp, 10)
}

// SplitCompositeKey inverts MakeCompositeKey exactly.
func SplitCompositeKey(key string) (path string, timestamp int64, err error) {
	idx := strings.LastIndex(key, compositeSep)
	if idx < 0 {
		return "", 0, fmt.Errorf("kv: %q is not a composite key", key)
	}
	path = key[:idx]
	ts, err := strconv.ParseInt(key[idx+len(compositeSep):], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("kv: %q has non-integer timestamp: %w", key, err)
	}
	return path, ts, nil
}
