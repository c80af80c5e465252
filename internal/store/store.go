package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/acgodson/blueband/internal/errors"
)

// Store is the durable region set. All persisted bytes are owned here;
// callers receive decoded copies.
//
// Writes go through Update, which wraps one SQLite transaction: a public
// operation commits all of its region writes or none of them.
type Store struct {
	db     *sql.DB
	path   string
	lock   *flock.Flock
	logger *slog.Logger
}

// Tx is a write transaction over the region set.
type Tx struct {
	tx *sql.Tx
}

// Open opens (or creates) the region database at dir/blueband.db and takes an
// exclusive process lock on the directory. An empty dir opens an in-memory
// store for testing.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var dsn string
	var lock *flock.Flock
	var path string

	if dir == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, fmt.Errorf("create data dir %s: %w", dir, err))
		}

		// One daemon process per data directory.
		lock = flock.New(filepath.Join(dir, "LOCK"))
		got, err := lock.TryLock()
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, fmt.Errorf("acquire store lock: %w", err))
		}
		if !got {
			return nil, errors.New(errors.ErrCodeStoreLocked,
				fmt.Sprintf("data directory %s is locked by another process", dir), nil).
				WithSuggestion("stop the other bluebandd instance or use a different data directory")
		}

		path = filepath.Join(dir, "blueband.db")
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, errors.Wrap(errors.ErrCodeInternal, fmt.Errorf("open database: %w", err))
	}

	// Single writer prevents lock contention; reads share the same
	// serialized connection, which also gives operations on the store a
	// total order.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite; DSN params
	// may be ignored by the driver.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			if lock != nil {
				_ = lock.Unlock()
			}
			return nil, errors.Wrap(errors.ErrCodeInternal, fmt.Errorf("set pragma: %w", err))
		}
	}

	s := &Store{db: db, path: path, lock: lock, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- One ordered byte-keyed map per region. BLOB keys compare bytewise,
	-- so range scans over a composite-key prefix visit keys in ascending
	-- order.
	CREATE TABLE IF NOT EXISTS regions (
		region INTEGER NOT NULL,
		k BLOB NOT NULL,
		v BLOB NOT NULL,
		PRIMARY KEY (region, k)
	) WITHOUT ROWID;

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, fmt.Errorf("initialize schema: %w", err))
	}
	return nil
}

// Close closes the database and releases the process lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	return err
}

// Get returns the raw value for key in region, or ok=false when absent.
func (s *Store) Get(ctx context.Context, region Region, key []byte) ([]byte, bool, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT v FROM regions WHERE region = ? AND k = ?`, int(region), key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(errors.ErrCodeInternal, err)
	}
	return v, true, nil
}

// ScanPrefix visits all entries in region whose key starts with prefix, in
// ascending key order. A nil prefix scans the whole region. Returning an
// error from fn stops the scan and propagates the error.
func (s *Store) ScanPrefix(ctx context.Context, region Region, prefix []byte, fn func(k, v []byte) error) error {
	rows, err := s.scanRows(ctx, region, prefix)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err)
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	return nil
}

func (s *Store) scanRows(ctx context.Context, region Region, prefix []byte) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error
	if len(prefix) == 0 {
		rows, err = s.db.QueryContext(ctx,
			`SELECT k, v FROM regions WHERE region = ? ORDER BY k ASC`, int(region))
	} else if end := prefixSuccessor(prefix); end != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT k, v FROM regions WHERE region = ? AND k >= ? AND k < ? ORDER BY k ASC`,
			int(region), prefix, end)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT k, v FROM regions WHERE region = ? AND k >= ? ORDER BY k ASC`,
			int(region), prefix)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	return rows, nil
}

// CountPrefix counts entries in region whose key starts with prefix.
func (s *Store) CountPrefix(ctx context.Context, region Region, prefix []byte) (int64, error) {
	var q string
	var args []any
	if len(prefix) == 0 {
		q = `SELECT COUNT(*) FROM regions WHERE region = ?`
		args = []any{int(region)}
	} else if end := prefixSuccessor(prefix); end != nil {
		q = `SELECT COUNT(*) FROM regions WHERE region = ? AND k >= ? AND k < ?`
		args = []any{int(region), prefix, end}
	} else {
		q = `SELECT COUNT(*) FROM regions WHERE region = ? AND k >= ?`
		args = []any{int(region), prefix}
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(errors.ErrCodeInternal, err)
	}
	return n, nil
}

// Update runs fn inside one write transaction. All region writes performed
// through the Tx commit together or not at all.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}

	if err := fn(&Tx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapWriteError(err)
	}
	return nil
}

// Put writes key -> value in region, overwriting any existing entry.
func (t *Tx) Put(region Region, key, value []byte) error {
	_, err := t.tx.Exec(
		`INSERT INTO regions (region, k, v) VALUES (?, ?, ?)
		 ON CONFLICT (region, k) DO UPDATE SET v = excluded.v`,
		int(region), key, value)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

// Delete removes key from region. Deleting an absent key is a no-op.
func (t *Tx) Delete(region Region, key []byte) error {
	if _, err := t.tx.Exec(
		`DELETE FROM regions WHERE region = ? AND k = ?`, int(region), key); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	return nil
}

// DeletePrefix removes every entry in region whose key starts with prefix.
func (t *Tx) DeletePrefix(region Region, prefix []byte) error {
	var err error
	if len(prefix) == 0 {
		_, err = t.tx.Exec(`DELETE FROM regions WHERE region = ?`, int(region))
	} else if end := prefixSuccessor(prefix); end != nil {
		_, err = t.tx.Exec(
			`DELETE FROM regions WHERE region = ? AND k >= ? AND k < ?`,
			int(region), prefix, end)
	} else {
		_, err = t.tx.Exec(
			`DELETE FROM regions WHERE region = ? AND k >= ?`, int(region), prefix)
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	return nil
}

// Get reads key from region within the transaction.
func (t *Tx) Get(region Region, key []byte) ([]byte, bool, error) {
	var v []byte
	err := t.tx.QueryRow(
		`SELECT v FROM regions WHERE region = ? AND k = ?`, int(region), key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(errors.ErrCodeInternal, err)
	}
	return v, true, nil
}

// ScanPrefix visits entries within the transaction, in ascending key order.
func (t *Tx) ScanPrefix(region Region, prefix []byte, fn func(k, v []byte) error) error {
	var rows *sql.Rows
	var err error
	if len(prefix) == 0 {
		rows, err = t.tx.Query(
			`SELECT k, v FROM regions WHERE region = ? ORDER BY k ASC`, int(region))
	} else if end := prefixSuccessor(prefix); end != nil {
		rows, err = t.tx.Query(
			`SELECT k, v FROM regions WHERE region = ? AND k >= ? AND k < ? ORDER BY k ASC`,
			int(region), prefix, end)
	} else {
		rows, err = t.tx.Query(
			`SELECT k, v FROM regions WHERE region = ? AND k >= ? ORDER BY k ASC`,
			int(region), prefix)
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err)
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	return nil
}

// Stats returns per-region entry counts and approximate byte sizes.
func (s *Store) Stats(ctx context.Context) ([]RegionStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT region, COUNT(*), COALESCE(SUM(LENGTH(k) + LENGTH(v)), 0)
		 FROM regions GROUP BY region ORDER BY region`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	defer func() { _ = rows.Close() }()

	var stats []RegionStats
	for rows.Next() {
		var st RegionStats
		var region int
		if err := rows.Scan(&region, &st.Entries, &st.Bytes); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err)
		}
		st.Region = Region(region)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	return stats, nil
}

// mapWriteError classifies a failed write: out-of-space conditions surface as
// region capacity errors, everything else as internal.
func mapWriteError(err error) *errors.BluebandError {
	msg := err.Error()
	if strings.Contains(msg, "database or disk is full") || strings.Contains(msg, "out of memory") {
		return errors.New(errors.ErrCodeRegionFull, "region capacity exceeded", err)
	}
	return errors.Wrap(errors.ErrCodeInternal, err)
}
