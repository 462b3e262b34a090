// Package store implements the embedded relational store (spec §4.1): a
// file-backed SQL layer with atomic persistence, built on
// github.com/mattn/go-sqlite3, keeping the live database in memory and
// flushing to disk through a temp-file-plus-rename snapshot so a killed
// process never leaves a half-written database file behind.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mattn/go-sqlite3"

	"nonprofitvet/internal/errs"
	"nonprofitvet/internal/logging"
)

// sqliteMagic is the first 16 bytes of every well-formed SQLite file.
var sqliteMagic = []byte("SQLite format 3\x00")

// pragmaValuePattern is the strict allowlist value grammar for Configure:
// word characters only, no punctuation, no newlines.
var pragmaValuePattern = regexp.MustCompile(`^\w+$`)

// allowedPragmas is the strict allowlist of pragma names this store will
// apply on a caller's behalf (spec §4.1, §5 "Pragma statements are
// validated against an allowlist to prevent injection").
var allowedPragmas = map[string]bool{
	"journal_mode": true,
	"foreign_keys": true,
	"cache_size":   true,
	"busy_timeout": true,
}

// Store is a single-owner, file-backed SQLite database. The live connection
// is an in-memory SQLite database; Persist snapshots it to disk atomically.
// Callers needing shared ownership (the vetting pipeline's result cache and
// its search-history sibling table) hold one *Store between them, per the
// design note in spec §9.
type Store struct {
	mu     sync.Mutex
	path   string
	db     *sql.DB
	dirty  bool
	closed bool
}

// Open opens (or creates) the SQLite database at path. If the file is
// absent, a fresh empty database is prepared. If present, its header is
// validated before loading: a file that exists but does not begin with the
// SQLite magic header fails loudly rather than being silently replaced
// (spec §4.1). A zero-byte file is the exception: it is treated as absent.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	existed, err := validateExistingFile(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("store: open in-memory db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{path: path, db: db}
	if existed {
		if err := s.loadFromDisk(path); err != nil {
			db.Close()
			return nil, err
		}
		logging.Infof(logging.CategoryStore, "loaded existing database %s", path)
	} else {
		logging.Infof(logging.CategoryStore, "initialized fresh database %s", path)
	}
	return s, nil
}

// validateExistingFile reports whether path already exists, and if so,
// checks that it begins with the SQLite file-format magic header.
func validateExistingFile(path string) (existed bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("store: stat %s: %w", path, err)
	}
	defer f.Close()

	info, statErr := f.Stat()
	if statErr != nil {
		return false, fmt.Errorf("store: stat %s: %w", path, statErr)
	}
	if info.Size() == 0 {
		// A zero-byte file is not a valid SQLite file; treat as absent so a
		// touch'd placeholder doesn't brick Open.
		return false, nil
	}

	header := make([]byte, len(sqliteMagic))
	if _, err := f.Read(header); err != nil {
		return false, fmt.Errorf("%w: %s: %v", errs.ErrCorruptHeader, path, err)
	}
	for i := range sqliteMagic {
		if header[i] != sqliteMagic[i] {
			return false, fmt.Errorf("%w: %s", errs.ErrCorruptHeader, path)
		}
	}
	return true, nil
}

// loadFromDisk copies the on-disk database into the in-memory connection
// using the sqlite3 online backup API, the same mechanism a hot-standby
// replica would use.
func (s *Store) loadFromDisk(path string) error {
	srcDB, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("store: open source %s: %w", path, err)
	}
	defer srcDB.Close()

	ctx := context.Background()
	srcConn, err := srcDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("store: source conn: %w", err)
	}
	defer srcConn.Close()

	dstConn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("store: dest conn: %w", err)
	}
	defer dstConn.Close()

	var backupErr error
	err = dstConn.Raw(func(dstRaw interface{}) error {
		return srcConn.Raw(func(srcRaw interface{}) error {
			dstSQLite, ok := dstRaw.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("store: unexpected dest driver conn type")
			}
			srcSQLite, ok := srcRaw.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("store: unexpected source driver conn type")
			}
			b, err := dstSQLite.Backup("main", srcSQLite, "main")
			if err != nil {
				return fmt.Errorf("store: start backup: %w", err)
			}
			defer b.Close()
			if _, backupErr = b.Step(-1); backupErr != nil {
				return backupErr
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errs.ErrCorruptHeader, path, err)
	}
	return nil
}

// Configure applies a pragma directive through the strict allowlist named
// in spec §4.1. Any unrecognized pragma name, or a value containing
// anything other than word characters, is rejected before touching the
// database, the canary-row test (Testable Property 10) depends on this
// check running before any SQL reaches the engine.
func (s *Store) Configure(pragma, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !allowedPragmas[pragma] {
		return fmt.Errorf("%w: pragma %q not in allowlist", errs.ErrBadPragma, pragma)
	}
	if !pragmaValuePattern.MatchString(value) {
		return fmt.Errorf("%w: pragma %s value %q contains disallowed characters", errs.ErrBadPragma, pragma, value)
	}
	stmt := fmt.Sprintf("PRAGMA %s = %s", pragma, value)
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("store: apply pragma %s: %w", pragma, err)
	}
	return nil
}

// DB returns the underlying *sql.DB for callers that need direct access to
// build their own schema and queries (discovery index, XML extract store,
// vetting cache). Any write through it must route through MarkDirty so
// Persist knows a flush is owed.
func (s *Store) DB() *sql.DB {
	return s.db
}

// MarkDirty records that a mutation has occurred since the last persist.
// Reads must never call this (spec §4.1: "reads do not set it").
func (s *Store) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// WithTx runs fn inside a BEGIN/COMMIT transaction, rolling back and
// propagating the original error on failure, and marking the store dirty on
// success.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Warnf(logging.CategoryStore, "rollback after error also failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	s.MarkDirty()
	return nil
}

// BulkInsert prepares stmt once inside a single transaction and executes it
// once per row in rows, per spec §4.1 "single prepare, repeated bind+step".
func (s *Store) BulkInsert(ctx context.Context, stmt string, rows [][]interface{}) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		prepared, err := tx.PrepareContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("store: prepare bulk insert: %w", err)
		}
		defer prepared.Close()
		for i, row := range rows {
			if _, err := prepared.ExecContext(ctx, row...); err != nil {
				return fmt.Errorf("store: bulk insert row %d: %w", i, err)
			}
		}
		return nil
	})
}

// Persist flushes the in-memory database to disk atomically: it backs up
// into a temp file in the same directory as the target, then renames the
// temp file over the target. A no-op when the store is clean. Testable
// Property 9: after a successful persist no .tmp sibling remains, and a
// leftover .tmp from an aborted prior write is removed by the next
// successful persist.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	if !s.dirty {
		return nil
	}
	timer := logging.StartTimer(logging.CategoryStore, "Persist")
	defer timer.Stop()

	tmpPath := s.path + ".tmp"
	_ = os.Remove(tmpPath) // clear any leftover from an aborted prior write

	if err := s.backupTo(tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: backup to temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: atomic rename: %w", err)
	}
	s.dirty = false
	return nil
}

// backupTo copies the live in-memory database into a fresh on-disk file at
// dstPath using the sqlite3 online backup API, the mirror image of
// loadFromDisk.
func (s *Store) backupTo(dstPath string) error {
	dstDB, err := sql.Open("sqlite3", dstPath)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer dstDB.Close()

	ctx := context.Background()
	dstConn, err := dstDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("dest conn: %w", err)
	}
	defer dstConn.Close()

	srcConn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("source conn: %w", err)
	}
	defer srcConn.Close()

	return dstConn.Raw(func(dstRaw interface{}) error {
		return srcConn.Raw(func(srcRaw interface{}) error {
			dstSQLite, ok := dstRaw.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("unexpected dest driver conn type")
			}
			srcSQLite, ok := srcRaw.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("unexpected source driver conn type")
			}
			b, err := dstSQLite.Backup("main", srcSQLite, "main")
			if err != nil {
				return fmt.Errorf("start backup: %w", err)
			}
			defer b.Close()
			if _, err := b.Step(-1); err != nil {
				return fmt.Errorf("backup step: %w", err)
			}
			return nil
		})
	})
}

// Close persists any outstanding mutations, then closes the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.closed = true
	return s.db.Close()
}
