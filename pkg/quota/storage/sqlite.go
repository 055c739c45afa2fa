package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteAdapter implements Adapter using SQLite for persistence.
// It provides durable storage suitable for single-instance deployments
// where records must survive restarts.
//
// The adapter uses a write-ahead log (WAL) for concurrent performance and
// a version column to implement compare-and-save: a conditional UPDATE
// guarded by the expected version either bumps the version or matches
// zero rows, which is reported as ErrVersionConflict.
type SQLiteAdapter struct {
	db     *sql.DB
	dbPath string

	loadStmt    *sql.Stmt
	insertStmt  *sql.Stmt
	casStmt     *sql.Stmt
	saveStmt    *sql.Stmt
	deleteStmt  *sql.Stmt
	cleanupStmt *sql.Stmt
}

// SQLiteAdapterConfig configures the SQLite adapter.
type SQLiteAdapterConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteAdapter creates a SQLite adapter with default settings.
func NewSQLiteAdapter(dbPath string) (*SQLiteAdapter, error) {
	return NewSQLiteAdapterWithConfig(SQLiteAdapterConfig{DBPath: dbPath})
}

// NewSQLiteAdapterWithConfig creates a SQLite adapter with custom configuration.
func NewSQLiteAdapterWithConfig(cfg SQLiteAdapterConfig) (*SQLiteAdapter, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	adapter := &SQLiteAdapter{
		db:     db,
		dbPath: cfg.DBPath,
	}

	if err := adapter.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := adapter.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return adapter, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteAdapter) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS quota_records (
		identity TEXT PRIMARY KEY,
		record TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_quota_updated_at ON quota_records(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteAdapter) prepareStatements() error {
	var err error

	s.loadStmt, err = s.db.Prepare(`
		SELECT record, version FROM quota_records WHERE identity = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO quota_records (identity, record, version, updated_at, created_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT (identity) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s.casStmt, err = s.db.Prepare(`
		UPDATE quota_records
		SET record = ?, version = version + 1, updated_at = ?
		WHERE identity = ? AND version = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare compare-and-save statement: %w", err)
	}

	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO quota_records (identity, record, version, updated_at, created_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT (identity) DO UPDATE SET
			record = excluded.record,
			version = quota_records.version + 1,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`
		DELETE FROM quota_records WHERE identity = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.cleanupStmt, err = s.db.Prepare(`
		DELETE FROM quota_records WHERE updated_at < ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cleanup statement: %w", err)
	}

	return nil
}

// Load retrieves the record and its current version.
func (s *SQLiteAdapter) Load(ctx context.Context, identity string) (*Record, int64, error) {
	if identity == "" {
		return nil, 0, fmt.Errorf("identity cannot be empty")
	}

	var (
		recordJSON string
		version    int64
	)
	err := s.loadStmt.QueryRowContext(ctx, identity).Scan(&recordJSON, &version)
	if err == sql.ErrNoRows {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: load: %v", ErrUnavailable, err)
	}

	rec := &Record{}
	if err := json.Unmarshal([]byte(recordJSON), rec); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return rec, version, nil
}

// Save persists the record unconditionally, bumping its version.
func (s *SQLiteAdapter) Save(ctx context.Context, identity string, rec *Record) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	now := time.Now().Unix()
	_, err = s.saveStmt.ExecContext(ctx, identity, string(recordJSON), now, now)
	if err != nil {
		return fmt.Errorf("%w: save: %v", ErrUnavailable, err)
	}
	return nil
}

// CompareAndSave persists the record only if the stored version still
// equals expectedVersion. expectedVersion 0 creates the record and fails
// with ErrVersionConflict if another writer created it first.
func (s *SQLiteAdapter) CompareAndSave(ctx context.Context, identity string, expectedVersion int64, rec *Record) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	now := time.Now().Unix()

	if expectedVersion == 0 {
		result, err := s.insertStmt.ExecContext(ctx, identity, string(recordJSON), now, now)
		if err != nil {
			return fmt.Errorf("%w: insert: %v", ErrUnavailable, err)
		}
		inserted, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: insert: %v", ErrUnavailable, err)
		}
		if inserted == 0 {
			return ErrVersionConflict
		}
		return nil
	}

	result, err := s.casStmt.ExecContext(ctx, string(recordJSON), now, identity, expectedVersion)
	if err != nil {
		return fmt.Errorf("%w: compare-and-save: %v", ErrUnavailable, err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: compare-and-save: %v", ErrUnavailable, err)
	}
	if updated == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Delete removes the record. No-op if it does not exist.
func (s *SQLiteAdapter) Delete(ctx context.Context, identity string) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}

	if _, err := s.deleteStmt.ExecContext(ctx, identity); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrUnavailable, err)
	}
	return nil
}

// Cleanup removes records idle since before olderThan.
func (s *SQLiteAdapter) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := s.cleanupStmt.ExecContext(ctx, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup: %v", ErrUnavailable, err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup: %v", ErrUnavailable, err)
	}
	return int(deleted), nil
}

// Ping probes database connectivity.
func (s *SQLiteAdapter) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases database resources.
func (s *SQLiteAdapter) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.loadStmt, s.insertStmt, s.casStmt, s.saveStmt, s.deleteStmt, s.cleanupStmt,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
