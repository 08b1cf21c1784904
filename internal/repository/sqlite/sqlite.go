// Package sqlite implements the repositories on the clinic's single-file
// SQLite database.
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/clinicware/ledger-import/internal/repository"
	"github.com/clinicware/ledger-import/pkg/errors"
)

type store struct {
	db *sqlx.DB
}

// Open connects to the database file at path. A single connection is used:
// SQLite allows one writer and the import path serializes writes anyway.
func Open(path string) (repository.Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &store{db: db}, nil
}

// OpenInMemory opens a private in-memory database, used by tests.
func OpenInMemory() (repository.Store, error) {
	db, err := sqlx.Connect("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &store{db: db}, nil
}

func (s *store) DB() *sqlx.DB { return s.db }

func (s *store) Close() error { return s.db.Close() }

// Migrate creates the ledger tables when they do not exist yet.
func Migrate(ctx context.Context, store repository.Store) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS patients (
			id TEXT PRIMARY KEY,
			short_id TEXT NOT NULL UNIQUE,
			full_name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			primary_page_number TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS patient_pages (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL REFERENCES patients(id),
			page_number TEXT NOT NULL,
			notebook_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			UNIQUE(patient_id, page_number)
		)`,
		`CREATE TABLE IF NOT EXISTS doctors (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL REFERENCES patients(id),
			paid_at TEXT NOT NULL DEFAULT '',
			amount_cents INTEGER NOT NULL DEFAULT 0,
			total_amount_cents INTEGER NOT NULL DEFAULT 0,
			remaining_cents INTEGER NOT NULL DEFAULT 0,
			discount_cents INTEGER NOT NULL DEFAULT 0,
			method TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			treatment TEXT NOT NULL DEFAULT '',
			examination_flag INTEGER NOT NULL DEFAULT 0,
			followup_flag INTEGER NOT NULL DEFAULT 0,
			doctor_id TEXT NOT NULL DEFAULT '',
			doctor_label TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS import_row_fingerprints (
			source_kind TEXT NOT NULL,
			row_key TEXT NOT NULL,
			row_fingerprint TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (source_kind, row_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_patient_pages_page ON patient_pages(page_number)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_patient ON payments(patient_id)`,
	}
	for _, stmt := range schema {
		if _, err := store.DB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// requiredColumns is every table/column the import writes to. The check runs
// after the backup and before the transaction, so a schema drift aborts the
// import before any write.
var requiredColumns = map[string][]string{
	"patients": {
		"id", "short_id", "full_name", "phone", "notes",
		"primary_page_number", "created_at", "updated_at",
	},
	"patient_pages": {"id", "patient_id", "page_number", "notebook_name", "created_at"},
	"doctors":       {"id", "name", "created_at"},
	"payments": {
		"id", "patient_id", "paid_at", "amount_cents", "total_amount_cents",
		"remaining_cents", "discount_cents", "method", "note", "treatment",
		"examination_flag", "followup_flag", "doctor_id", "doctor_label", "created_at",
	},
	"import_row_fingerprints": {
		"source_kind", "row_key", "row_fingerprint", "created_at", "updated_at",
	},
}

func (s *store) SchemaCheck(ctx context.Context) error {
	var missing []string
	for table, cols := range requiredColumns {
		var names []string
		err := s.db.SelectContext(ctx, &names, `SELECT name FROM pragma_table_info(?)`, table)
		if err != nil {
			return fmt.Errorf("failed to inspect table %s: %w", table, err)
		}
		present := make(map[string]struct{}, len(names))
		for _, n := range names {
			present[n] = struct{}{}
		}
		if len(names) == 0 {
			missing = append(missing, table)
			continue
		}
		for _, col := range cols {
			if _, ok := present[col]; !ok {
				missing = append(missing, table+"."+col)
			}
		}
	}
	if len(missing) > 0 {
		return errors.NewSchemaMismatch(missing)
	}
	return nil
}

func (s *store) Backup(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.NewBackupFailed(err)
	}
	name := fmt.Sprintf("clinic-backup-%s.db", time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, name)

	// VACUUM INTO produces a consistent snapshot without closing the
	// database or blocking readers.
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return "", errors.NewBackupFailed(err)
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return "", errors.NewBackupFailed(fmt.Errorf("backup file missing or empty: %s", path))
	}
	return path, nil
}

func (s *store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.NewTransactionFailure(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.NewTransactionFailure(err)
	}
	return nil
}
