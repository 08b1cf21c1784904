package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/clinicware/ledger-import/internal/model"
)

// All repository interfaces in one file.
//
// Each read has a db variant and a Tx variant. Preview runs against the live
// database; a commit holds the store's single connection inside its
// transaction, so every read issued during a commit must go through the Tx
// variant or it would wait on a connection that never frees.
type (
	// Store owns the database handle and the pre-commit safety steps.
	Store interface {
		DB() *sqlx.DB
		// SchemaCheck verifies every table and column the import writes to
		// exists before any row is touched.
		SchemaCheck(ctx context.Context) error
		// Backup writes a consistent copy of the database file into dir and
		// returns the backup path.
		Backup(ctx context.Context, dir string) (string, error)
		// WithTx runs fn inside a transaction, committing on nil and rolling
		// back on error or panic.
		WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
		Close() error
	}

	PatientRepository interface {
		GetByShortID(ctx context.Context, shortID string) (*model.Patient, error)
		GetByShortIDTx(ctx context.Context, tx *sqlx.Tx, shortID string) (*model.Patient, error)
		GetByPage(ctx context.Context, pageNumber string) (*model.Patient, error)
		GetByPageTx(ctx context.Context, tx *sqlx.Tx, pageNumber string) (*model.Patient, error)
		ShortIDExists(ctx context.Context, shortID string) (bool, error)
		ShortIDExistsTx(ctx context.Context, tx *sqlx.Tx, shortID string) (bool, error)
		// MaxNumericShortID returns the highest all-digit short id, 0 when
		// none exist. Used to auto-generate ids on file-number collisions.
		MaxNumericShortID(ctx context.Context) (int64, error)
		MaxNumericShortIDTx(ctx context.Context, tx *sqlx.Tx) (int64, error)
		ListPages(ctx context.Context, patientID uuid.UUID) ([]*model.PatientPage, error)
		ListPagesTx(ctx context.Context, tx *sqlx.Tx, patientID uuid.UUID) ([]*model.PatientPage, error)
		CreateTx(ctx context.Context, tx *sqlx.Tx, patient *model.Patient) error
		// AttachPageTx reports whether a new page row was written; attaching
		// an already-attached page is a no-op.
		AttachPageTx(ctx context.Context, tx *sqlx.Tx, page *model.PatientPage) (bool, error)
		SetPrimaryPageTx(ctx context.Context, tx *sqlx.Tx, patientID uuid.UUID, pageNumber string) error
	}

	PaymentRepository interface {
		// ExistsEquivalent reports whether the patient already has a payment
		// with the same external id, or the same date, amounts, flags,
		// treatment and note.
		ExistsEquivalent(ctx context.Context, patientID uuid.UUID, payment *model.Payment) (bool, error)
		ExistsEquivalentTx(ctx context.Context, tx *sqlx.Tx, patientID uuid.UUID, payment *model.Payment) (bool, error)
		InsertTx(ctx context.Context, tx *sqlx.Tx, payment *model.Payment) error
	}

	FingerprintRepository interface {
		// Get returns nil without error when no fingerprint is recorded for
		// the row key.
		Get(ctx context.Context, sourceKind, rowKey string) (*model.RowFingerprint, error)
		GetTx(ctx context.Context, tx *sqlx.Tx, sourceKind, rowKey string) (*model.RowFingerprint, error)
		UpsertTx(ctx context.Context, tx *sqlx.Tx, fp *model.RowFingerprint) error
	}

	DoctorRepository interface {
		GetByName(ctx context.Context, name string) (*model.Doctor, error)
		GetByNameTx(ctx context.Context, tx *sqlx.Tx, name string) (*model.Doctor, error)
		// EnsureAnyDoctor returns the id of the sentinel doctor, creating it
		// when missing.
		EnsureAnyDoctor(ctx context.Context) (string, error)
	}

	ReportRepository interface {
		Save(ctx context.Context, report *model.ImportReport) error
		Get(ctx context.Context, name string) (*model.ImportReport, error)
		List(ctx context.Context) ([]*model.ImportReport, error)
	}
)
