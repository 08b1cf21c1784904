package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/internal/repository"
)

type patientRepository struct {
	db *sqlx.DB
}

func NewPatientRepository(store repository.Store) repository.PatientRepository {
	return &patientRepository{db: store.DB()}
}

// Reads take a sqlx.QueryerContext so the same query serves both the live
// database and an open transaction. The store holds a single connection, so
// a commit must read through its own transaction.

func (r *patientRepository) GetByShortID(ctx context.Context, shortID string) (*model.Patient, error) {
	return r.getByShortID(ctx, r.db, shortID)
}

func (r *patientRepository) GetByShortIDTx(ctx context.Context, tx *sqlx.Tx, shortID string) (*model.Patient, error) {
	return r.getByShortID(ctx, tx, shortID)
}

func (r *patientRepository) getByShortID(ctx context.Context, q sqlx.QueryerContext, shortID string) (*model.Patient, error) {
	query := `SELECT * FROM patients WHERE short_id = ?`
	var patient model.Patient
	err := sqlx.GetContext(ctx, q, &patient, query, shortID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient by short id: %w", err)
	}
	return &patient, nil
}

// GetByPage returns the patient owning the page, preferring the oldest
// attachment when several patients ever shared a page number.
func (r *patientRepository) GetByPage(ctx context.Context, pageNumber string) (*model.Patient, error) {
	return r.getByPage(ctx, r.db, pageNumber)
}

func (r *patientRepository) GetByPageTx(ctx context.Context, tx *sqlx.Tx, pageNumber string) (*model.Patient, error) {
	return r.getByPage(ctx, tx, pageNumber)
}

func (r *patientRepository) getByPage(ctx context.Context, q sqlx.QueryerContext, pageNumber string) (*model.Patient, error) {
	query := `
		SELECT p.* FROM patients p
		JOIN patient_pages pp ON pp.patient_id = p.id
		WHERE pp.page_number = ?
		ORDER BY pp.created_at ASC
		LIMIT 1
	`
	var patient model.Patient
	err := sqlx.GetContext(ctx, q, &patient, query, pageNumber)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient by page: %w", err)
	}
	return &patient, nil
}

func (r *patientRepository) ShortIDExists(ctx context.Context, shortID string) (bool, error) {
	return r.shortIDExists(ctx, r.db, shortID)
}

func (r *patientRepository) ShortIDExistsTx(ctx context.Context, tx *sqlx.Tx, shortID string) (bool, error) {
	return r.shortIDExists(ctx, tx, shortID)
}

func (r *patientRepository) shortIDExists(ctx context.Context, q sqlx.QueryerContext, shortID string) (bool, error) {
	query := `SELECT COUNT(1) FROM patients WHERE short_id = ?`
	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, shortID); err != nil {
		return false, fmt.Errorf("failed to check short id: %w", err)
	}
	return count > 0, nil
}

func (r *patientRepository) MaxNumericShortID(ctx context.Context) (int64, error) {
	return r.maxNumericShortID(ctx, r.db)
}

func (r *patientRepository) MaxNumericShortIDTx(ctx context.Context, tx *sqlx.Tx) (int64, error) {
	return r.maxNumericShortID(ctx, tx)
}

func (r *patientRepository) maxNumericShortID(ctx context.Context, q sqlx.QueryerContext) (int64, error) {
	query := `
		SELECT COALESCE(MAX(CAST(short_id AS INTEGER)), 0)
		FROM patients
		WHERE short_id GLOB '[0-9]*' AND short_id NOT GLOB '*[^0-9]*'
	`
	var max int64
	if err := sqlx.GetContext(ctx, q, &max, query); err != nil {
		return 0, fmt.Errorf("failed to scan short ids: %w", err)
	}
	return max, nil
}

func (r *patientRepository) ListPages(ctx context.Context, patientID uuid.UUID) ([]*model.PatientPage, error) {
	return r.listPages(ctx, r.db, patientID)
}

func (r *patientRepository) ListPagesTx(ctx context.Context, tx *sqlx.Tx, patientID uuid.UUID) ([]*model.PatientPage, error) {
	return r.listPages(ctx, tx, patientID)
}

func (r *patientRepository) listPages(ctx context.Context, q sqlx.QueryerContext, patientID uuid.UUID) ([]*model.PatientPage, error) {
	query := `SELECT * FROM patient_pages WHERE patient_id = ? ORDER BY created_at ASC`
	var pages []*model.PatientPage
	err := sqlx.SelectContext(ctx, q, &pages, query, patientID)
	return pages, err
}

func (r *patientRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, patient *model.Patient) error {
	query := `
		INSERT INTO patients (id, short_id, full_name, phone, notes, primary_page_number, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	patient.CreatedAt = time.Now()
	patient.UpdatedAt = time.Now()

	_, err := tx.ExecContext(ctx, query,
		patient.ID,
		patient.ShortID,
		patient.FullName,
		patient.Phone,
		patient.Notes,
		patient.PrimaryPageNumber,
		patient.CreatedAt,
		patient.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

func (r *patientRepository) AttachPageTx(ctx context.Context, tx *sqlx.Tx, page *model.PatientPage) (bool, error) {
	query := `
		INSERT INTO patient_pages (id, patient_id, page_number, notebook_name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (patient_id, page_number) DO NOTHING
	`
	page.CreatedAt = time.Now()
	res, err := tx.ExecContext(ctx, query, page.ID, page.PatientID, page.PageNumber, page.NotebookName, page.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to attach page: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to attach page: %w", err)
	}
	return n > 0, nil
}

func (r *patientRepository) SetPrimaryPageTx(ctx context.Context, tx *sqlx.Tx, patientID uuid.UUID, pageNumber string) error {
	query := `
		UPDATE patients SET primary_page_number = ?, updated_at = ?
		WHERE id = ? AND primary_page_number = ''
	`
	_, err := tx.ExecContext(ctx, query, pageNumber, time.Now(), patientID)
	if err != nil {
		return fmt.Errorf("failed to set primary page: %w", err)
	}
	return nil
}
