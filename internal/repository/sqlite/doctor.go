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

type doctorRepository struct {
	db *sqlx.DB
}

func NewDoctorRepository(store repository.Store) repository.DoctorRepository {
	return &doctorRepository{db: store.DB()}
}

func (r *doctorRepository) GetByName(ctx context.Context, name string) (*model.Doctor, error) {
	return r.getByName(ctx, r.db, name)
}

func (r *doctorRepository) GetByNameTx(ctx context.Context, tx *sqlx.Tx, name string) (*model.Doctor, error) {
	return r.getByName(ctx, tx, name)
}

func (r *doctorRepository) getByName(ctx context.Context, q sqlx.QueryerContext, name string) (*model.Doctor, error) {
	query := `SELECT * FROM doctors WHERE name = ? COLLATE NOCASE`
	var doctor model.Doctor
	err := sqlx.GetContext(ctx, q, &doctor, query, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get doctor: %w", err)
	}
	return &doctor, nil
}

func (r *doctorRepository) EnsureAnyDoctor(ctx context.Context) (string, error) {
	doctor, err := r.GetByName(ctx, model.AnyDoctorName)
	if err != nil {
		return "", err
	}
	if doctor != nil {
		return doctor.ID, nil
	}

	id := uuid.NewString()
	query := `INSERT INTO doctors (id, name, created_at) VALUES (?, ?, ?) ON CONFLICT (name) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, id, model.AnyDoctorName, time.Now()); err != nil {
		return "", fmt.Errorf("failed to create sentinel doctor: %w", err)
	}
	// Re-read in case a concurrent writer won the insert.
	doctor, err = r.GetByName(ctx, model.AnyDoctorName)
	if err != nil {
		return "", err
	}
	if doctor == nil {
		return "", fmt.Errorf("sentinel doctor missing after insert")
	}
	return doctor.ID, nil
}
