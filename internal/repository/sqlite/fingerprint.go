package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/internal/repository"
)

type fingerprintRepository struct {
	db *sqlx.DB
}

func NewFingerprintRepository(store repository.Store) repository.FingerprintRepository {
	return &fingerprintRepository{db: store.DB()}
}

func (r *fingerprintRepository) Get(ctx context.Context, sourceKind, rowKey string) (*model.RowFingerprint, error) {
	return r.get(ctx, r.db, sourceKind, rowKey)
}

func (r *fingerprintRepository) GetTx(ctx context.Context, tx *sqlx.Tx, sourceKind, rowKey string) (*model.RowFingerprint, error) {
	return r.get(ctx, tx, sourceKind, rowKey)
}

func (r *fingerprintRepository) get(ctx context.Context, q sqlx.QueryerContext, sourceKind, rowKey string) (*model.RowFingerprint, error) {
	query := `SELECT * FROM import_row_fingerprints WHERE source_kind = ? AND row_key = ?`
	var fp model.RowFingerprint
	err := sqlx.GetContext(ctx, q, &fp, query, sourceKind, rowKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get row fingerprint: %w", err)
	}
	return &fp, nil
}

func (r *fingerprintRepository) UpsertTx(ctx context.Context, tx *sqlx.Tx, fp *model.RowFingerprint) error {
	query := `
		INSERT INTO import_row_fingerprints (source_kind, row_key, row_fingerprint, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source_kind, row_key) DO UPDATE SET
			row_fingerprint = excluded.row_fingerprint,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	if fp.CreatedAt.IsZero() {
		fp.CreatedAt = now
	}
	fp.UpdatedAt = now

	_, err := tx.ExecContext(ctx, query, fp.SourceKind, fp.RowKey, fp.Fingerprint, fp.CreatedAt, fp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert row fingerprint: %w", err)
	}
	return nil
}
