package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/internal/repository"
	"github.com/clinicware/ledger-import/pkg/errors"
)

func newTestStore(t *testing.T) repository.Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "clinic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, Migrate(context.Background(), store))
	return store
}

func createPatient(t *testing.T, store repository.Store, repo repository.PatientRepository, shortID, name, phone string) *model.Patient {
	t.Helper()
	patient := &model.Patient{
		ID:       uuid.New(),
		ShortID:  shortID,
		FullName: name,
		Phone:    phone,
	}
	require.NoError(t, store.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return repo.CreateTx(context.Background(), tx, patient)
	}))
	return patient
}

func TestSchemaCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SchemaCheck(ctx))

	_, err := store.DB().ExecContext(ctx, `ALTER TABLE payments DROP COLUMN doctor_label`)
	require.NoError(t, err)

	err = store.SchemaCheck(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSchemaMismatch))
	assert.Contains(t, err.Error(), "payments.doctor_label")
}

func TestBackupWritesSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	repo := NewPatientRepository(store)
	createPatient(t, store, repo, "12", "Omar Ali", "0101234567")

	dir := t.TempDir()
	path, err := store.Backup(ctx, dir)
	require.NoError(t, err)
	assert.FileExists(t, path)

	// The snapshot must itself be a readable database containing the row.
	backup, err := Open(path)
	require.NoError(t, err)
	defer backup.Close()

	found, err := NewPatientRepository(backup).GetByShortID(ctx, "12")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Omar Ali", found.FullName)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repo := NewPatientRepository(store)

	err := store.WithTx(ctx, func(tx *sqlx.Tx) error {
		patient := &model.Patient{ID: uuid.New(), ShortID: "99", FullName: "Ghost"}
		if err := repo.CreateTx(ctx, tx, patient); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	found, err := repo.GetByShortID(ctx, "99")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestPatientLookups(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repo := NewPatientRepository(store)

	patient := createPatient(t, store, repo, "12", "Omar Ali", "0101234567")

	missing, err := repo.GetByShortID(ctx, "77")
	require.NoError(t, err)
	assert.Nil(t, missing)

	exists, err := repo.ShortIDExists(ctx, "12")
	require.NoError(t, err)
	assert.True(t, exists)

	max, err := repo.MaxNumericShortID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), max)

	createPatient(t, store, repo, "P-9", "Coded Id", "")
	max, err = repo.MaxNumericShortID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), max)

	require.NoError(t, store.WithTx(ctx, func(tx *sqlx.Tx) error {
		attached, err := repo.AttachPageTx(ctx, tx, &model.PatientPage{
			ID: uuid.New(), PatientID: patient.ID, PageNumber: "45",
		})
		require.NoError(t, err)
		assert.True(t, attached)

		again, err := repo.AttachPageTx(ctx, tx, &model.PatientPage{
			ID: uuid.New(), PatientID: patient.ID, PageNumber: "45",
		})
		require.NoError(t, err)
		assert.False(t, again)

		return repo.SetPrimaryPageTx(ctx, tx, patient.ID, "45")
	}))

	byPage, err := repo.GetByPage(ctx, "45")
	require.NoError(t, err)
	require.NotNil(t, byPage)
	assert.Equal(t, "12", byPage.ShortID)
	assert.Equal(t, "45", byPage.PrimaryPageNumber)

	pages, err := repo.ListPages(ctx, patient.ID)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	// A primary page set in a previous import is never overwritten.
	require.NoError(t, store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return repo.SetPrimaryPageTx(ctx, tx, patient.ID, "88")
	}))
	byPage, err = repo.GetByPage(ctx, "45")
	require.NoError(t, err)
	assert.Equal(t, "45", byPage.PrimaryPageNumber)
}

func TestPaymentEquivalence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	patient := createPatient(t, store, NewPatientRepository(store), "12", "Omar Ali", "")
	repo := NewPaymentRepository(store)

	payment := &model.Payment{
		PatientID:        patient.ID,
		PaidAt:           "2023-09-17",
		AmountCents:      40000,
		TotalAmountCents: 100000,
		RemainingCents:   60000,
		ExaminationFlag:  1,
		Note:             "first visit",
	}
	require.NoError(t, store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return repo.InsertTx(ctx, tx, payment)
	}))
	assert.NotEmpty(t, payment.ID)

	same, err := repo.ExistsEquivalent(ctx, patient.ID, &model.Payment{
		PaidAt:           "2023-09-17",
		AmountCents:      40000,
		TotalAmountCents: 100000,
		RemainingCents:   60000,
		ExaminationFlag:  1,
		Note:             "first visit",
	})
	require.NoError(t, err)
	assert.True(t, same)

	different, err := repo.ExistsEquivalent(ctx, patient.ID, &model.Payment{
		PaidAt:      "2023-09-17",
		AmountCents: 50000,
	})
	require.NoError(t, err)
	assert.False(t, different)

	// A matching external id is equivalent regardless of content.
	sameID, err := repo.ExistsEquivalent(ctx, patient.ID, &model.Payment{
		ID:          payment.ID,
		PaidAt:      "2024-01-01",
		AmountCents: 1,
	})
	require.NoError(t, err)
	assert.True(t, sameID)

	// Discount and treatment take part in content equivalence.
	discounted, err := repo.ExistsEquivalent(ctx, patient.ID, &model.Payment{
		PaidAt:           "2023-09-17",
		AmountCents:      40000,
		TotalAmountCents: 100000,
		RemainingCents:   60000,
		DiscountCents:    5000,
		ExaminationFlag:  1,
		Note:             "first visit",
	})
	require.NoError(t, err)
	assert.False(t, discounted)

	treated, err := repo.ExistsEquivalent(ctx, patient.ID, &model.Payment{
		PaidAt:           "2023-09-17",
		AmountCents:      40000,
		TotalAmountCents: 100000,
		RemainingCents:   60000,
		ExaminationFlag:  1,
		Treatment:        "حشو",
		Note:             "first visit",
	})
	require.NoError(t, err)
	assert.False(t, treated)
}

// The store runs on one connection, so everything a commit looks up mid
// transaction must use the Tx read variants. Reading through the plain
// handle here would block until the test times out.
func TestReadsInsideTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	patients := NewPatientRepository(store)
	payments := NewPaymentRepository(store)
	fingerprints := NewFingerprintRepository(store)
	doctors := NewDoctorRepository(store)

	seeded := createPatient(t, store, patients, "12", "Omar Ali", "0101234567")

	require.NoError(t, store.WithTx(ctx, func(tx *sqlx.Tx) error {
		found, err := patients.GetByShortIDTx(ctx, tx, "12")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, seeded.ID, found.ID)

		exists, err := patients.ShortIDExistsTx(ctx, tx, "12")
		require.NoError(t, err)
		assert.True(t, exists)

		max, err := patients.MaxNumericShortIDTx(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, int64(12), max)

		attached, err := patients.AttachPageTx(ctx, tx, &model.PatientPage{
			ID: uuid.New(), PatientID: seeded.ID, PageNumber: "45",
		})
		require.NoError(t, err)
		assert.True(t, attached)

		// Tx reads see writes made earlier in the same transaction.
		byPage, err := patients.GetByPageTx(ctx, tx, "45")
		require.NoError(t, err)
		require.NotNil(t, byPage)

		pages, err := patients.ListPagesTx(ctx, tx, seeded.ID)
		require.NoError(t, err)
		assert.Len(t, pages, 1)

		payment := &model.Payment{PatientID: seeded.ID, PaidAt: "2023-09-17", AmountCents: 40000}
		require.NoError(t, payments.InsertTx(ctx, tx, payment))
		dup, err := payments.ExistsEquivalentTx(ctx, tx, seeded.ID, &model.Payment{
			PatientID: seeded.ID, PaidAt: "2023-09-17", AmountCents: 40000,
		})
		require.NoError(t, err)
		assert.True(t, dup)

		fp, err := fingerprints.GetTx(ctx, tx, "spreadsheet", "2|pg:12")
		require.NoError(t, err)
		assert.Nil(t, fp)

		doc, err := doctors.GetByNameTx(ctx, tx, "Dr. Nobody")
		require.NoError(t, err)
		assert.Nil(t, doc)

		return nil
	}))
}

func TestFingerprintUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repo := NewFingerprintRepository(store)

	missing, err := repo.Get(ctx, "spreadsheet", "2|pg:12|nm:omar ali|ph:0101234567")
	require.NoError(t, err)
	assert.Nil(t, missing)

	fp := &model.RowFingerprint{
		SourceKind:  "spreadsheet",
		RowKey:      "2|pg:12|nm:omar ali|ph:0101234567",
		Fingerprint: "abc",
	}
	require.NoError(t, store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return repo.UpsertTx(ctx, tx, fp)
	}))

	stored, err := repo.Get(ctx, "spreadsheet", fp.RowKey)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "abc", stored.Fingerprint)

	fp.Fingerprint = "def"
	require.NoError(t, store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return repo.UpsertTx(ctx, tx, fp)
	}))

	stored, err = repo.Get(ctx, "spreadsheet", fp.RowKey)
	require.NoError(t, err)
	assert.Equal(t, "def", stored.Fingerprint)
}

func TestEnsureAnyDoctor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	repo := NewDoctorRepository(store)

	id, err := repo.EnsureAnyDoctor(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	again, err := repo.EnsureAnyDoctor(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	missing, err := repo.GetByName(ctx, "Dr. Nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
