package importer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/internal/repository"
	"github.com/clinicware/ledger-import/internal/repository/reports"
	"github.com/clinicware/ledger-import/internal/repository/sqlite"
	"github.com/clinicware/ledger-import/pkg/errors"
	"github.com/clinicware/ledger-import/pkg/logger"
	"github.com/clinicware/ledger-import/pkg/metrics"
)

type testEnv struct {
	svc      *Service
	store    repository.Store
	patients repository.PatientRepository
	dir      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	store, err := sqlite.Open(filepath.Join(dir, "clinic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, sqlite.Migrate(context.Background(), store))

	patients := sqlite.NewPatientRepository(store)
	svc := NewService(Deps{
		Store:        store,
		Patients:     patients,
		Payments:     sqlite.NewPaymentRepository(store),
		Fingerprints: sqlite.NewFingerprintRepository(store),
		Doctors:      sqlite.NewDoctorRepository(store),
		Reports:      reports.NewReportRepository(filepath.Join(dir, "reports")),
		BackupDir:    filepath.Join(dir, "backups"),
		Logger:       logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard}),
		Metrics:      metrics.NewMetricsWith(prometheus.NewRegistry(), "clinicware", "importer"),
	})
	return &testEnv{svc: svc, store: store, patients: patients, dir: dir}
}

func (e *testEnv) writeWorkbook(t *testing.T, name string, rows [][]interface{}) string {
	t.Helper()

	header := []interface{}{
		"رقم الدفتر", "الاسم", "رقم التليفون", "كشف", "متابعة", "نوع العلاج",
		"اجمالي المبلغ", "دفعه", "المبلغ المتبقي", "ملاحظات", "تاريخ اليوم توقيت",
	}
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "patient records"))
	require.NoError(t, f.SetSheetRow("patient records", "A1", &header))
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("patient records", cell, &row))
	}
	path := filepath.Join(e.dir, name)
	require.NoError(t, f.SaveAs(path))
	return path
}

func (e *testEnv) writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (e *testEnv) seedPatient(t *testing.T, shortID, name, phone string, pages ...string) *model.Patient {
	t.Helper()
	patient := &model.Patient{ID: uuid.New(), ShortID: shortID, FullName: name, Phone: phone}
	require.NoError(t, e.store.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		if err := e.patients.CreateTx(context.Background(), tx, patient); err != nil {
			return err
		}
		for _, page := range pages {
			_, err := e.patients.AttachPageTx(context.Background(), tx, &model.PatientPage{
				ID: uuid.New(), PatientID: patient.ID, PageNumber: page,
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))
	return patient
}

func (e *testEnv) countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, e.store.DB().Get(&n, "SELECT COUNT(1) FROM "+table))
	return n
}

var ledgerRows = [][]interface{}{
	{"12", "Omar Ali", "0101111111", "كشف", "", "حشو", "1000", "400", "600", "", "17/09/2023"},
	{"12", "Omar Ali", "", "", "متابعة", "", "", "600", "خالص", "", "24/09/2023"},
	{"45", "Sara Adel", "0102222222", "", "", "", "", "", "", "متابعة لاحقا", "10/09/23 - 24/09/23"},
}

func TestCommitSpreadsheet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := env.writeWorkbook(t, "ledger.xlsx", ledgerRows)

	report, err := env.svc.Commit(ctx, path, model.DefaultImportOptions(model.SourceSpreadsheet))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Results.UniquePatientsInFile)
	assert.Equal(t, 2, report.Results.CreatedPatients)
	assert.Equal(t, 0, report.Results.MatchedPatients)
	assert.Equal(t, 2, report.Results.InsertedMoneyPayments)
	assert.Equal(t, 1, report.Results.InsertedZeroEntries)
	assert.Equal(t, 2, report.Results.PageNumbersSaved)
	assert.Equal(t, 2, report.Results.PrimaryPagesSet)
	assert.Equal(t, 0, report.Results.PageConflicts)
	// The third row's cell holds two partial dates; it must not be guessed.
	assert.Equal(t, 1, report.Results.UnknownDatesLeftBlank)

	assert.FileExists(t, report.BackupPath)
	assert.Equal(t, 2, env.countRows(t, "patients"))
	assert.Equal(t, 3, env.countRows(t, "payments"))
	assert.Equal(t, 3, env.countRows(t, "import_row_fingerprints"))

	omar, err := env.patients.GetByShortID(ctx, "12")
	require.NoError(t, err)
	require.NotNil(t, omar)
	assert.Equal(t, "Omar Ali", omar.FullName)
	assert.Equal(t, "12", omar.PrimaryPageNumber)

	saved, err := env.svc.Reports(ctx)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, report.Results, saved[0].Results)
}

func TestPreflightCommitParity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedPatient(t, "45", "Sara Adel", "", "45")
	path := env.writeWorkbook(t, "ledger.xlsx", ledgerRows)
	opts := model.DefaultImportOptions(model.SourceSpreadsheet)

	preflight, err := env.svc.Preflight(ctx, path, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, env.countRows(t, "payments"), "preflight must not write")
	assert.Equal(t, 1, env.countRows(t, "patients"))
	assert.Empty(t, preflight.BackupPath)

	commit, err := env.svc.Commit(ctx, path, opts)
	require.NoError(t, err)

	assert.Equal(t, preflight.Results, commit.Results)
	assert.Equal(t, preflight.Counts, commit.Counts)
	assert.Equal(t, preflight.PageConflictsPreview, commit.PageConflictsPreview)
	assert.Equal(t, 1, commit.Results.MatchedPatients)
	assert.Equal(t, 1, commit.Results.CreatedPatients)
}

func TestReimportIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := env.writeWorkbook(t, "ledger.xlsx", ledgerRows)
	opts := model.DefaultImportOptions(model.SourceSpreadsheet)

	_, err := env.svc.Commit(ctx, path, opts)
	require.NoError(t, err)

	second, err := env.svc.Commit(ctx, path, opts)
	require.NoError(t, err)

	assert.Equal(t, 3, second.Results.SkippedDuplicates)
	assert.Equal(t, 0, second.Results.CreatedPatients)
	assert.Equal(t, 0, second.Results.MatchedPatients, "fingerprinted rows skip before resolution")
	assert.Equal(t, 0, second.Results.InsertedMoneyPayments)
	assert.Equal(t, 0, second.Results.InsertedZeroEntries)
	assert.Equal(t, 2, env.countRows(t, "patients"))
	assert.Equal(t, 3, env.countRows(t, "payments"))
}

func TestEditedRowIsFlaggedNotReimported(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	opts := model.DefaultImportOptions(model.SourceSpreadsheet)

	_, err := env.svc.Commit(ctx, env.writeWorkbook(t, "v1.xlsx", ledgerRows), opts)
	require.NoError(t, err)

	edited := [][]interface{}{
		ledgerRows[0],
		{"12", "Omar Ali", "", "", "متابعة", "", "", "700", "خالص", "", "24/09/2023"},
		ledgerRows[2],
	}
	report, err := env.svc.Commit(ctx, env.writeWorkbook(t, "v2.xlsx", edited), opts)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Results.SkippedEditedRows)
	assert.Equal(t, 2, report.Results.SkippedDuplicates)
	assert.Equal(t, 0, report.Results.InsertedMoneyPayments)
	assert.Equal(t, 3, env.countRows(t, "payments"))
}

func TestPageConflictNeverMerges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedPatient(t, "45", "Omar Ali", "0101111111", "45")

	rows := [][]interface{}{
		{"45", "Sara Adel", "0102222222", "كشف", "", "", "500", "500", "0", "", "17/09/2023"},
	}
	report, err := env.svc.Commit(ctx, env.writeWorkbook(t, "ledger.xlsx", rows), model.DefaultImportOptions(model.SourceSpreadsheet))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Results.PageConflicts)
	assert.Equal(t, 1, report.Results.CreatedPatients)
	assert.Equal(t, 0, report.Results.MatchedPatients)
	assert.Equal(t, 1, report.Results.FileNumberCollisions)
	require.Len(t, report.PageConflictsPreview, 1)
	assert.Equal(t, "45", report.PageConflictsPreview[0].PageNumber)
	assert.Equal(t, "Omar Ali", report.PageConflictsPreview[0].ExistingName)
	assert.Equal(t, "Sara Adel", report.PageConflictsPreview[0].IncomingName)

	// Sara got the next free numeric short id, never Omar's.
	sara, err := env.patients.GetByShortID(ctx, "46")
	require.NoError(t, err)
	require.NotNil(t, sara)
	assert.Equal(t, "Sara Adel", sara.FullName)
	assert.Equal(t, 2, env.countRows(t, "patients"))
}

func TestCommitRollsBackCompletely(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Two distinct rows with the same payment id: with duplicate skipping
	// off, the second insert violates the primary key mid-transaction.
	csv := "file_number,full_name,total,paid,payment_id\n" +
		"101,Omar Ali,1000,400,pay-1\n" +
		"102,Mona Said,2000,900,pay-1\n"
	path := env.writeCSV(t, "export.csv", csv)

	opts := model.DefaultImportOptions(model.SourceCSV)
	opts.SkipDuplicates = false
	_, err := env.svc.Commit(ctx, path, opts)
	require.Error(t, err)

	assert.Equal(t, 0, env.countRows(t, "patients"))
	assert.Equal(t, 0, env.countRows(t, "payments"))
}

// The store holds a single connection, so every lookup a commit performs has
// to run inside its own transaction. A pre-seeded database forces the full
// set of lookups: short-id match, page listing, duplicate checks and doctor
// resolution.
func TestCommitAgainstSeededDatabase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedPatient(t, "12", "Omar Ali", "0101111111", "12")

	var (
		report *model.ImportReport
		err    error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		path := env.writeWorkbook(t, "ledger.xlsx", ledgerRows)
		report, err = env.svc.Commit(ctx, path, model.DefaultImportOptions(model.SourceSpreadsheet))
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("commit blocked on a database read")
	}
	require.NoError(t, err)

	assert.Equal(t, 1, report.Results.MatchedPatients)
	assert.Equal(t, 1, report.Results.CreatedPatients)
	assert.Equal(t, 2, env.countRows(t, "patients"))
	assert.Equal(t, 3, env.countRows(t, "payments"))
}

func TestSimilarNameNeverMergesLive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedPatient(t, "45", "Omar Ali Hassan", "0101111111", "45")

	// Sharing the first two name tokens is a duplicate-review suggestion,
	// never grounds for an automatic merge.
	rows := [][]interface{}{
		{"45", "Omar Ali Mohamed", "0101111111", "كشف", "", "", "500", "500", "0", "", "17/09/2023"},
	}
	report, err := env.svc.Commit(ctx, env.writeWorkbook(t, "ledger.xlsx", rows), model.DefaultImportOptions(model.SourceSpreadsheet))
	require.NoError(t, err)

	assert.Equal(t, 0, report.Results.MatchedPatients)
	assert.Equal(t, 1, report.Results.CreatedPatients)
	assert.Equal(t, 1, report.Results.PageConflicts)
	assert.Equal(t, 1, report.Results.FileNumberCollisions)
	assert.Equal(t, 2, env.countRows(t, "patients"))
}

func TestNamelessRowNeverMergesLive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedPatient(t, "45", "Omar Ali", "", "45")

	rows := [][]interface{}{
		{"45", "", "", "كشف", "", "", "500", "500", "0", "", "17/09/2023"},
	}
	report, err := env.svc.Commit(ctx, env.writeWorkbook(t, "ledger.xlsx", rows), model.DefaultImportOptions(model.SourceSpreadsheet))
	require.NoError(t, err)

	assert.Equal(t, 0, report.Results.MatchedPatients)
	assert.Equal(t, 1, report.Results.CreatedPatients)
	assert.Equal(t, 2, env.countRows(t, "patients"))
}

func TestPaymentIDDuplicateSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	opts := model.DefaultImportOptions(model.SourceCSV)

	first := "file_number,full_name,total,paid,payment_id\n" +
		"101,Omar Ali,1000,400,pay-1\n"
	_, err := env.svc.Commit(ctx, env.writeCSV(t, "v1.csv", first), opts)
	require.NoError(t, err)

	// Same payment id with edited amounts: the id decides, the row is a
	// duplicate and never a second insert.
	edited := "file_number,full_name,total,paid,payment_id\n" +
		"101,Omar Ali,1000,500,pay-1\n"
	report, err := env.svc.Commit(ctx, env.writeCSV(t, "v2.csv", edited), opts)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Results.SkippedDuplicates)
	assert.Equal(t, 0, report.Results.InsertedMoneyPayments)
	assert.Equal(t, 1, env.countRows(t, "payments"))

	// The same id twice within one file is caught before any insert too.
	repeated := "file_number,full_name,total,paid,payment_id\n" +
		"102,Mona Said,2000,900,pay-2\n" +
		"103,Tarek Hassan,300,300,pay-2\n"
	report, err = env.svc.Commit(ctx, env.writeCSV(t, "v3.csv", repeated), opts)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Results.SkippedDuplicates)
	assert.Equal(t, 1, report.Results.InsertedMoneyPayments)
	assert.Equal(t, 2, env.countRows(t, "payments"))
}

func TestCommitCSV(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	csv := "file_number,page_number,full_name,phone,date,total,paid,remaining,visit_type,notes,method,discount,doctor\n" +
		"101,7,Omar Ali,0101111111,2023-09-17,1000,400,600,exam,,cash,50,Dr. Hany\n" +
		"101,,Omar Ali,,2023-09-24,1000,600,0,followup,,cash,,\n" +
		"102,,Mona Said,0102222222,,,,,,call back,,,\n"
	path := env.writeCSV(t, "export.csv", csv)

	report, err := env.svc.Commit(ctx, path, model.DefaultImportOptions(model.SourceCSV))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Results.CreatedPatients)
	assert.Equal(t, 2, report.Results.InsertedMoneyPayments)
	assert.Equal(t, 1, report.Results.InsertedZeroEntries)
	assert.Equal(t, 1, report.Results.PageNumbersSaved)
	assert.Equal(t, 1, report.Results.PrimaryPagesSet)

	omar, err := env.patients.GetByShortID(ctx, "101")
	require.NoError(t, err)
	require.NotNil(t, omar)
	assert.Equal(t, "7", omar.PrimaryPageNumber)

	// Unknown doctor labels fall back to the sentinel doctor.
	var payments []*model.Payment
	require.NoError(t, env.store.DB().Select(&payments, `SELECT * FROM payments WHERE doctor_label = 'Dr. Hany'`))
	require.Len(t, payments, 1)
	var sentinelID string
	require.NoError(t, env.store.DB().Get(&sentinelID, `SELECT id FROM doctors WHERE name = ?`, model.AnyDoctorName))
	assert.Equal(t, sentinelID, payments[0].DoctorID)
	assert.Equal(t, int64(5000), payments[0].DiscountCents)

	// Re-running the CSV skips everything by payment equivalence: CSV rows
	// carry no stable ordinal, so no fingerprints are recorded.
	assert.Equal(t, 0, env.countRows(t, "import_row_fingerprints"))
	second, err := env.svc.Commit(ctx, path, model.DefaultImportOptions(model.SourceCSV))
	require.NoError(t, err)
	assert.Equal(t, 3, second.Results.SkippedDuplicates)
	assert.Equal(t, 2, second.Results.MatchedPatients)
	assert.Equal(t, 0, second.Results.CreatedPatients)
	assert.Equal(t, 3, env.countRows(t, "payments"))
}

func TestFileNumberCollisionCSV(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedPatient(t, "12", "Omar Ali", "")

	csv := "file_number,full_name,total,paid\n12,Tarek Hassan,300,300\n"
	report, err := env.svc.Commit(ctx, env.writeCSV(t, "export.csv", csv), model.DefaultImportOptions(model.SourceCSV))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Results.FileNumberCollisions)
	assert.Equal(t, 1, report.Results.CreatedPatients)
	assert.Equal(t, 0, report.Results.PageConflicts, "file collisions are not page conflicts")

	tarek, err := env.patients.GetByShortID(ctx, "13")
	require.NoError(t, err)
	require.NotNil(t, tarek)
	assert.Equal(t, "Tarek Hassan", tarek.FullName)
}

func TestZeroEntriesGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	csv := "file_number,full_name,notes\n102,Mona Said,call back\n"
	opts := model.DefaultImportOptions(model.SourceCSV)
	opts.ImportZeroAmountEntries = false

	report, err := env.svc.Commit(ctx, env.writeCSV(t, "export.csv", csv), opts)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Results.SkippedZeroEntries)
	assert.Equal(t, 0, report.Results.InsertedZeroEntries)
	assert.Equal(t, 1, report.Results.CreatedPatients)
	assert.Equal(t, 1, report.Results.CreatedPatientsNoPayments)
	assert.Equal(t, 0, env.countRows(t, "payments"))
}

func TestPreviewGroupsAndDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := env.writeWorkbook(t, "ledger.xlsx", [][]interface{}{
		{"12", "Omar Ali", "0101111111", "", "", "", "1000", "400", "600", "", "17/09/2023"},
		{"12", "Omar Ali", "", "", "", "", "", "600", "", "", "24/09/2023"},
		{"30", "Omar Ali Hassan", "0101111111", "", "", "", "200", "200", "0", "", ""},
	})

	preview, err := env.svc.Preview(ctx, path, model.DefaultImportOptions(model.SourceSpreadsheet))
	require.NoError(t, err)

	require.Len(t, preview.Groups, 2)
	assert.Equal(t, 2, preview.Groups[0].Rows)
	assert.Equal(t, int64(100000), preview.Groups[0].PaidCents)
	assert.Equal(t, 0, env.countRows(t, "patients"), "preview is read-only")

	// Same first two name tokens under two page numbers with a shared phone:
	// one candidate per (page, phone) pairing seen in the file.
	require.Len(t, preview.Duplicates, 1)
	assert.Equal(t, "omar ali", preview.Duplicates[0].FirstTwoName)
	require.Len(t, preview.Duplicates[0].Candidates, 3)
}

func TestInvalidOptionsRejected(t *testing.T) {
	env := newTestEnv(t)

	opts := model.ImportOptions{SourceKind: "tape", Mode: model.ModeSafe}
	_, err := env.svc.Preflight(context.Background(), "nope.xlsx", opts)
	require.Error(t, err)
}

func TestEmptyFileAbortsBeforeBackup(t *testing.T) {
	env := newTestEnv(t)

	path := env.writeCSV(t, "empty.csv", "file_number,full_name,phone,date,total_amount,paid_today,remaining\n")
	_, err := env.svc.Commit(context.Background(), path, model.DefaultImportOptions(model.SourceCSV))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrBadRequest))

	_, statErr := os.Stat(filepath.Join(env.dir, "backups"))
	assert.True(t, os.IsNotExist(statErr), "no backup may be taken for an empty file")
}
