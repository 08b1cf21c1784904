package importer

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/clinicware/ledger-import/internal/extract"
	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/pkg/errors"
)

// applier gives the run its database access. The commit applier routes both
// reads and writes through the open transaction: the store holds a single
// connection, so a read on the plain handle would deadlock mid-commit. The
// preflight applier reads the live database and drops the writes. Decisions
// never live here: by the time an applier method is called the outcome is
// already counted, so both appliers produce identical reports.
type applier interface {
	getFingerprint(ctx context.Context, sourceKind, rowKey string) (*model.RowFingerprint, error)
	getPatientByShortID(ctx context.Context, shortID string) (*model.Patient, error)
	getPatientByPage(ctx context.Context, pageNumber string) (*model.Patient, error)
	shortIDExists(ctx context.Context, shortID string) (bool, error)
	maxNumericShortID(ctx context.Context) (int64, error)
	listPages(ctx context.Context, patientID uuid.UUID) ([]*model.PatientPage, error)
	paymentExists(ctx context.Context, patientID uuid.UUID, payment *model.Payment) (bool, error)
	getDoctorByName(ctx context.Context, name string) (*model.Doctor, error)

	createPatient(ctx context.Context, patient *model.Patient) error
	attachPage(ctx context.Context, page *model.PatientPage) error
	setPrimaryPage(ctx context.Context, patientID uuid.UUID, pageNumber string) error
	insertPayment(ctx context.Context, payment *model.Payment) error
	saveFingerprint(ctx context.Context, fp *model.RowFingerprint) error
}

type dryApplier struct {
	svc *Service
}

func (a dryApplier) getFingerprint(ctx context.Context, sourceKind, rowKey string) (*model.RowFingerprint, error) {
	return a.svc.fingerprints.Get(ctx, sourceKind, rowKey)
}

func (a dryApplier) getPatientByShortID(ctx context.Context, shortID string) (*model.Patient, error) {
	return a.svc.patients.GetByShortID(ctx, shortID)
}

func (a dryApplier) getPatientByPage(ctx context.Context, pageNumber string) (*model.Patient, error) {
	return a.svc.patients.GetByPage(ctx, pageNumber)
}

func (a dryApplier) shortIDExists(ctx context.Context, shortID string) (bool, error) {
	return a.svc.patients.ShortIDExists(ctx, shortID)
}

func (a dryApplier) maxNumericShortID(ctx context.Context) (int64, error) {
	return a.svc.patients.MaxNumericShortID(ctx)
}

func (a dryApplier) listPages(ctx context.Context, patientID uuid.UUID) ([]*model.PatientPage, error) {
	return a.svc.patients.ListPages(ctx, patientID)
}

func (a dryApplier) paymentExists(ctx context.Context, patientID uuid.UUID, payment *model.Payment) (bool, error) {
	return a.svc.payments.ExistsEquivalent(ctx, patientID, payment)
}

func (a dryApplier) getDoctorByName(ctx context.Context, name string) (*model.Doctor, error) {
	return a.svc.doctors.GetByName(ctx, name)
}

func (dryApplier) createPatient(context.Context, *model.Patient) error { return nil }
func (dryApplier) attachPage(context.Context, *model.PatientPage) error {
	return nil
}
func (dryApplier) setPrimaryPage(context.Context, uuid.UUID, string) error { return nil }
func (dryApplier) insertPayment(context.Context, *model.Payment) error     { return nil }
func (dryApplier) saveFingerprint(context.Context, *model.RowFingerprint) error {
	return nil
}

type txApplier struct {
	tx  *sqlx.Tx
	svc *Service
}

func (a *txApplier) getFingerprint(ctx context.Context, sourceKind, rowKey string) (*model.RowFingerprint, error) {
	return a.svc.fingerprints.GetTx(ctx, a.tx, sourceKind, rowKey)
}

func (a *txApplier) getPatientByShortID(ctx context.Context, shortID string) (*model.Patient, error) {
	return a.svc.patients.GetByShortIDTx(ctx, a.tx, shortID)
}

func (a *txApplier) getPatientByPage(ctx context.Context, pageNumber string) (*model.Patient, error) {
	return a.svc.patients.GetByPageTx(ctx, a.tx, pageNumber)
}

func (a *txApplier) shortIDExists(ctx context.Context, shortID string) (bool, error) {
	return a.svc.patients.ShortIDExistsTx(ctx, a.tx, shortID)
}

func (a *txApplier) maxNumericShortID(ctx context.Context) (int64, error) {
	return a.svc.patients.MaxNumericShortIDTx(ctx, a.tx)
}

func (a *txApplier) listPages(ctx context.Context, patientID uuid.UUID) ([]*model.PatientPage, error) {
	return a.svc.patients.ListPagesTx(ctx, a.tx, patientID)
}

func (a *txApplier) paymentExists(ctx context.Context, patientID uuid.UUID, payment *model.Payment) (bool, error) {
	return a.svc.payments.ExistsEquivalentTx(ctx, a.tx, patientID, payment)
}

func (a *txApplier) getDoctorByName(ctx context.Context, name string) (*model.Doctor, error) {
	return a.svc.doctors.GetByNameTx(ctx, a.tx, name)
}

func (a *txApplier) createPatient(ctx context.Context, patient *model.Patient) error {
	return a.svc.patients.CreateTx(ctx, a.tx, patient)
}

func (a *txApplier) attachPage(ctx context.Context, page *model.PatientPage) error {
	_, err := a.svc.patients.AttachPageTx(ctx, a.tx, page)
	return err
}

func (a *txApplier) setPrimaryPage(ctx context.Context, patientID uuid.UUID, pageNumber string) error {
	return a.svc.patients.SetPrimaryPageTx(ctx, a.tx, patientID, pageNumber)
}

func (a *txApplier) insertPayment(ctx context.Context, payment *model.Payment) error {
	return a.svc.payments.InsertTx(ctx, a.tx, payment)
}

func (a *txApplier) saveFingerprint(ctx context.Context, fp *model.RowFingerprint) error {
	return a.svc.fingerprints.UpsertTx(ctx, a.tx, fp)
}

// Preflight runs the full import decision path without writing anything and
// returns the report a commit of the same file and options would produce.
func (s *Service) Preflight(ctx context.Context, path string, opts model.ImportOptions) (*model.ImportReport, error) {
	return s.run(ctx, path, opts, true)
}

// Commit imports the file for real: backup, schema check, then every write
// in one transaction. A failure anywhere leaves the database untouched.
func (s *Service) Commit(ctx context.Context, path string, opts model.ImportOptions) (*model.ImportReport, error) {
	return s.run(ctx, path, opts, false)
}

func (s *Service) run(ctx context.Context, path string, opts model.ImportOptions, dryRun bool) (*model.ImportReport, error) {
	opts.Mode = model.NormalizeMode(string(opts.Mode))
	if opts.MaxConflictPreview <= 0 {
		opts.MaxConflictPreview = model.DefaultImportOptions(opts.SourceKind).MaxConflictPreview
	}
	if err := s.validate.Struct(opts); err != nil {
		return nil, errors.NewBadRequest("invalid import options", err)
	}

	if !s.mu.TryLock() {
		return nil, errors.NewBadRequest("another import is already running", nil)
	}
	defer s.mu.Unlock()

	kind := string(opts.SourceKind)
	dry := strconv.FormatBool(dryRun)
	log := s.logger.WithSource(kind, string(opts.Mode))

	start := time.Now()
	s.metrics.ImportsStarted.WithLabelValues(kind, dry).Inc()
	defer func() {
		s.metrics.ImportDuration.WithLabelValues(kind, dry).Observe(time.Since(start).Seconds())
	}()

	records, counts, err := extract.Records(path, opts.SourceKind)
	if err != nil {
		s.metrics.ImportsAborted.WithLabelValues(kind, "extract").Inc()
		return nil, err
	}
	if len(records) == 0 {
		s.metrics.ImportsAborted.WithLabelValues(kind, "empty").Inc()
		return nil, errors.NewBadRequest("no importable rows found in file", nil)
	}

	report := &model.ImportReport{
		Timestamp:  time.Now(),
		Filename:   filepath.Base(path),
		SourceKind: opts.SourceKind,
		Options:    opts,
		Counts:     counts,
	}

	st := newRunState(s, opts)
	st.counters.UniquePatientsInFile = counts.Patients

	if dryRun {
		// The sentinel doctor is only created on commit; its absence does
		// not change any counter.
		doctor, err := s.doctors.GetByName(ctx, model.AnyDoctorName)
		if err != nil {
			return nil, err
		}
		if doctor != nil {
			st.anyDoctorID = doctor.ID
		}
		for _, rec := range records {
			if err := s.processRow(ctx, st, dryApplier{svc: s}, rec); err != nil {
				s.metrics.ImportsAborted.WithLabelValues(kind, "preflight").Inc()
				return nil, err
			}
		}
		st.finish(report)
		log.Info("preflight finished",
			"rows", counts.TotalRows,
			"would_create_patients", st.counters.CreatedPatients,
			"would_insert_payments", st.counters.InsertedMoneyPayments,
		)
		return report, nil
	}

	backupPath, err := s.store.Backup(ctx, s.backupDir)
	if err != nil {
		s.metrics.BackupsFailed.Inc()
		s.metrics.ImportsAborted.WithLabelValues(kind, "backup").Inc()
		return nil, err
	}
	s.metrics.BackupsTaken.Inc()
	report.BackupPath = backupPath

	if err := s.store.SchemaCheck(ctx); err != nil {
		s.metrics.ImportsAborted.WithLabelValues(kind, "schema_check").Inc()
		return nil, err
	}

	anyDoctorID, err := s.doctors.EnsureAnyDoctor(ctx)
	if err != nil {
		s.metrics.ImportsAborted.WithLabelValues(kind, "doctor").Inc()
		return nil, err
	}
	st.anyDoctorID = anyDoctorID

	err = s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		ap := &txApplier{tx: tx, svc: s}
		for _, rec := range records {
			if err := s.processRow(ctx, st, ap, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.metrics.ImportsAborted.WithLabelValues(kind, "transaction").Inc()
		log.Error(err, "import rolled back")
		return nil, err
	}

	st.finish(report)
	s.metrics.ImportsCommitted.WithLabelValues(kind).Inc()

	if err := s.reports.Save(ctx, report); err != nil {
		// The data is committed at this point; a report write failure is
		// logged, not surfaced as an import failure.
		log.Error(err, "failed to persist import report")
	}

	log.Info("import committed",
		"rows", counts.TotalRows,
		"created_patients", st.counters.CreatedPatients,
		"matched_patients", st.counters.MatchedPatients,
		"inserted_money_payments", st.counters.InsertedMoneyPayments,
		"skipped_duplicates", st.counters.SkippedDuplicates,
		"page_conflicts", st.counters.PageConflicts,
		"backup", backupPath,
	)
	return report, nil
}

func (s *Service) processRow(ctx context.Context, st *runState, ap applier, rec *model.PaymentRecord) error {
	tracking := st.opts.SourceKind == model.SourceSpreadsheet && st.opts.SkipDuplicates
	var key string
	if tracking {
		key = rowKey(rec)
	}
	if key != "" {
		fp, err := ap.getFingerprint(ctx, string(st.opts.SourceKind), key)
		if err != nil {
			return err
		}
		if fp != nil {
			if fp.Fingerprint == rowFingerprint(rec) {
				st.counters.SkippedDuplicates++
				s.metrics.RowsSkipped.WithLabelValues("duplicate").Inc()
			} else {
				// The row changed since it was imported. Editing history is a
				// human decision, never an automatic re-import.
				st.counters.SkippedEditedRows++
				s.metrics.RowsSkipped.WithLabelValues("edited").Inc()
			}
			return nil
		}
	}

	g, err := st.resolveGroup(ctx, ap, rec)
	if err != nil {
		return err
	}

	if rec.RawDate != "" && rec.PaidAt == "" {
		st.counters.UnknownDatesLeftBlank++
	}

	if !rec.HasAmounts() && !st.opts.ImportZeroAmountEntries {
		st.counters.SkippedZeroEntries++
		s.metrics.RowsSkipped.WithLabelValues("zero_entry").Inc()
		return nil
	}

	doctorID, err := st.resolveDoctor(ctx, ap, rec.DoctorLabel)
	if err != nil {
		return err
	}

	payment := &model.Payment{
		ID:               rec.PaymentID,
		PatientID:        g.patient.ID,
		PaidAt:           rec.PaidAt,
		AmountCents:      rec.PaidCents,
		TotalAmountCents: rec.TotalCents,
		RemainingCents:   rec.RemainingCents,
		DiscountCents:    rec.DiscountCents,
		Method:           rec.Method,
		Note:             rec.Notes,
		Treatment:        rec.Treatment,
		ExaminationFlag:  boolToInt(rec.ExamFlag),
		FollowupFlag:     boolToInt(rec.FollowFlag),
		DoctorID:         doctorID,
		DoctorLabel:      strings.TrimSpace(rec.DoctorLabel),
	}

	if st.opts.SkipDuplicates {
		sig := paymentSig(payment)
		dup := st.insertedSigs[sig]
		if !dup && payment.ID != "" {
			dup = st.insertedIDs[payment.ID]
		}
		if !dup {
			dup, err = ap.paymentExists(ctx, g.patient.ID, payment)
			if err != nil {
				return err
			}
		}
		if dup {
			st.counters.SkippedDuplicates++
			s.metrics.RowsSkipped.WithLabelValues("duplicate").Inc()
			if key != "" {
				// Remember the row so the next run short-circuits before any
				// database lookups.
				return ap.saveFingerprint(ctx, &model.RowFingerprint{
					SourceKind:  string(st.opts.SourceKind),
					RowKey:      key,
					Fingerprint: rowFingerprint(rec),
				})
			}
			return nil
		}
	}

	sourceID := payment.ID
	if err := ap.insertPayment(ctx, payment); err != nil {
		return err
	}
	st.insertedSigs[paymentSig(payment)] = true
	if sourceID != "" {
		st.insertedIDs[sourceID] = true
	}
	g.hadPayments = true

	if rec.HasAmounts() {
		st.counters.InsertedMoneyPayments++
		s.metrics.RowsInserted.WithLabelValues("money").Inc()
	} else {
		st.counters.InsertedZeroEntries++
		s.metrics.RowsInserted.WithLabelValues("zero_entry").Inc()
	}

	if key != "" {
		return ap.saveFingerprint(ctx, &model.RowFingerprint{
			SourceKind:  string(st.opts.SourceKind),
			RowKey:      key,
			Fingerprint: rowFingerprint(rec),
		})
	}
	return nil
}

// finish derives the post-loop counters and attaches results to the report.
func (st *runState) finish(report *model.ImportReport) {
	for _, g := range st.batchByShortID {
		if g.created && !g.hadPayments {
			st.counters.CreatedPatientsNoPayments++
		}
	}
	report.Results = st.counters
	report.PageConflictsPreview = st.conflicts
}

// paymentSig mirrors the equivalence columns of the payments duplicate
// check, so a row inserted earlier in the same run is recognized without a
// database read.
func paymentSig(p *model.Payment) string {
	return strings.Join([]string{
		p.PatientID.String(),
		p.PaidAt,
		strconv.FormatInt(p.AmountCents, 10),
		strconv.FormatInt(p.TotalAmountCents, 10),
		strconv.FormatInt(p.RemainingCents, 10),
		strconv.FormatInt(p.DiscountCents, 10),
		strconv.Itoa(p.ExaminationFlag),
		strconv.Itoa(p.FollowupFlag),
		p.Treatment,
		p.Note,
	}, "|")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
