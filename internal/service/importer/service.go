// Package importer implements the payment import pipeline: preview,
// preflight and commit. Preflight and commit share one decision path; the
// only difference is whether writes are applied, which is what makes
// preflight counts binding for the commit that follows.
package importer

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/clinicware/ledger-import/internal/extract"
	"github.com/clinicware/ledger-import/internal/identity"
	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/internal/repository"
	"github.com/clinicware/ledger-import/pkg/errors"
	"github.com/clinicware/ledger-import/pkg/logger"
	"github.com/clinicware/ledger-import/pkg/metrics"
)

type Service struct {
	store        repository.Store
	patients     repository.PatientRepository
	payments     repository.PaymentRepository
	fingerprints repository.FingerprintRepository
	doctors      repository.DoctorRepository
	reports      repository.ReportRepository

	backupDir string
	logger    *logger.Logger
	metrics   *metrics.Metrics
	validate  *validator.Validate

	// One import at a time. The database has a single writer and a second
	// concurrent commit would invalidate the first one's preflight.
	mu sync.Mutex
}

type Deps struct {
	Store        repository.Store
	Patients     repository.PatientRepository
	Payments     repository.PaymentRepository
	Fingerprints repository.FingerprintRepository
	Doctors      repository.DoctorRepository
	Reports      repository.ReportRepository
	BackupDir    string
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
}

func NewService(deps Deps) *Service {
	return &Service{
		store:        deps.Store,
		patients:     deps.Patients,
		payments:     deps.Payments,
		fingerprints: deps.Fingerprints,
		doctors:      deps.Doctors,
		reports:      deps.Reports,
		backupDir:    deps.BackupDir,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		validate:     validator.New(),
	}
}

// PreviewGroup is one would-be patient with its aggregated payment totals.
type PreviewGroup struct {
	GroupKey       string `json:"group_key"`
	FileOrPage     string `json:"file_or_page"`
	FullName       string `json:"full_name"`
	Phone          string `json:"phone"`
	Rows           int    `json:"rows"`
	MoneyPayments  int    `json:"money_payments"`
	ZeroEntries    int    `json:"zero_entries"`
	TotalCents     int64  `json:"total_cents"`
	PaidCents      int64  `json:"paid_cents"`
	RemainingCents int64  `json:"remaining_cents"`
}

// PreviewResult is the read-only summary of a source file: extraction
// counts, patient groups under the requested mode, and advisory duplicate
// suggestions. Nothing in it touches the database.
type PreviewResult struct {
	SourceKind model.SourceKind                `json:"source_kind"`
	Mode       model.Mode                      `json:"mode"`
	Counts     model.ExtractCounts             `json:"counts"`
	Groups     []*PreviewGroup                 `json:"groups"`
	Duplicates []*identity.DuplicateSuggestion `json:"duplicates"`
}

func (s *Service) Preview(ctx context.Context, path string, opts model.ImportOptions) (*PreviewResult, error) {
	opts.Mode = model.NormalizeMode(string(opts.Mode))
	if err := s.validate.Struct(opts); err != nil {
		return nil, errors.NewBadRequest("invalid import options", err)
	}

	records, counts, err := extract.Records(path, opts.SourceKind)
	if err != nil {
		return nil, err
	}

	grouper := identity.NewGrouper(opts.SourceKind, opts.Mode)
	byKey := make(map[string]*PreviewGroup)
	var groups []*PreviewGroup
	for _, rec := range records {
		key := grouper.Assign(rec)
		if key == "" {
			continue
		}
		g, ok := byKey[key]
		if !ok {
			g = &PreviewGroup{
				GroupKey:   key,
				FileOrPage: rec.FileOrPage,
				FullName:   rec.FullName,
				Phone:      rec.Phone,
			}
			byKey[key] = g
			groups = append(groups, g)
		}
		if g.FullName == "" {
			g.FullName = rec.FullName
		}
		if g.Phone == "" {
			g.Phone = rec.Phone
		}
		g.Rows++
		if rec.HasAmounts() {
			g.MoneyPayments++
		} else {
			g.ZeroEntries++
		}
		g.TotalCents += rec.TotalCents
		g.PaidCents += rec.PaidCents
		g.RemainingCents += rec.RemainingCents
	}

	s.logger.WithSource(string(opts.SourceKind), string(opts.Mode)).
		Info("preview built", "rows", counts.TotalRows, "groups", len(groups))

	return &PreviewResult{
		SourceKind: opts.SourceKind,
		Mode:       opts.Mode,
		Counts:     counts,
		Groups:     groups,
		Duplicates: identity.SuggestDuplicates(records, opts.Mode == model.ModeAggressive),
	}, nil
}

// Reports lists persisted import reports, newest first.
func (s *Service) Reports(ctx context.Context) ([]*model.ImportReport, error) {
	return s.reports.List(ctx)
}

// Report returns one persisted import report by name.
func (s *Service) Report(ctx context.Context, name string) (*model.ImportReport, error) {
	return s.reports.Get(ctx, name)
}
