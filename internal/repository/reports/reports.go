// Package reports persists import reports as JSON documents in a directory,
// one file per run, newest first on listing.
package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/internal/repository"
	"github.com/clinicware/ledger-import/pkg/errors"
)

type reportRepository struct {
	dir string
}

func NewReportRepository(dir string) repository.ReportRepository {
	return &reportRepository{dir: dir}
}

func (r *reportRepository) Save(ctx context.Context, report *model.ImportReport) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create reports directory: %w", err)
	}
	if report.Name == "" {
		report.Name = fmt.Sprintf("import-%s", report.Timestamp.Format("20060102-150405"))
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	// Write via a temp file so a crash never leaves a truncated report.
	path := filepath.Join(r.dir, report.Name+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (r *reportRepository) Get(ctx context.Context, name string) (*model.ImportReport, error) {
	name = filepath.Base(strings.TrimSuffix(name, ".json"))
	data, err := os.ReadFile(filepath.Join(r.dir, name+".json"))
	if os.IsNotExist(err) {
		return nil, errors.NewNotFound("import report", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var report model.ImportReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &report, nil
}

func (r *reportRepository) List(ctx context.Context) ([]*model.ImportReport, error) {
	entries, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	var out []*model.ImportReport
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		report, err := r.Get(ctx, entry.Name())
		if err != nil {
			continue
		}
		out = append(out, report)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}
