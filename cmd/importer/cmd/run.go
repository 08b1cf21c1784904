package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/internal/repository/reports"
	"github.com/clinicware/ledger-import/internal/repository/sqlite"
	importService "github.com/clinicware/ledger-import/internal/service/importer"
	"github.com/clinicware/ledger-import/pkg/logger"
	"github.com/clinicware/ledger-import/pkg/metrics"
)

// Flags shared by preview, preflight and commit
var (
	sourceKindFlag     string
	modeFlag           string
	skipDuplicates     bool
	importZeroEntries  bool
	neverAutoMerge     bool
	maxConflictPreview int
	outputFormat       string
	outputFile         string
)

var previewCmd = &cobra.Command{
	Use:   "preview <file>",
	Short: "Summarize a ledger file without touching the database",
	Long: `Preview extracts the ledger rows, groups them into would-be patients
under the selected mode, and prints the totals and duplicate suggestions.
The database is never opened.`,
	Args: cobra.ExactArgs(1),
	RunE: runPreview,
}

var preflightCmd = &cobra.Command{
	Use:   "preflight <file>",
	Short: "Dry-run an import and report what a commit would do",
	Long: `Preflight runs the full import decision path against the current
database without writing anything. The counters it reports are exactly the
counters an immediate commit of the same file would produce.`,
	Args: cobra.ExactArgs(1),
	RunE: runPreflight,
}

var commitCmd = &cobra.Command{
	Use:   "commit <file>",
	Short: "Import a ledger file into the database",
	Long: `Commit backs up the database, then imports the file in a single
transaction. Any failure rolls the whole import back. The import report is
persisted and printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runCommit,
}

func init() {
	rootCmd.AddCommand(previewCmd, preflightCmd, commitCmd)

	for _, c := range []*cobra.Command{previewCmd, preflightCmd, commitCmd} {
		c.Flags().StringVarP(&sourceKindFlag, "source", "s", "", "source kind: spreadsheet or csv (default: inferred from extension)")
		c.Flags().StringVarP(&modeFlag, "mode", "m", "safe", "identity resolution mode: safe, normal, aggressive")
		c.Flags().BoolVar(&skipDuplicates, "skip-duplicates", true, "skip rows already imported")
		c.Flags().BoolVar(&importZeroEntries, "zero-entries", true, "import zero-amount visit entries")
		c.Flags().BoolVar(&neverAutoMerge, "never-auto-merge", true, "never merge rows into an existing patient by page number alone")
		c.Flags().IntVar(&maxConflictPreview, "max-conflict-preview", 50, "page conflicts to keep in the report preview")
		c.Flags().StringVarP(&outputFormat, "format", "f", "text", "output format: text or json")
		c.Flags().StringVarP(&outputFile, "output", "o", "", "write the result to a file instead of stdout")
	}
}

func runPreview(cmd *cobra.Command, args []string) error {
	path := args[0]
	opts, err := buildOptions(path)
	if err != nil {
		return err
	}

	// Preview never opens the database, so wire the service without one.
	svc, cleanup, err := newService(false)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := svc.Preview(context.Background(), path, opts)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return writeJSON(result)
	}
	return writeText(renderPreview(result))
}

func runPreflight(cmd *cobra.Command, args []string) error {
	return runImport(args[0], false)
}

func runCommit(cmd *cobra.Command, args []string) error {
	return runImport(args[0], true)
}

func runImport(path string, commit bool) error {
	opts, err := buildOptions(path)
	if err != nil {
		return err
	}

	svc, cleanup, err := newService(true)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	var report *model.ImportReport
	if commit {
		report, err = svc.Commit(ctx, path, opts)
	} else {
		report, err = svc.Preflight(ctx, path, opts)
	}
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return writeJSON(report)
	}
	return writeText(renderReport(report, commit))
}

func buildOptions(path string) (model.ImportOptions, error) {
	kind, err := resolveSourceKind(path)
	if err != nil {
		return model.ImportOptions{}, err
	}
	opts := model.DefaultImportOptions(kind)
	opts.Mode = model.NormalizeMode(modeFlag)
	opts.SkipDuplicates = skipDuplicates
	opts.ImportZeroAmountEntries = importZeroEntries
	opts.NeverAutoMergeByPageNumber = neverAutoMerge
	opts.MaxConflictPreview = maxConflictPreview
	return opts, nil
}

func resolveSourceKind(path string) (model.SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(sourceKindFlag)) {
	case string(model.SourceSpreadsheet):
		return model.SourceSpreadsheet, nil
	case string(model.SourceCSV):
		return model.SourceCSV, nil
	case "":
	default:
		return "", fmt.Errorf("unrecognized source kind %q", sourceKindFlag)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xls":
		return model.SourceSpreadsheet, nil
	case ".csv":
		return model.SourceCSV, nil
	}
	return "", fmt.Errorf("cannot infer source kind from %q, pass --source", path)
}

// newService wires the import service. withDB controls whether the database
// is opened and migrated; preview works without one.
func newService(withDB bool) (*importService.Service, func(), error) {
	appLogger := logger.NewLogger(&logger.Config{
		Level:      logLevel(),
		TimeFormat: time.RFC3339,
		Output:     os.Stderr,
		Console:    true,
	})

	deps := importService.Deps{
		Reports:   reports.NewReportRepository(reportsDir),
		BackupDir: backupDir,
		Logger:    appLogger,
		Metrics:   metrics.NewMetrics("clinicware", "importer"),
	}
	cleanup := func() {}

	if withDB {
		store, err := sqlite.Open(dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
		}
		if err := sqlite.Migrate(context.Background(), store); err != nil {
			store.Close()
			return nil, nil, err
		}
		deps.Store = store
		deps.Patients = sqlite.NewPatientRepository(store)
		deps.Payments = sqlite.NewPaymentRepository(store)
		deps.Fingerprints = sqlite.NewFingerprintRepository(store)
		deps.Doctors = sqlite.NewDoctorRepository(store)
		cleanup = func() { store.Close() }
	}

	return importService.NewService(deps), cleanup, nil
}

func renderPreview(result *importService.PreviewResult) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "source:\t%s\nmode:\t%s\n", result.SourceKind, result.Mode)
	fmt.Fprintf(w, "rows:\t%d\npatients:\t%d\nmoney payments:\t%d\nzero entries:\t%d\nskipped rows:\t%d\n",
		result.Counts.TotalRows, result.Counts.Patients, result.Counts.MoneyPayments,
		result.Counts.ZeroEntries, result.Counts.SkippedRows)
	w.Flush()

	b.WriteString("\n")
	w = tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE/PAGE\tNAME\tROWS\tPAID\tREMAINING")
	for _, g := range result.Groups {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			g.FileOrPage, g.FullName, g.Rows, formatCents(g.PaidCents), formatCents(g.RemainingCents))
	}
	w.Flush()

	if len(result.Duplicates) > 0 {
		fmt.Fprintf(&b, "\n%d possible duplicate group(s); run with --format json for details\n", len(result.Duplicates))
	}
	return b.String()
}

func renderReport(report *model.ImportReport, committed bool) string {
	var b strings.Builder
	if committed {
		fmt.Fprintf(&b, "import committed: %s\n", report.Name)
		if report.BackupPath != "" {
			fmt.Fprintf(&b, "backup: %s\n", report.BackupPath)
		}
	} else {
		b.WriteString("preflight (nothing written)\n")
	}

	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	r := report.Results
	fmt.Fprintf(w, "patients in file:\t%d\n", r.UniquePatientsInFile)
	fmt.Fprintf(w, "patients created:\t%d\n", r.CreatedPatients)
	fmt.Fprintf(w, "patients matched:\t%d\n", r.MatchedPatients)
	fmt.Fprintf(w, "money payments:\t%d\n", r.InsertedMoneyPayments)
	fmt.Fprintf(w, "zero entries:\t%d\n", r.InsertedZeroEntries)
	fmt.Fprintf(w, "skipped duplicates:\t%d\n", r.SkippedDuplicates)
	fmt.Fprintf(w, "edited since last import:\t%d\n", r.SkippedEditedRows)
	fmt.Fprintf(w, "page conflicts:\t%d\n", r.PageConflicts)
	fmt.Fprintf(w, "pages saved:\t%d\n", r.PageNumbersSaved)
	fmt.Fprintf(w, "unknown dates left blank:\t%d\n", r.UnknownDatesLeftBlank)
	w.Flush()

	for _, conflict := range report.PageConflictsPreview {
		fmt.Fprintf(&b, "conflict on page %s: incoming %q vs existing %q (file %s)\n",
			conflict.PageNumber, conflict.IncomingName, conflict.ExistingName, conflict.ExistingFileNumber)
	}
	return b.String()
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func writeText(s string) error {
	if outputFile != "" {
		return os.WriteFile(outputFile, []byte(s), 0o644)
	}
	_, err := os.Stdout.WriteString(s)
	return err
}

func writeJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if outputFile != "" {
		return os.WriteFile(outputFile, data, 0o644)
	}
	_, err = os.Stdout.Write(data)
	return err
}
