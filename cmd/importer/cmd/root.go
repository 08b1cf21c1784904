package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicware/ledger-import/internal/config"
)

var (
	dbPath     string
	backupDir  string
	reportsDir string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ledger-import",
	Short: "Clinic payment ledger import tool",
	Long: `ledger-import loads payment ledgers exported from the clinic's old
spreadsheets into the patient database. Every commit takes a backup first
and applies the whole file in one transaction.

Examples:
  ledger-import preview ledger.xlsx
  ledger-import preflight ledger.xlsx --mode normal
  ledger-import commit ledger.xlsx --db clinic.db
  ledger-import reports
  ledger-import reports show import-20260901-120000`,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		cfg = &config.Config{}
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", orDefault(cfg.Database.Path, "clinic.db"), "path to the clinic database")
	rootCmd.PersistentFlags().StringVar(&backupDir, "backup-dir", orDefault(cfg.Import.BackupDir, "backups"), "directory for pre-import backups")
	rootCmd.PersistentFlags().StringVar(&reportsDir, "reports-dir", orDefault(cfg.Import.ReportsDir, "import_reports"), "directory for persisted import reports")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func logLevel() zerolog.Level {
	if verbose {
		return zerolog.DebugLevel
	}
	return zerolog.WarnLevel
}
