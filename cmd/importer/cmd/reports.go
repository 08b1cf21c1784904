package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clinicware/ledger-import/internal/repository/reports"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List persisted import reports, newest first",
	RunE:  runListReports,
}

var reportsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print one import report as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowReport,
}

func init() {
	reportsCmd.AddCommand(reportsShowCmd)
	rootCmd.AddCommand(reportsCmd)
}

func runListReports(cmd *cobra.Command, args []string) error {
	repo := reports.NewReportRepository(reportsDir)
	list, err := repo.List(context.Background())
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("no import reports found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tWHEN\tFILE\tSOURCE\tCREATED\tMATCHED\tPAYMENTS\tSKIPPED\tCONFLICTS")
	for _, r := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			r.Name,
			r.Timestamp.Format("2006-01-02 15:04"),
			r.Filename,
			r.SourceKind,
			r.Results.CreatedPatients,
			r.Results.MatchedPatients,
			r.Results.InsertedMoneyPayments+r.Results.InsertedZeroEntries,
			r.Results.SkippedDuplicates+r.Results.SkippedEditedRows+r.Results.SkippedZeroEntries,
			r.Results.PageConflicts,
		)
	}
	return w.Flush()
}

func runShowReport(cmd *cobra.Command, args []string) error {
	repo := reports.NewReportRepository(reportsDir)
	report, err := repo.Get(context.Background(), args[0])
	if err != nil {
		return err
	}
	return writeJSON(report)
}
