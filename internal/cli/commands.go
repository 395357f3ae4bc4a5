package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"gravityyaml/internal/storage"
)

func exportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write the gravity database to the YAML document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := storage.Open(a.cfg.DatabasePath(), a.runner.Log)
			if err != nil {
				return a.record("export", nil, nil, err)
			}
			defer func() { _ = store.Close() }()

			g, err := a.runner.Export(cmd.Context(), store, a.cfg.Document)
			return a.record("export", g, nil, err)
		},
	}
}

func importCmd(a *app) *cobra.Command {
	var dryRun bool

	c := &cobra.Command{
		Use:   "import",
		Short: "Reconcile the gravity database with the YAML document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := storage.Open(a.cfg.DatabasePath(), a.runner.Log)
			if err != nil {
				return a.record("import", nil, nil, err)
			}
			defer func() { _ = store.Close() }()

			report, err := a.runner.Import(cmd.Context(), store, a.cfg.Document, storage.ReconcileOptions{DryRun: dryRun})
			if err := a.record("import", nil, report, err); err != nil {
				return err
			}
			if dryRun {
				return printReport(cmd.OutOrStdout(), report)
			}
			return nil
		},
	}

	c.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would change and roll back")
	return c
}

func initCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new gravity database from the YAML document",
		Long: "Create a new gravity.db populated from the YAML document. An existing\n" +
			"database is moved aside to gravity.db.old-YYYY-MM-DD first.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := a.runner.Init(cmd.Context(), a.cfg.DatabasePath(), a.cfg.Document)
			return a.record("init", nil, report, err)
		},
	}
}

func validateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the YAML document without touching the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.runner.Check(a.cfg.Document); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return err
		},
	}
}

func printReport(w io.Writer, report *storage.ReconcileReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tINSERTED\tUPDATED\tDELETED")
	for _, t := range report.Tables {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", t.Table, t.Inserted, t.Updated, t.Deleted)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !report.Changed() {
		_, err := fmt.Fprintln(w, "no changes")
		return err
	}
	return nil
}
