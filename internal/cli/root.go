// Package cli implements the gravityyaml command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gravityyaml/internal/config"
	"gravityyaml/internal/gravity"
	"gravityyaml/internal/metrics"
	"gravityyaml/internal/model"
	"gravityyaml/internal/storage"
)

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context) int {
	cmd := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL - %v\n", err)
		return ExitCode(err)
	}
	return ExitOK
}

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	cfg    *config.Config
	runner *gravity.Runner
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var (
		configPath  string
		databaseDir string
		docPath     string
		metricsFile string
		debug       bool
	)
	a := &app{}

	cmd := &cobra.Command{
		Use:           "gravityyaml",
		Short:         "Store Pi-hole gravity.db config in a YAML file",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("database") {
				cfg.DatabaseDir = databaseDir
			}
			if flags.Changed("document") {
				cfg.Document = docPath
			}
			if flags.Changed("metrics-file") {
				cfg.MetricsFile = metricsFile
			}
			if debug {
				cfg.LogLevel = "debug"
			}

			a.cfg = cfg
			a.runner = &gravity.Runner{
				Log:    newLogger(stderr, cfg.LogLevel),
				Stdin:  stdin,
				Stdout: stdout,
			}
			return nil
		},
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to a TOML settings file")
	pf.StringVarP(&docPath, "document", "c", config.DefaultDocument, `path to the gravity YAML document ("-" for stdin/stdout)`)
	pf.StringVarP(&databaseDir, "database", "d", config.DefaultDatabaseDir, "path to the directory holding gravity.db")
	pf.StringVar(&metricsFile, "metrics-file", "", "write Prometheus textfile metrics to this path")
	pf.BoolVar(&debug, "debug", false, "enable debug logging")

	cmd.AddCommand(exportCmd(a), importCmd(a), initCmd(a), validateCmd(a))
	return cmd
}

// record writes the metrics of a finished command when a metrics file is
// configured. A failed write is logged and does not change the result.
func (a *app) record(command string, g *model.Model, report *storage.ReconcileReport, err error) error {
	if a.cfg.MetricsFile == "" {
		return err
	}
	m := metrics.New()
	m.ObserveModel(g)
	m.ObserveReport(report)
	m.ObserveRun(command, time.Now(), err)
	if werr := m.WriteFile(a.cfg.MetricsFile); werr != nil {
		a.runner.Log.Warn("write metrics", "path", a.cfg.MetricsFile, "error", werr)
	}
	return err
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
