// Package gravity wires the store and the document codec into the export,
// import, init and check operations.
package gravity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gravityyaml/internal/document"
	"gravityyaml/internal/model"
	"gravityyaml/internal/storage"
)

// Stdio is the document path that stands for standard input or output.
const Stdio = "-"

// Runner carries the process-level dependencies of every operation.
type Runner struct {
	Log    *slog.Logger
	Stdin  io.Reader
	Stdout io.Writer
	Now    func() time.Time
}

// Export loads the store and writes it as a document to docPath.
func (r *Runner) Export(ctx context.Context, store storage.Storage, docPath string) (*model.Model, error) {
	m, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	if docPath == Stdio {
		b, err := document.Dump(m)
		if err != nil {
			return nil, err
		}
		if _, err := r.Stdout.Write(b); err != nil {
			return nil, fmt.Errorf("write document: %w", err)
		}
	} else if err := document.WriteFile(docPath, m); err != nil {
		return nil, err
	}

	r.Log.Info("exported gravity",
		"document", docPath, "groups", len(m.Groups), "adlists", len(m.Adlists),
		"domains", len(m.Domains), "clients", len(m.Clients))
	return m, nil
}

// Import parses the document at docPath and reconciles the store to it.
// The document is parsed completely before the store is touched.
func (r *Runner) Import(ctx context.Context, store storage.Storage, docPath string, opts storage.ReconcileOptions) (*storage.ReconcileReport, error) {
	m, err := r.readDocument(docPath)
	if err != nil {
		return nil, err
	}

	report, err := store.Reconcile(ctx, m, opts)
	if err != nil {
		return nil, err
	}

	r.logReport(docPath, report)
	return report, nil
}

// Check parses and validates the document without touching any store.
func (r *Runner) Check(docPath string) (*model.Model, error) {
	m, err := r.readDocument(docPath)
	if err != nil {
		return nil, err
	}
	if err := model.ViolationsError("gravity.check", model.Validate(m)); err != nil {
		return nil, err
	}
	return m, nil
}

// Init creates a new gravity database at dbPath populated from the document,
// which must declare at least one adlist. An existing database is first moved aside to dbPath.old-YYYY-MM-DD and is
// moved back if the new one cannot be populated. The document is validated
// before anything on disk changes.
func (r *Runner) Init(ctx context.Context, dbPath, docPath string) (*storage.ReconcileReport, error) {
	m, err := r.Check(docPath)
	if err != nil {
		return nil, err
	}
	if len(m.Adlists) == 0 {
		return nil, &model.Error{
			Op:       "gravity.init",
			Kind:     model.KindMalformedDocument,
			Path:     docPath,
			Problems: []string{model.SectionAdlists + ": no adlists specified"},
		}
	}

	backup := ""
	if _, err := os.Stat(dbPath); err == nil {
		backup = dbPath + ".old-" + r.now().Format("2006-01-02")
		if err := os.Rename(dbPath, backup); err != nil {
			return nil, fmt.Errorf("back up database: %w", err)
		}
		r.Log.Info("moved existing database aside", "path", dbPath, "backup", backup)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat database: %w", err)
	}

	report, err := r.populate(ctx, dbPath, m)
	if err != nil {
		_ = os.Remove(dbPath)
		if backup != "" {
			if rerr := os.Rename(backup, dbPath); rerr != nil {
				r.Log.Error("restore database backup", "backup", backup, "error", rerr)
			}
		}
		return nil, err
	}

	r.logReport(docPath, report)
	return report, nil
}

func (r *Runner) populate(ctx context.Context, dbPath string, m *model.Model) (*storage.ReconcileReport, error) {
	store, err := storage.Create(dbPath, r.Log)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	return store.Reconcile(ctx, m, storage.ReconcileOptions{})
}

func (r *Runner) readDocument(docPath string) (*model.Model, error) {
	var (
		m   *model.Model
		err error
	)
	if docPath == Stdio {
		b, rerr := io.ReadAll(r.Stdin)
		if rerr != nil {
			return nil, fmt.Errorf("read document: %w", rerr)
		}
		m, err = document.Parse(b)
	} else {
		m, err = document.ReadFile(docPath)
	}
	if err != nil {
		return nil, err
	}

	if len(m.Adlists) == 0 {
		r.Log.Warn("document declares no adlists", "document", docPath)
	}
	return m, nil
}

func (r *Runner) logReport(docPath string, report *storage.ReconcileReport) {
	for _, t := range report.Tables {
		r.Log.Debug("reconciled table", "table", t.Table,
			"inserted", t.Inserted, "updated", t.Updated, "deleted", t.Deleted)
	}
	r.Log.Info("imported gravity", "document", docPath, "changed", report.Changed(), "dry_run", report.DryRun)
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
