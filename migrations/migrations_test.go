package migrations

import (
	"bytes"
	"database/sql"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func TestRunLogsThroughSlog(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "gravity.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if err := Run(db, log); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(buf.String(), "component=goose") {
		t.Errorf("expected goose output in the slog handler, got:\n%s", buf.String())
	}

	var name string
	if err := db.QueryRow(`SELECT name FROM "group" WHERE id = 0`).Scan(&name); err != nil {
		t.Fatalf("query default group: %v", err)
	}
	if name != "Default" {
		t.Errorf("default group name = %q, want %q", name, "Default")
	}
}
