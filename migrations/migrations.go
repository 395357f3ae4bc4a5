// Package migrations embeds the Pi-hole gravity schema and applies it with goose.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pressly/goose/v3"
)

// FS contains the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS

// Run creates the gravity tables, triggers and the default group on db,
// reporting goose's progress to log at debug level.
// It is meant for fresh databases; an existing Pi-hole database is never migrated.
func Run(db *sql.DB, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	goose.SetBaseFS(FS)
	goose.SetLogger(Logger{Log: log})

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("apply gravity schema: %w", err)
	}
	return nil
}

// Logger adapts a slog.Logger to goose.Logger.
type Logger struct {
	Log *slog.Logger
}

// Printf logs a goose progress line at debug level.
func (l Logger) Printf(format string, v ...any) {
	l.Log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "goose")
}

// Fatalf logs at error level and exits, as goose expects.
func (l Logger) Fatalf(format string, v ...any) {
	l.Log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "goose")
	os.Exit(1)
}
