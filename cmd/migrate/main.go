// Command migrate applies the bundled gravity schema to a database with goose.
// It is meant for scratch and test databases; Pi-hole manages the schema of
// its own gravity.db.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"gravityyaml/internal/config"
	"gravityyaml/migrations"
)

func main() {
	defaultDB := filepath.Join(envOrDefault("GRAVITYYAML_DATABASE_DIR", "."), config.DatabaseFile)
	dbPath := flag.String("db", defaultDB, "path to the gravity database")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		log.Fatalf("set dialect: %v", err)
	}

	cmd := args[0]
	switch cmd {
	case "up":
		err = goose.Up(db, ".")
	case "down":
		err = goose.Down(db, ".")
	case "status":
		err = goose.Status(db, ".")
	case "version":
		err = goose.Version(db, ".")
	default:
		usage()
		log.Fatalf("unknown command: %s", cmd)
	}

	if err != nil {
		log.Fatalf("%s %s: %v", cmd, *dbPath, err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] <up|down|status|version>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "  up       create the gravity tables, triggers and default group")
	fmt.Fprintln(os.Stderr, "  down     drop them again")
	fmt.Fprintln(os.Stderr, "  status   show migration status")
	fmt.Fprintln(os.Stderr, "  version  show current version")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
