package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

const schemaTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name       TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func main() {
	dir := flag.String("dir", "migrations", "directory holding the *.sql files")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		env("DB_HOST", "localhost"), env("DB_PORT", "5432"), env("DB_USER", "postgres"),
		os.Getenv("DB_PASSWORD"), env("DB_NAME", "rewards_ledger"))

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	if _, err := db.Exec(schemaTable); err != nil {
		log.Fatalf("Failed to create schema_migrations: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(*dir, "*.sql"))
	if err != nil {
		log.Fatalf("Failed to list migrations: %v", err)
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		name := filepath.Base(file)
		ok, err := apply(db, name, file)
		if err != nil {
			log.Fatalf("Failed to apply %s: %v", name, err)
		}
		if ok {
			log.Printf("Applied %s", name)
			applied++
		}
	}
	log.Printf("Migrations complete: %d applied, %d total", applied, len(files))
}

// apply runs one file and records it in a single transaction. Already recorded files are skipped.
func apply(db *sql.DB, name, path string) (bool, error) {
	var exists bool
	if err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name).Scan(&exists); err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(body)); err != nil {
		return false, err
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
