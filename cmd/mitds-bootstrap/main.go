// Command mitds-bootstrap creates the relational and graph schemas for
// a MITDS deployment. It is idempotent: every store migrates with
// CREATE TABLE IF NOT EXISTS, so re-running against a live database is
// safe.
//
// Usage:
//
//	mitds-bootstrap [db_url]
//
// With no argument DATABASE_URL is used. When MITDS_SQLITE_PATH is set
// an embedded sqlite run store is created instead of the Postgres one
// (single-binary/dev deployments). SOURCE_PROFILES_DIR, when set, is
// validated so malformed profiles fail at bootstrap time rather than
// mid-run.
package main

import (
	"database/sql"
	"log"
	"os"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/civiclens/mitds/pkg/config"
	"github.com/civiclens/mitds/pkg/graph"
	"github.com/civiclens/mitds/pkg/store"
)

func main() {
	cfg := config.Load()
	dbURL := cfg.DatabaseURL
	if len(os.Args) > 1 {
		dbURL = os.Args[1]
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	log.Println("[bootstrap] Initializing schemas...")

	// Graph: nodes, edges, evidence.
	if _, err := graph.NewPostgresStore(db); err != nil {
		log.Fatalf("Failed to init graph schema: %v", err)
	}
	log.Println("[bootstrap] Graph schema ready.")

	// Timing events for the temporal detector.
	if _, err := store.NewPostgresEventStore(db); err != nil {
		log.Fatalf("Failed to init events schema: %v", err)
	}
	log.Println("[bootstrap] Events schema ready.")

	// Ingestion runs: Postgres by default, embedded sqlite on request.
	if path := os.Getenv("MITDS_SQLITE_PATH"); path != "" {
		sdb, err := sql.Open("sqlite", path)
		if err != nil {
			log.Fatalf("Failed to open sqlite db: %v", err)
		}
		defer func() { _ = sdb.Close() }()
		if _, err := store.NewSQLiteRunStore(sdb); err != nil {
			log.Fatalf("Failed to init sqlite run store: %v", err)
		}
		log.Printf("[bootstrap] Sqlite run store ready at %s.\n", path)
	} else {
		if _, err := store.NewPostgresRunStore(db); err != nil {
			log.Fatalf("Failed to init run store schema: %v", err)
		}
		log.Println("[bootstrap] Run store schema ready.")
	}

	// Validate source profiles early when configured.
	if cfg.ProfilesDir != "" {
		profiles, err := config.LoadAllProfiles(cfg.ProfilesDir)
		if err != nil {
			log.Fatalf("Invalid source profiles: %v", err)
		}
		log.Printf("[bootstrap] %d source profiles validated.\n", len(profiles))
	}

	log.Println("[bootstrap] Bootstrap complete.")
}
