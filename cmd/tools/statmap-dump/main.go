// Command statmap-dump prints the ranked events of a stored search run.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/banshee-data/gwsearch/internal/db"
)

var (
	dbFile  = flag.String("db", "gwsearch.db", "SQLite database file")
	runID   = flag.String("run", "", "Run ID to dump (required)")
	asJSON  = flag.Bool("json", false, "Emit JSON instead of a table")
	maxRows = flag.Int("n", 0, "Maximum rows to print; 0 means all")
)

func main() {
	flag.Parse()
	if *runID == "" {
		log.Fatal("a run ID is required (-run)")
	}

	sdb, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sdb.Close()

	runs := db.NewRunManager(sdb, nil)
	run, err := runs.GetRun(*runID)
	if err != nil {
		log.Fatalf("Failed to load run: %v", err)
	}

	rows, err := db.NewEventStore(sdb).ListByRun(*runID)
	if err != nil {
		log.Fatalf("Failed to list events: %v", err)
	}
	if *maxRows > 0 && len(rows) > *maxRows {
		rows = rows[:*maxRows]
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			log.Fatalf("Failed to encode events: %v", err)
		}
		return
	}

	created := time.Unix(0, run.CreatedAt).UTC().Format(time.RFC3339)
	fmt.Printf("Run %s (%s, created %s)\n", run.RunID, run.Status, created)
	fmt.Printf("Analysis [%.0f, %.0f) with %s\n", run.StartTime, run.EndTime, strings.Join(run.Detectors, " "))
	if len(rows) == 0 {
		fmt.Println("No events")
		return
	}

	fmt.Printf("%-8s %-6s %-14s %-8s %-12s %s\n", "combo", "tmpl", "time", "stat", "far", "removed")
	for _, r := range rows {
		removed := ""
		if r.Removed {
			removed = "yes"
		}
		fmt.Printf("%-8s %-6d %-14.4f %-8.2f %-12.3g %s\n", r.Combo, r.TemplateID, r.Time, r.Stat, r.FAR, removed)
	}
}
