// Command gwsearch runs the matched-filter search over cached strain files
// and writes triggers and ranked events to a SQLite database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/banshee-data/gwsearch/internal/bank"
	"github.com/banshee-data/gwsearch/internal/config"
	"github.com/banshee-data/gwsearch/internal/db"
	"github.com/banshee-data/gwsearch/internal/pipeline"
	"github.com/banshee-data/gwsearch/internal/strain"
)

type pathList []string

func (p *pathList) String() string { return strings.Join(*p, ",") }

func (p *pathList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

var (
	configPath  = flag.String("config", "", "Search configuration JSON (defaults apply when empty)")
	bankPath    = flag.String("bank", "", "Template bank JSON file (required)")
	dbFile      = flag.String("db", "gwsearch.db", "SQLite database file; empty disables persistence")
	migrations  = flag.String("migrations", "migrations", "Directory holding schema migrations")
	sciencePath = flag.String("science", "", "Science segments JSON: detector to [start, end) list; defaults to full strain coverage")
	startGPS    = flag.Float64("start", 0, "Analysis start GPS time; 0 means earliest strain epoch")
	endGPS      = flag.Float64("end", 0, "Analysis end GPS time; 0 means latest strain end")
	topN        = flag.Int("top", 10, "Number of ranked events to print")
)

var strainFiles pathList

func main() {
	flag.Var(&strainFiles, "strain", "Strain cache file; repeat once per detector")
	flag.Parse()

	if *bankPath == "" {
		log.Fatal("a template bank is required (-bank)")
	}
	if len(strainFiles) == 0 {
		log.Fatal("at least one strain cache is required (-strain)")
	}

	cfg := config.EmptySearchConfig()
	if *configPath != "" {
		loaded, err := config.LoadSearchConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
	}

	b, err := bank.Load(*bankPath)
	if err != nil {
		log.Fatalf("Failed to load template bank: %v", err)
	}
	log.Printf("Loaded %d templates from %s", len(b.Templates), *bankPath)

	series := make(map[string]*strain.TimeSeries)
	for _, path := range strainFiles {
		ts, det, err := strain.ReadCache(path)
		if err != nil {
			log.Fatalf("Failed to read strain cache %s: %v", path, err)
		}
		if _, dup := series[det]; dup {
			log.Fatalf("Duplicate strain cache for detector %s", det)
		}
		series[det] = ts
		log.Printf("%s: %.0f s of strain at %.0f Hz from GPS %.0f", det, ts.Duration(), ts.SampleRate, ts.Epoch)
	}

	if len(cfg.Detectors) == 0 {
		for det := range series {
			cfg.Detectors = append(cfg.Detectors, det)
		}
		sort.Strings(cfg.Detectors)
	}

	science, err := loadScience(*sciencePath, series)
	if err != nil {
		log.Fatalf("Failed to load science segments: %v", err)
	}

	analysis := analysisRange(series)
	if *startGPS > 0 {
		analysis.Start = *startGPS
	}
	if *endGPS > 0 {
		analysis.End = *endGPS
	}

	var stores pipeline.Stores
	if *dbFile != "" {
		sdb, err := db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer sdb.Close()
		if err := sdb.MigrateUp(*migrations); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		stores = pipeline.Stores{
			Runs:     db.NewRunManager(sdb, nil),
			Triggers: db.NewTriggerStore(sdb),
			Events:   db.NewEventStore(sdb),
			Gaps:     db.NewGapStore(sdb),
		}
	}

	search, err := pipeline.NewSearch(cfg, b, stores)
	if err != nil {
		log.Fatalf("Invalid search setup: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := search.Run(ctx, pipeline.Input{
		Strain:   series,
		Science:  science,
		Analysis: analysis,
	})
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}

	for _, det := range cfg.GetDetectors() {
		log.Printf("%s: %d triggers", det, len(out.Triggers[det]))
	}
	if len(out.Failures) > 0 {
		log.Printf("%d units produced no output:", len(out.Failures))
		for _, f := range out.Failures {
			log.Printf("  %s [%.0f, %.0f) %s: %s", f.Detector, f.Segment.Start, f.Segment.End, f.Stage, f.Reason)
		}
	}

	printTop(out, *topN)
	if out.RunID != "" {
		log.Printf("Run %s complete", out.RunID)
	}
}

// loadScience reads the science segment file, or falls back to each
// detector's full strain coverage.
func loadScience(path string, series map[string]*strain.TimeSeries) (map[string]strain.SegmentList, error) {
	if path == "" {
		science := make(map[string]strain.SegmentList, len(series))
		for det, ts := range series {
			science[det] = strain.SegmentList{{Start: ts.Epoch, End: ts.Epoch + ts.Duration()}}
		}
		return science, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var science map[string]strain.SegmentList
	if err := json.Unmarshal(data, &science); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return science, nil
}

// analysisRange spans the union of all detectors' strain coverage.
func analysisRange(series map[string]*strain.TimeSeries) strain.Segment {
	var seg strain.Segment
	first := true
	for _, ts := range series {
		start, end := ts.Epoch, ts.Epoch+ts.Duration()
		if first {
			seg = strain.Segment{Start: start, End: end}
			first = false
			continue
		}
		if start < seg.Start {
			seg.Start = start
		}
		if end > seg.End {
			seg.End = end
		}
	}
	return seg
}

func printTop(out *pipeline.Output, n int) {
	if out.Combined == nil || len(out.Combined.Events) == 0 {
		log.Print("No coincident events")
		return
	}
	log.Printf("%d ranked events (%d hierarchical removal rounds):", len(out.Combined.Events), out.Combined.Rounds)
	for i, e := range out.Combined.Events {
		if i >= n {
			break
		}
		tag := ""
		if e.Removed {
			tag = " [removed]"
		}
		log.Printf("  %-6s tmpl %4d  t=%.4f  stat=%6.2f  FAR=%.3g/s%s",
			e.Combo, e.Event.TemplateID, e.Event.Time, e.Event.Stat, e.FAR, tag)
	}
}
