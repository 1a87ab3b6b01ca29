package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/gwsearch/internal/coinc"
	"github.com/banshee-data/gwsearch/internal/statmap"
	"github.com/banshee-data/gwsearch/internal/strain"
	"github.com/banshee-data/gwsearch/internal/timeutil"
	"github.com/banshee-data/gwsearch/internal/triggers"
)

const migrationsDir = "../../migrations"

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("NewDB() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.MigrateUp(migrationsDir); err != nil {
		t.Fatalf("MigrateUp() error: %v", err)
	}
	return db
}

func TestMigrateUpDown(t *testing.T) {
	db := testDB(t)

	version, dirty, err := db.MigrateVersion(migrationsDir)
	if err != nil {
		t.Fatalf("MigrateVersion() error: %v", err)
	}
	if dirty {
		t.Error("migration state should not be dirty")
	}
	if version == 0 {
		t.Error("expected non-zero version after MigrateUp")
	}

	if err := db.MigrateDown(migrationsDir); err != nil {
		t.Fatalf("MigrateDown() error: %v", err)
	}
	// Up again is idempotent from the rolled-back state.
	if err := db.MigrateUp(migrationsDir); err != nil {
		t.Fatalf("MigrateUp() after down error: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	db := testDB(t)
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	m := NewRunManager(db, clock)

	runID, err := m.StartRun(1234567890, 1234572000, []string{"H1", "L1"}, `{"sample_rate":2048}`)
	if err != nil {
		t.Fatalf("StartRun() error: %v", err)
	}
	if got := m.CurrentRunID(); got != runID {
		t.Errorf("CurrentRunID() = %q, want %q", got, runID)
	}

	run, err := m.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	if run.Status != "running" {
		t.Errorf("Status = %q, want running", run.Status)
	}
	if len(run.Detectors) != 2 || run.Detectors[0] != "H1" {
		t.Errorf("Detectors = %v, want [H1 L1]", run.Detectors)
	}
	// Timestamps are stored as nanoseconds since the epoch.
	if got := time.Unix(0, run.CreatedAt); !got.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("CreatedAt = %v, want %v", got, time.Unix(1700000000, 0))
	}

	clock.Advance(time.Hour)
	if err := m.CompleteRun(runID); err != nil {
		t.Fatalf("CompleteRun() error: %v", err)
	}
	run, err = m.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	if run.Status != "completed" {
		t.Errorf("Status = %q, want completed", run.Status)
	}
	if run.CompletedAt <= run.CreatedAt {
		t.Errorf("CompletedAt %d not after CreatedAt %d", run.CompletedAt, run.CreatedAt)
	}

	if err := m.CompleteRun("no-such-run"); err == nil {
		t.Error("expected error completing unknown run")
	}
}

func TestTriggerStoreRoundTrip(t *testing.T) {
	db := testDB(t)
	m := NewRunManager(db, nil)
	runID, err := m.StartRun(0, 100, []string{"H1", "L1"}, "")
	if err != nil {
		t.Fatalf("StartRun() error: %v", err)
	}

	store := NewTriggerStore(db)
	in := []triggers.Trigger{
		{Detector: "H1", TemplateID: 3, Time: 50.125, SNR: 8.5, Phase: 1.2,
			NewSNR: 8.1, ReducedChisq: 1.1, SGChisq: 1.0, PSDVar: 1.02},
		{Detector: "H1", TemplateID: 7, Time: 20.5, SNR: 5.0, Phase: -0.4,
			NewSNR: 4.9, ReducedChisq: 0.9, SGChisq: 1.0, PSDVar: 0.98},
		{Detector: "L1", TemplateID: 3, Time: 50.127, SNR: 7.2, Phase: 1.1,
			NewSNR: 7.0, ReducedChisq: 1.3, SGChisq: 1.0, PSDVar: 1.00},
	}
	if err := store.InsertBatch(runID, in); err != nil {
		t.Fatalf("InsertBatch() error: %v", err)
	}

	h1, err := store.ListByRun(runID, "H1")
	if err != nil {
		t.Fatalf("ListByRun() error: %v", err)
	}
	if len(h1) != 2 {
		t.Fatalf("got %d H1 triggers, want 2", len(h1))
	}
	// Ordered by time.
	if h1[0].TemplateID != 7 || h1[1].TemplateID != 3 {
		t.Errorf("unexpected order: %+v", h1)
	}
	if h1[1].SNR != 8.5 || h1[1].Phase != 1.2 {
		t.Errorf("round-trip mismatch: %+v", h1[1])
	}

	// Unknown run yields no rows, not an error.
	none, err := store.ListByRun("missing", "H1")
	if err != nil {
		t.Fatalf("ListByRun() error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no triggers, got %d", len(none))
	}
}

func TestEventStoreRoundTrip(t *testing.T) {
	db := testDB(t)
	m := NewRunManager(db, nil)
	runID, err := m.StartRun(0, 100, []string{"H1", "L1"}, "")
	if err != nil {
		t.Fatalf("StartRun() error: %v", err)
	}

	combined := &statmap.Combined{
		Events: []statmap.RankedEvent{
			{Combo: "H1L1", FAR: 1e-6, Removed: true,
				Event: coinc.Event{TemplateID: 3, Time: 50.125, Stat: 22.5}},
			{Combo: "H1L1", FAR: 2e-4,
				Event: coinc.Event{TemplateID: 9, Time: 71.0, Stat: 9.8}},
		},
	}
	store := NewEventStore(db)
	if err := store.InsertCombined(runID, combined); err != nil {
		t.Fatalf("InsertCombined() error: %v", err)
	}

	rows, err := store.ListByRun(runID)
	if err != nil {
		t.Fatalf("ListByRun() error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].FAR != 1e-6 || !rows[0].Removed || rows[0].TemplateID != 3 {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
	if rows[1].Stat != 9.8 || rows[1].Removed {
		t.Errorf("unexpected second row: %+v", rows[1])
	}
}

func TestGapStore(t *testing.T) {
	db := testDB(t)
	m := NewRunManager(db, nil)
	runID, err := m.StartRun(0, 1000, []string{"H1", "L1"}, "")
	if err != nil {
		t.Fatalf("StartRun() error: %v", err)
	}

	store := NewGapStore(db)
	seg := strain.Segment{Start: 256, End: 512}
	if err := store.Insert(runID, "L1", seg, "psd", "insufficient data for 15 sub-segments"); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	gaps, err := store.ListByRun(runID)
	if err != nil {
		t.Fatalf("ListByRun() error: %v", err)
	}
	if len(gaps) != 1 {
		t.Fatalf("got %d gaps, want 1", len(gaps))
	}
	g := gaps[0]
	if g.Detector != "L1" || g.SegmentStart != 256 || g.Stage != "psd" {
		t.Errorf("unexpected gap row: %+v", g)
	}
}
