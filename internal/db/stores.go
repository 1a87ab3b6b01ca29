package db

import (
	"fmt"

	"github.com/banshee-data/gwsearch/internal/statmap"
	"github.com/banshee-data/gwsearch/internal/strain"
	"github.com/banshee-data/gwsearch/internal/triggers"
)

// TriggerStore persists single-detector triggers.
type TriggerStore struct {
	db *DB
}

func NewTriggerStore(db *DB) *TriggerStore {
	return &TriggerStore{db: db}
}

// InsertBatch writes one detector's triggers for a run in a single
// transaction.
func (s *TriggerStore) InsertBatch(runID string, trigs []triggers.Trigger) error {
	if len(trigs) == 0 {
		return nil
	}
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO triggers (
				run_id, detector, template_id, time, snr, phase,
				newsnr, chisq, sg_chisq, psd_var
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range trigs {
			if _, err := stmt.Exec(runID, t.Detector, t.TemplateID, t.Time,
				t.SNR, t.Phase, t.NewSNR, t.ReducedChisq, t.SGChisq, t.PSDVar); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ListByRun returns a run's triggers for one detector ordered by time.
func (s *TriggerStore) ListByRun(runID, detector string) ([]triggers.Trigger, error) {
	rows, err := s.db.Query(`
		SELECT detector, template_id, time, snr, phase, newsnr,
		       chisq, sg_chisq, psd_var
		FROM triggers
		WHERE run_id = ? AND detector = ?
		ORDER BY time`, runID, detector)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	var out []triggers.Trigger
	for rows.Next() {
		var t triggers.Trigger
		if err := rows.Scan(&t.Detector, &t.TemplateID, &t.Time, &t.SNR,
			&t.Phase, &t.NewSNR, &t.ReducedChisq, &t.SGChisq, &t.PSDVar); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RankedRow is one row of the persisted combined statmap.
type RankedRow struct {
	Combo      string  `json:"combo"`
	TemplateID int     `json:"template_id"`
	Time       float64 `json:"time"`
	Stat       float64 `json:"stat"`
	FAR        float64 `json:"far"`
	Removed    bool    `json:"removed"`
}

// EventStore persists the final combined statmap.
type EventStore struct {
	db *DB
}

func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// InsertCombined writes the ranked foreground events of a run.
func (s *EventStore) InsertCombined(runID string, combined *statmap.Combined) error {
	if combined == nil || len(combined.Events) == 0 {
		return nil
	}
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO statmap_events (
				run_id, combo, template_id, time, stat, far, removed
			) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range combined.Events {
			if _, err := stmt.Exec(runID, e.Combo, e.Event.TemplateID,
				e.Event.Time, e.Event.Stat, e.FAR, e.Removed); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ListByRun returns a run's ranked events ordered by FAR.
func (s *EventStore) ListByRun(runID string) ([]RankedRow, error) {
	rows, err := s.db.Query(`
		SELECT combo, template_id, time, stat, far, removed
		FROM statmap_events
		WHERE run_id = ?
		ORDER BY far, stat DESC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query statmap events: %w", err)
	}
	defer rows.Close()

	var out []RankedRow
	for rows.Next() {
		var r RankedRow
		if err := rows.Scan(&r.Combo, &r.TemplateID, &r.Time, &r.Stat,
			&r.FAR, &r.Removed); err != nil {
			return nil, fmt.Errorf("scan statmap event: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MissingOutput labels a unit that produced no results, so a gap in the
// final statmap is attributable rather than silent.
type MissingOutput struct {
	Detector     string  `json:"detector"`
	SegmentStart float64 `json:"segment_start"`
	SegmentEnd   float64 `json:"segment_end"`
	Stage        string  `json:"stage"`
	Reason       string  `json:"reason"`
}

// GapStore persists missing-output labels.
type GapStore struct {
	db *DB
}

func NewGapStore(db *DB) *GapStore {
	return &GapStore{db: db}
}

// Insert records one missing output for a run.
func (s *GapStore) Insert(runID, detector string, seg strain.Segment, stage, reason string) error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO missing_outputs (
				run_id, detector, segment_start, segment_end, stage, reason
			) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, detector, seg.Start, seg.End, stage, reason)
		return err
	})
}

// ListByRun returns a run's missing outputs ordered by segment start.
func (s *GapStore) ListByRun(runID string) ([]MissingOutput, error) {
	rows, err := s.db.Query(`
		SELECT detector, segment_start, segment_end, stage, reason
		FROM missing_outputs
		WHERE run_id = ?
		ORDER BY segment_start`, runID)
	if err != nil {
		return nil, fmt.Errorf("query missing outputs: %w", err)
	}
	defer rows.Close()

	var out []MissingOutput
	for rows.Next() {
		var g MissingOutput
		if err := rows.Scan(&g.Detector, &g.SegmentStart, &g.SegmentEnd,
			&g.Stage, &g.Reason); err != nil {
			return nil, fmt.Errorf("scan missing output: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
