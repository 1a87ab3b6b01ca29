package db

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/gwsearch/internal/timeutil"
)

// SearchRun is one persisted analysis run over a time range.
type SearchRun struct {
	RunID       string   `json:"run_id"`
	CreatedAt   int64    `json:"created_at"`
	StartTime   float64  `json:"start_time"`
	EndTime     float64  `json:"end_time"`
	Detectors   []string `json:"detectors"`
	ConfigJSON  string   `json:"config_json,omitempty"`
	Status      string   `json:"status"`
	Error       string   `json:"error,omitempty"`
	CompletedAt int64    `json:"completed_at,omitempty"`
}

// RunManager coordinates the run lifecycle. Safe for concurrent use.
type RunManager struct {
	mu    sync.Mutex
	db    *DB
	clock timeutil.Clock

	currentRunID string
}

// NewRunManager creates a manager recording runs into db.
func NewRunManager(db *DB, clock timeutil.Clock) *RunManager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RunManager{db: db, clock: clock}
}

// StartRun records a new run and returns its ID for downstream writes.
func (m *RunManager) StartRun(start, end float64, detectors []string, configJSON string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runID := uuid.New().String()
	err := retryOnBusy(func() error {
		_, err := m.db.Exec(`
			INSERT INTO search_runs (
				run_id, created_at, start_time, end_time, detectors,
				config_json, status
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, m.clock.Now().UnixNano(), start, end,
			strings.Join(detectors, ","), configJSON, "running",
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	m.currentRunID = runID
	return runID, nil
}

// CurrentRunID returns the run started by the most recent StartRun, or "".
func (m *RunManager) CurrentRunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentRunID
}

// CompleteRun marks a run finished.
func (m *RunManager) CompleteRun(runID string) error {
	return m.finishRun(runID, "completed", "")
}

// FailRun marks a run failed with the given cause.
func (m *RunManager) FailRun(runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return m.finishRun(runID, "failed", msg)
}

func (m *RunManager) finishRun(runID, status, errMsg string) error {
	err := retryOnBusy(func() error {
		res, err := m.db.Exec(`
			UPDATE search_runs SET status = ?, error = ?, completed_at = ?
			WHERE run_id = ?`,
			status, errMsg, m.clock.Now().UnixNano(), runID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("run %s not found", runID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRun loads one run by ID.
func (m *RunManager) GetRun(runID string) (*SearchRun, error) {
	row := m.db.QueryRow(`
		SELECT run_id, created_at, start_time, end_time, detectors,
		       config_json, status, error, completed_at
		FROM search_runs WHERE run_id = ?`, runID)

	var r SearchRun
	var detectors string
	var configJSON, errMsg sql.NullString
	var completedAt sql.NullInt64
	err := row.Scan(&r.RunID, &r.CreatedAt, &r.StartTime, &r.EndTime,
		&detectors, &configJSON, &r.Status, &errMsg, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if detectors != "" {
		r.Detectors = strings.Split(detectors, ",")
	}
	r.ConfigJSON = configJSON.String
	r.Error = errMsg.String
	r.CompletedAt = completedAt.Int64
	return &r, nil
}
