package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fixhunt/internal/backends"
	"fixhunt/internal/fixchain"
)

// RunStatus is the lifecycle state of a recorded run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// Run is one recorded fixhunt invocation
type Run struct {
	ID           string     `json:"id" yaml:"id"`
	StartedAt    time.Time  `json:"startedAt" yaml:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
	Status       RunStatus  `json:"status" yaml:"status"`
	Repo         string     `json:"repo" yaml:"repo"`
	Head         string     `json:"head,omitempty" yaml:"head,omitempty"`
	Backend      string     `json:"backend" yaml:"backend"`
	SubjectsFile string     `json:"subjectsFile,omitempty" yaml:"subjectsFile,omitempty"`
	OptionsJSON  string     `json:"options,omitempty" yaml:"options,omitempty"`
	Subjects     int        `json:"subjects" yaml:"subjects"`
	Found        int        `json:"found" yaml:"found"`
	NotFound     int        `json:"notFound" yaml:"notFound"`
	Fixers       int        `json:"fixers" yaml:"fixers"`
	BranchErrors int        `json:"branchErrors" yaml:"branchErrors"`
	ElapsedMs    int64      `json:"elapsedMs" yaml:"elapsedMs"`
}

// RecordedEvent is an event together with the run that produced it
type RecordedEvent struct {
	RunID string `json:"runId" yaml:"runId"`
	Seq   int    `json:"seq" yaml:"seq"`

	fixchain.Event `yaml:",inline"`
}

const runColumns = `id, started_at, finished_at, status, repo, head, backend, subjects_file,
	options_json, subjects, found, not_found, fixers, branch_errors, elapsed_ms`

// CreateRun inserts run with status running, assigning an ID and start
// time when they are unset
func (db *DB) CreateRun(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = RunRunning

	_, err := db.conn.Exec(`
		INSERT INTO runs (id, started_at, status, repo, head, backend, subjects_file, options_json, subjects)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, formatTime(run.StartedAt), run.Status, run.Repo, run.Head, run.Backend,
		run.SubjectsFile, run.OptionsJSON, run.Subjects)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun stores the final tallies and status of a run
func (db *DB) FinishRun(id string, summary *fixchain.Summary, status RunStatus) error {
	if summary == nil {
		summary = &fixchain.Summary{}
	}
	res, err := db.conn.Exec(`
		UPDATE runs SET finished_at = ?, status = ?, found = ?, not_found = ?,
			fixers = ?, branch_errors = ?, elapsed_ms = ?
		WHERE id = ?
	`, formatTime(time.Now().UTC()), status, summary.Found, summary.NotFound,
		summary.Fixers, summary.BranchErrors, summary.Elapsed.Milliseconds(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// GetRun returns a run by ID or by unique ID prefix
func (db *DB) GetRun(id string) (*Run, error) {
	if id == "" {
		return nil, fmt.Errorf("run id is required")
	}
	rows, err := db.conn.Query(`SELECT `+runColumns+` FROM runs WHERE substr(id, 1, ?) = ? LIMIT 2`, len(id), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	switch len(runs) {
	case 0:
		return nil, fmt.Errorf("run %s not found", id)
	case 1:
		return &runs[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %s is ambiguous", id)
	}
}

// ListRuns returns the most recent runs first; limit <= 0 means all
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.conn.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// PruneRuns deletes runs started before cutoff together with their events
func (db *DB) PruneRuns(cutoff time.Time) (int64, error) {
	var deleted int64
	err := db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			DELETE FROM run_events WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)
		`, formatTime(cutoff.UTC())); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM runs WHERE started_at < ?`, formatTime(cutoff.UTC()))
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return deleted, nil
}

// InsertEvents appends events to a run starting at sequence number seq
func (db *DB) InsertEvents(runID string, seq int, events []fixchain.Event) error {
	return db.WithTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO run_events (run_id, seq, kind, subject, hash, parent, title, depth, message, code)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, ev := range events {
			if _, err := stmt.Exec(runID, seq+i, ev.Kind, ev.Subject, ev.Hash, ev.Parent,
				ev.Title, ev.Depth, ev.Message, ev.Code); err != nil {
				return fmt.Errorf("failed to insert event: %w", err)
			}
		}
		return nil
	})
}

// RunEvents returns the events of a run in the order they were reported
func (db *DB) RunEvents(runID string) ([]RecordedEvent, error) {
	rows, err := db.conn.Query(`
		SELECT run_id, seq, kind, subject, hash, parent, title, depth, message, code
		FROM run_events WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// FindCommit returns every recorded event naming a commit whose hash
// starts with prefix, either as the reported commit or as its parent.
// prefix must be hexadecimal.
func (db *DB) FindCommit(prefix string) ([]RecordedEvent, error) {
	if !backends.IsHex(prefix) {
		return nil, fmt.Errorf("commit prefix %q is not a hexadecimal hash", prefix)
	}
	prefix = strings.ToLower(prefix)
	rows, err := db.conn.Query(`
		SELECT e.run_id, e.seq, e.kind, e.subject, e.hash, e.parent, e.title, e.depth, e.message, e.code
		FROM run_events e JOIN runs r ON r.id = e.run_id
		WHERE substr(e.hash, 1, ?) = ? OR substr(e.parent, 1, ?) = ?
		ORDER BY r.started_at DESC, e.seq
	`, len(prefix), prefix, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to search events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var (
			r                          Run
			started                    string
			finished, head, file, opts sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Status, &r.Repo, &head, &r.Backend, &file,
			&opts, &r.Subjects, &r.Found, &r.NotFound, &r.Fixers, &r.BranchErrors, &r.ElapsedMs); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		if finished.Valid {
			t := parseTime(finished.String)
			r.FinishedAt = &t
		}
		r.Head = head.String
		r.SubjectsFile = file.String
		r.OptionsJSON = opts.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]RecordedEvent, error) {
	var events []RecordedEvent
	for rows.Next() {
		var (
			ev                                 RecordedEvent
			hash, parent, title, message, code sql.NullString
		)
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Kind, &ev.Subject, &hash, &parent, &title,
			&ev.Depth, &message, &code); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Hash = hash.String
		ev.Parent = parent.String
		ev.Title = title.String
		ev.Message = message.String
		ev.Code = code.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// timeLayout is fixed width so stored timestamps sort chronologically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
