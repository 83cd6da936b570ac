package storage

import (
	"fixhunt/internal/fixchain"
)

const defaultBatchSize = 64

// Recorder is a fixchain.Reporter that appends events to a run. Events
// are written in batches; Flush must be called once the run is over.
type Recorder struct {
	db        *DB
	runID     string
	seq       int
	batch     []fixchain.Event
	batchSize int
}

// NewRecorder creates a recorder for an existing run
func NewRecorder(db *DB, runID string) *Recorder {
	return &Recorder{
		db:        db,
		runID:     runID,
		batchSize: defaultBatchSize,
	}
}

// Report buffers ev and writes the batch when it is full
func (r *Recorder) Report(ev fixchain.Event) error {
	r.batch = append(r.batch, ev)
	if len(r.batch) >= r.batchSize {
		return r.Flush()
	}
	return nil
}

// Flush writes any buffered events
func (r *Recorder) Flush() error {
	if len(r.batch) == 0 {
		return nil
	}
	if err := r.db.InsertEvents(r.runID, r.seq, r.batch); err != nil {
		return err
	}
	r.seq += len(r.batch)
	r.batch = r.batch[:0]
	return nil
}

// Count returns how many events have been reported so far
func (r *Recorder) Count() int {
	return r.seq + len(r.batch)
}
