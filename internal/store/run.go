package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Run is one invocation of the tracker over a media file.
type Run struct {
	ID         string
	MediaPath  string
	Dictionary string
	MarkerSize float64
	Focal      float64
	StartFrame int
	EndFrame   int
	Frames     int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Finished reports whether the run completed.
func (r *Run) Finished() bool {
	return r.FinishedAt != nil
}

// RunRepository provides CRUD operations for runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a new run. An ID is generated if r.ID is empty.
func (r *RunRepository) Create(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.StartedAt = time.Now().UTC()

	_, err := r.db.Exec(
		`INSERT INTO runs (id, media_path, dictionary, marker_size, focal, start_frame, end_frame, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.MediaPath, run.Dictionary, run.MarkerSize, run.Focal, run.StartFrame, run.EndFrame, run.StartedAt,
	)
	return err
}

// Finish records the number of frames processed and the completion time.
func (r *RunRepository) Finish(id string, frames int) error {
	result, err := r.db.Exec(
		`UPDATE runs SET frames = ?, finished_at = ? WHERE id = ?`,
		frames, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	row := r.db.QueryRow(
		`SELECT id, media_path, dictionary, marker_size, focal, start_frame, end_frame, frames, started_at, finished_at
		 FROM runs WHERE id = ?`,
		id,
	)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List retrieves all runs, most recent first.
func (r *RunRepository) List() ([]*Run, error) {
	rows, err := r.db.Query(
		`SELECT id, media_path, dictionary, marker_size, focal, start_frame, end_frame, frames, started_at, finished_at
		 FROM runs ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// Delete removes a run and everything recorded for it.
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	run := &Run{}
	var finished sql.NullTime

	err := s.Scan(&run.ID, &run.MediaPath, &run.Dictionary, &run.MarkerSize, &run.Focal,
		&run.StartFrame, &run.EndFrame, &run.Frames, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}
