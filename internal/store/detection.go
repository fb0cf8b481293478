package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ayusman/fidtrack/internal/marker"
)

// FrameDetection is a stored detection and the frame it was seen in.
type FrameDetection struct {
	FrameID   int
	Detection marker.Detection
}

// DetectionRepository stores per-frame detections.
type DetectionRepository struct {
	db *sql.DB
}

// Detections returns the detection repository for this store.
func (s *Store) Detections() *DetectionRepository {
	return &DetectionRepository{db: s.db}
}

// SaveFrame stores a frame and its detections in a single transaction.
// Saving the same frame twice replaces the earlier record.
func (r *DetectionRepository) SaveFrame(runID string, rec marker.FrameRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM frames WHERE run_id = ? AND frame_id = ?`, runID, rec.FrameID); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO frames (run_id, frame_id, markers) VALUES (?, ?, ?)`,
		runID, rec.FrameID, len(rec.Detections),
	); err != nil {
		return fmt.Errorf("insert frame %d: %w", rec.FrameID, err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO detections (run_id, frame_id, marker_id, seq, corners, poses,
		 rvec_x, rvec_y, rvec_z, tvec_x, tvec_y, tvec_z, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, d := range rec.Detections {
		corners, err := json.Marshal(d.Corners)
		if err != nil {
			return err
		}
		poses, err := json.Marshal(d.Poses)
		if err != nil {
			return err
		}

		best := d.Best()
		if _, err := stmt.Exec(
			runID, rec.FrameID, d.MarkerID, i, string(corners), string(poses),
			best.Rotation[0], best.Rotation[1], best.Rotation[2],
			best.Translation[0], best.Translation[1], best.Translation[2],
			best.Error,
		); err != nil {
			return fmt.Errorf("insert marker %d in frame %d: %w", d.MarkerID, rec.FrameID, err)
		}
	}

	return tx.Commit()
}

// ListByFrame returns the detections of one frame in emission order.
func (r *DetectionRepository) ListByFrame(runID string, frameID int) ([]marker.Detection, error) {
	rows, err := r.db.Query(
		`SELECT frame_id, marker_id, corners, poses FROM detections
		 WHERE run_id = ? AND frame_id = ? ORDER BY seq`,
		runID, frameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []marker.Detection
	for rows.Next() {
		fd, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fd.Detection)
	}

	return out, rows.Err()
}

// ListByMarker returns every sighting of a marker ID in frame order.
func (r *DetectionRepository) ListByMarker(runID string, markerID int) ([]FrameDetection, error) {
	rows, err := r.db.Query(
		`SELECT frame_id, marker_id, corners, poses FROM detections
		 WHERE run_id = ? AND marker_id = ? ORDER BY frame_id, seq`,
		runID, markerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FrameDetection
	for rows.Next() {
		fd, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fd)
	}

	return out, rows.Err()
}

// FrameIDs returns the stored frame indices of a run in order.
func (r *DetectionRepository) FrameIDs(runID string) ([]int, error) {
	rows, err := r.db.Query(`SELECT frame_id FROM frames WHERE run_id = ? ORDER BY frame_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func scanDetection(s scanner) (FrameDetection, error) {
	var (
		fd      FrameDetection
		corners string
		poses   string
	)
	if err := s.Scan(&fd.FrameID, &fd.Detection.MarkerID, &corners, &poses); err != nil {
		return fd, err
	}
	if err := json.Unmarshal([]byte(corners), &fd.Detection.Corners); err != nil {
		return fd, fmt.Errorf("decode corners: %w", err)
	}
	if err := json.Unmarshal([]byte(poses), &fd.Detection.Poses); err != nil {
		return fd, fmt.Errorf("decode poses: %w", err)
	}
	return fd, nil
}
