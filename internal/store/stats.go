package store

import (
	"database/sql"

	"github.com/ayusman/egomask/internal/presence"
)

// StatsRepository stores the per-frame statistics of runs.
type StatsRepository struct {
	db *sql.DB
}

// Stats returns the frame statistics repository for this store.
func (s *Store) Stats() *StatsRepository {
	return &StatsRepository{db: s.db}
}

// Add inserts frame statistics for a run in a single transaction.
// A frame recorded twice keeps the latest values.
func (r *StatsRepository) Add(runID string, stats []presence.FrameStatistics) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO frame_stats
		(run_id, frame_index, labeled_pixels, total_pixels, ratio) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, st := range stats {
		if _, err := stmt.Exec(runID, st.FrameIndex, st.LabeledPixels, st.TotalPixels, st.Ratio); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetByRunID retrieves the statistics of a run in frame order.
// HasTarget is not stored; use Summary to decide presence.
func (r *StatsRepository) GetByRunID(runID string) ([]presence.FrameStatistics, error) {
	rows, err := r.db.Query(
		`SELECT frame_index, labeled_pixels, total_pixels, ratio
		 FROM frame_stats
		 WHERE run_id = ?
		 ORDER BY frame_index`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []presence.FrameStatistics
	for rows.Next() {
		var st presence.FrameStatistics
		if err := rows.Scan(&st.FrameIndex, &st.LabeledPixels, &st.TotalPixels, &st.Ratio); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

// Summary re-evaluates the presence decision of a run from stored ratios.
func (r *StatsRepository) Summary(runID string, threshold float64) (*presence.RunSummary, error) {
	stats, err := r.GetByRunID(runID)
	if err != nil {
		return nil, err
	}
	return presence.Decide(stats, threshold)
}

// DeleteByRunID removes all statistics of a run.
func (r *StatsRepository) DeleteByRunID(runID string) error {
	_, err := r.db.Exec(`DELETE FROM frame_stats WHERE run_id = ?`, runID)
	return err
}
