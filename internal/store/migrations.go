package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Runs table - one row per tracking or analysis run
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL CHECK(kind IN ('hands', 'body', 'analysis')),
			frames_dir TEXT NOT NULL DEFAULT '',
			output_dir TEXT NOT NULL,
			start_frame INTEGER NOT NULL DEFAULT 0,
			frame_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL CHECK(status IN ('running', 'completed', 'failed', 'stopped')),
			ratio_threshold REAL NOT NULL DEFAULT 0.01,
			targets TEXT NOT NULL DEFAULT '[]',
			error TEXT NOT NULL DEFAULT '',
			failed_frame INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		)`,

		// Frame statistics table - labeled pixel counts per frame of a run
		`CREATE TABLE IF NOT EXISTS frame_stats (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			frame_index INTEGER NOT NULL,
			labeled_pixels INTEGER NOT NULL,
			total_pixels INTEGER NOT NULL,
			ratio REAL NOT NULL,
			PRIMARY KEY (run_id, frame_index)
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_frame_stats_run_id ON frame_stats(run_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
