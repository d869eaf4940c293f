package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS detections (
		id               UUID PRIMARY KEY,
		camera_id        TEXT NOT NULL,
		event_time       TIMESTAMPTZ NOT NULL,
		plate            TEXT NOT NULL,
		normalized_plate TEXT NOT NULL,
		confidence       NUMERIC(5,4) NOT NULL,
		pattern_matched  BOOLEAN NOT NULL DEFAULT FALSE,
		pattern          TEXT,
		box              JSONB,
		segment_id       UUID,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_detections_camera_time ON detections(camera_id, event_time);`,
	`CREATE INDEX IF NOT EXISTS idx_detections_plate ON detections(normalized_plate);`,
	`CREATE INDEX IF NOT EXISTS idx_detections_confidence ON detections(confidence);`,
	`CREATE TABLE IF NOT EXISTS video_segments (
		id            UUID PRIMARY KEY,
		camera_id     TEXT NOT NULL,
		file_path     TEXT NOT NULL,
		start_time    TIMESTAMPTZ NOT NULL,
		end_time      TIMESTAMPTZ,
		duration      DOUBLE PRECISION NOT NULL DEFAULT 0,
		file_size     BIGINT NOT NULL DEFAULT 0,
		state         TEXT NOT NULL,
		detection_ids JSONB,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_video_segments_camera_time ON video_segments(camera_id, start_time);`,
	`CREATE INDEX IF NOT EXISTS idx_video_segments_state ON video_segments(state);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
