package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"anpr-recorder/internal/domain/anpr"
)

// PostgresStore is the relational backend, the preferred side for reads.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Name() string { return "postgres" }

type detectionRow struct {
	ID              string `gorm:"primaryKey"`
	CameraID        string `gorm:"not null"`
	EventTime       time.Time
	Plate           string
	NormalizedPlate string
	Confidence      float64
	PatternMatched  bool
	Pattern         *string
	Box             datatypes.JSON
	SegmentID       *string
	CreatedAt       time.Time
}

func (detectionRow) TableName() string { return "detections" }

type videoSegmentRow struct {
	ID           string `gorm:"primaryKey"`
	CameraID     string `gorm:"not null"`
	FilePath     string
	StartTime    time.Time
	EndTime      *time.Time
	Duration     float64
	FileSize     int64
	State        string
	DetectionIDs datatypes.JSON
	CreatedAt    time.Time
}

func (videoSegmentRow) TableName() string { return "video_segments" }

func toDetectionRow(det *anpr.Detection) (detectionRow, error) {
	box, err := json.Marshal(det.Box)
	if err != nil {
		return detectionRow{}, fmt.Errorf("marshal bounding box: %w", err)
	}
	row := detectionRow{
		ID:              det.ID,
		CameraID:        det.CameraID,
		EventTime:       det.Timestamp,
		Plate:           det.Plate,
		NormalizedPlate: det.NormalizedPlate,
		Confidence:      det.Confidence,
		PatternMatched:  det.PatternMatched,
		Box:             box,
		SegmentID:       det.SegmentID,
		CreatedAt:       det.CreatedAt,
	}
	if det.Pattern != "" {
		row.Pattern = &det.Pattern
	}
	return row, nil
}

func (row detectionRow) toDomain() (anpr.Detection, error) {
	det := anpr.Detection{
		ID:              row.ID,
		CameraID:        row.CameraID,
		Timestamp:       row.EventTime,
		Plate:           row.Plate,
		NormalizedPlate: row.NormalizedPlate,
		Confidence:      row.Confidence,
		PatternMatched:  row.PatternMatched,
		SegmentID:       row.SegmentID,
		CreatedAt:       row.CreatedAt,
	}
	if row.Pattern != nil {
		det.Pattern = *row.Pattern
	}
	if len(row.Box) > 0 {
		if err := json.Unmarshal(row.Box, &det.Box); err != nil {
			return det, fmt.Errorf("unmarshal bounding box: %w", err)
		}
	}
	return det, nil
}

func toSegmentRow(seg *anpr.VideoSegment) (videoSegmentRow, error) {
	ids, err := json.Marshal(seg.DetectionIDs)
	if err != nil {
		return videoSegmentRow{}, fmt.Errorf("marshal detection ids: %w", err)
	}
	row := videoSegmentRow{
		ID:           seg.ID,
		CameraID:     seg.CameraID,
		FilePath:     seg.FilePath,
		StartTime:    seg.StartTime,
		Duration:     seg.Duration,
		FileSize:     seg.FileSize,
		State:        string(seg.State),
		DetectionIDs: ids,
		CreatedAt:    seg.CreatedAt,
	}
	if !seg.EndTime.IsZero() {
		endTime := seg.EndTime
		row.EndTime = &endTime
	}
	return row, nil
}

func (row videoSegmentRow) toDomain() (anpr.VideoSegment, error) {
	seg := anpr.VideoSegment{
		ID:        row.ID,
		CameraID:  row.CameraID,
		FilePath:  row.FilePath,
		StartTime: row.StartTime,
		Duration:  row.Duration,
		FileSize:  row.FileSize,
		State:     anpr.SegmentState(row.State),
		CreatedAt: row.CreatedAt,
	}
	if row.EndTime != nil {
		seg.EndTime = *row.EndTime
	}
	if len(row.DetectionIDs) > 0 {
		if err := json.Unmarshal(row.DetectionIDs, &seg.DetectionIDs); err != nil {
			return seg, fmt.Errorf("unmarshal detection ids: %w", err)
		}
	}
	return seg, nil
}

func (s *PostgresStore) SaveDetection(ctx context.Context, det *anpr.Detection) error {
	row, err := toDetectionRow(det)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert detection: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSegment(ctx context.Context, seg *anpr.VideoSegment) error {
	row, err := toSegmentRow(seg)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert segment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDetection(ctx context.Context, id string) (*anpr.Detection, error) {
	var row detectionRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	det, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &det, nil
}

func (s *PostgresStore) GetSegment(ctx context.Context, id string) (*anpr.VideoSegment, error) {
	var row videoSegmentRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	seg, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &seg, nil
}

func (s *PostgresStore) QueryDetections(ctx context.Context, f DetectionFilter) ([]anpr.Detection, error) {
	query := s.db.WithContext(ctx).Model(&detectionRow{})

	if f.CameraID != "" {
		query = query.Where("camera_id = ?", f.CameraID)
	}
	if !f.From.IsZero() {
		query = query.Where("event_time >= ?", f.From)
	}
	if !f.To.IsZero() {
		query = query.Where("event_time <= ?", f.To)
	}
	if f.MinConfidence > 0 {
		query = query.Where("confidence >= ?", f.MinConfidence)
	}
	if f.Plate != "" {
		query = query.Where("normalized_plate = ?", f.Plate)
	}

	query = query.Order("event_time DESC").Limit(clampLimit(f.Limit))
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	var rows []detectionRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]anpr.Detection, 0, len(rows))
	for _, row := range rows {
		det, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, det)
	}
	return out, nil
}

func (s *PostgresStore) QuerySegments(ctx context.Context, f SegmentFilter) ([]anpr.VideoSegment, error) {
	query := s.db.WithContext(ctx).Model(&videoSegmentRow{})

	if f.CameraID != "" {
		query = query.Where("camera_id = ?", f.CameraID)
	}
	if !f.From.IsZero() {
		query = query.Where("start_time >= ?", f.From)
	}
	if !f.To.IsZero() {
		query = query.Where("start_time <= ?", f.To)
	}
	if f.State != "" {
		query = query.Where("state = ?", string(f.State))
	}

	query = query.Order("start_time DESC").Limit(clampLimit(f.Limit))
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	var rows []videoSegmentRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]anpr.VideoSegment, 0, len(rows))
	for _, row := range rows {
		seg, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("event_time < ?", cutoff).Delete(&detectionRow{})
	if res.Error != nil {
		return 0, res.Error
	}
	deleted := res.RowsAffected

	res = s.db.WithContext(ctx).Where("start_time < ?", cutoff).Delete(&videoSegmentRow{})
	if res.Error != nil {
		return deleted, res.Error
	}
	return deleted + res.RowsAffected, nil
}
