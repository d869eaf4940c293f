package repository

import (
	"context"
	"errors"
	"time"

	"anpr-recorder/internal/domain/anpr"
)

var ErrNotFound = errors.New("record not found")

// DetectionFilter narrows detection queries. Zero values mean "no
// constraint".
type DetectionFilter struct {
	CameraID      string
	From          time.Time
	To            time.Time
	MinConfidence float64
	Plate         string
	Limit         int
	Offset        int
}

// SegmentFilter narrows segment queries.
type SegmentFilter struct {
	CameraID string
	From     time.Time
	To       time.Time
	State    anpr.SegmentState
	Limit    int
	Offset   int
}

// Store is the capability surface both metadata backends implement. All
// saves are idempotent upserts keyed by the record's uuid.
type Store interface {
	SaveDetection(ctx context.Context, det *anpr.Detection) error
	SaveSegment(ctx context.Context, seg *anpr.VideoSegment) error
	GetDetection(ctx context.Context, id string) (*anpr.Detection, error)
	GetSegment(ctx context.Context, id string) (*anpr.VideoSegment, error)
	QueryDetections(ctx context.Context, f DetectionFilter) ([]anpr.Detection, error)
	QuerySegments(ctx context.Context, f SegmentFilter) ([]anpr.VideoSegment, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Name() string
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 100 {
		return 100
	}
	return limit
}
