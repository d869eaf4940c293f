package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"anpr-recorder/internal/domain/anpr"
	"anpr-recorder/internal/repository"
	"anpr-recorder/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// Repository is the metadata surface the service queries. Satisfied by
// the dual store.
type Repository interface {
	GetDetection(ctx context.Context, id string) (*anpr.Detection, error)
	GetSegment(ctx context.Context, id string) (*anpr.VideoSegment, error)
	QueryDetections(ctx context.Context, f repository.DetectionFilter) ([]anpr.Detection, error)
	QuerySegments(ctx context.Context, f repository.SegmentFilter) ([]anpr.VideoSegment, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Reconcile(ctx context.Context) int
	PendingCount() int
}

// StatusSource reports per-camera pipeline state. Satisfied by the
// pipeline.
type StatusSource interface {
	Status(cameraID string) (anpr.CameraStatus, bool)
	CameraIDs() []string
}

type ANPRService struct {
	repo   Repository
	status StatusSource
	log    zerolog.Logger
}

func NewANPRService(repo Repository, status StatusSource, log zerolog.Logger) *ANPRService {
	return &ANPRService{
		repo:   repo,
		status: status,
		log:    log,
	}
}

func (s *ANPRService) CameraStatus(cameraID string) (*anpr.CameraStatus, error) {
	if cameraID == "" {
		return nil, fmt.Errorf("%w: camera id is required", ErrInvalidInput)
	}
	status, ok := s.status.Status(cameraID)
	if !ok {
		return nil, fmt.Errorf("%w: camera %s", ErrNotFound, cameraID)
	}
	return &status, nil
}

func (s *ANPRService) CameraStatuses() []anpr.CameraStatus {
	ids := s.status.CameraIDs()
	out := make([]anpr.CameraStatus, 0, len(ids))
	for _, id := range ids {
		if status, ok := s.status.Status(id); ok {
			out = append(out, status)
		}
	}
	return out
}

func (s *ANPRService) FindDetections(ctx context.Context, cameraID string, plateQuery *string, from, to *string, minConfidence float64, limit, offset int) ([]anpr.Detection, error) {
	filter := repository.DetectionFilter{
		CameraID:      cameraID,
		MinConfidence: minConfidence,
		Limit:         limit,
		Offset:        offset,
	}

	if plateQuery != nil {
		normalized := utils.NormalizePlate(*plateQuery)
		if normalized == "" {
			return nil, fmt.Errorf("%w: plate query cannot be empty", ErrInvalidInput)
		}
		filter.Plate = normalized
	}

	var err error
	if filter.From, filter.To, err = parseTimeRange(from, to); err != nil {
		return nil, err
	}

	detections, err := s.repo.QueryDetections(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	return detections, nil
}

func (s *ANPRService) FindSegments(ctx context.Context, cameraID string, state *string, from, to *string, limit, offset int) ([]anpr.VideoSegment, error) {
	filter := repository.SegmentFilter{
		CameraID: cameraID,
		Limit:    limit,
		Offset:   offset,
	}

	if state != nil && *state != "" {
		switch anpr.SegmentState(*state) {
		case anpr.SegmentRecording, anpr.SegmentFinalized, anpr.SegmentFailed:
			filter.State = anpr.SegmentState(*state)
		default:
			return nil, fmt.Errorf("%w: unknown segment state %q", ErrInvalidInput, *state)
		}
	}

	var err error
	if filter.From, filter.To, err = parseTimeRange(from, to); err != nil {
		return nil, err
	}

	segments, err := s.repo.QuerySegments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	return segments, nil
}

func (s *ANPRService) GetSegment(ctx context.Context, id string) (*anpr.VideoSegment, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: segment id is required", ErrInvalidInput)
	}
	seg, err := s.repo.GetSegment(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: segment %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load segment: %w", err)
	}
	return seg, nil
}

// TriggerReconcile runs one reconciliation pass on demand.
func (s *ANPRService) TriggerReconcile(ctx context.Context) (pending, healed int) {
	pending = s.repo.PendingCount()
	healed = s.repo.Reconcile(ctx)
	if healed > 0 {
		s.log.Info().Int("healed", healed).Msg("manual reconciliation healed records")
	}
	return pending, healed
}

// CleanupOldRecords deletes detections and segments older than the given
// number of days.
func (s *ANPRService) CleanupOldRecords(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: days must be positive", ErrInvalidInput)
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old records")
		return deleted, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old records")
	}
	return deleted, nil
}

func parseTimeRange(from, to *string) (time.Time, time.Time, error) {
	var fromTime, toTime time.Time
	if from != nil && *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			return fromTime, toTime, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		fromTime = t
	}
	if to != nil && *to != "" {
		t, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			return fromTime, toTime, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
		}
		toTime = t
	}
	return fromTime, toTime, nil
}
