package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"anpr-recorder/internal/domain/anpr"
)

// MongoStore is the document backend: the fallback read side and the
// second leg of every dual write.
type MongoStore struct {
	detections *mongo.Collection
	segments   *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		detections: db.Collection("detections"),
		segments:   db.Collection("segments"),
	}
}

func (s *MongoStore) Name() string { return "mongo" }

type detectionDoc struct {
	ID              string           `bson:"_id"`
	CameraID        string           `bson:"camera_id"`
	EventTime       time.Time        `bson:"event_time"`
	Plate           string           `bson:"plate"`
	NormalizedPlate string           `bson:"normalized_plate"`
	Confidence      float64          `bson:"confidence"`
	PatternMatched  bool             `bson:"pattern_matched"`
	Pattern         string           `bson:"pattern,omitempty"`
	Box             anpr.BoundingBox `bson:"box"`
	SegmentID       *string          `bson:"segment_id,omitempty"`
	CreatedAt       time.Time        `bson:"created_at"`
}

type segmentDoc struct {
	ID           string     `bson:"_id"`
	CameraID     string     `bson:"camera_id"`
	FilePath     string     `bson:"file_path"`
	StartTime    time.Time  `bson:"start_time"`
	EndTime      *time.Time `bson:"end_time,omitempty"`
	Duration     float64    `bson:"duration_seconds"`
	FileSize     int64      `bson:"file_size"`
	State        string     `bson:"state"`
	DetectionIDs []string   `bson:"detection_ids"`
	CreatedAt    time.Time  `bson:"created_at"`
}

func (s *MongoStore) SaveDetection(ctx context.Context, det *anpr.Detection) error {
	doc := detectionDoc{
		ID:              det.ID,
		CameraID:        det.CameraID,
		EventTime:       det.Timestamp,
		Plate:           det.Plate,
		NormalizedPlate: det.NormalizedPlate,
		Confidence:      det.Confidence,
		PatternMatched:  det.PatternMatched,
		Pattern:         det.Pattern,
		Box:             det.Box,
		SegmentID:       det.SegmentID,
		CreatedAt:       det.CreatedAt,
	}
	_, err := s.detections.ReplaceOne(ctx, bson.M{"_id": det.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert detection document: %w", err)
	}
	return nil
}

func (s *MongoStore) SaveSegment(ctx context.Context, seg *anpr.VideoSegment) error {
	doc := segmentDoc{
		ID:           seg.ID,
		CameraID:     seg.CameraID,
		FilePath:     seg.FilePath,
		StartTime:    seg.StartTime,
		Duration:     seg.Duration,
		FileSize:     seg.FileSize,
		State:        string(seg.State),
		DetectionIDs: seg.DetectionIDs,
		CreatedAt:    seg.CreatedAt,
	}
	if !seg.EndTime.IsZero() {
		endTime := seg.EndTime
		doc.EndTime = &endTime
	}
	_, err := s.segments.ReplaceOne(ctx, bson.M{"_id": seg.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert segment document: %w", err)
	}
	return nil
}

func (s *MongoStore) GetDetection(ctx context.Context, id string) (*anpr.Detection, error) {
	var doc detectionDoc
	err := s.detections.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	det := doc.toDomain()
	return &det, nil
}

func (s *MongoStore) GetSegment(ctx context.Context, id string) (*anpr.VideoSegment, error) {
	var doc segmentDoc
	err := s.segments.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	seg := doc.toDomain()
	return &seg, nil
}

func (doc detectionDoc) toDomain() anpr.Detection {
	return anpr.Detection{
		ID:              doc.ID,
		CameraID:        doc.CameraID,
		Timestamp:       doc.EventTime,
		Plate:           doc.Plate,
		NormalizedPlate: doc.NormalizedPlate,
		Confidence:      doc.Confidence,
		PatternMatched:  doc.PatternMatched,
		Pattern:         doc.Pattern,
		Box:             doc.Box,
		SegmentID:       doc.SegmentID,
		CreatedAt:       doc.CreatedAt,
	}
}

func (doc segmentDoc) toDomain() anpr.VideoSegment {
	seg := anpr.VideoSegment{
		ID:           doc.ID,
		CameraID:     doc.CameraID,
		FilePath:     doc.FilePath,
		StartTime:    doc.StartTime,
		Duration:     doc.Duration,
		FileSize:     doc.FileSize,
		State:        anpr.SegmentState(doc.State),
		DetectionIDs: doc.DetectionIDs,
	}
	seg.CreatedAt = doc.CreatedAt
	if doc.EndTime != nil {
		seg.EndTime = *doc.EndTime
	}
	return seg
}

func (s *MongoStore) QueryDetections(ctx context.Context, f DetectionFilter) ([]anpr.Detection, error) {
	filter := bson.M{}
	if f.CameraID != "" {
		filter["camera_id"] = f.CameraID
	}
	if f.Plate != "" {
		filter["normalized_plate"] = f.Plate
	}
	if f.MinConfidence > 0 {
		filter["confidence"] = bson.M{"$gte": f.MinConfidence}
	}
	if timeRange := timeRangeFilter(f.From, f.To); timeRange != nil {
		filter["event_time"] = timeRange
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "event_time", Value: -1}}).
		SetLimit(int64(clampLimit(f.Limit))).
		SetSkip(int64(f.Offset))

	cur, err := s.detections.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []anpr.Detection
	for cur.Next(ctx) {
		var doc detectionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toDomain())
	}
	return out, cur.Err()
}

func (s *MongoStore) QuerySegments(ctx context.Context, f SegmentFilter) ([]anpr.VideoSegment, error) {
	filter := bson.M{}
	if f.CameraID != "" {
		filter["camera_id"] = f.CameraID
	}
	if f.State != "" {
		filter["state"] = string(f.State)
	}
	if timeRange := timeRangeFilter(f.From, f.To); timeRange != nil {
		filter["start_time"] = timeRange
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: -1}}).
		SetLimit(int64(clampLimit(f.Limit))).
		SetSkip(int64(f.Offset))

	cur, err := s.segments.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []anpr.VideoSegment
	for cur.Next(ctx) {
		var doc segmentDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toDomain())
	}
	return out, cur.Err()
}

func (s *MongoStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.detections.DeleteMany(ctx, bson.M{"event_time": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	deleted := res.DeletedCount

	res, err = s.segments.DeleteMany(ctx, bson.M{"start_time": bson.M{"$lt": cutoff}})
	if err != nil {
		return deleted, err
	}
	return deleted + res.DeletedCount, nil
}

func timeRangeFilter(from, to time.Time) bson.M {
	m := bson.M{}
	if !from.IsZero() {
		m["$gte"] = from
	}
	if !to.IsZero() {
		m["$lte"] = to
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
