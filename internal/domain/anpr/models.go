package anpr

import (
	"time"
)

// BoundingBox is a pixel-space rectangle inside a frame.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (b BoundingBox) Area() int {
	return b.Width * b.Height
}

func (b BoundingBox) CenterX() float64 {
	return float64(b.X) + float64(b.Width)/2
}

// Frame is a single captured video frame. Immutable once created; the image
// payload is shared by reference between the rolling buffer and segment
// writers and must never be modified after construction.
type Frame struct {
	Sequence  uint64
	Timestamp time.Time
	CameraID  string
	Image     []byte
}

// RawTextCandidate is one OCR hypothesis for the text inside a plate region.
// Produced per frame, consumed by the scoring engine, never persisted as-is.
type RawTextCandidate struct {
	Text       string      `json:"text"`
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
}

// PlateRegion is one detector hit: a candidate plate area with the model's
// confidence for it.
type PlateRegion struct {
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
}

// Detection is one qualifying frame-level plate read. Immutable after
// creation except for SegmentID, which is backfilled once the recording
// state machine assigns the detection to a segment.
type Detection struct {
	ID              string      `json:"id"`
	CameraID        string      `json:"camera_id"`
	Timestamp       time.Time   `json:"timestamp"`
	Box             BoundingBox `json:"box"`
	Plate           string      `json:"plate"`
	NormalizedPlate string      `json:"normalized_plate"`
	Confidence      float64     `json:"confidence"`
	PatternMatched  bool        `json:"pattern_matched"`
	Pattern         string      `json:"pattern,omitempty"`
	SegmentID       *string     `json:"segment_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

type SegmentState string

const (
	SegmentRecording SegmentState = "RECORDING"
	SegmentFinalized SegmentState = "FINALIZED"
	SegmentFailed    SegmentState = "FAILED"
)

// VideoSegment is one recorded clip and its metadata. Mutated only by the
// owning per-camera state machine until it reaches a terminal state.
type VideoSegment struct {
	ID           string       `json:"id"`
	CameraID     string       `json:"camera_id"`
	FilePath     string       `json:"file_path"`
	StartTime    time.Time    `json:"start_time"`
	EndTime      time.Time    `json:"end_time"`
	Duration     float64      `json:"duration_seconds"`
	FileSize     int64        `json:"file_size"`
	State        SegmentState `json:"state"`
	DetectionIDs []string     `json:"detection_ids"`
	CreatedAt    time.Time    `json:"created_at"`
}

// CameraState mirrors the recording state machine for the status API.
type CameraState string

const (
	CameraIdle      CameraState = "IDLE"
	CameraRecording CameraState = "RECORDING"
	CameraFailed    CameraState = "FAILED"
)

// CameraStatus is the per-camera snapshot exposed to the API layer.
type CameraStatus struct {
	CameraID        string      `json:"camera_id"`
	State           CameraState `json:"state"`
	ActiveSegmentID *string     `json:"active_segment_id,omitempty"`
	FramesSeen      uint64      `json:"frames_seen"`
	FramesDetected  uint64      `json:"frames_detected"`
	DetectTimeouts  uint64      `json:"detect_timeouts"`
	Detections      uint64      `json:"detections"`
}
