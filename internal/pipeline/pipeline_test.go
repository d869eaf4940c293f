package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"anpr-recorder/internal/buffer"
	"anpr-recorder/internal/domain/anpr"
	"anpr-recorder/internal/plate"
	"anpr-recorder/internal/recorder"
)

type chanSource struct {
	ch chan anpr.Frame
}

func (s *chanSource) Frames(ctx context.Context) <-chan anpr.Frame {
	return s.ch
}

type stubDetector struct {
	// regions returned for every frame whose sequence is in trigger.
	trigger map[uint64][]anpr.PlateRegion
	block   bool
}

func (d *stubDetector) Detect(ctx context.Context, f anpr.Frame) ([]anpr.PlateRegion, error) {
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return d.trigger[f.Sequence], nil
}

type stubOCR struct {
	candidates []anpr.RawTextCandidate
}

func (o *stubOCR) Recognize(ctx context.Context, f anpr.Frame, region anpr.BoundingBox) ([]anpr.RawTextCandidate, error) {
	return o.candidates, nil
}

type recordingStore struct {
	mu         sync.Mutex
	detections map[string]anpr.Detection
	segments   map[string]anpr.VideoSegment
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		detections: make(map[string]anpr.Detection),
		segments:   make(map[string]anpr.VideoSegment),
	}
}

func (s *recordingStore) SaveDetection(_ context.Context, det *anpr.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections[det.ID] = *det
	return nil
}

func (s *recordingStore) SaveSegment(_ context.Context, seg *anpr.VideoSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments[seg.ID] = *seg
	return nil
}

type nopWriter struct {
	frames int
	size   int64
}

func (w *nopWriter) WriteFrame(f anpr.Frame) error {
	w.frames++
	w.size += int64(len(f.Image))
	return nil
}

func (w *nopWriter) Size() int64  { return w.size }
func (w *nopWriter) Path() string { return "test/seg.mjpeg" }
func (w *nopWriter) Close() error { return nil }

func defaultOCR() *stubOCR {
	return &stubOCR{candidates: []anpr.RawTextCandidate{{
		Text:       "ABC1234",
		Confidence: 0.9,
		Box:        anpr.BoundingBox{X: 10, Y: 10, Width: 180, Height: 40},
	}}}
}

func newTestPipeline(detector Detector, ocr TextRecognizer, store *recordingStore) (*Pipeline, *chanSource) {
	ring := buffer.New(1, 10)
	factory := func(cameraID, segmentID string) (recorder.SegmentWriter, error) {
		return &nopWriter{}, nil
	}
	machine := recorder.NewMachine("cam-01", ring, factory, store, recorder.Options{
		PostEvent: 15 * time.Second,
	}, zerolog.Nop())

	manager := recorder.NewManager()
	manager.Add("cam-01", machine)

	engine := plate.NewEngine(plate.DefaultRules(), "TX")
	thresholds := plate.Thresholds{Trigger: 0.5, Recording: 0.5, Storage: 0.3}

	p := New(detector, ocr, engine, thresholds, store, manager, Options{
		DetectEvery:   1,
		DetectTimeout: 200 * time.Millisecond,
	}, zerolog.Nop())

	return p, &chanSource{ch: make(chan anpr.Frame, 64)}
}

func runToCompletion(t *testing.T, p *Pipeline, src *chanSource) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), src) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pipeline run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}
}

func TestQualifyingDetectionStartsRecordingAndPersists(t *testing.T) {
	plateBox := anpr.BoundingBox{X: 5, Y: 5, Width: 200, Height: 50}
	detector := &stubDetector{trigger: map[uint64][]anpr.PlateRegion{
		3: {{Box: plateBox, Confidence: 0.9}},
	}}
	store := newRecordingStore()
	p, src := newTestPipeline(detector, defaultOCR(), store)

	base := time.Now()
	for i := 0; i < 6; i++ {
		src.ch <- anpr.Frame{
			Sequence:  uint64(i),
			Timestamp: base.Add(time.Duration(i) * 100 * time.Millisecond),
			CameraID:  "cam-01",
			Image:     []byte{byte(i)},
		}
		// Pace the frames so each detect task finishes before the next
		// sampled frame arrives.
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)
	close(src.ch)
	runToCompletion(t, p, src)

	if len(store.detections) != 1 {
		t.Fatalf("expected 1 persisted detection, got %d", len(store.detections))
	}
	var det anpr.Detection
	for _, d := range store.detections {
		det = d
	}
	if det.Plate != "ABC1234" {
		t.Errorf("detection plate %q, want ABC1234", det.Plate)
	}
	if det.SegmentID == nil {
		t.Fatal("detection not linked to a segment")
	}

	seg := store.segments[*det.SegmentID]
	if len(seg.DetectionIDs) != 1 || seg.DetectionIDs[0] != det.ID {
		t.Errorf("segment detection ids %v, want [%s]", seg.DetectionIDs, det.ID)
	}
	// Shutdown force-finalizes the active recording.
	if seg.State != anpr.SegmentFinalized {
		t.Errorf("segment state %s after shutdown, want FINALIZED", seg.State)
	}
}

func TestDetectorTimeoutDegradesToPassthrough(t *testing.T) {
	detector := &stubDetector{block: true}
	store := newRecordingStore()
	p, src := newTestPipeline(detector, defaultOCR(), store)

	base := time.Now()
	src.ch <- anpr.Frame{Sequence: 0, Timestamp: base, CameraID: "cam-01", Image: []byte{1}}
	time.Sleep(400 * time.Millisecond)
	close(src.ch)
	runToCompletion(t, p, src)

	status, ok := p.Status("cam-01")
	if !ok {
		t.Fatal("camera status missing")
	}
	if status.DetectTimeouts == 0 {
		t.Error("expected a detect timeout to be counted")
	}
	if status.State != anpr.CameraIdle {
		t.Errorf("expected Idle after timeout, got %s", status.State)
	}
	if len(store.detections) != 0 {
		t.Errorf("timeout must not persist detections, got %d", len(store.detections))
	}
}

func TestUnknownCameraFramesDropped(t *testing.T) {
	detector := &stubDetector{}
	store := newRecordingStore()
	p, src := newTestPipeline(detector, defaultOCR(), store)

	src.ch <- anpr.Frame{Sequence: 0, Timestamp: time.Now(), CameraID: "cam-99"}
	close(src.ch)
	runToCompletion(t, p, src)

	if _, ok := p.Status("cam-99"); ok {
		t.Error("unconfigured camera must not appear in status")
	}
	status, _ := p.Status("cam-01")
	if status.FramesSeen != 0 {
		t.Errorf("cam-01 saw %d frames, want 0", status.FramesSeen)
	}
}

func TestNoTextCandidatesBelowStorageFloor(t *testing.T) {
	// Detector fires with low confidence but OCR finds nothing: the
	// aggregated confidence stays under the storage floor, so nothing is
	// persisted and no recording starts.
	plateBox := anpr.BoundingBox{X: 5, Y: 5, Width: 200, Height: 50}
	detector := &stubDetector{trigger: map[uint64][]anpr.PlateRegion{
		0: {{Box: plateBox, Confidence: 0.1}},
	}}
	store := newRecordingStore()
	p, src := newTestPipeline(detector, &stubOCR{}, store)

	src.ch <- anpr.Frame{Sequence: 0, Timestamp: time.Now(), CameraID: "cam-01", Image: []byte{1}}
	time.Sleep(300 * time.Millisecond)
	close(src.ch)
	runToCompletion(t, p, src)

	if len(store.detections) != 0 {
		t.Errorf("sub-floor detection persisted: %v", store.detections)
	}
	if len(store.segments) != 0 {
		t.Errorf("sub-floor detection created a segment: %v", store.segments)
	}
}

func TestEmptyTextHighDetectorConfidencePersistsWithoutRecording(t *testing.T) {
	// High detector confidence with no readable text: the detection is
	// stored (empty plate), but must not start a recording.
	plateBox := anpr.BoundingBox{X: 5, Y: 5, Width: 200, Height: 50}
	detector := &stubDetector{trigger: map[uint64][]anpr.PlateRegion{
		0: {{Box: plateBox, Confidence: 0.9}},
	}}
	store := newRecordingStore()
	p, src := newTestPipeline(detector, &stubOCR{}, store)

	src.ch <- anpr.Frame{Sequence: 0, Timestamp: time.Now(), CameraID: "cam-01", Image: []byte{1}}
	time.Sleep(300 * time.Millisecond)
	close(src.ch)
	runToCompletion(t, p, src)

	if len(store.detections) != 1 {
		t.Fatalf("expected 1 persisted detection, got %d", len(store.detections))
	}
	for _, det := range store.detections {
		if det.Plate != "" {
			t.Errorf("expected empty plate text, got %q", det.Plate)
		}
	}
	if len(store.segments) != 0 {
		t.Errorf("empty-text detection started a recording: %v", store.segments)
	}
}
