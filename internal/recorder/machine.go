package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"anpr-recorder/internal/buffer"
	"anpr-recorder/internal/domain/anpr"
)

// MetadataStore is the slice of the repository the state machine needs:
// idempotent upserts for segments and detections.
type MetadataStore interface {
	SaveSegment(ctx context.Context, seg *anpr.VideoSegment) error
	SaveDetection(ctx context.Context, det *anpr.Detection) error
}

// Options tune one camera's recording behavior.
type Options struct {
	PostEvent        time.Duration
	MaxWriteFailures int
	// Clock is the wall-clock source for the cooperative countdown.
	// Defaults to time.Now; tests substitute a fake.
	Clock func() time.Time
}

// Machine is the per-camera recording trigger state machine. Frames flow
// through OnFrame at full rate; qualifying detections arrive through
// OnDetection. The post-event countdown is cooperative: it is re-checked
// against the clock on every frame and detection, so the machine needs no
// timer goroutine beyond its own mutex.
type Machine struct {
	cameraID  string
	ring      *buffer.Ring
	newWriter WriterFactory
	store     MetadataStore
	log       zerolog.Logger
	opts      Options

	mu            sync.Mutex
	state         anpr.CameraState
	segment       *anpr.VideoSegment
	writer        SegmentWriter
	deadline      time.Time
	lastWrittenTS time.Time
	lastEventTS   time.Time
	writeFailures int
}

func NewMachine(cameraID string, ring *buffer.Ring, factory WriterFactory, store MetadataStore, opts Options, log zerolog.Logger) *Machine {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MaxWriteFailures <= 0 {
		opts.MaxWriteFailures = 3
	}
	return &Machine{
		cameraID:  cameraID,
		ring:      ring,
		newWriter: factory,
		store:     store,
		log:       log.With().Str("camera_id", cameraID).Logger(),
		opts:      opts,
		state:     anpr.CameraIdle,
	}
}

// OnFrame feeds one live frame through the machine. In Idle the frame only
// lands in the rolling buffer; while Recording it is also appended to the
// active segment, and the countdown is evaluated.
func (m *Machine) OnFrame(ctx context.Context, f anpr.Frame) {
	m.ring.Push(f)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != anpr.CameraRecording {
		return
	}

	m.appendFrame(ctx, f)
	if m.segment != nil && !m.opts.Clock().Before(m.deadline) {
		m.finalize(ctx)
	}
}

// OnDetection handles one qualifying detection. Idle starts a new segment
// seeded from the rolling buffer; Recording extends the countdown. The
// detection's segment id is backfilled and re-persisted through the store.
// Multiple detections from the same processed frame all join the segment
// but reset the countdown only once.
func (m *Machine) OnDetection(ctx context.Context, det *anpr.Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case anpr.CameraIdle, anpr.CameraFailed:
		m.startRecording(ctx, det)
	case anpr.CameraRecording:
		m.extend(ctx, det)
	}
}

// Tick evaluates the countdown without a frame, so a stalled frame source
// cannot leave a finished recording open forever.
func (m *Machine) Tick(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == anpr.CameraRecording && m.segment != nil && !m.opts.Clock().Before(m.deadline) {
		m.finalize(ctx)
	}
}

// Status reports the camera's current state for the API layer.
func (m *Machine) Status() (anpr.CameraState, *string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.segment == nil {
		return m.state, nil
	}
	id := m.segment.ID
	return m.state, &id
}

// Close force-finalizes any active recording using the last written frame
// as the segment end. Called on shutdown; leaves no open file handles.
func (m *Machine) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == anpr.CameraRecording {
		m.finalize(ctx)
	}
}

func (m *Machine) startRecording(ctx context.Context, det *anpr.Detection) {
	now := m.opts.Clock()
	snapshot := m.ring.Snapshot()

	seg := &anpr.VideoSegment{
		ID:        uuid.New().String(),
		CameraID:  m.cameraID,
		StartTime: det.Timestamp,
		State:     anpr.SegmentRecording,
		CreatedAt: now,
	}
	if len(snapshot) > 0 {
		seg.StartTime = snapshot[0].Timestamp
	}

	writer, err := m.newWriter(m.cameraID, seg.ID)
	if err != nil {
		m.log.Error().Err(err).Str("segment_id", seg.ID).Msg("failed to open segment writer")
		seg.State = anpr.SegmentFailed
		if serr := m.store.SaveSegment(ctx, seg); serr != nil {
			m.log.Error().Err(serr).Str("segment_id", seg.ID).Msg("failed to persist failed segment")
		}
		m.state = anpr.CameraIdle
		return
	}

	m.segment = seg
	m.writer = writer
	m.state = anpr.CameraRecording
	m.writeFailures = 0
	m.deadline = now.Add(m.opts.PostEvent)
	m.lastEventTS = det.Timestamp
	m.lastWrittenTS = det.Timestamp
	seg.FilePath = writer.Path()

	// Pre-event window: drain the buffered frames into the file first.
	for _, f := range snapshot {
		m.appendFrame(ctx, f)
		if m.state != anpr.CameraRecording {
			return
		}
	}

	m.attachDetection(ctx, det)

	m.log.Info().
		Str("segment_id", seg.ID).
		Str("plate", det.Plate).
		Float64("confidence", det.Confidence).
		Int("buffered_frames", len(snapshot)).
		Time("start_time", seg.StartTime).
		Msg("recording started")
}

func (m *Machine) extend(ctx context.Context, det *anpr.Detection) {
	if !det.Timestamp.Equal(m.lastEventTS) {
		m.deadline = m.opts.Clock().Add(m.opts.PostEvent)
		m.lastEventTS = det.Timestamp
	}
	m.attachDetection(ctx, det)

	m.log.Debug().
		Str("segment_id", m.segment.ID).
		Str("plate", det.Plate).
		Time("deadline", m.deadline).
		Msg("recording extended")
}

// attachDetection links a detection to the active segment, backfills its
// segment id and upserts both records so the association survives a crash
// mid-recording.
func (m *Machine) attachDetection(ctx context.Context, det *anpr.Detection) {
	segID := m.segment.ID
	det.SegmentID = &segID
	m.segment.DetectionIDs = append(m.segment.DetectionIDs, det.ID)

	if err := m.store.SaveDetection(ctx, det); err != nil {
		m.log.Error().Err(err).Str("detection_id", det.ID).Msg("failed to backfill detection segment id")
	}
	if err := m.store.SaveSegment(ctx, m.segment); err != nil {
		m.log.Error().Err(err).Str("segment_id", segID).Msg("failed to persist segment detection set")
	}
}

func (m *Machine) appendFrame(ctx context.Context, f anpr.Frame) {
	if err := m.writer.WriteFrame(f); err != nil {
		m.writeFailures++
		m.log.Error().Err(err).Int("failures", m.writeFailures).Msg("segment write failed")
		if m.writeFailures >= m.opts.MaxWriteFailures {
			m.fail(ctx)
		}
		return
	}
	m.writeFailures = 0
	m.lastWrittenTS = f.Timestamp
}

// finalize closes the active segment. Idempotent: with no active segment
// it does nothing.
func (m *Machine) finalize(ctx context.Context) {
	if m.segment == nil {
		return
	}

	if err := m.writer.Close(); err != nil {
		m.log.Error().Err(err).Str("segment_id", m.segment.ID).Msg("failed to close segment writer")
	}

	seg := m.segment
	seg.EndTime = m.lastWrittenTS
	seg.Duration = seg.EndTime.Sub(seg.StartTime).Seconds()
	seg.FileSize = m.writer.Size()
	seg.State = anpr.SegmentFinalized

	if err := m.store.SaveSegment(ctx, seg); err != nil {
		m.log.Error().Err(err).Str("segment_id", seg.ID).Msg("failed to persist finalized segment")
	}

	m.log.Info().
		Str("segment_id", seg.ID).
		Float64("duration_seconds", seg.Duration).
		Int64("file_size", seg.FileSize).
		Int("detections", len(seg.DetectionIDs)).
		Msg("recording finalized")

	m.segment = nil
	m.writer = nil
	m.state = anpr.CameraIdle
}

// fail abandons the active segment after repeated write errors. The
// pipeline keeps running; the segment is persisted in its Failed state.
func (m *Machine) fail(ctx context.Context) {
	if m.segment == nil {
		return
	}

	if err := m.writer.Close(); err != nil {
		m.log.Error().Err(err).Msg("failed to close writer for failed segment")
	}

	seg := m.segment
	seg.EndTime = m.lastWrittenTS
	seg.Duration = seg.EndTime.Sub(seg.StartTime).Seconds()
	seg.FileSize = m.writer.Size()
	seg.State = anpr.SegmentFailed

	if err := m.store.SaveSegment(ctx, seg); err != nil {
		m.log.Error().Err(err).Str("segment_id", seg.ID).Msg("failed to persist failed segment")
	}

	m.log.Error().Str("segment_id", seg.ID).Msg("recording failed, returning to idle")

	m.segment = nil
	m.writer = nil
	m.state = anpr.CameraIdle
}
