package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"anpr-recorder/internal/domain/anpr"
	"anpr-recorder/internal/plate"
	"anpr-recorder/internal/recorder"
	"anpr-recorder/internal/utils"
)

// FrameSource supplies frames in timestamp order per camera. The channel
// closes when the source is exhausted or ctx is canceled.
type FrameSource interface {
	Frames(ctx context.Context) <-chan anpr.Frame
}

// Detector finds candidate plate regions in a frame.
type Detector interface {
	Detect(ctx context.Context, f anpr.Frame) ([]anpr.PlateRegion, error)
}

// TextRecognizer reads text candidates out of a plate region.
type TextRecognizer interface {
	Recognize(ctx context.Context, f anpr.Frame, region anpr.BoundingBox) ([]anpr.RawTextCandidate, error)
}

// DetectionStore is the persistence slice the pipeline needs.
type DetectionStore interface {
	SaveDetection(ctx context.Context, det *anpr.Detection) error
}

// cameraStats are updated atomically on the hot path and read by the
// status endpoint.
type cameraStats struct {
	framesSeen     atomic.Uint64
	framesDetected atomic.Uint64
	detectTimeouts atomic.Uint64
	detections     atomic.Uint64
}

type camera struct {
	machine *recorder.Machine
	stats   cameraStats
	// busy guards the throttled detect path: at most one in-flight
	// detect task per camera, extra frames pass through.
	busy       atomic.Bool
	frameCount uint64
}

// Options tune the throttled detection path.
type Options struct {
	DetectEvery   int
	DetectTimeout time.Duration
}

// Pipeline fans frames out to the per-camera recording machines at full
// rate and runs detection plus scoring on a sampled, time-bounded side
// path that can never stall ingestion.
type Pipeline struct {
	detector   Detector
	ocr        TextRecognizer
	engine     *plate.Engine
	thresholds plate.Thresholds
	store      DetectionStore
	manager    *recorder.Manager
	opts       Options
	log        zerolog.Logger

	mu      sync.RWMutex
	cameras map[string]*camera

	wg sync.WaitGroup
}

func New(
	detector Detector,
	ocr TextRecognizer,
	engine *plate.Engine,
	thresholds plate.Thresholds,
	store DetectionStore,
	manager *recorder.Manager,
	opts Options,
	log zerolog.Logger,
) *Pipeline {
	if opts.DetectEvery <= 0 {
		opts.DetectEvery = 1
	}
	if opts.DetectTimeout <= 0 {
		opts.DetectTimeout = 500 * time.Millisecond
	}
	p := &Pipeline{
		detector:   detector,
		ocr:        ocr,
		engine:     engine,
		thresholds: thresholds,
		store:      store,
		manager:    manager,
		opts:       opts,
		log:        log,
		cameras:    make(map[string]*camera),
	}
	for _, id := range manager.CameraIDs() {
		m, _ := manager.Get(id)
		p.cameras[id] = &camera{machine: m}
	}
	return p
}

// Run consumes the frame source until it closes or ctx is canceled, then
// waits for in-flight detect tasks and force-finalizes all recordings.
func (p *Pipeline) Run(ctx context.Context, source FrameSource) error {
	frames := source.Frames(ctx)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return ctx.Err()
		case <-ticker.C:
			// Countdown check for cameras whose frames stopped arriving.
			p.manager.Tick(ctx)
		case f, ok := <-frames:
			if !ok {
				p.shutdown()
				return nil
			}
			p.handleFrame(ctx, f)
		}
	}
}

func (p *Pipeline) shutdown() {
	p.wg.Wait()
	p.manager.Close(context.Background())
}

func (p *Pipeline) handleFrame(ctx context.Context, f anpr.Frame) {
	cam := p.camera(f.CameraID)
	if cam == nil {
		p.log.Warn().Str("camera_id", f.CameraID).Msg("frame from unconfigured camera dropped")
		return
	}

	cam.stats.framesSeen.Add(1)
	cam.machine.OnFrame(ctx, f)

	cam.frameCount++
	if cam.frameCount%uint64(p.opts.DetectEvery) != 0 {
		return
	}
	if !cam.busy.CompareAndSwap(false, true) {
		// Previous detect task still running; this frame passes through.
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cam.busy.Store(false)
		p.detect(ctx, cam, f)
	}()
}

func (p *Pipeline) camera(id string) *camera {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cameras[id]
}

// detect runs the model collaborators under a deadline. A timeout
// degrades the frame to raw passthrough; it never propagates.
func (p *Pipeline) detect(ctx context.Context, cam *camera, f anpr.Frame) {
	cam.stats.framesDetected.Add(1)

	dctx, cancel := context.WithTimeout(ctx, p.opts.DetectTimeout)
	defer cancel()

	regions, err := p.detector.Detect(dctx, f)
	if err != nil {
		p.noteDetectError(cam, f, err, "detector")
		return
	}

	for _, region := range regions {
		candidates, err := p.ocr.Recognize(dctx, f, region.Box)
		if err != nil {
			p.noteDetectError(cam, f, err, "text recognizer")
			return
		}
		p.scoreAndDispatch(ctx, cam, f, region, candidates)
	}
}

func (p *Pipeline) noteDetectError(cam *camera, f anpr.Frame, err error, stage string) {
	if errors.Is(err, context.DeadlineExceeded) {
		cam.stats.detectTimeouts.Add(1)
		p.log.Debug().Str("camera_id", f.CameraID).Uint64("sequence", f.Sequence).Msgf("%s timed out, frame passed through", stage)
		return
	}
	p.log.Error().Err(err).Str("camera_id", f.CameraID).Msgf("%s failed", stage)
}

func (p *Pipeline) scoreAndDispatch(ctx context.Context, cam *camera, f anpr.Frame, region anpr.PlateRegion, candidates []anpr.RawTextCandidate) {
	res := p.engine.Score(candidates, region.Box)
	final := plate.Aggregate(region.Confidence, res.Confidence, res.PatternMatched)

	if !p.thresholds.Persistable(final) {
		return
	}

	det := &anpr.Detection{
		ID:              uuid.New().String(),
		CameraID:        f.CameraID,
		Timestamp:       f.Timestamp,
		Box:             region.Box,
		Plate:           res.Text,
		NormalizedPlate: utils.NormalizePlate(res.Text),
		Confidence:      final,
		PatternMatched:  res.PatternMatched,
		Pattern:         res.Pattern,
		CreatedAt:       time.Now(),
	}

	if err := p.store.SaveDetection(ctx, det); err != nil {
		p.log.Error().Err(err).Str("detection_id", det.ID).Msg("failed to persist detection")
	}
	cam.stats.detections.Add(1)

	p.log.Info().
		Str("camera_id", f.CameraID).
		Str("plate", det.Plate).
		Float64("confidence", final).
		Bool("pattern_matched", res.PatternMatched).
		Msg("plate detected")

	if p.thresholds.Qualifying(final) && p.thresholds.HighConfidence(final) {
		cam.machine.OnDetection(ctx, det)
	}
}

// Status reports one camera's machine state and counters.
func (p *Pipeline) Status(cameraID string) (anpr.CameraStatus, bool) {
	cam := p.camera(cameraID)
	if cam == nil {
		return anpr.CameraStatus{}, false
	}

	state, segID := cam.machine.Status()
	return anpr.CameraStatus{
		CameraID:        cameraID,
		State:           state,
		ActiveSegmentID: segID,
		FramesSeen:      cam.stats.framesSeen.Load(),
		FramesDetected:  cam.stats.framesDetected.Load(),
		DetectTimeouts:  cam.stats.detectTimeouts.Load(),
		Detections:      cam.stats.detections.Load(),
	}, true
}

// CameraIDs lists the configured cameras.
func (p *Pipeline) CameraIDs() []string {
	return p.manager.CameraIDs()
}
