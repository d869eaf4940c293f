package ingest

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"anpr-recorder/internal/domain/anpr"
)

// HTTPSource is a push-model frame source: cameras POST raw frames and
// the pipeline consumes them from a bounded channel. When the channel is
// full the frame is dropped rather than backpressuring the camera.
type HTTPSource struct {
	frames chan anpr.Frame
	log    zerolog.Logger

	mu    sync.Mutex
	seq   map[string]uint64
	drops uint64
}

func NewHTTPSource(capacity int, log zerolog.Logger) *HTTPSource {
	if capacity <= 0 {
		capacity = 256
	}
	return &HTTPSource{
		frames: make(chan anpr.Frame, capacity),
		log:    log,
		seq:    make(map[string]uint64),
	}
}

// Frames hands the channel to the pipeline. The channel is never closed;
// in-flight HTTP handlers may still be sending during shutdown, and the
// pipeline stops on its context instead.
func (s *HTTPSource) Frames(ctx context.Context) <-chan anpr.Frame {
	return s.frames
}

// Register mounts the ingest endpoint. Cameras POST the frame payload
// with X-Camera-ID and an optional X-Timestamp (RFC3339Nano).
func (s *HTTPSource) Register(r *gin.Engine) {
	r.POST("/api/v1/frames", s.postFrame)
}

func (s *HTTPSource) postFrame(c *gin.Context) {
	cameraID := c.GetHeader("X-Camera-ID")
	if cameraID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Camera-ID header is required"})
		return
	}

	image, err := io.ReadAll(c.Request.Body)
	if err != nil || len(image) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frame payload is required"})
		return
	}

	ts := time.Now()
	if raw := c.GetHeader("X-Timestamp"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid X-Timestamp"})
			return
		}
		ts = parsed
	}

	frame := anpr.Frame{
		Sequence:  s.nextSeq(cameraID),
		Timestamp: ts,
		CameraID:  cameraID,
		Image:     image,
	}

	select {
	case s.frames <- frame:
		c.JSON(http.StatusAccepted, gin.H{"sequence": strconv.FormatUint(frame.Sequence, 10)})
	default:
		s.noteDrop(cameraID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingest queue full"})
	}
}

func (s *HTTPSource) nextSeq(cameraID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[cameraID]++
	return s.seq[cameraID]
}

func (s *HTTPSource) noteDrop(cameraID string) {
	s.mu.Lock()
	s.drops++
	drops := s.drops
	s.mu.Unlock()

	if drops%100 == 1 {
		s.log.Warn().Str("camera_id", cameraID).Uint64("total_drops", drops).Msg("ingest queue full, dropping frames")
	}
}
