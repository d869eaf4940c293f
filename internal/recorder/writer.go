package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"anpr-recorder/internal/domain/anpr"
)

var timeNow = time.Now

// SegmentWriter receives frames for one segment in order and reports the
// bytes written so far. Implementations are owned by exactly one state
// machine instance and are not safe for concurrent use.
type SegmentWriter interface {
	WriteFrame(f anpr.Frame) error
	Size() int64
	Path() string
	Close() error
}

// WriterFactory opens a writer for a new segment. The recording date and
// segment id determine the file location.
type WriterFactory func(cameraID, segmentID string) (SegmentWriter, error)

type fileWriter struct {
	file *os.File
	path string
	size int64
}

// NewFileWriterFactory returns a factory writing raw concatenated frame
// payloads under root, one file per segment at
// {root}/{YYYY-MM-DD}/{segment_id}.{container}.
func NewFileWriterFactory(root, container string) WriterFactory {
	return func(cameraID, segmentID string) (SegmentWriter, error) {
		dir := filepath.Join(root, timeNow().Format("2006-01-02"))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create segment directory: %w", err)
		}

		path := filepath.Join(dir, segmentID+"."+container)
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("open segment file: %w", err)
		}
		return &fileWriter{file: f, path: path}, nil
	}
}

func (w *fileWriter) WriteFrame(f anpr.Frame) error {
	n, err := w.file.Write(f.Image)
	w.size += int64(n)
	if err != nil {
		return fmt.Errorf("write frame %d: %w", f.Sequence, err)
	}
	return nil
}

func (w *fileWriter) Size() int64 {
	return w.size
}

func (w *fileWriter) Path() string {
	return w.path
}

func (w *fileWriter) Close() error {
	return w.file.Close()
}
