package buffer

import (
	"sync"
	"testing"
	"time"

	"anpr-recorder/internal/domain/anpr"
)

func frameAt(seq uint64, ts time.Time) anpr.Frame {
	return anpr.Frame{Sequence: seq, Timestamp: ts, CameraID: "cam-01"}
}

func TestPushNeverExceedsCapacity(t *testing.T) {
	r := New(2, 5) // capacity 10
	base := time.Now()

	for i := 0; i < 100; i++ {
		r.Push(frameAt(uint64(i), base.Add(time.Duration(i)*100*time.Millisecond)))
		if r.Len() > r.Capacity() {
			t.Fatalf("len %d exceeds capacity %d after %d pushes", r.Len(), r.Capacity(), i+1)
		}
	}
	if r.Len() != 10 {
		t.Errorf("expected full buffer of 10, got %d", r.Len())
	}
}

func TestOldestFrameWithinWindow(t *testing.T) {
	seconds, fps := 2, 10
	r := New(seconds, fps)
	base := time.Now()
	interval := time.Second / time.Duration(fps)

	for i := 0; i < 60; i++ {
		r.Push(frameAt(uint64(i), base.Add(time.Duration(i)*interval)))
	}

	snap := r.Snapshot()
	latest := snap[len(snap)-1].Timestamp
	oldest := snap[0].Timestamp
	if latest.Sub(oldest) > time.Duration(seconds)*time.Second {
		t.Errorf("oldest frame %v is older than the %ds window (latest %v)", oldest, seconds, latest)
	}
}

func TestSnapshotOrderedAndIsolated(t *testing.T) {
	r := New(1, 4)
	base := time.Now()
	for i := 0; i < 7; i++ {
		r.Push(frameAt(uint64(i), base.Add(time.Duration(i)*time.Second)))
	}

	snap := r.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(snap))
	}
	for i, f := range snap {
		if f.Sequence != uint64(3+i) {
			t.Errorf("position %d: expected seq %d, got %d", i, 3+i, f.Sequence)
		}
	}

	// Further pushes must not mutate the snapshot.
	r.Push(frameAt(100, base.Add(time.Hour)))
	if snap[0].Sequence != 3 {
		t.Errorf("snapshot mutated by later push: seq %d", snap[0].Sequence)
	}
}

func TestWarmupShorterThanCapacity(t *testing.T) {
	r := New(5, 30)
	r.Push(frameAt(1, time.Now()))
	if got := len(r.Snapshot()); got != 1 {
		t.Errorf("expected 1 frame during warm-up, got %d", got)
	}
}

func TestConcurrentPushAndSnapshot(t *testing.T) {
	r := New(1, 30)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				r.Push(frameAt(uint64(i), time.Now()))
			}
		}
	}()

	for i := 0; i < 200; i++ {
		snap := r.Snapshot()
		for j := 1; j < len(snap); j++ {
			if snap[j].Sequence != snap[j-1].Sequence+1 {
				t.Fatalf("snapshot out of order at %d: %d then %d", j, snap[j-1].Sequence, snap[j].Sequence)
			}
		}
	}
	close(stop)
	wg.Wait()
}
