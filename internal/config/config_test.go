package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("server addr %q", cfg.Server.Addr)
	}
	if cfg.Buffer.Seconds != 5 {
		t.Errorf("buffer seconds %d, want 5", cfg.Buffer.Seconds)
	}
	if cfg.Recording.PostEventSeconds != 15 {
		t.Errorf("post event seconds %v, want 15", cfg.Recording.PostEventSeconds)
	}
	if cfg.Recording.TriggerThreshold != 0.5 {
		t.Errorf("trigger threshold %v, want 0.5", cfg.Recording.TriggerThreshold)
	}
	if cfg.Pipeline.DetectTimeout != 500*time.Millisecond {
		t.Errorf("detect timeout %v, want 500ms", cfg.Pipeline.DetectTimeout)
	}
	if len(cfg.Cameras) != 1 || cfg.Cameras[0].FPS != 30 {
		t.Errorf("expected one default camera at 30fps, got %+v", cfg.Cameras)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  addr: ":9000"
buffer:
  seconds: 10
recording:
  post_event_seconds: 20
cameras:
  - id: gate-north
    fps: 25
  - id: gate-south
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":9000" {
		t.Errorf("server addr %q, want :9000", cfg.Server.Addr)
	}
	if cfg.Buffer.Seconds != 10 {
		t.Errorf("buffer seconds %d, want 10", cfg.Buffer.Seconds)
	}
	if len(cfg.Cameras) != 2 {
		t.Fatalf("expected 2 cameras, got %d", len(cfg.Cameras))
	}
	if cfg.Cameras[0].FPS != 25 {
		t.Errorf("gate-north fps %d, want 25", cfg.Cameras[0].FPS)
	}
	// Missing fps falls back to 30.
	if cfg.Cameras[1].FPS != 30 {
		t.Errorf("gate-south fps %d, want default 30", cfg.Cameras[1].FPS)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("buffer:\n  seconds: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected an error for negative buffer seconds")
	}
}
