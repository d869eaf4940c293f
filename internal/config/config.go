package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Cameras   []CameraConfig  `mapstructure:"cameras"`
	Buffer    BufferConfig    `mapstructure:"buffer"`
	Recording RecordingConfig `mapstructure:"recording"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Model     ModelConfig     `mapstructure:"model"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Retention RetentionConfig `mapstructure:"retention"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type CameraConfig struct {
	ID  string `mapstructure:"id"`
	FPS int    `mapstructure:"fps"`
}

type BufferConfig struct {
	Seconds int `mapstructure:"seconds"`
}

type RecordingConfig struct {
	OutputDir        string  `mapstructure:"output_dir"`
	Container        string  `mapstructure:"container"`
	PostEventSeconds float64 `mapstructure:"post_event_seconds"`
	TriggerThreshold float64 `mapstructure:"trigger_threshold"`
	RecordingMinConf float64 `mapstructure:"recording_confidence"`
	StorageThreshold float64 `mapstructure:"storage_threshold"`
	MaxWriteFailures int     `mapstructure:"max_write_failures"`
}

type ScoringConfig struct {
	RegionHint string `mapstructure:"region_hint"`
}

type PipelineConfig struct {
	DetectEvery    int           `mapstructure:"detect_every"`
	DetectTimeout  time.Duration `mapstructure:"detect_timeout"`
	ReconcileEvery time.Duration `mapstructure:"reconcile_every"`
}

type ModelConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type IngestConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

type RetentionConfig struct {
	Days         int           `mapstructure:"days"`
	CleanupEvery time.Duration `mapstructure:"cleanup_every"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("postgres.dsn", "host=localhost user=anpr password=anpr dbname=anpr port=5432 sslmode=disable")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "anpr")
	v.SetDefault("buffer.seconds", 5)
	v.SetDefault("recording.output_dir", "recordings")
	v.SetDefault("recording.container", "mjpeg")
	v.SetDefault("recording.post_event_seconds", 15.0)
	v.SetDefault("recording.trigger_threshold", 0.5)
	v.SetDefault("recording.recording_confidence", 0.5)
	v.SetDefault("recording.storage_threshold", 0.3)
	v.SetDefault("recording.max_write_failures", 3)
	v.SetDefault("scoring.region_hint", "")
	v.SetDefault("pipeline.detect_every", 3)
	v.SetDefault("pipeline.detect_timeout", 500*time.Millisecond)
	v.SetDefault("pipeline.reconcile_every", 30*time.Second)
	v.SetDefault("model.base_url", "http://localhost:9090")
	v.SetDefault("ingest.queue_size", 256)
	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.cleanup_every", time.Hour)
}

// Load reads configuration from an optional YAML file and ANPR_* environment
// variables, with environment taking precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ANPR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.Cameras) == 0 {
		cfg.Cameras = []CameraConfig{{ID: "cam-01", FPS: 30}}
	}
	for i := range cfg.Cameras {
		if cfg.Cameras[i].FPS <= 0 {
			cfg.Cameras[i].FPS = 30
		}
	}
	if cfg.Buffer.Seconds <= 0 {
		return nil, fmt.Errorf("buffer.seconds must be positive, got %d", cfg.Buffer.Seconds)
	}
	if cfg.Recording.PostEventSeconds <= 0 {
		return nil, fmt.Errorf("recording.post_event_seconds must be positive")
	}
	if cfg.Pipeline.DetectEvery <= 0 {
		cfg.Pipeline.DetectEvery = 1
	}

	return &cfg, nil
}
