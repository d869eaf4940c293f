package main

import (
	"context"
	"errors"
	"flag"
	nethttp "net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"anpr-recorder/internal/buffer"
	"anpr-recorder/internal/config"
	"anpr-recorder/internal/db"
	"anpr-recorder/internal/http"
	"anpr-recorder/internal/ingest"
	"anpr-recorder/internal/model"
	"anpr-recorder/internal/pipeline"
	"anpr-recorder/internal/plate"
	"anpr-recorder/internal/recorder"
	"anpr-recorder/internal/repository"
	"anpr-recorder/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := newLogger(cfg.Log)

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("service stopped with error")
	}
	log.Info().Msg("service stopped")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out zerolog.Logger
	if cfg.Pretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		out = zerolog.New(os.Stderr)
	}
	return out.Level(level).With().Timestamp().Logger()
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Open(cfg.Postgres.DSN)
	if err != nil {
		return err
	}

	mongoCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	mongoClient, err := mongo.Connect(mongoCtx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return err
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Error().Err(err).Msg("mongo disconnect failed")
		}
	}()

	relational := repository.NewPostgresStore(gdb)
	document := repository.NewMongoStore(mongoClient.Database(cfg.Mongo.Database))
	store := repository.NewDualStore(relational, document, log)

	writerFactory := recorder.NewFileWriterFactory(cfg.Recording.OutputDir, cfg.Recording.Container)
	manager := recorder.NewManager()
	for _, cam := range cfg.Cameras {
		ring := buffer.New(cfg.Buffer.Seconds, cam.FPS)
		machine := recorder.NewMachine(cam.ID, ring, writerFactory, store, recorder.Options{
			PostEvent:        time.Duration(cfg.Recording.PostEventSeconds * float64(time.Second)),
			MaxWriteFailures: cfg.Recording.MaxWriteFailures,
		}, log)
		manager.Add(cam.ID, machine)
		log.Info().Str("camera_id", cam.ID).Int("fps", cam.FPS).Msg("camera registered")
	}

	engine := plate.NewEngine(plate.DefaultRules(), cfg.Scoring.RegionHint)
	thresholds := plate.Thresholds{
		Trigger:   cfg.Recording.TriggerThreshold,
		Recording: cfg.Recording.RecordingMinConf,
		Storage:   cfg.Recording.StorageThreshold,
	}

	models := model.NewClient(cfg.Model.BaseURL)
	pipe := pipeline.New(models, models, engine, thresholds, store, manager, pipeline.Options{
		DetectEvery:   cfg.Pipeline.DetectEvery,
		DetectTimeout: cfg.Pipeline.DetectTimeout,
	}, log)

	source := ingest.NewHTTPSource(cfg.Ingest.QueueSize, log)

	anprService := service.NewANPRService(store, pipe, log)
	router := http.NewRouter(cfg, anprService, log)
	source.Register(router)

	server := &nethttp.Server{Addr: cfg.Server.Addr, Handler: router}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		repository.NewReconciler(store, cfg.Pipeline.ReconcileEvery, log).Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runRetention(ctx, anprService, cfg.Retention, log)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	// The pipeline blocks until shutdown and force-finalizes any active
	// recording on the way out.
	err = pipe.Run(ctx, source)

	wg.Wait()
	return err
}

func runRetention(ctx context.Context, svc *service.ANPRService, cfg config.RetentionConfig, log zerolog.Logger) {
	if cfg.Days <= 0 || cfg.CleanupEvery <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.CleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.CleanupOldRecords(ctx, cfg.Days); err != nil {
				log.Error().Err(err).Msg("retention cleanup failed")
			}
		}
	}
}
