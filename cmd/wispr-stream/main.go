package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sjawhar/wispr-stream/internal/audio"
	"github.com/sjawhar/wispr-stream/internal/capture"
	"github.com/sjawhar/wispr-stream/internal/config"
	"github.com/sjawhar/wispr-stream/internal/liveness"
	"github.com/sjawhar/wispr-stream/internal/logging"
	"github.com/sjawhar/wispr-stream/internal/metrics"
	"github.com/sjawhar/wispr-stream/internal/mic"
	"github.com/sjawhar/wispr-stream/internal/recorder"
	"github.com/sjawhar/wispr-stream/internal/server"
	"github.com/sjawhar/wispr-stream/internal/storage"
	"github.com/sjawhar/wispr-stream/internal/transcribe"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", envOrDefault(config.EnvPrefix+"CONFIG", "config.yaml"), "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "wispr-stream: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting", zap.String("config", configPath))
	for _, w := range warnings {
		log.Warn(w)
	}

	m := metrics.New()

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer func() { _ = store.Close() }()

	if n, err := store.AbandonActive(time.Now()); err != nil {
		log.Warn("recover recordings", zap.Error(err))
	} else if n > 0 {
		log.Info("closed recordings left active by a previous run", zap.Int64("count", n))
	}

	sources, probe, cleanup := sourceFactory(cfg, log)
	defer cleanup()

	hub := server.NewHub(server.HubOptions{Logger: log, Metrics: m})
	emitter := recorder.NewEmitter(m)
	defer emitter.Close()
	emitter.AddListener(hub.OnAudioChunk)

	detector := liveness.NewDetector(cfg.ParsedStallTimeout())

	var observers []recorder.Observer
	var live *transcribe.Live
	if cfg.DeepgramAPIKey != "" {
		live = transcribe.NewLive(transcribe.DeepgramDialer(transcribe.DeepgramOptions{
			APIKey:   cfg.DeepgramAPIKey,
			Model:    cfg.DeepgramModel,
			Language: cfg.DeepgramLanguage,
		}), transcribe.LiveOptions{
			Store:   store,
			Writer:  storage.NewWriter(cfg.TranscriptDir),
			Hub:     hub,
			Logger:  log,
			Metrics: m,
		})
		observers = append(observers, live)
		emitter.AddListener(func(ev recorder.AudioChunkEvent) { live.OnChunk(ev.RecordingID, ev.Raw) })
	}

	opts := recorder.Options{
		Sources:        sources,
		Probe:          probe,
		Permissions:    recorder.NewStaticPermissions(cfg.PermissionGranted, cfg.GrantOnRequest),
		DeviceLock:     capture.NewDeviceLock(),
		Emitter:        emitter,
		Store:          store,
		Hub:            hub,
		Liveness:       detector,
		Observers:      observers,
		FirstChunkSize: cfg.FirstChunkSize,
		ChunkSize:      cfg.ChunkSize,
		DrainTimeout:   cfg.ParsedDrainTimeout(),
		Logger:         log.Named("recorder"),
		Metrics:        m,
	}
	if cfg.ClipEnabled {
		opts.Clip = audio.NewClip(cfg.ClipDir)
		if cfg.OpenAIAPIKey != "" {
			whisper, err := transcribe.NewWhisper(cfg.OpenAIAPIKey, transcribe.WhisperOptions{
				Model:    cfg.WhisperModel,
				Language: cfg.WhisperLanguage,
				BaseURL:  cfg.OpenAIBaseURL,
			})
			if err != nil {
				log.Warn("clip transcription disabled", zap.Error(err))
			} else {
				opts.Transcriber = whisper
			}
		}
	}
	rec := recorder.New(opts)

	detector.OnStall(func(lastChunk time.Time) {
		id := rec.ActiveRecordingID()
		log.Warn("no audio chunk within stall timeout",
			zap.String("recording_id", id),
			zap.Time("last_chunk", lastChunk),
			zap.Duration("timeout", detector.Timeout()),
		)
		m.Stalled()
		hub.BroadcastStalled(id, lastChunk)
	})

	httpServer := server.NewHTTPServer(cfg.HTTPAddr, server.Handler(server.Options{
		Bridge:  rec,
		Store:   store,
		Hub:     hub,
		Metrics: m,
		Logger:  log,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("bridge listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := rec.ForceStop(shutdownCtx); err != nil {
			log.Warn("force stop recording failed", zap.Error(err))
		}
		if live != nil {
			live.Close()
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown failed", zap.Error(err))
		}
		rec.Close()
		return nil
	})

	return g.Wait()
}

// sourceFactory picks the WAV replay source when configured and the default
// microphone otherwise.
func sourceFactory(cfg config.Config, log *zap.Logger) (recorder.SourceFactory, func() bool, func()) {
	if cfg.SourceFile != "" {
		path := cfg.SourceFile
		probe := func() bool {
			_, err := os.Stat(path)
			return err == nil
		}
		factory := func() (capture.Source, error) {
			src, err := capture.NewFileSource(path, capture.FileSourceOptions{Realtime: cfg.SourceRealtime})
			if err != nil {
				return nil, err
			}
			return src, nil
		}
		log.Info("capturing from file", zap.String("path", path), zap.Bool("realtime", cfg.SourceRealtime))
		return factory, probe, func() {}
	}

	if err := mic.Initialize(); err != nil {
		log.Warn("microphone unavailable, recordings cannot start", zap.Error(err))
		unavailable := func() (capture.Source, error) { return nil, err }
		return unavailable, func() bool { return false }, func() {}
	}

	factory := func() (capture.Source, error) {
		src, err := mic.NewSource(cfg.MicSampleRate)
		if err != nil {
			return nil, err
		}
		log.Info("microphone selected", zap.String("device", src.Name()), zap.Int("channels", src.InputChannels()))
		return src, nil
	}
	cleanup := func() {
		if err := mic.Terminate(); err != nil {
			log.Warn("portaudio terminate", zap.Error(err))
		}
	}
	return factory, mic.Probe, cleanup
}

func envOrDefault(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
