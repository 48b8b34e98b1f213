// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/farmguard/farmguard/internal/cloud"
	"github.com/farmguard/farmguard/internal/config"
	"github.com/farmguard/farmguard/internal/detect"
	"github.com/farmguard/farmguard/internal/dispatch"
	"github.com/farmguard/farmguard/internal/gate"
	"github.com/farmguard/farmguard/internal/gsm"
	"github.com/farmguard/farmguard/internal/server"
	"github.com/farmguard/farmguard/internal/sms"
	"github.com/farmguard/farmguard/internal/sound"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	store         cloud.Store
	runner        *detect.Runner
	server        *http.Server
	metricsServer *http.Server
	runnerCancel  context.CancelFunc
	runnerDone    chan struct{}
}

// New creates a new application instance. It connects the cloud store
// eagerly; the GSM modem is dialed lazily on the first cloud failure.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	clk := clock.New()

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connectCancel()

	store, err := cloud.ConnectStore(connectCtx, cloud.StoreConfig{
		ProjectID:       cfg.Cloud.ProjectID,
		CredentialsFile: cfg.Cloud.CredentialsFile,
		Collection:      cfg.Cloud.Collection,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to cloud store: %w", err)
	}

	cloudChannel := cloud.NewChannel(cloud.ChannelConfig{
		UserID:   cfg.Cloud.UserID,
		Location: cfg.Cloud.Location,
	}, store, clk, logger)

	dialGsm := func() (dispatch.GsmChannel, error) {
		port, err := gsm.OpenPort(gsm.PortConfig{
			Name:     cfg.Gsm.Port,
			BaudRate: cfg.Gsm.BaudRate,
		})
		if err != nil {
			return nil, fmt.Errorf("open serial port %s: %w", cfg.Gsm.Port, err)
		}
		return gsm.NewChannel(gsm.ChannelConfig{
			Number:       cfg.Gsm.Number,
			WriteTimeout: cfg.Gsm.WriteTimeout,
			SettleDelay:  cfg.Gsm.SettleDelay,
		}, port, clk, logger)
	}

	renderer, err := sms.NewRenderer()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create sms renderer: %w", err)
	}

	player := sound.NewPlayer(clk, logger)

	dispatcher := dispatch.New(dispatch.Config{
		AlertDocID:        cfg.Cloud.DocID,
		Location:          cfg.Cloud.Location,
		ThreatAnimals:     cfg.Detection.ThreatAnimals,
		ThreatConfidence:  cfg.Detection.ThreatConfidence,
		AlertSpacing:      cfg.Detection.InterAlertSpacing,
		CloudReplyTimeout: cfg.Cloud.ReplyTimeout,
		CloudPollInterval: cfg.Cloud.PollInterval,
		GsmReplyTimeout:   cfg.Gsm.ReplyTimeout,
		GsmPollInterval:   cfg.Gsm.PollInterval,
	}, cloudChannel, dialGsm, player, renderer, clk, logger)

	frames := server.NewFrameStore()

	detectCfg := detect.DefaultConfig()
	detectCfg.MotionThreshold = cfg.Detection.MotionThreshold
	detectCfg.DetectionInterval = cfg.Detection.DetectionInterval
	detectCfg.NoiseFloor = cfg.Detection.NoiseFloor

	runner := detect.NewRunner(detectCfg,
		detect.NewFileSource(cfg.Detection.ImagePath, cfg.Detection.CaptureInterval, clk),
		detect.NewFrameDiff(),
		detect.NewHTTPClassifier(cfg.Detection.ClassifierURL, nil),
		gate.New(cfg.Detection.ConfidenceFloor, cfg.Detection.Cooldown),
		dispatcher,
		frames,
		clk,
		logger,
	)

	statusServer := server.New(server.Config{
		UploadURL:      cfg.Server.UploadURL,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, frames, dispatcher, nil, logger)

	app := &App{
		config: cfg,
		logger: logger,
		store:  store,
		runner: runner,
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           statusServer.Router(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the detection loop and the HTTP servers. It blocks until
// the main server stops.
func (a *App) Run() error {
	runnerCtx, runnerCancel := context.WithCancel(context.Background())
	a.runnerCancel = runnerCancel
	a.runnerDone = make(chan struct{})

	go func() {
		defer close(a.runnerDone)
		a.logger.Info("starting detection loop",
			"image_path", a.config.Detection.ImagePath,
			"classifier_url", a.config.Detection.ClassifierURL,
		)
		if err := a.runner.Run(runnerCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("detection loop error", "error", err)
		}
	}()

	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	// Stop the detection loop first so no new incident starts mid-shutdown
	if a.runnerCancel != nil {
		a.runnerCancel()
		select {
		case <-a.runnerDone:
		case <-ctx.Done():
		}
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cloud store: %w", err))
	}

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
