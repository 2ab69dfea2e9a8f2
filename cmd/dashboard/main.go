package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/facemask-monitor/dashboard/internal/backend"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/config"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/dashboard"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/logger"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/metrics"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/notify"
	"github.com/dj-oyu/facemask-monitor/dashboard/internal/webmonitor"
)

func main() {
	var (
		configPath string
		httpAddr   string
		backendURL string
		logLevel   string
		logColor   bool
	)
	flag.StringVar(&configPath, "config", "", "YAML config file (defaults are used when empty)")
	flag.StringVar(&httpAddr, "http", "", "Display API address (overrides server.addr)")
	flag.StringVar(&backendURL, "backend", "", "Backend base URL (overrides backend.base_url)")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	if httpAddr != "" {
		cfg.Server.Addr = httpAddr
	}
	if backendURL != "" {
		cfg.Backend.BaseURL = backendURL
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "log-color" {
			cfg.Log.Color = logColor
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)

	if err := run(cfg); err != nil {
		logger.Error("Main", "%v", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.DefaultConfig()
		return &cfg, nil
	}
	return config.Load(path)
}

func run(cfg *config.Config) error {
	m := metrics.New()

	hubOpts := []notify.Option{notify.WithMetrics(m)}
	if cfg.Notify.MQTT.Enabled {
		ch, err := notify.DialMQTT(cfg.Notify.MQTT)
		if err != nil {
			// Notifications still reach the display API without the relay.
			logger.Warn("Main", "MQTT relay disabled: %v", err)
		} else {
			defer ch.Close()
			hubOpts = append(hubOpts, notify.WithChannels(ch))
		}
	}
	hub := notify.NewHub(cfg.Notify.HistorySize, hubOpts...)
	defer hub.Close()

	client, err := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	if err != nil {
		return err
	}

	opts, err := dashboard.OptionsFromConfig(cfg, m)
	if err != nil {
		return err
	}
	session, err := dashboard.New(client, hub, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Start(ctx); err != nil {
		return err
	}
	defer session.Close()

	server := webmonitor.NewServer(webmonitor.ConfigFrom(cfg.Server), session, m)
	server.Start()
	httpServer := server.NewHTTPServer()

	logger.Info("Main", "Dashboard listening on %s", cfg.Server.Addr)
	logger.Info("Main", "Backend: %s (push: %s)", cfg.Backend.BaseURL, cfg.StreamURL())
	logger.Info("Main", "Log level: %s", cfg.Log.Level)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Main", "Shutting down...")

		// Streams only end once the broadcasters close.
		server.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
