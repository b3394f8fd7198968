package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ekisa-team/whisperd/internal/audio"
	"github.com/ekisa-team/whisperd/internal/backend"
	"github.com/ekisa-team/whisperd/internal/backend/whisper"
	"github.com/ekisa-team/whisperd/internal/config"
	"github.com/ekisa-team/whisperd/internal/env"
	"github.com/ekisa-team/whisperd/internal/envvar"
	"github.com/ekisa-team/whisperd/internal/logger"
	"github.com/ekisa-team/whisperd/internal/metrics"
	"github.com/ekisa-team/whisperd/internal/model"
	grpcserver "github.com/ekisa-team/whisperd/internal/server/grpc"
	httpserver "github.com/ekisa-team/whisperd/internal/server/http"
	"github.com/ekisa-team/whisperd/internal/service"
)

const shutdownTimeout = 30 * time.Second

var serveFlags struct {
	configPath string
	schemaPath string
	httpPort   int
	grpcPort   int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long: `Start the HTTP and gRPC servers.

The config file is validated against the JSON schema on every load. Flags
override the ports from the config file.

Examples:
  whisperd serve
  whisperd serve --config ./configs/config.example.yaml --schema ./configs/whisperd.v1.schema.json
  whisperd serve --http-port 8081 --grpc-port 0`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cmd)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.configPath, "config", filepath.Join(config.DefaultConfigPath(), "config.yaml"), "Path to config file")
	f.StringVar(&serveFlags.schemaPath, "schema", filepath.Join(config.DefaultConfigPath(), "whisperd.v1.schema.json"), "Path to schema file")
	f.IntVar(&serveFlags.httpPort, "http-port", 0, "HTTP port to listen on (default from config)")
	f.IntVar(&serveFlags.grpcPort, "grpc-port", 0, "gRPC port to listen on (default from config, negative disables)")
}

func serve(ctx context.Context, cmd *cobra.Command) error {
	environment := env.FromEnv()

	// The config decides the final logger; until then log to the console.
	slog.SetDefault(logger.New(environment))

	cfg, err := config.LoadAndValidate(serveFlags.configPath, serveFlags.schemaPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if v := os.Getenv(envvar.WhisperdLogLevel); v != "" {
		level = v
	}
	slog.SetDefault(logger.New(environment,
		logger.WithLevel(logger.ParseLevel(level)),
		logger.WithLogToFile(cfg.Logging.File != ""),
		logger.WithLogFile(cfg.Logging.File),
	))

	if cmd.Flags().Changed("http-port") {
		cfg.Server.HTTPPort = serveFlags.httpPort
	}
	if cmd.Flags().Changed("grpc-port") {
		cfg.Server.GRPCPort = serveFlags.grpcPort
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	servers := backend.NewServerManager()
	defer servers.StopAll()

	backends := backend.NewRegistry()
	if err := backends.Register(whisper.NewEngine(whisper.Config{
		BinPath:      cfg.Backends.WhisperCPP.BinPath,
		BasePort:     cfg.Backends.WhisperCPP.BasePort,
		ReadyTimeout: time.Duration(cfg.Backends.WhisperCPP.ReadyTimeoutSeconds) * time.Second,
	}, servers)); err != nil {
		return err
	}

	transcoder, err := audio.NewTranscoder(cfg.Transcoder.FFmpegPath, time.Duration(cfg.Transcoder.TimeoutSeconds)*time.Second)
	if err != nil {
		slog.Warn("Audio conversion disabled", "error", err)
	} else if err := transcoder.Check(ctx); err != nil {
		slog.Warn("Audio conversion disabled", "error", err)
		transcoder = nil
	}

	registry := model.NewRegistry(model.RegistryConfig{
		Backends:        backends,
		DefaultProvider: config.DefaultBackend,
		Decoder:         audio.NewDecoder(),
		Transcoder:      transcoder,
		Metrics:         m,
	})
	defer registry.Close()

	manager := model.NewManager(registry)

	watcher, err := config.NewWatcher(serveFlags.configPath, serveFlags.schemaPath, func(next *config.Config, err error) {
		if err != nil {
			slog.Error("Failed to reload config", "error", err)
			return
		}
		if err := manager.LoadModelsFromConfig(ctx, next); err != nil {
			slog.Error("Failed to load models from config", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := manager.LoadModelsFromConfig(ctx, cfg); err != nil {
		// Models that failed stay unloaded; the API can still load others.
		slog.Error("Failed to load models from config", "error", err)
	}

	slog.Info("Config loaded successfully", "config", serveFlags.configPath, "schema", serveFlags.schemaPath)

	stt := service.NewSTT(registry, m)
	errc := make(chan error, 2)

	httpSrv := httpserver.NewServer(httpserver.Config{
		Addr:      net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort)),
		Version:   Version,
		UploadDir: cfg.Server.UploadDir,
		Gatherer:  reg,
	}, stt)
	go func() { errc <- httpSrv.ListenAndServe() }()

	var grpcSrv *grpcserver.Server
	if cfg.Server.GRPCPort >= 0 {
		grpcSrv = grpcserver.NewServer(stt)
		go func() { errc <- grpcSrv.ListenAndServe(net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort))) }()
	}

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err = <-errc:
		if err != nil {
			slog.Error("Server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	errs = append(errs, err)
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if grpcSrv != nil {
		grpcSrv.Shutdown(shutdownCtx)
	}

	return errors.Join(errs...)
}
