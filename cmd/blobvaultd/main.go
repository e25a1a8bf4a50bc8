// blobvaultd serves a versioned file store over HTTP.
//
// File content is kept as compressed chunks under the storage root, version
// metadata in a SQLite database. Flags override the configuration file.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alexjoedt/blobvault"
	"github.com/alexjoedt/blobvault/chunkstore"
	"github.com/alexjoedt/blobvault/httpapi"
	"github.com/alexjoedt/blobvault/internal/config"
	"github.com/alexjoedt/blobvault/versionstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string

	defaults := config.Default()
	flagSet := pflag.NewFlagSet("blobvaultd", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	flagSet.String("listen", defaults.HTTP.Listen, "HTTP listen address")
	flagSet.String("storage-root", defaults.Storage.Root, "directory holding file content")
	flagSet.String("metadata", defaults.Metadata.Path, "path to the SQLite metadata database")
	flagSet.String("codec", defaults.Storage.Codec, "chunk codec: auto, none, lz4, zstd")
	flagSet.String("log-level", defaults.Log.Level, "log level: debug, info, warn, error")
	flagSet.String("log-file", "", "write logs to this file, rotated (default: stderr)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			flagSet.PrintDefaults()
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintln(os.Stderr, "Usage: blobvaultd [flags]")
		flagSet.PrintDefaults()
		return nil
	}

	cfg := defaults
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	applyFlags(flagSet, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	return serve(cfg, logger)
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(flagSet *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, dst *string) {
		if flagSet.Changed(name) {
			*dst, _ = flagSet.GetString(name)
		}
	}
	set("listen", &cfg.HTTP.Listen)
	set("storage-root", &cfg.Storage.Root)
	set("metadata", &cfg.Metadata.Path)
	set("codec", &cfg.Storage.Codec)
	set("log-level", &cfg.Log.Level)
	set("log-file", &cfg.Log.File)
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	var (
		encoder zapcore.Encoder
		output  zapcore.WriteSyncer
	)
	if cfg.File == "" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
		output = zapcore.Lock(os.Stderr)
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, err
		}
		encoder = zapcore.NewJSONEncoder(encoderConfig)
		output = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays, // days
			Compress:   cfg.Compress,
		})
	}

	core := zapcore.NewCore(encoder, output, zap.NewAtomicLevelAt(level))
	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(core, opts...), nil
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Metadata.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}
	db, err := versionstore.Open(cfg.Metadata.Path, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	storageOpts, err := cfg.Storage.Options()
	if err != nil {
		return err
	}
	content, err := chunkstore.NewStorage(cfg.Storage.Root, storageOpts...)
	if err != nil {
		return fmt.Errorf("failed to open content store: %w", err)
	}

	policy, err := versionstore.ParseDeletePolicy(cfg.Metadata.DeletePolicy)
	if err != nil {
		return err
	}
	store, err := versionstore.New(db, content,
		versionstore.WithLogger(logger),
		versionstore.WithDeletePolicy(policy),
	)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := blobvault.New(store,
		blobvault.WithLogger(logger),
		blobvault.WithRegisterer(registry),
		blobvault.WithArchiveLevel(cfg.Archive.Level),
	)
	api := httpapi.New(svc,
		httpapi.WithLogger(logger),
		httpapi.WithRegistry(registry),
		httpapi.WithMaxUploadSize(cfg.HTTP.MaxUploadSize),
	)

	server := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           api.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	listener, err := net.Listen("tcp", cfg.HTTP.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.HTTP.Listen, err)
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	logger.Info("blobvaultd started",
		zap.String("listen", listener.Addr().String()),
		zap.String("storage_root", cfg.Storage.Root),
		zap.String("metadata", cfg.Metadata.Path),
		zap.String("codec", cfg.Storage.Codec),
		zap.String("delete_policy", policy.String()),
	)

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.HTTP.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				logger.Info("shutting down http server")
				if err := server.Shutdown(ctx); err != nil {
					return err
				}
				return sqlDB.Close()
			},
		},
	)

	exitCode := <-wait
	logger.Info("blobvaultd stopped", zap.Int("exit_code", exitCode))
	if exitCode != 0 {
		return fmt.Errorf("shutdown finished with exit code %d", exitCode)
	}
	return nil
}
