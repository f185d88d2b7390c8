package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/access"
	"github.com/gftdcojp/doc-tiering/internal/config"
	"github.com/gftdcojp/doc-tiering/internal/lifecycle"
	"github.com/gftdcojp/doc-tiering/internal/meta"
	"github.com/gftdcojp/doc-tiering/internal/metrics"
	"github.com/gftdcojp/doc-tiering/internal/serve"
	"github.com/gftdcojp/doc-tiering/internal/tier"
	"github.com/gftdcojp/doc-tiering/pkg/natsutil"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	once := flag.Bool("once", false, "run a single tiering pass, print the report and exit")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("doc-tiering %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Observability.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *once {
		if err := runOnce(cfg, logger); err != nil {
			logger.Error("tiering pass failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, *configPath, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("fatal error", zap.Error(err))
	}
}

// engine is everything a pass needs.
type engine struct {
	backend *backend
	meta    *meta.BoltStore
	runner  *lifecycle.Runner
}

func (e *engine) Close() {
	e.meta.Close()
	e.backend.Close()
}

func newEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine, error) {
	be, err := newBackend(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	metaStore, err := meta.OpenBoltStore(cfg.Metadata.Path, cfg.Metadata.NoSync, logger.Named("meta"))
	if err != nil {
		be.Close()
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	retry := tier.RetryPolicyFromConfig(cfg.Mover.Retry)
	runner := lifecycle.NewRunner(lifecycle.RunnerConfig{
		Store:       be.store,
		Stats:       metaStore,
		Thresholds:  cfg.Thresholds,
		Workers:     cfg.Pass.Workers,
		PassTimeout: cfg.Pass.Timeout.Duration(),
		Mover:       tier.NewMover(tier.MoverConfigFrom(be.store, cfg.Mover, logger)),
		Retry:       retry,
		Observer:    metaStore,
		History:     metaStore,
		Logger:      logger,
	})

	return &engine{backend: be, meta: metaStore, runner: runner}, nil
}

// runOnce runs one pass for external schedulers and writes the report to stdout.
func runOnce(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	rep, passErr := eng.runner.RunPass(ctx, time.Now(), lifecycle.TriggerManual)
	if rep != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
		if len(rep.Errors) > 0 && passErr == nil {
			passErr = fmt.Errorf("%d document(s) failed", len(rep.Errors))
		}
	}
	return passErr
}

func run(cfg *config.Config, configPath string, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	var nc *nats.Conn
	if cfg.NATSRequired() {
		nc, err = natsutil.Connect(cfg.NATS, logger.Named("nats"))
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer func() {
			if err := natsutil.Drain(nc, 5*time.Second); err != nil {
				logger.Warn("closing NATS connection", zap.Error(err))
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return eng.runner.Run(gctx, cfg.Pass.Interval.Duration()) })
	g.Go(func() error { return reloadOnHangup(gctx, configPath, eng.runner, logger) })

	if cfg.Access.Enabled {
		consumer := access.NewConsumer(access.ConsumerConfig{
			Conn:          nc,
			Recorder:      eng.meta,
			SubjectPrefix: cfg.Access.SubjectPrefix,
			QueueGroup:    cfg.Access.QueueGroup,
			Logger:        logger,
		})
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if cfg.API.Enabled {
		g.Go(func() error {
			return serve.RunHTTP(gctx, cfg.API, eng.runner, eng.meta, logger)
		})
	}

	if cfg.API.NATSResponder.Enabled {
		g.Go(func() error {
			return serve.RunNATSResponder(gctx, nc, cfg.API.NATSResponder, eng.runner, eng.meta, logger)
		})
	}

	if cfg.Observability.Metrics.Enabled {
		g.Go(func() error { return metrics.RunServer(gctx, cfg.Observability.Metrics) })
	}

	if cfg.Observability.Health.Enabled {
		var storage metrics.RemotePinger
		if eng.backend.s3 != nil {
			storage = eng.backend.s3
		}
		checker := metrics.NewHealthChecker(nc, eng.meta, storage)
		g.Go(func() error {
			return metrics.RunHealthServer(gctx, cfg.Observability.Health, checker)
		})
	}

	logger.Info("doc-tiering started",
		zap.String("version", version),
		zap.String("backend", cfg.Storage.Backend),
		zap.Duration("pass_interval", cfg.Pass.Interval.Duration()),
		zap.Int("workers", cfg.Pass.Workers),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shut down")
	return nil
}

// reloadOnHangup re-reads the config file on SIGHUP and installs the new
// thresholds for later passes. Other settings need a restart.
func reloadOnHangup(ctx context.Context, configPath string, runner *lifecycle.Runner, logger *zap.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			cfg, err := config.Load(configPath)
			if err != nil {
				logger.Error("config reload failed", zap.Error(err))
				continue
			}
			if err := runner.SetThresholds(cfg.Thresholds); err != nil {
				logger.Error("rejected reloaded thresholds", zap.Error(err))
			}
		}
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level.SetLevel(zap.DebugLevel)
	case "info":
		zapCfg.Level.SetLevel(zap.InfoLevel)
	case "warn":
		zapCfg.Level.SetLevel(zap.WarnLevel)
	case "error":
		zapCfg.Level.SetLevel(zap.ErrorLevel)
	}

	if cfg.Output != "" {
		zapCfg.OutputPaths = []string{cfg.Output}
		zapCfg.ErrorOutputPaths = []string{cfg.Output}
	}

	return zapCfg.Build()
}
