package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"lotterychain/config"
	"lotterychain/core/events"
	"lotterychain/core/host"
	"lotterychain/native/lottery"
	"lotterychain/observability/logging"
	"lotterychain/observability/metrics"
	"lotterychain/services/lotteryd/server"
	"lotterychain/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("lotteryd: %v", err)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "lotteryd.toml", "path to lotteryd configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger, logCloser := logging.SetupWithFile("lotteryd", cfg.Env, level, logging.FileConfig{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   true,
	})
	defer logCloser.Close()

	owner, err := cfg.OwnerIdentity()
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	engine := lottery.NewEngine()
	engine.SetRestartGuard(cfg.RestartGuard)
	engine.SetEmitter(events.LogEmitter{Logger: logger.With("component", "events")})
	h, err := host.New(db, owner,
		host.WithEngine(engine),
		host.WithLogger(logger),
		host.WithMetrics(metrics.Lottery()),
	)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		AllowAirdrop:       cfg.AllowAirdrop,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	}, h, logger)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("lotteryd listening", "address", cfg.ListenAddress, "owner", owner.Hex(), "vault", h.Vault().Hex())
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		logger.Info("lotteryd stopped")
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-config path]\n", os.Args[0])
		flag.PrintDefaults()
	}
}
