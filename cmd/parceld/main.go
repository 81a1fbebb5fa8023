package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"parcel/internal/config"
	"parcel/internal/logging"
	"parcel/internal/preflight"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	for _, result := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run parcel check for the full report"),
		)
	}

	rt, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "bootstrap failed", "bootstrap_failed", logging.Error(err))
		log.Fatalf("bootstrap: %v", err)
	}
	defer rt.Close()

	if err := rt.daemon.Start(ctx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("parceld shutting down")
}
