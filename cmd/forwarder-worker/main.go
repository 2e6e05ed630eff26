package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Gimmi17/Solanagram/internal/logger"
	"github.com/Gimmi17/Solanagram/internal/supervisor"
	"github.com/Gimmi17/Solanagram/internal/worker"
)

const defaultBundleDir = "/config"

func main() {
	log, err := logger.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	bundleDir := defaultBundleDir
	if len(os.Args) > 1 {
		bundleDir = os.Args[1]
	}

	bundle, err := worker.LoadBundle(bundleDir)
	if err != nil {
		log.Fatal("failed to load worker bundle", zap.Error(err))
	}
	switch bundle.Config.Type {
	case supervisor.TypeListener, supervisor.TypeForwarder:
	default:
		log.Fatal("bundle is not a listener bundle", zap.String("type", bundle.Config.Type))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.New(bundle, log).Run(ctx); err != nil {
		log.Fatal("forwarder worker failed", zap.Error(err))
	}
}
