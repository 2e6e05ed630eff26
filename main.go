package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Gimmi17/Solanagram/internal/auth"
	"github.com/Gimmi17/Solanagram/internal/authflow"
	"github.com/Gimmi17/Solanagram/internal/bridge"
	"github.com/Gimmi17/Solanagram/internal/cleanup"
	"github.com/Gimmi17/Solanagram/internal/config"
	"github.com/Gimmi17/Solanagram/internal/crypto"
	"github.com/Gimmi17/Solanagram/internal/database"
	"github.com/Gimmi17/Solanagram/internal/logger"
	"github.com/Gimmi17/Solanagram/internal/manager"
	"github.com/Gimmi17/Solanagram/internal/metrics"
	"github.com/Gimmi17/Solanagram/internal/registry"
	"github.com/Gimmi17/Solanagram/internal/server"
	"github.com/Gimmi17/Solanagram/internal/supervisor"
)

func main() {
	cfg := config.LoadFromEnv()

	log, err := logger.New()
	if err != nil {
		fatal("creating logger", err)
	}
	defer log.Sync()

	if cfg.DatabaseURL == "" {
		fatal("loading configuration", fmt.Errorf("DATABASE_URL is required"))
	}
	if cfg.JWTSecretKey == "" {
		fatal("loading configuration", fmt.Errorf("JWT_SECRET_KEY is required"))
	}

	ctx := context.Background()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("connecting database", err)
	}
	defer db.Close()

	if version, err := db.SchemaVersion(ctx); err == nil {
		log.Info("database ready", zap.String("schema_version", version))
	}

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		fatal("creating encryptor", err)
	}

	// Telegram side: registry, manager and the owning bridge worker.
	reg := registry.New(cfg.ClientCacheTTL, log)
	creds := manager.NewDBCredentialSource(db, encryptor, cfg.TelegramAPIID, cfg.TelegramAPIHash)
	mgr := manager.New(reg, creds, nil, manager.Config{
		ConnectTimeout: cfg.ConnectionTimeout,
	}, log)
	br := bridge.New(bridge.DefaultQueueSize, log)

	codes := initCodeStore(cfg, log)
	loginMetrics := metrics.NewLoginMetrics()
	flow := authflow.New(mgr, codes, db, encryptor, loginMetrics, log)

	// Worker fleet.
	runtime, err := supervisor.NewDockerRuntime(cfg.DockerHost)
	if err != nil {
		fatal("connecting container runtime", err)
	}
	fleet := supervisor.New(db, runtime, creds, supervisor.Config{
		ProjectName:    cfg.ProjectName,
		ConfigsPath:    cfg.ConfigsPath,
		DatabaseDSN:    cfg.DatabaseURL,
		LoggerImage:    cfg.LoggerWorkerImage,
		ForwarderImage: cfg.ForwarderImage,
	}, log)

	// Background retention tasks.
	retention := time.Duration(cfg.MessageLogsRetentionDays) * 24 * time.Hour
	sweeper := cleanup.New(reg, fleet, db, retention, log)
	sweeper.Start(ctx)

	gateway := server.NewGateway(br, mgr, flow, bridge.DefaultTimeout)

	srv := server.New(server.ServerConfig{
		Port:      cfg.HTTPPort,
		Logger:    log,
		Users:     db,
		Logging:   db,
		Listeners: db,
		Flow:      gateway,
		Browser:   gateway,
		Fleet:     fleet,
		JWT:       auth.NewJWTService(cfg.JWTSecretKey, cfg.SessionTimeout),
		Encryptor: encryptor,
		Login:     loginMetrics,
		HealthCheck: func(ctx context.Context) error {
			return db.Ping(ctx)
		},
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	waitForShutdown(log, srv, sweeper, br, reg)
}

// initCodeStore picks the pending-code backend: Redis when configured,
// otherwise the in-process cache. The orchestrator is fully functional
// without Redis.
func initCodeStore(cfg *config.Config, log *zap.Logger) authflow.CodeStore {
	if !cfg.RedisEnabled() {
		log.Info("pending-code cache: in-memory")
		return authflow.NewMemoryCodeStore()
	}

	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		DB:   cfg.RedisDB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Warn("redis unreachable, falling back to in-memory pending-code cache", zap.Error(err))
		return authflow.NewMemoryCodeStore()
	}

	log.Info("pending-code cache: redis", zap.String("addr", client.Options().Addr))
	return authflow.NewRedisCodeStore(client)
}

func fatal(context string, err error) {
	fmt.Fprintf(os.Stderr, "Error %s: %v\n", context, err)
	os.Exit(1)
}

func waitForShutdown(log *zap.Logger, srv *server.Server, sweeper *cleanup.Scheduler, br *bridge.Bridge, reg *registry.Registry) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sweeper.Stop()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("HTTP shutdown failed", zap.Error(err))
	}
	br.Stop()
	reg.Shutdown()
}
